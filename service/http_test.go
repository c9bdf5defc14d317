package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dineflow/recommend/core"
	"github.com/dineflow/recommend/engine"
	"github.com/dineflow/recommend/experiment"
	"github.com/dineflow/recommend/interaction"
	"github.com/dineflow/recommend/neural"
	"github.com/dineflow/recommend/store"
	"github.com/dineflow/recommend/trending"
)

func newTestService(t *testing.T) (*Service, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	kv := store.NewMemoryStore()
	t.Cleanup(func() { kv.Close() })

	catalog := engine.NewMemoryCatalog()
	for _, row := range []struct {
		id, category string
		price        float64
	}{
		{"mapo", "sichuan", 28},
		{"char-siu", "cantonese", 38},
		{"ramen", "japanese", 45},
	} {
		it := core.NewItem(row.id)
		it.Category = row.category
		it.Price = row.price
		catalog.Upsert(it)
	}

	log := interaction.NewLog(kv, nil)
	trainer := neural.NewTrainer(log, neural.Config{Epochs: 2}, nil)
	analyzer := trending.NewAnalyzer(kv, log, catalog, nil)
	experiments := experiment.NewManager(log, nil)
	eng := engine.New(engine.Config{}, catalog, log, trainer, analyzer, experiments, nil)

	svc := New(eng, catalog, log, trainer, analyzer, experiments, nil)
	return svc, svc.Router()
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var payload map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	}
	return w, payload
}

func TestHealthEndpoint(t *testing.T) {
	_, r := newTestService(t)
	w, body := doJSON(t, r, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["isInitialized"])
	assert.Contains(t, body, "uptime")
}

func TestRecommendationsEndpoint(t *testing.T) {
	_, r := newTestService(t)
	w, body := doJSON(t, r, http.MethodGet, "/recommendations/u1?limit=2", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", body["userId"])
	assert.Equal(t, "hybrid", body["algorithm"])
	assert.NotEmpty(t, body["recommendationId"])
	items := body["items"].([]any)
	assert.LessOrEqual(t, len(items), 2)
}

// TestRecommendationsErrors 错误响应统一走 {error: {code, message, field?}}。
func TestRecommendationsErrors(t *testing.T) {
	_, r := newTestService(t)

	w, body := doJSON(t, r, http.MethodGet, "/recommendations/u1?limit=99", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "LIMIT_EXCEEDED", errObj["code"])
	assert.Equal(t, "limit", errObj["field"])

	w, body = doJSON(t, r, http.MethodGet, "/recommendations/u1?limit=abc", "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	// 显式 neural 且未训练 → 503
	w, body = doJSON(t, r, http.MethodGet, "/recommendations/u1?algorithm=neural", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	errObj = body["error"].(map[string]any)
	assert.Equal(t, "MODEL_UNAVAILABLE", errObj["code"])
}

func TestContextualEndpoint(t *testing.T) {
	_, r := newTestService(t)

	// 缺上下文
	w, body := doJSON(t, r, http.MethodGet, "/recommendations/u1/contextual", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "INVALID_CONTEXT", errObj["code"])

	// URL 编码的 JSON 上下文
	ctx := `%7B%22mealPeriod%22%3A%22lunch%22%7D`
	w, _ = doJSON(t, r, http.MethodGet, "/recommendations/u1/contextual?context="+ctx, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTrackInteractionEndpoint(t *testing.T) {
	svc, r := newTestService(t)

	w, body := doJSON(t, r, http.MethodPost, "/users/u1/interactions",
		`{"itemId": "mapo", "interactionType": "purchase", "source": "mobile"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, body["id"])
	assert.Equal(t, 1, svc.log.CountUser("u1"))

	// 类型非法
	w, body = doJSON(t, r, http.MethodPost, "/users/u1/interactions",
		`{"itemId": "mapo", "interactionType": "like"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "INVALID_INTERACTION_TYPE", errObj["code"])

	// rate 缺评分
	w, _ = doJSON(t, r, http.MethodPost, "/users/u1/interactions",
		`{"itemId": "mapo", "interactionType": "rate"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExperimentEndpoints(t *testing.T) {
	_, r := newTestService(t)

	w, body := doJSON(t, r, http.MethodPost, "/experiments",
		`{"name": "ab", "controlAlgorithm": "hybrid", "treatmentAlgorithm": "content_based"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	id := body["id"].(string)
	assert.Len(t, id, 16)
	assert.Equal(t, "running", body["status"])

	// 非法配置
	w, body = doJSON(t, r, http.MethodPost, "/experiments",
		`{"name": "bad", "controlAlgorithm": "hybrid", "treatmentAlgorithm": "x", "trafficSplit": 2}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "INVALID_EXPERIMENT_CONFIG", errObj["code"])

	// 结果：零样本也必须是合法分析
	w, body = doJSON(t, r, http.MethodGet, "/experiments/"+id+"/results", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["underpowered"])

	// 未知实验 404
	w, _ = doJSON(t, r, http.MethodGet, "/experiments/ffffffffffffffff/results", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// 停止（幂等）
	w, _ = doJSON(t, r, http.MethodPost, "/experiments/"+id+"/stop", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w, body = doJSON(t, r, http.MethodPost, "/experiments/"+id+"/stop", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stopped", body["status"])

	w, body = doJSON(t, r, http.MethodGet, "/experiments", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["count"])
}

func TestModelEndpoints(t *testing.T) {
	svc, r := newTestService(t)
	// 造一点训练数据
	require.NoError(t, svc.TrackInteraction(context.Background(), &core.Interaction{
		UserID: "u1", ItemID: "mapo", Type: core.InteractionPurchase,
	}))

	w, body := doJSON(t, r, http.MethodGet, "/model/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "idle", body["status"])

	w, _ = doJSON(t, r, http.MethodPost, "/model/train", "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	// 最终到达 trained
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && svc.TrainingStatus().Status != neural.StateTrained {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, neural.StateTrained, svc.TrainingStatus().Status)
}

func TestTrendEndpoints(t *testing.T) {
	svc, r := newTestService(t)
	require.NoError(t, svc.TrackInteraction(context.Background(), &core.Interaction{
		UserID: "u1", ItemID: "mapo", Type: core.InteractionPurchase,
	}))

	w, _ := doJSON(t, r, http.MethodPost, "/trends/analyze", "")
	require.Equal(t, http.StatusAccepted, w.Code)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && svc.TrendStatus().State != trending.StateReady {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, trending.StateReady, svc.TrendStatus().State)

	w, body := doJSON(t, r, http.MethodGet, "/trending?timePeriod=week&limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "week", body["timePeriod"])
	items := body["items"].([]any)
	require.NotEmpty(t, items)
	first := items[0].(map[string]any)
	assert.Equal(t, "mapo", first["id"])

	// 非法窗口：错误里的 field 必须与请求参数同名
	w, body = doJSON(t, r, http.MethodGet, "/trending?timePeriod=year", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "timePeriod", body["error"].(map[string]any)["field"])

	// 超出条数上限
	w, _ = doJSON(t, r, http.MethodGet, "/trending?limit=200", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, r, http.MethodGet, "/seasonal?limit=5", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
