package strategy

import (
	"context"
	"math"
	"testing"

	"github.com/dineflow/recommend/core"
)

// stubHistory 同时实现 HistoryStore 与 ContentStats。
type stubHistory struct {
	weights     map[string]map[string]float64
	itemWeights map[string]float64
}

func (s *stubHistory) Weights(userID string) map[string]float64 { return s.weights[userID] }

func (s *stubHistory) AllUsers() []string {
	out := make([]string, 0, len(s.weights))
	for u := range s.weights {
		out = append(out, u)
	}
	return out
}

func (s *stubHistory) CountUser(userID string) int { return len(s.weights[userID]) }

func (s *stubHistory) ItemWeight(itemID string) float64 { return s.itemWeights[itemID] }

// stubAttrs 实现 AttributeSource。
type stubAttrs struct {
	attrs map[string]struct {
		category string
		price    float64
	}
}

func (s *stubAttrs) ItemAttributes(_ context.Context, itemID string) (string, float64, bool) {
	a, ok := s.attrs[itemID]
	return a.category, a.price, ok
}

func candidate(id, category string, price float64) *core.Item {
	it := core.NewItem(id)
	it.Category = category
	it.Price = price
	return it
}

func rctxFor(userID string) *core.RecommendContext {
	return &core.RecommendContext{UserID: userID}
}

// TestCollaborativeAbstainsOnThinHistory 历史不足时弃权而不是瞎猜。
func TestCollaborativeAbstainsOnThinHistory(t *testing.T) {
	s := &Collaborative{Store: &stubHistory{weights: map[string]map[string]float64{
		"newbie": {"noodles": 1},
	}}}

	out, err := s.Score(context.Background(), rctxFor("newbie"), []*core.Item{candidate("hotpot", "sichuan", 30)})
	if err != nil {
		t.Fatalf("abstention must not be an error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected abstention, got %d items", len(out))
	}
}

// TestCollaborativeScoring 相似用户重合的口味应把对方独有的菜顶上来。
func TestCollaborativeScoring(t *testing.T) {
	// u1 与 u2 高度重合：两人都重度交互 noodles/dumpling/hotpot，
	// u2 还喜欢 bbq；u3 口味无重合。
	store := &stubHistory{weights: map[string]map[string]float64{
		"u1": {"noodles": 5, "dumpling": 4, "hotpot": 3},
		"u2": {"noodles": 5, "dumpling": 5, "hotpot": 3, "bbq": 5},
		"u3": {"salad": 5, "sushi": 4},
	}}
	s := &Collaborative{Store: store, MinCommonItems: 2}

	candidates := []*core.Item{
		candidate("bbq", "bbq", 50),
		candidate("salad", "light", 20),
	}
	out, err := s.Score(context.Background(), rctxFor("u1"), candidates)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].ID != "bbq" {
		t.Fatalf("expected only bbq (from similar user u2), got %v", out)
	}
	if out[0].Score <= 0 {
		t.Errorf("score should be positive, got %v", out[0].Score)
	}
	if lbl, ok := out[0].GetLabel("strategy"); !ok || lbl.Value != AlgorithmCollaborative {
		t.Errorf("missing strategy label: %+v", out[0].Labels)
	}
}

// TestContentBasedProfile 候选按类目匹配与价位贴近度打分。
func TestContentBasedProfile(t *testing.T) {
	store := &stubHistory{weights: map[string]map[string]float64{
		"u1": {"mapo": 8, "kungpao": 6},
	}}
	attrs := &stubAttrs{attrs: map[string]struct {
		category string
		price    float64
	}{
		"mapo":    {"sichuan", 28},
		"kungpao": {"sichuan", 32},
	}}
	s := &ContentBased{Store: store, Attrs: attrs}

	candidates := []*core.Item{
		candidate("boiled-fish", "sichuan", 30), // 类目与价位都契合
		candidate("caviar", "french", 300),      // 都不契合
	}
	out, err := s.Score(context.Background(), rctxFor("u1"), candidates)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("content strategy never abstains, got %d items", len(out))
	}
	if out[0].ID != "boiled-fish" {
		t.Errorf("matching candidate should rank first, got %s", out[0].ID)
	}
	if out[0].Score <= out[1].Score {
		t.Errorf("scores not separated: %v vs %v", out[0].Score, out[1].Score)
	}
}

// TestContentBasedColdStart 零历史走热度先验，完全无数据时均匀打分。
func TestContentBasedColdStart(t *testing.T) {
	store := &stubHistory{
		weights:     map[string]map[string]float64{},
		itemWeights: map[string]float64{"hotpot": 10, "salad": 2},
	}
	s := &ContentBased{Store: store, Attrs: &stubAttrs{}}

	out, err := s.Score(context.Background(), rctxFor("stranger"),
		[]*core.Item{candidate("salad", "light", 20), candidate("hotpot", "sichuan", 60)})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0].ID != "hotpot" {
		t.Fatalf("popularity prior should rank hotpot first: %v", out)
	}
	if _, ok := out[0].GetLabel("content_prior"); !ok {
		t.Error("prior path should be labeled")
	}

	// 完全无热度数据：均匀 0.5
	empty := &ContentBased{Store: &stubHistory{weights: map[string]map[string]float64{}}}
	out, _ = empty.Score(context.Background(), rctxFor("stranger"),
		[]*core.Item{candidate("a", "x", 1)})
	if len(out) != 1 || out[0].Score != 0.5 {
		t.Errorf("expected uniform 0.5, got %v", out)
	}
}

// TestNeuralModelUnavailable 模型未就绪时错误必须带 MODEL_UNAVAILABLE。
func TestNeuralModelUnavailable(t *testing.T) {
	s := &Neural{Provider: failingProvider{}}
	_, err := s.Score(context.Background(), rctxFor("u1"), []*core.Item{candidate("a", "x", 1)})
	if !core.IsModelUnavailable(err) {
		t.Fatalf("expected MODEL_UNAVAILABLE, got %v", err)
	}
}

type failingProvider struct{}

func (failingProvider) Model() (Model, error) {
	return nil, core.NewDomainError(core.ModuleNeural, core.ErrorCodeModelUnavailable, "not trained")
}

type fixedModel map[string]float64

func (m fixedModel) Predict(userID, itemID string) (float64, bool) {
	v, ok := m[itemID]
	return v, ok
}

type fixedProvider struct{ m Model }

func (p fixedProvider) Model() (Model, error) { return p.m, nil }

// TestNeuralScoring 模型就绪时按预测分降序输出。
func TestNeuralScoring(t *testing.T) {
	s := &Neural{Provider: fixedProvider{m: fixedModel{"hotpot": 0.9, "salad": 0.2}}}
	out, err := s.Score(context.Background(), rctxFor("u1"),
		[]*core.Item{candidate("salad", "light", 20), candidate("hotpot", "sichuan", 60)})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0].ID != "hotpot" {
		t.Fatalf("expected hotpot first, got %v", out)
	}
	// 未见过的菜品退化为偏置预测并打标
	if _, ok := out[1].GetLabel("neural_fallback"); out[1].ID == "salad" && ok {
		// salad 在 fixedModel 中 seen=true，不应有 fallback 标
		t.Error("seen item must not carry fallback label")
	}
}

// TestSimilarityMetrics 余弦与皮尔逊的基本性质。
func TestSimilarityMetrics(t *testing.T) {
	if sim := cosineSimilarity([]float64{1, 2, 3}, []float64{2, 4, 6}); math.Abs(sim-1) > 1e-9 {
		t.Errorf("parallel vectors should have cosine 1, got %v", sim)
	}
	if sim := cosineSimilarity([]float64{1, 0}, []float64{0, 1}); sim != 0 {
		t.Errorf("orthogonal vectors should have cosine 0, got %v", sim)
	}
	if sim := pearsonCorrelation([]float64{1, 2, 3}, []float64{3, 2, 1}); math.Abs(sim+1) > 1e-9 {
		t.Errorf("inverse rank should have pearson -1, got %v", sim)
	}
}
