// Package trending 维护时间窗口内的菜品热度聚合。
// Analyze 异步重算聚合（与模型训练同样的单飞保证）；
// Trending 是对预计算聚合的纯读取，与单个用户无关。
package trending

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dineflow/recommend/core"
	"github.com/dineflow/recommend/pkg/utils"
)

// Window 是热度聚合的时间窗口。
type Window string

const (
	WindowDay   Window = "day"
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
)

var windows = map[Window]time.Duration{
	WindowDay:   24 * time.Hour,
	WindowWeek:  7 * 24 * time.Hour,
	WindowMonth: 30 * 24 * time.Hour,
}

// maxLimit 与推荐接口的单次条数上限一致。
const maxLimit = 50

// State 是分析任务的状态机：idle → analyzing → ready | failed。
type State string

const (
	StateIdle      State = "idle"
	StateAnalyzing State = "analyzing"
	StateReady     State = "ready"
	StateFailed    State = "failed"
)

// Status 是分析任务的可观测状态，仅通过轮询暴露。
type Status struct {
	State          State      `json:"state"`
	LastAnalyzedAt *time.Time `json:"lastAnalyzedAt,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
}

// EventSource 提供窗口内的交互事件，由交互日志实现。
type EventSource interface {
	Recent(window time.Duration) []*core.Interaction
}

// ItemSource 提供菜品属性查询，由目录实现。
type ItemSource interface {
	Item(ctx context.Context, id string) (*core.Item, bool)
}

// Query 是热度查询参数。
type Query struct {
	Limit      int
	Window     Window // 默认 week
	Category   string
	MealPeriod string
	Season     string // 非空时对应季菜品加权（seasonal 变体）
}

// Analyzer 把交互事件聚合为各窗口的热度排行（有序集合），
// 并提供季节加权的读取路径。
type Analyzer struct {
	store   core.KeyValueStore
	events  EventSource
	catalog ItemSource
	log     *zap.Logger

	// SeasonBoost 应季菜品的加权系数，默认 0.25（+25%）
	SeasonBoost float64

	mu     sync.Mutex
	status Status
}

func NewAnalyzer(store core.KeyValueStore, events EventSource, catalog ItemSource, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		store:       store,
		events:      events,
		catalog:     catalog,
		log:         logger,
		SeasonBoost: 0.25,
		status:      Status{State: StateIdle},
	}
}

func aggregateKey(w Window) string { return "trending:" + string(w) }

// Analyze 触发一次异步聚合重算并立即返回。
// 单飞保证由状态机承担：已有分析在进行时返回 ANALYSIS_IN_PROGRESS，不排队不合并。
func (a *Analyzer) Analyze(ctx context.Context) error {
	a.mu.Lock()
	if a.status.State == StateAnalyzing {
		a.mu.Unlock()
		return core.NewDomainError(core.ModuleTrending, core.ErrorCodeAnalysisInProgress, "trend analysis already in progress")
	}
	a.status.State = StateAnalyzing
	a.status.LastError = ""
	a.mu.Unlock()

	go a.run(context.WithoutCancel(ctx))
	return nil
}

// Status 返回当前分析状态，非阻塞。
func (a *Analyzer) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// run 在后台重算全部窗口的聚合。失败只记录在状态里，绝不向调用方传播。
func (a *Analyzer) run(ctx context.Context) {
	start := time.Now()
	err := a.recompute(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.status.State = StateFailed
		a.status.LastError = err.Error()
		a.log.Warn("trend analysis failed", zap.Error(err))
		return
	}
	now := time.Now()
	a.status.State = StateReady
	a.status.LastAnalyzedAt = &now
	a.log.Info("trend analysis finished", zap.Duration("elapsed", time.Since(start)))
}

func (a *Analyzer) recompute(ctx context.Context) error {
	for w, dur := range windows {
		events := a.events.Recent(dur)
		halfLife := dur / 2

		scores := make(map[string]float64)
		now := time.Now()
		for _, in := range events {
			age := now.Sub(in.Timestamp)
			decay := math.Exp2(-float64(age) / float64(halfLife))
			scores[in.ItemID] += in.EffectiveWeight() * decay
		}

		key := aggregateKey(w)
		if err := a.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("reset %s: %w", key, err)
		}
		for itemID, score := range scores {
			if err := a.store.ZAdd(ctx, key, score, itemID); err != nil {
				return fmt.Errorf("write %s: %w", key, err)
			}
		}
	}
	return nil
}

// Trending 读取预计算的热度排行。纯读取，不触发重算；
// 聚合可能滞后于最新交互（最终一致）。
func (a *Analyzer) Trending(ctx context.Context, q Query) ([]*core.Item, error) {
	w := q.Window
	if w == "" {
		w = WindowWeek
	}
	if _, ok := windows[w]; !ok {
		return nil, core.NewFieldError(core.ModuleTrending, core.ErrorCodeInvalidInput, "timePeriod",
			fmt.Sprintf("unknown time period %q", w))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > maxLimit {
		return nil, core.NewFieldError(core.ModuleTrending, core.ErrorCodeLimitExceeded, "limit",
			fmt.Sprintf("limit must be <= %d, got %d", maxLimit, limit))
	}

	// 过滤可能剔除大量成员，多读一截再截断
	members, err := a.store.ZRange(ctx, aggregateKey(w), 0, int64(limit)*4+49)
	if err != nil {
		return nil, err
	}

	out := make([]*core.Item, 0, limit)
	for _, itemID := range members {
		score, err := a.store.ZScore(ctx, aggregateKey(w), itemID)
		if err != nil {
			continue
		}

		var it *core.Item
		if a.catalog != nil {
			if known, ok := a.catalog.Item(ctx, itemID); ok {
				it = known.Clone()
			}
		}
		if it == nil {
			it = core.NewItem(itemID)
		}
		if !it.Available {
			continue
		}
		if q.Category != "" && it.Category != q.Category {
			continue
		}
		if q.MealPeriod != "" && !matchesMealPeriod(it, q.MealPeriod) {
			continue
		}

		it.Score = score
		it.PutLabel("strategy", utils.Label{Value: "trending", Source: "trending"})
		it.PutLabel("trend_window", utils.Label{Value: string(w), Source: "trending"})
		if q.Season != "" && it.Season == q.Season {
			it.Score *= 1 + a.SeasonBoost
			it.PutLabel("seasonal_boost", utils.Label{Value: q.Season, Source: "trending"})
		}
		out = append(out, it)
	}

	// 季节加权可能改变相对顺序
	sortByScore(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matchesMealPeriod(it *core.Item, period string) bool {
	periods := it.MealPeriods()
	if len(periods) == 0 {
		return true // 目录未标注餐段的菜品不被餐段过滤
	}
	for _, p := range periods {
		if p == period {
			return true
		}
	}
	return false
}

func sortByScore(items []*core.Item) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].Score > items[j-1].Score; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}
