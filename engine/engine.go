// Package engine 是推荐编排器：解析算法、装配候选与过滤、
// 并发执行混合策略、重排并组装解释。
package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dineflow/recommend/core"
	"github.com/dineflow/recommend/experiment"
	"github.com/dineflow/recommend/filter"
	"github.com/dineflow/recommend/interaction"
	"github.com/dineflow/recommend/neural"
	"github.com/dineflow/recommend/pipeline"
	"github.com/dineflow/recommend/pkg/utils"
	"github.com/dineflow/recommend/rerank"
	"github.com/dineflow/recommend/strategy"
	"github.com/dineflow/recommend/trending"
)

// MaxLimit 单次请求的条数上限。
const MaxLimit = 50

// DefaultLimit 未指定条数时的默认值。
const DefaultLimit = 10

// Config 是引擎的静态配置。
type Config struct {
	// DefaultAlgorithm 无显式算法且无实验命中时使用，默认 hybrid
	DefaultAlgorithm string

	// HybridWeights 各策略在加权混合中的权重
	HybridWeights map[string]float64

	// ExcludeWindow 已交互剔除的回看窗口，默认 30 天
	ExcludeWindow time.Duration

	// StrategyTimeout 混合模式下单策略的最长执行时间，默认 2s
	StrategyTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultAlgorithm == "" {
		c.DefaultAlgorithm = strategy.AlgorithmHybrid
	}
	if len(c.HybridWeights) == 0 {
		c.HybridWeights = map[string]float64{
			strategy.AlgorithmCollaborative: 0.35,
			strategy.AlgorithmContentBased:  0.30,
			strategy.AlgorithmNeural:        0.20,
			strategy.AlgorithmTrending:      0.15,
		}
	}
	if c.ExcludeWindow <= 0 {
		c.ExcludeWindow = 30 * 24 * time.Hour
	}
	if c.StrategyTimeout <= 0 {
		c.StrategyTimeout = 2 * time.Second
	}
	return c
}

// RecommendOptions 是单次推荐请求的参数。指针字段为 nil 时取默认：
// IncludeExplanations=true、ExcludeInteracted=true、DiversityFactor=0.3。
type RecommendOptions struct {
	Limit               int
	Algorithm           string
	Context             *core.DiningContext
	IncludeExplanations *bool
	ExcludeInteracted   *bool
	DiversityFactor     *float64
}

// RecommendResult 是一次推荐的输出。
type RecommendResult struct {
	Items []*core.Item `json:"items"`

	// Algorithm 实际生效的算法（实验命中时为实验分组的算法）
	Algorithm string `json:"algorithm"`

	// ExperimentID 命中实验时回填，便于曝光归因
	ExperimentID string `json:"experimentId,omitempty"`

	// Variant 命中实验时的分组
	Variant string `json:"variant,omitempty"`

	// TotalGenerated 截断前的候选得分条数
	TotalGenerated int `json:"totalGenerated"`
}

// Engine 聚合目录、策略注册表、交互日志、训练器与实验框架。
type Engine struct {
	cfg         Config
	catalog     Catalog
	registry    *strategy.Registry
	log         *interaction.Log
	trainer     *neural.Trainer
	analyzer    *trending.Analyzer
	experiments *experiment.Manager
	logger      *zap.Logger
}

func New(
	cfg Config,
	catalog Catalog,
	log *interaction.Log,
	trainer *neural.Trainer,
	analyzer *trending.Analyzer,
	experiments *experiment.Manager,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:         cfg.withDefaults(),
		catalog:     catalog,
		log:         log,
		trainer:     trainer,
		analyzer:    analyzer,
		experiments: experiments,
		logger:      logger,
	}
	e.registry = e.buildRegistry()
	return e
}

// trainerProvider 把训练控制器适配为策略侧的模型提供方。
type trainerProvider struct {
	trainer *neural.Trainer
}

func (p trainerProvider) Model() (strategy.Model, error) {
	if p.trainer == nil {
		return nil, core.NewDomainError(core.ModuleNeural, core.ErrorCodeModelUnavailable,
			"no trainer configured")
	}
	m, err := p.trainer.Model()
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (e *Engine) buildRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	r.Register(&strategy.Collaborative{Store: e.log})
	r.Register(&strategy.ContentBased{Store: e.log, Attrs: e.catalog})
	r.Register(&strategy.Neural{Provider: trainerProvider{trainer: e.trainer}})
	r.Register(&strategy.Trending{Analyzer: e.analyzer})
	r.Register(&strategy.Trending{Analyzer: e.analyzer, Seasonal: true})
	return r
}

// SupportedAlgorithms 返回可请求的算法名。
func (e *Engine) SupportedAlgorithms() []string {
	names := e.registry.Supported()
	names = append(names,
		strategy.AlgorithmHybrid,
		strategy.AlgorithmWeightedHybrid,
		strategy.AlgorithmAdaptiveHybrid)
	sort.Strings(names)
	return names
}

// Recommend 执行一次完整的推荐：校验 → 算法解析 → 候选 → 过滤 →
// 打分/混合 → 多样性重排 → 截断 → 解释。
func (e *Engine) Recommend(ctx context.Context, userID string, opts RecommendOptions) (*RecommendResult, error) {
	if userID == "" {
		return nil, core.NewFieldError(core.ModuleEngine, core.ErrorCodeMissingUserID, "userId",
			"userId is required")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		return nil, core.NewFieldError(core.ModuleEngine, core.ErrorCodeLimitExceeded, "limit",
			fmt.Sprintf("limit must be <= %d, got %d", MaxLimit, limit))
	}
	if opts.Context != nil {
		if err := opts.Context.Validate(); err != nil {
			return nil, err
		}
	}
	if opts.Algorithm != "" && !strategy.KnownAlgorithm(opts.Algorithm) {
		return nil, core.NewFieldError(core.ModuleEngine, core.ErrorCodeInvalidInput, "algorithm",
			fmt.Sprintf("unknown algorithm %q", opts.Algorithm))
	}

	rctx := &core.RecommendContext{UserID: userID, Scene: "recommendations", Dining: opts.Context}

	// 算法解析：显式参数 → 实验分组 → 默认算法
	algo := opts.Algorithm
	var assigned *experiment.Assignment
	if algo == "" && e.experiments != nil {
		a, err := e.experiments.AssignUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if a != nil {
			assigned = a
			algo = a.Algorithm
		}
	}
	if algo == "" {
		algo = e.cfg.DefaultAlgorithm
	}

	result, err := e.run(ctx, rctx, algo, limit, opts)
	if err != nil {
		// 实验分配的算法依赖未就绪的模型时，降级到默认算法而不是失败：
		// 实验配置错误不应该打挂线上请求。显式请求 neural 的错误照常返回。
		if assigned != nil && core.IsModelUnavailable(err) {
			e.logger.Warn("experiment algorithm degraded",
				zap.String("experiment", assigned.ExperimentID),
				zap.String("algorithm", algo),
				zap.Error(err))
			assigned = nil
			return e.run(ctx, rctx, e.cfg.DefaultAlgorithm, limit, opts)
		}
		return nil, err
	}
	if assigned != nil {
		result.ExperimentID = assigned.ExperimentID
		result.Variant = string(assigned.Variant)
	}
	return result, nil
}

// RecommendPersonalized 强制走混合算法（忽略实验与显式算法）。
func (e *Engine) RecommendPersonalized(ctx context.Context, userID string, opts RecommendOptions) (*RecommendResult, error) {
	opts.Algorithm = strategy.AlgorithmHybrid
	return e.Recommend(ctx, userID, opts)
}

// RecommendContextual 强制基于用餐上下文过滤打分。
// 未提供上下文时返回 INVALID_CONTEXT。
func (e *Engine) RecommendContextual(ctx context.Context, userID string, opts RecommendOptions) (*RecommendResult, error) {
	if opts.Context == nil {
		return nil, core.NewFieldError(core.ModuleEngine, core.ErrorCodeInvalidContext, "context",
			"dining context is required for contextual recommendations")
	}
	return e.Recommend(ctx, userID, opts)
}

func (e *Engine) run(ctx context.Context, rctx *core.RecommendContext, algo string, limit int, opts RecommendOptions) (*RecommendResult, error) {
	candidates, err := e.gatherCandidates(ctx, rctx, opts)
	if err != nil {
		return nil, err
	}

	var scored []*core.Item
	if strategy.IsHybrid(algo) {
		scored, err = e.blend(ctx, rctx, algo, candidates)
	} else {
		s, ok := e.registry.Lookup(algo)
		if !ok {
			return nil, core.NewFieldError(core.ModuleEngine, core.ErrorCodeInvalidInput, "algorithm",
				fmt.Sprintf("unknown algorithm %q", algo))
		}
		scored, err = s.Score(ctx, rctx, candidates)
	}
	if err != nil {
		return nil, err
	}
	total := len(scored)

	scored = e.applyPromotions(rctx, scored)

	diversity := 0.3
	if opts.DiversityFactor != nil {
		d := *opts.DiversityFactor
		if d < 0 || d > 1 {
			return nil, core.NewFieldError(core.ModuleEngine, core.ErrorCodeInvalidInput, "diversityFactor",
				fmt.Sprintf("diversityFactor must be in [0,1], got %v", d))
		}
		diversity = d
	}
	// 探索模式下加大多样性
	if rctx.Dining != nil && rctx.Dining.IsExploring && diversity < 0.6 {
		diversity = 0.6
	}

	p := &pipeline.Pipeline{Nodes: []pipeline.Node{
		&rerank.Diversity{Factor: diversity, Limit: limit},
		&rerank.TopN{N: limit},
	}}
	out, err := p.Run(ctx, rctx, scored)
	if err != nil {
		return nil, err
	}

	if opts.IncludeExplanations == nil || *opts.IncludeExplanations {
		for _, it := range out {
			e.explain(it)
		}
	}

	return &RecommendResult{Items: out, Algorithm: algo, TotalGenerated: total}, nil
}

// gatherCandidates 取目录候选并执行打分前过滤：
// 可售状态、上下文约束（预算/类目/餐段）、已交互剔除。
func (e *Engine) gatherCandidates(ctx context.Context, rctx *core.RecommendContext, opts RecommendOptions) ([]*core.Item, error) {
	category := ""
	if rctx.Dining != nil {
		category = rctx.Dining.Category
	}
	candidates, err := e.catalog.Candidates(ctx, category)
	if err != nil {
		return nil, core.NewDomainError(core.ModuleEngine, core.ErrorCodeInternalError,
			fmt.Sprintf("load candidates: %v", err))
	}

	filters := []filter.Filter{&contextFilter{}}
	if opts.ExcludeInteracted == nil || *opts.ExcludeInteracted {
		filters = append(filters, &filter.Interacted{Reader: e.log, Window: e.cfg.ExcludeWindow})
	}
	node := &filter.Node{Filters: filters}
	return node.Process(ctx, rctx, candidates)
}

// contextFilter 执行上下文硬约束：下架、超预算、餐段不符的菜品直接剔除。
type contextFilter struct{}

func (f *contextFilter) Name() string { return "filter.context" }

func (f *contextFilter) ShouldFilter(_ context.Context, rctx *core.RecommendContext, item *core.Item) (bool, error) {
	if !item.Available {
		return true, nil
	}
	d := rctx.Dining
	if d == nil {
		return false, nil
	}
	if d.Budget != nil {
		if item.Price < d.Budget.Min || (d.Budget.Max > 0 && item.Price > d.Budget.Max) {
			return true, nil
		}
	}
	if d.MealPeriod != "" {
		periods := item.MealPeriods()
		if len(periods) > 0 {
			matched := false
			for _, p := range periods {
				if p == d.MealPeriod {
					matched = true
					break
				}
			}
			if !matched {
				return true, nil
			}
		}
	}
	return false, nil
}

// applyPromotions 对上下文点名的促销菜品加权并保持整体有序。
func (e *Engine) applyPromotions(rctx *core.RecommendContext, items []*core.Item) []*core.Item {
	if rctx.Dining == nil || len(rctx.Dining.PromotionalItems) == 0 || len(items) == 0 {
		return items
	}
	promo := make(map[string]bool, len(rctx.Dining.PromotionalItems))
	for _, id := range rctx.Dining.PromotionalItems {
		promo[id] = true
	}
	boosted := false
	for _, it := range items {
		if promo[it.ID] {
			it.Score *= 1.25
			it.PutLabel("promoted", utils.Label{Value: "true", Source: "engine"})
			boosted = true
		}
	}
	if boosted {
		sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	}
	return items
}

// blendWeights 解析当前混合变体的权重表。
//   - hybrid:          等权混合
//   - weighted_hybrid: 配置权重表
//   - adaptive_hybrid: 配置权重按用户历史深度调整——冷启动侧重内容/热度，
//     深历史侧重协同/模型
func (e *Engine) blendWeights(algo, userID string) map[string]float64 {
	base := map[string]float64{
		strategy.AlgorithmCollaborative: 1,
		strategy.AlgorithmContentBased:  1,
		strategy.AlgorithmNeural:        1,
		strategy.AlgorithmTrending:      1,
	}
	if algo == strategy.AlgorithmHybrid {
		return base
	}

	weights := make(map[string]float64, len(base))
	for name := range base {
		if w, ok := e.cfg.HybridWeights[name]; ok {
			weights[name] = w
		}
	}

	if algo == strategy.AlgorithmAdaptiveHybrid && e.log != nil {
		depth := e.log.CountUser(userID)
		switch {
		case depth < 5:
			weights[strategy.AlgorithmCollaborative] *= 0.2
			weights[strategy.AlgorithmNeural] *= 0.2
			weights[strategy.AlgorithmContentBased] *= 1.5
			weights[strategy.AlgorithmTrending] *= 2
		case depth >= 20:
			weights[strategy.AlgorithmCollaborative] *= 1.5
			weights[strategy.AlgorithmNeural] *= 1.5
			weights[strategy.AlgorithmTrending] *= 0.5
		}
	}
	return weights
}

// blend 并发执行各基础策略，把归一化分数按权重求和。
// 单策略弃权（空结果）或模型未就绪只减少一路信号，不让请求失败。
func (e *Engine) blend(ctx context.Context, rctx *core.RecommendContext, algo string, candidates []*core.Item) ([]*core.Item, error) {
	weights := e.blendWeights(algo, rctx.UserID)

	names := []string{
		strategy.AlgorithmCollaborative,
		strategy.AlgorithmContentBased,
		strategy.AlgorithmNeural,
		strategy.AlgorithmTrending,
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.StrategyTimeout)
	defer cancel()

	var mu sync.Mutex
	partial := make(map[string][]*core.Item, len(names))

	g, gctx := errgroup.WithContext(runCtx)
	for _, name := range names {
		if weights[name] <= 0 {
			continue
		}
		s, ok := e.registry.Lookup(name)
		if !ok {
			continue
		}
		name, s := name, s
		g.Go(func() error {
			items, err := s.Score(gctx, rctx, cloneAll(candidates))
			if err != nil {
				// 模型未就绪在混合模式下静默降级为该路权重为零
				if core.IsModelUnavailable(err) {
					e.logger.Debug("strategy unavailable in blend", zap.String("strategy", name))
					return nil
				}
				return err
			}
			mu.Lock()
			partial[name] = items
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// 归一化后加权求和；记录每个菜品的信号来源
	blended := make(map[string]*core.Item, len(candidates))
	for _, name := range names {
		items := partial[name]
		if len(items) == 0 {
			continue
		}
		w := weights[name]
		normalized := normalizeScores(items)
		for _, it := range items {
			acc, ok := blended[it.ID]
			if !ok {
				acc = it.Clone()
				acc.Score = 0
				acc.Labels = nil
				blended[it.ID] = acc
			}
			acc.Score += w * normalized[it.ID]
			acc.PutLabel("strategy", utils.Label{Value: name, Source: "blend"})
			if lbl, ok := it.GetLabel("seasonal_boost"); ok {
				acc.PutLabel("seasonal_boost", lbl)
			}
		}
	}

	out := make([]*core.Item, 0, len(blended))
	for _, it := range blended {
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func cloneAll(items []*core.Item) []*core.Item {
	out := make([]*core.Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

// normalizeScores 把一组物品的分数 min-max 归一到 [0,1]。
// 全部同分时取 1，保证该路信号仍然有票。
func normalizeScores(items []*core.Item) map[string]float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, it := range items {
		if it.Score < lo {
			lo = it.Score
		}
		if it.Score > hi {
			hi = it.Score
		}
	}
	out := make(map[string]float64, len(items))
	for _, it := range items {
		if hi == lo {
			out[it.ID] = 1
			continue
		}
		out[it.ID] = (it.Score - lo) / (hi - lo)
	}
	return out
}

var explanationText = map[string]string{
	strategy.AlgorithmCollaborative: "People with similar taste ordered this",
	strategy.AlgorithmContentBased:  "Matches your usual categories and price range",
	strategy.AlgorithmNeural:        "Predicted by your learned preferences",
	strategy.AlgorithmTrending:      "Trending with other diners right now",
	strategy.AlgorithmSeasonal:      "In season right now",
}

// explain 把物品标签上的策略来源拼装成给用户看的英文说明，
// 写入 Meta["explanation"]。
func (e *Engine) explain(it *core.Item) {
	lbl, ok := it.GetLabel("strategy")
	if !ok {
		return
	}
	// 混合模式下 Label 以 | 累积多个来源
	parts := make([]string, 0, 4)
	seen := make(map[string]bool, 4)
	for _, name := range strings.Split(lbl.Value, "|") {
		text, ok := explanationText[name]
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		parts = append(parts, text)
	}
	if _, promoted := it.GetLabel("promoted"); promoted {
		parts = append(parts, "Today's promotion")
	}
	if len(parts) == 0 {
		return
	}
	if it.Meta == nil {
		it.Meta = make(map[string]any, 1)
	}
	it.Meta["explanation"] = strings.Join(parts, "; ")
}
