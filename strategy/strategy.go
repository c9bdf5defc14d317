// Package strategy 定义打分策略的统一能力与闭合的算法集合。
// 每个策略实现同一个契约：给定用户与候选集，输出降序打分结果；
// 策略可以对部分候选弃权（返回更短的序列），也可以整体弃权（返回空）。
package strategy

import (
	"context"
	"sort"
	"sync"

	"github.com/dineflow/recommend/core"
)

// 算法名称是闭合集合：运行期按名称解析，不做类型探测。
// hybrid 系列不是独立策略，而是 engine 对下列基础策略的混合政策。
const (
	AlgorithmCollaborative  = "collaborative"
	AlgorithmContentBased   = "content_based"
	AlgorithmNeural         = "neural"
	AlgorithmTrending       = "trending"
	AlgorithmSeasonal       = "seasonal"
	AlgorithmHybrid         = "hybrid"
	AlgorithmWeightedHybrid = "weighted_hybrid"
	AlgorithmAdaptiveHybrid = "adaptive_hybrid"
)

var knownAlgorithms = map[string]bool{
	AlgorithmCollaborative:  true,
	AlgorithmContentBased:   true,
	AlgorithmNeural:         true,
	AlgorithmTrending:       true,
	AlgorithmSeasonal:       true,
	AlgorithmHybrid:         true,
	AlgorithmWeightedHybrid: true,
	AlgorithmAdaptiveHybrid: true,
}

// KnownAlgorithm 判断名称是否在闭合集合内。
func KnownAlgorithm(name string) bool { return knownAlgorithms[name] }

// IsHybrid 判断名称是否为混合政策（由 engine 而非单一策略承接）。
func IsHybrid(name string) bool {
	return name == AlgorithmHybrid || name == AlgorithmWeightedHybrid || name == AlgorithmAdaptiveHybrid
}

// Strategy 是“为用户在上下文下给候选打分”的统一能力。
// 返回序列按分数降序；弃权的候选不出现在结果中。
type Strategy interface {
	Name() string
	Score(
		ctx context.Context,
		rctx *core.RecommendContext,
		candidates []*core.Item,
	) ([]*core.Item, error)
}

// Registry 是策略注册表：按名称解析策略实例。
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register 注册一个策略。同名覆盖。
func (r *Registry) Register(s Strategy) {
	if s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Lookup 按名称解析策略。
func (r *Registry) Lookup(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	return s, ok
}

// Supported 返回已注册的策略名称列表（排序），用于错误提示与校验。
func (r *Registry) Supported() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// sortByScore 按分数降序稳定排序。
func sortByScore(items []*core.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Score > items[j].Score
	})
}
