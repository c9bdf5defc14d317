// Package rerank 提供排序后的重排节点：多样性约束与 Top-N 截断。
package rerank

import (
	"context"
	"math"

	"github.com/dineflow/recommend/core"
	"github.com/dineflow/recommend/pipeline"
)

// Diversity 是贪心多样性重排节点：限制单个类目在前 Limit 条结果中的占比。
//
// 每个类目的配额 = ceil(Limit × (1 - Factor))，下限 1。
// Factor = 0 时直接透传（纯相关性排序）；Factor = 1 时每个类目最多 1 条。
// 超出配额的物品被顺延，由后面分数较低但类目未满的物品补位，
// 组内相对顺序保持稳定。
//
// 配额内物品不足以填满窗口时，逐轮放宽配额（+1/轮）从顺延物品中补位，
// 各类目在窗口内保持均衡，而不是让头部类目整体回填。
type Diversity struct {
	// Factor 多样性强度，取值 [0,1]
	Factor float64

	// Limit 目标返回条数，用于计算类目配额。<= 0 时以输入长度为准。
	Limit int
}

func (n *Diversity) Name() string {
	return "rerank.diversity"
}

func (n *Diversity) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *Diversity) Process(
	_ context.Context,
	_ *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if len(items) == 0 || n.Factor <= 0 {
		return items, nil
	}

	limit := n.Limit
	if limit <= 0 || limit > len(items) {
		limit = len(items)
	}

	factor := n.Factor
	if factor > 1 {
		factor = 1
	}
	quota := int(math.Ceil(float64(limit) * (1 - factor)))
	if quota < 1 {
		quota = 1
	}

	counts := make(map[string]int, 16)
	taken := make([]bool, len(items))
	window := make([]*core.Item, 0, limit)

	// 第一轮：配额内的物品按分数序占据窗口；无类目物品不受配额限制。
	for i, it := range items {
		if it == nil {
			taken[i] = true
			continue
		}
		if len(window) == limit {
			break
		}
		if it.Category == "" || counts[it.Category] < quota {
			if it.Category != "" {
				counts[it.Category]++
			}
			window = append(window, it)
			taken[i] = true
		}
	}

	// 补位轮：窗口未满时逐轮放宽配额，每轮各类目最多再进 1 条，
	// 头部类目不能独占回填的空位。
	for allow := quota + 1; len(window) < limit; allow++ {
		progressed := false
		for i, it := range items {
			if len(window) == limit {
				break
			}
			if taken[i] {
				continue
			}
			if counts[it.Category] < allow {
				counts[it.Category]++
				window = append(window, it)
				taken[i] = true
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	// 窗口外的物品补在尾部，保证节点不丢物品；
	// 后续 TopN 截断自然只留窗口内的部分。
	out := window
	for i, it := range items {
		if !taken[i] && it != nil {
			out = append(out, it)
		}
	}
	return out, nil
}
