// Package filter 提供候选过滤：上下文约束与已交互物品剔除。
package filter

import (
	"context"

	"github.com/dineflow/recommend/core"
	"github.com/dineflow/recommend/pipeline"
	"github.com/dineflow/recommend/pkg/utils"
)

// Filter 判断一个 Item 是否应该被过滤掉。
// 返回 true 表示过滤（移除），false 表示保留。
type Filter interface {
	Name() string
	ShouldFilter(ctx context.Context, rctx *core.RecommendContext, item *core.Item) (bool, error)
}

// Node 组合多个过滤器：任何一个返回 true 即剔除该物品。
// 单个过滤器出错不中断流程，跳过该过滤器继续。
type Node struct {
	Filters []Filter
}

func (n *Node) Name() string {
	return "filter.node"
}

func (n *Node) Kind() pipeline.Kind {
	return pipeline.KindFilter
}

func (n *Node) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if len(n.Filters) == 0 || len(items) == 0 {
		return items, nil
	}

	out := make([]*core.Item, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		drop := false
		for _, f := range n.Filters {
			ok, err := f.ShouldFilter(ctx, rctx, item)
			if err != nil {
				continue
			}
			if ok {
				drop = true
				item.PutLabel("filtered", utils.Label{Value: "true", Source: f.Name()})
				break
			}
		}
		if drop {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}
