package pipeline

import (
	"context"

	"github.com/dineflow/recommend/core"
)

// Pipeline 是引擎的核心抽象：把推荐逻辑拆成可组合的 Node 链。
// Engine 按请求参数装配 Node 链后执行。
type Pipeline struct {
	Nodes []Node
}

func (p *Pipeline) Run(
	ctx context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	cur := items
	for _, node := range p.Nodes {
		next, err := node.Process(ctx, rctx, cur)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}
