package rerank

import (
	"context"

	"github.com/dineflow/recommend/core"
	"github.com/dineflow/recommend/pipeline"
)

// TopN 截断节点，放在管线末尾限制返回条数。
// N <= 0 时不截断。
type TopN struct {
	N int
}

func (n *TopN) Name() string {
	return "rerank.topn"
}

func (n *TopN) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *TopN) Process(
	_ context.Context,
	_ *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if n.N <= 0 || len(items) <= n.N {
		return items, nil
	}
	return items[:n.N], nil
}
