package strategy

import (
	"context"

	"github.com/dineflow/recommend/core"
	"github.com/dineflow/recommend/pkg/utils"
	"github.com/dineflow/recommend/trending"
)

// Trending 把热度分析器适配为打分策略：忽略用户，按窗口内聚合热度
// 给候选打分。Seasonal 变体额外按当前季节加权。
type Trending struct {
	Analyzer *trending.Analyzer

	// Window 聚合窗口，默认 week
	Window trending.Window

	// Seasonal 为 true 时按上下文季节加权（seasonal 算法变体）
	Seasonal bool
}

func (s *Trending) Name() string {
	if s.Seasonal {
		return AlgorithmSeasonal
	}
	return AlgorithmTrending
}

func (s *Trending) Score(
	ctx context.Context,
	rctx *core.RecommendContext,
	candidates []*core.Item,
) ([]*core.Item, error) {
	if s.Analyzer == nil || len(candidates) == 0 {
		return nil, nil
	}

	q := trending.Query{
		Limit:  len(candidates) + 50,
		Window: s.Window,
	}
	if s.Seasonal && rctx != nil {
		q.Season = rctx.Dining.Season()
	}
	ranked, err := s.Analyzer.Trending(ctx, q)
	if err != nil {
		return nil, err
	}

	scores := make(map[string]*core.Item, len(ranked))
	for _, it := range ranked {
		scores[it.ID] = it
	}

	out := make([]*core.Item, 0, len(candidates))
	for _, cand := range candidates {
		hot, ok := scores[cand.ID]
		if !ok {
			continue // 窗口内无热度信号的候选弃权
		}
		it := cand.Clone()
		it.Score = hot.Score
		it.PutLabel("strategy", utils.Label{Value: s.Name(), Source: "strategy"})
		if lbl, ok := hot.GetLabel("seasonal_boost"); ok {
			it.PutLabel("seasonal_boost", lbl)
		}
		out = append(out, it)
	}
	sortByScore(out)
	return out, nil
}
