package strategy

import (
	"context"
	"math"

	"github.com/dineflow/recommend/core"
	"github.com/dineflow/recommend/pkg/utils"
)

// ContentStats 是内容匹配策略需要的行为统计接口，由交互日志实现。
type ContentStats interface {
	// Weights 返回用户对各菜品的累积行为权重
	Weights(userID string) map[string]float64

	// ItemWeight 返回菜品的全局累积权重（类目热度先验）
	ItemWeight(itemID string) float64
}

// AttributeSource 提供历史菜品的属性（类目/价格），由目录实现。
// 候选自带属性，但用户历史里的菜品可能不在本次候选集内。
type AttributeSource interface {
	ItemAttributes(ctx context.Context, itemID string) (category string, price float64, ok bool)
}

// ContentBased 是基于内容的匹配策略。
//
// 核心思想："用户偏好某些类目与价位，推荐属性相近的菜品"
//
// 用户画像 = 历史菜品的类目权重分布 + 价格均值；
// 候选分数 = 类目匹配 × 0.7 + 价位贴近度 × 0.3。
//
// 与协同过滤不同，此策略从不弃权：零历史时退化为类目热度先验，
// 这是冷启动用户的兜底路径。
type ContentBased struct {
	Store ContentStats
	Attrs AttributeSource

	// CategoryWeight / PriceWeight 两路信号的混合权重，默认 0.7 / 0.3
	CategoryWeight float64
	PriceWeight    float64
}

func (s *ContentBased) Name() string { return AlgorithmContentBased }

func (s *ContentBased) Score(
	ctx context.Context,
	rctx *core.RecommendContext,
	candidates []*core.Item,
) ([]*core.Item, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	catWeight := s.CategoryWeight
	priceWeight := s.PriceWeight
	if catWeight <= 0 && priceWeight <= 0 {
		catWeight, priceWeight = 0.7, 0.3
	}

	var history map[string]float64
	if s.Store != nil && rctx != nil && rctx.UserID != "" {
		history = s.Store.Weights(rctx.UserID)
	}
	if len(history) == 0 {
		return s.popularityPrior(candidates), nil
	}

	// 构建用户画像：类目权重分布 + 价格均值
	categories := make(map[string]float64)
	var priceSum, priceTotal float64
	for itemID, weight := range history {
		if s.Attrs == nil {
			break
		}
		category, price, ok := s.Attrs.ItemAttributes(ctx, itemID)
		if !ok {
			continue
		}
		if category != "" {
			categories[category] += weight
		}
		if price > 0 {
			priceSum += price * weight
			priceTotal += weight
		}
	}
	if len(categories) == 0 && priceTotal == 0 {
		return s.popularityPrior(candidates), nil
	}

	var maxCat float64
	for _, w := range categories {
		if w > maxCat {
			maxCat = w
		}
	}
	var priceMean float64
	if priceTotal > 0 {
		priceMean = priceSum / priceTotal
	}

	out := make([]*core.Item, 0, len(candidates))
	for _, cand := range candidates {
		var catScore float64
		if maxCat > 0 {
			catScore = categories[cand.Category] / maxCat
		}
		var priceScore float64
		if priceMean > 0 && cand.Price > 0 {
			priceScore = math.Exp(-math.Abs(cand.Price-priceMean) / priceMean)
		}

		it := cand.Clone()
		it.Score = catWeight*catScore + priceWeight*priceScore
		it.PutLabel("strategy", utils.Label{Value: AlgorithmContentBased, Source: "strategy"})
		if catScore > 0 {
			it.PutLabel("content_match", utils.Label{Value: cand.Category, Source: "strategy"})
		}
		out = append(out, it)
	}
	sortByScore(out)
	return out, nil
}

// popularityPrior 是零历史时的退化路径：按全局热度打分，保证始终有结果。
func (s *ContentBased) popularityPrior(candidates []*core.Item) []*core.Item {
	out := make([]*core.Item, 0, len(candidates))
	var maxWeight float64
	weights := make([]float64, len(candidates))
	for i, cand := range candidates {
		if s.Store != nil {
			weights[i] = s.Store.ItemWeight(cand.ID)
		}
		if weights[i] > maxWeight {
			maxWeight = weights[i]
		}
	}
	for i, cand := range candidates {
		it := cand.Clone()
		if maxWeight > 0 {
			it.Score = weights[i] / maxWeight
		} else {
			it.Score = 0.5 // 完全无数据时均匀打分
		}
		it.PutLabel("strategy", utils.Label{Value: AlgorithmContentBased, Source: "strategy"})
		it.PutLabel("content_prior", utils.Label{Value: "popularity", Source: "strategy"})
		out = append(out, it)
	}
	sortByScore(out)
	return out
}
