package strategy

import (
	"context"
	"sort"

	"github.com/dineflow/recommend/core"
	"github.com/dineflow/recommend/pkg/utils"
)

// HistoryStore 是协同过滤的行为数据接口，由交互日志实现。
type HistoryStore interface {
	// Weights 返回用户对各菜品的累积行为权重
	Weights(userID string) map[string]float64

	// AllUsers 返回出现过交互的用户列表
	AllUsers() []string

	// CountUser 返回用户的交互事件数
	CountUser(userID string) int
}

// Collaborative 是基于用户的协同过滤策略（User-CF）。
//
// 核心思想："口味相似的用户，喜欢相似的菜品"
//
// 流程：
//  1. 用户 → 行为向量（浏览/收藏/下单权重）
//  2. 计算用户相似度（Cosine / Pearson）
//  3. 取 TopK 相似用户，对候选按 Σ(相似度 × 对方权重) 加权
//
// 历史不足 MinHistory 时整体弃权（返回空）而不是瞎猜——
// 冷启动用户交给内容/热度策略。
type Collaborative struct {
	Store HistoryStore

	// MinHistory 用户最少需要的交互数，低于该值直接弃权
	MinHistory int

	// TopKSimilarUsers 参与加权的 TopK 相似用户数
	TopKSimilarUsers int

	// MinCommonItems 两个用户至少需要的共同交互菜品数
	MinCommonItems int

	// SimilarityMetric 相似度度量方式：cosine / pearson
	SimilarityMetric string
}

func (s *Collaborative) Name() string { return AlgorithmCollaborative }

func (s *Collaborative) Score(
	ctx context.Context,
	rctx *core.RecommendContext,
	candidates []*core.Item,
) ([]*core.Item, error) {
	if s.Store == nil || rctx == nil || rctx.UserID == "" || len(candidates) == 0 {
		return nil, nil
	}

	minHistory := s.MinHistory
	if minHistory <= 0 {
		minHistory = 3
	}
	targetItems := s.Store.Weights(rctx.UserID)
	if len(targetItems) < minHistory {
		return nil, nil // 历史不足：整体弃权
	}

	topKSimilar := s.TopKSimilarUsers
	if topKSimilar <= 0 {
		topKSimilar = 50
	}
	minCommon := s.MinCommonItems
	if minCommon <= 0 {
		minCommon = 2
	}
	metric := s.SimilarityMetric
	if metric == "" {
		metric = "cosine"
	}

	// 计算每个用户与目标用户的相似度
	type userSimilarity struct {
		userID     string
		similarity float64
	}
	similarities := make([]userSimilarity, 0)

	for _, userID := range s.Store.AllUsers() {
		if userID == rctx.UserID {
			continue
		}
		userItems := s.Store.Weights(userID)
		if len(userItems) == 0 {
			continue
		}

		targetScores := make([]float64, 0)
		userScores := make([]float64, 0)
		for itemID, targetScore := range targetItems {
			if userScore, ok := userItems[itemID]; ok {
				targetScores = append(targetScores, targetScore)
				userScores = append(userScores, userScore)
			}
		}
		if len(targetScores) < minCommon {
			continue
		}

		var sim float64
		switch metric {
		case "pearson":
			sim = pearsonCorrelation(targetScores, userScores)
		default:
			sim = cosineSimilarity(targetScores, userScores)
		}
		if sim > 0 { // 只保留正相似度
			similarities = append(similarities, userSimilarity{userID: userID, similarity: sim})
		}
	}
	if len(similarities) == 0 {
		return nil, nil
	}

	sort.Slice(similarities, func(i, j int) bool {
		return similarities[i].similarity > similarities[j].similarity
	})
	if len(similarities) > topKSimilar {
		similarities = similarities[:topKSimilar]
	}

	// 候选打分：score[item] = Σ(similarity × 对方权重)
	candidateScores := make(map[string]float64, len(candidates))
	for _, sim := range similarities {
		userItems := s.Store.Weights(sim.userID)
		for itemID, weight := range userItems {
			candidateScores[itemID] += sim.similarity * weight
		}
	}

	out := make([]*core.Item, 0, len(candidates))
	for _, cand := range candidates {
		score, ok := candidateScores[cand.ID]
		if !ok || score <= 0 {
			continue // 无信号的候选弃权
		}
		it := cand.Clone()
		it.Score = score
		it.PutLabel("strategy", utils.Label{Value: AlgorithmCollaborative, Source: "strategy"})
		it.PutLabel("cf_metric", utils.Label{Value: metric, Source: "strategy"})
		out = append(out, it)
	}
	sortByScore(out)
	return out, nil
}
