package strategy

import (
	"context"

	"github.com/dineflow/recommend/core"
	"github.com/dineflow/recommend/pkg/utils"
)

// Model 是训练产物的最小抽象：预测用户对菜品的偏好分。
// 第二个返回值表示用户/菜品是否在训练数据中出现过。
type Model interface {
	Predict(userID, itemID string) (float64, bool)
}

// ModelProvider 提供当前可用的模型。训练控制器实现此接口；
// 模型未就绪（未训练/训练失败/训练中）时返回 MODEL_UNAVAILABLE。
type ModelProvider interface {
	Model() (Model, error)
}

// Neural 通过训练好的嵌入模型打分。
//
// 直接请求此策略且模型未就绪时返回 MODEL_UNAVAILABLE，由调用方决定
// 降级路径：engine 的 hybrid 混合在未就绪时把本策略权重置零，不报错。
type Neural struct {
	Provider ModelProvider
}

func (s *Neural) Name() string { return AlgorithmNeural }

func (s *Neural) Score(
	ctx context.Context,
	rctx *core.RecommendContext,
	candidates []*core.Item,
) ([]*core.Item, error) {
	if rctx == nil || rctx.UserID == "" || len(candidates) == 0 {
		return nil, nil
	}
	if s.Provider == nil {
		return nil, core.NewDomainError(core.ModuleNeural, core.ErrorCodeModelUnavailable, "no model provider configured")
	}
	model, err := s.Provider.Model()
	if err != nil {
		return nil, err
	}

	out := make([]*core.Item, 0, len(candidates))
	for _, cand := range candidates {
		score, seen := model.Predict(rctx.UserID, cand.ID)
		it := cand.Clone()
		it.Score = score
		it.PutLabel("strategy", utils.Label{Value: AlgorithmNeural, Source: "strategy"})
		if !seen {
			// 冷门用户/菜品退化为偏置项预测
			it.PutLabel("neural_fallback", utils.Label{Value: "bias", Source: "strategy"})
		}
		out = append(out, it)
	}
	sortByScore(out)
	return out, nil
}
