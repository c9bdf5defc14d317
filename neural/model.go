package neural

import (
	"context"
	"math"
	"math/rand"
)

// Model 是训练产物：用户/菜品的隐向量与偏置。
// 预测 = 全局偏置 + 用户偏置 + 菜品偏置 + 隐向量点积。
// 训练完成后只读，可被任意多个请求并发查询。
type Model struct {
	dim        int
	globalBias float64
	userBias   map[string]float64
	itemBias   map[string]float64
	userVecs   map[string][]float64
	itemVecs   map[string][]float64
}

// Predict 预测用户对菜品的偏好分。
// 用户或菜品未在训练数据中出现时退化为偏置项预测，第二个返回值为 false。
func (m *Model) Predict(userID, itemID string) (float64, bool) {
	score := m.globalBias
	seen := true

	bu, okU := m.userBias[userID]
	bi, okI := m.itemBias[itemID]
	score += bu + bi
	if !okU || !okI {
		seen = false
	}

	if pu, ok := m.userVecs[userID]; ok {
		if qi, ok := m.itemVecs[itemID]; ok {
			for d := 0; d < m.dim; d++ {
				score += pu[d] * qi[d]
			}
		}
	}
	return score, seen
}

// fitModel 以带偏置的矩阵分解（SGD）拟合用户-菜品权重矩阵。
func fitModel(ctx context.Context, data map[string]map[string]float64, cfg Config) (*Model, error) {
	rng := rand.New(rand.NewSource(1))

	m := &Model{
		dim:      cfg.Dim,
		userBias: make(map[string]float64, len(data)),
		itemBias: make(map[string]float64),
		userVecs: make(map[string][]float64, len(data)),
		itemVecs: make(map[string][]float64),
	}

	type sample struct {
		user, item string
		value      float64
	}
	var samples []sample
	var sum float64
	for userID, items := range data {
		if m.userVecs[userID] == nil {
			m.userVecs[userID] = randomVector(rng, cfg.Dim)
		}
		for itemID, value := range items {
			if m.itemVecs[itemID] == nil {
				m.itemVecs[itemID] = randomVector(rng, cfg.Dim)
			}
			samples = append(samples, sample{user: userID, item: itemID, value: value})
			sum += value
		}
	}
	m.globalBias = sum / float64(len(samples))

	lr := cfg.LearningRate
	reg := cfg.Regularization
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		rng.Shuffle(len(samples), func(i, j int) {
			samples[i], samples[j] = samples[j], samples[i]
		})
		for _, s := range samples {
			pu := m.userVecs[s.user]
			qi := m.itemVecs[s.item]

			pred := m.globalBias + m.userBias[s.user] + m.itemBias[s.item]
			for d := 0; d < cfg.Dim; d++ {
				pred += pu[d] * qi[d]
			}
			errTerm := s.value - pred

			m.userBias[s.user] += lr * (errTerm - reg*m.userBias[s.user])
			m.itemBias[s.item] += lr * (errTerm - reg*m.itemBias[s.item])
			for d := 0; d < cfg.Dim; d++ {
				pud, qid := pu[d], qi[d]
				pu[d] += lr * (errTerm*qid - reg*pud)
				qi[d] += lr * (errTerm*pud - reg*qid)
			}
		}
	}
	return m, nil
}

func randomVector(rng *rand.Rand, dim int) []float64 {
	v := make([]float64, dim)
	scale := 1 / math.Sqrt(float64(dim))
	for d := range v {
		v[d] = rng.NormFloat64() * scale
	}
	return v
}
