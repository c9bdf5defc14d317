package core

import "github.com/dineflow/recommend/pkg/utils"

// Item 是推荐链路中的统一承载结构：菜品属性、分数、元信息、标签。
// Category/Price/Available/Season 由外部菜单目录同步；Score 用于排序决策，
// Labels 用于解释与策略驱动。
type Item struct {
	ID        string  `json:"id"`
	Category  string  `json:"category,omitempty"`
	Price     float64 `json:"price,omitempty"`
	Available bool    `json:"available"`
	Season    string  `json:"season,omitempty"` // 应季标记，如 "summer"；非应季菜品为空

	Score  float64                `json:"score"`
	Meta   map[string]any         `json:"meta,omitempty"`
	Labels map[string]utils.Label `json:"labels,omitempty"`
}

func NewItem(id string) *Item {
	return &Item{
		ID:        id,
		Available: true,
		Meta:      make(map[string]any),
		Labels:    make(map[string]utils.Label),
	}
}

// PutLabel 写入 Label；若已存在同名 key，则按默认 Merge 规则累积。
func (it *Item) PutLabel(key string, lbl utils.Label) {
	if it.Labels == nil {
		it.Labels = make(map[string]utils.Label)
	}
	if old, ok := it.Labels[key]; ok {
		it.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	it.Labels[key] = lbl
}

// GetLabel 获取 Label。
func (it *Item) GetLabel(key string) (utils.Label, bool) {
	if it.Labels == nil {
		return utils.Label{}, false
	}
	lbl, ok := it.Labels[key]
	return lbl, ok
}

// MealPeriods 返回菜品适用的餐段（来自目录侧 Meta["meal_periods"]）。
func (it *Item) MealPeriods() []string {
	if it.Meta == nil {
		return nil
	}
	switch v := it.Meta["meal_periods"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Clone 复制 Item。策略并发打分时各自持有副本，避免写冲突。
func (it *Item) Clone() *Item {
	cp := &Item{
		ID:        it.ID,
		Category:  it.Category,
		Price:     it.Price,
		Available: it.Available,
		Season:    it.Season,
		Score:     it.Score,
	}
	if it.Meta != nil {
		cp.Meta = make(map[string]any, len(it.Meta))
		for k, v := range it.Meta {
			cp.Meta[k] = v
		}
	}
	if it.Labels != nil {
		cp.Labels = make(map[string]utils.Label, len(it.Labels))
		for k, v := range it.Labels {
			cp.Labels[k] = v
		}
	}
	return cp
}
