package filter

import (
	"context"
	"time"

	"github.com/dineflow/recommend/core"
)

// InteractionReader 提供用户近期交互过的物品及权重，由交互日志实现。
type InteractionReader interface {
	RecentItems(userID string, window time.Duration, types ...core.InteractionType) map[string]float64
}

// Interacted 剔除用户近期已交互的物品，避免重复推荐刚买过/收藏过的菜品。
// 默认只看购买与收藏：浏览、点击不应阻止物品再次出现。
type Interacted struct {
	Reader InteractionReader

	// Window 回看窗口，默认 30 天
	Window time.Duration

	// Types 计入的交互类型，默认 purchase + favorite
	Types []core.InteractionType
}

func (f *Interacted) Name() string {
	return "filter.interacted"
}

func (f *Interacted) ShouldFilter(
	_ context.Context,
	rctx *core.RecommendContext,
	item *core.Item,
) (bool, error) {
	if f.Reader == nil || item == nil || rctx == nil || rctx.UserID == "" {
		return false, nil
	}

	window := f.Window
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	types := f.Types
	if len(types) == 0 {
		types = []core.InteractionType{core.InteractionPurchase, core.InteractionFavorite}
	}

	seen := f.Reader.RecentItems(rctx.UserID, window, types...)
	_, ok := seen[item.ID]
	return ok, nil
}
