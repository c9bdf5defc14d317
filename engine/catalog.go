package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/dineflow/recommend/core"
)

// Catalog 是候选来源：提供全量/按类目的菜品候选与单品查询。
// 同时满足 trending.ItemSource 与 strategy.AttributeSource。
type Catalog interface {
	// Candidates 返回候选菜品，category 为空时返回全量
	Candidates(ctx context.Context, category string) ([]*core.Item, error)

	// Item 按 id 查询单个菜品
	Item(ctx context.Context, id string) (*core.Item, bool)

	// ItemAttributes 返回菜品的类目与价格
	ItemAttributes(ctx context.Context, itemID string) (category string, price float64, ok bool)
}

// MemoryCatalog 是内存目录实现，适合单机部署与测试。
// 读路径返回克隆，调用方改分数不会污染目录。
type MemoryCatalog struct {
	mu    sync.RWMutex
	items map[string]*core.Item
	order []string // 录入顺序，保证 Candidates 输出稳定
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{items: make(map[string]*core.Item)}
}

// Upsert 新增或覆盖一个菜品。
func (c *MemoryCatalog) Upsert(item *core.Item) {
	if item == nil || item.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[item.ID]; !ok {
		c.order = append(c.order, item.ID)
	}
	c.items[item.ID] = item.Clone()
}

// Remove 删除一个菜品。
func (c *MemoryCatalog) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[id]; !ok {
		return
	}
	delete(c.items, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Len 返回目录内菜品数。
func (c *MemoryCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *MemoryCatalog) Candidates(_ context.Context, category string) ([]*core.Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*core.Item, 0, len(c.order))
	for _, id := range c.order {
		it := c.items[id]
		if category != "" && it.Category != category {
			continue
		}
		out = append(out, it.Clone())
	}
	return out, nil
}

func (c *MemoryCatalog) Item(_ context.Context, id string) (*core.Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.items[id]
	if !ok {
		return nil, false
	}
	return it.Clone(), true
}

func (c *MemoryCatalog) ItemAttributes(_ context.Context, itemID string) (string, float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.items[itemID]
	if !ok {
		return "", 0, false
	}
	return it.Category, it.Price, true
}

// Categories 返回目录内出现过的类目（去重、有序），供接口层曝光。
func (c *MemoryCatalog) Categories() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]bool, 16)
	out := make([]string, 0, 16)
	for _, it := range c.items {
		if it.Category == "" || seen[it.Category] {
			continue
		}
		seen[it.Category] = true
		out = append(out, it.Category)
	}
	sort.Strings(out)
	return out
}
