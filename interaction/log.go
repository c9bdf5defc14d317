// Package interaction 维护用户-菜品交互日志：先落存储，再更新内存聚合。
// 记录是追加式的，聚合（CF 矩阵、类目偏好、热度输入）随写入同步演进，
// 下游的趋势/模型重算是异步的、最终一致的。
package interaction

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dineflow/recommend/core"
)

const (
	timelineKeyPrefix = "interactions:user:"
	payloadKey        = "interactions:events"
)

// Log 是追加式交互日志。Append 在持久化成功后才返回；
// 内存聚合供 CF / 内容策略 / 实验分群同步读取。
type Log struct {
	store core.KeyValueStore // 可为空（纯内存模式）
	log   *zap.Logger

	mu             sync.RWMutex
	weights        map[string]map[string]float64 // user -> item -> 累积权重
	itemUsers      map[string]map[string]float64 // item -> user -> 累积权重
	itemWeights    map[string]float64            // item -> 全局累积权重
	events         map[string][]*core.Interaction
	userCategories map[string]map[string]bool
	firstSeen      map[string]time.Time
	all            []*core.Interaction
}

func NewLog(store core.KeyValueStore, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{
		store:          store,
		log:            logger,
		weights:        make(map[string]map[string]float64),
		itemUsers:      make(map[string]map[string]float64),
		itemWeights:    make(map[string]float64),
		events:         make(map[string][]*core.Interaction),
		userCategories: make(map[string]map[string]bool),
		firstSeen:      make(map[string]time.Time),
	}
}

// Append 校验并追加一条交互。持久化失败时返回错误（调用方未获 ack）；
// 聚合更新不会失败。记录后事件不可变。
func (l *Log) Append(ctx context.Context, in *core.Interaction) error {
	if in == nil {
		return core.NewDomainError(core.ModuleInteraction, core.ErrorCodeInvalidInput, "interaction is nil")
	}
	if err := in.Validate(); err != nil {
		return err
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now()
	}

	if l.store != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal interaction: %w", err)
		}
		if err := l.store.HSet(ctx, payloadKey, in.ID, payload); err != nil {
			return fmt.Errorf("persist interaction: %w", err)
		}
		if err := l.store.ZAdd(ctx, timelineKeyPrefix+in.UserID, float64(in.Timestamp.Unix()), in.ID); err != nil {
			return fmt.Errorf("persist timeline: %w", err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w := in.EffectiveWeight()
	if l.weights[in.UserID] == nil {
		l.weights[in.UserID] = make(map[string]float64)
	}
	l.weights[in.UserID][in.ItemID] += w

	if l.itemUsers[in.ItemID] == nil {
		l.itemUsers[in.ItemID] = make(map[string]float64)
	}
	l.itemUsers[in.ItemID][in.UserID] += w
	l.itemWeights[in.ItemID] += w

	if in.Category != "" {
		if l.userCategories[in.UserID] == nil {
			l.userCategories[in.UserID] = make(map[string]bool)
		}
		l.userCategories[in.UserID][in.Category] = true
	}
	if _, ok := l.firstSeen[in.UserID]; !ok {
		l.firstSeen[in.UserID] = in.Timestamp
	}

	l.events[in.UserID] = append(l.events[in.UserID], in)
	l.all = append(l.all, in)
	return nil
}

// Weights 返回用户对各菜品的累积权重（CF 的行为向量）。
func (l *Log) Weights(userID string) map[string]float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	src := l.weights[userID]
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]float64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// ItemWeight 返回菜品的全局累积权重（内容策略的热度先验）。
func (l *Log) ItemWeight(itemID string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.itemWeights[itemID]
}

// AllUsers 返回出现过交互的用户列表。
func (l *Log) AllUsers() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, 0, len(l.weights))
	for u := range l.weights {
		out = append(out, u)
	}
	return out
}

// CountUser 返回用户的交互事件数。
func (l *Log) CountUser(userID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events[userID])
}

// RecentItems 返回用户在时间窗口内按类型过滤后的交互菜品集合。
// window <= 0 表示不限窗口；types 为空表示全部类型。
func (l *Log) RecentItems(userID string, window time.Duration, types ...core.InteractionType) map[string]float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var cutoff time.Time
	if window > 0 {
		cutoff = time.Now().Add(-window)
	}
	wanted := make(map[core.InteractionType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}

	out := make(map[string]float64)
	for _, in := range l.events[userID] {
		if !cutoff.IsZero() && in.Timestamp.Before(cutoff) {
			continue
		}
		if len(wanted) > 0 && !wanted[in.Type] {
			continue
		}
		out[in.ItemID] += in.EffectiveWeight()
	}
	return out
}

// Recent 返回全局时间窗口内的交互事件，供趋势分析聚合。
func (l *Log) Recent(window time.Duration) []*core.Interaction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	out := make([]*core.Interaction, 0, len(l.all))
	for _, in := range l.all {
		if window <= 0 || !in.Timestamp.Before(cutoff) {
			out = append(out, in)
		}
	}
	return out
}

// UserCategories 返回用户交互过的菜品类目集合（实验分群用）。
func (l *Log) UserCategories(userID string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cats := l.userCategories[userID]
	out := make([]string, 0, len(cats))
	for c := range cats {
		out = append(out, c)
	}
	return out
}

// FirstSeen 返回用户首次出现的时间（注册时长的近似，分群过滤用）。
func (l *Log) FirstSeen(userID string) (time.Time, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	t, ok := l.firstSeen[userID]
	return t, ok
}
