package interaction

import (
	"context"
	"testing"
	"time"

	"github.com/dineflow/recommend/core"
	"github.com/dineflow/recommend/store"
)

func track(t *testing.T, l *Log, userID, itemID string, typ core.InteractionType) *core.Interaction {
	t.Helper()
	in := &core.Interaction{UserID: userID, ItemID: itemID, Type: typ}
	if err := l.Append(context.Background(), in); err != nil {
		t.Fatalf("append %s/%s/%s failed: %v", userID, itemID, typ, err)
	}
	return in
}

// TestLogAppend 测试写入路径：校验、补 ID、落存储、更新聚合。
func TestLogAppend(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	defer s.Close()
	l := NewLog(s, nil)

	in := track(t, l, "u1", "noodles", core.InteractionPurchase)
	if in.ID == "" {
		t.Error("append should assign an id")
	}
	if in.Timestamp.IsZero() {
		t.Error("append should assign a timestamp")
	}

	// 事件体落在 hash，时间线落在 zset
	if _, err := s.HGet(ctx, "interactions:events", in.ID); err != nil {
		t.Errorf("payload not persisted: %v", err)
	}
	ids, err := s.ZRange(ctx, "interactions:user:u1", 0, -1)
	if err != nil || len(ids) != 1 || ids[0] != in.ID {
		t.Errorf("timeline not persisted: (%v, %v)", ids, err)
	}

	// 非法事件不落盘也不进聚合
	bad := &core.Interaction{UserID: "u1", Type: "like", ItemID: "x"}
	if err := l.Append(ctx, bad); err == nil {
		t.Fatal("expected validation error")
	}
	if l.CountUser("u1") != 1 {
		t.Errorf("invalid event should not count, got %d", l.CountUser("u1"))
	}
}

// TestLogAggregates 测试权重、类目、首见时间等内存聚合。
func TestLogAggregates(t *testing.T) {
	l := NewLog(nil, nil)

	track(t, l, "u1", "noodles", core.InteractionView)     // +1
	track(t, l, "u1", "noodles", core.InteractionPurchase) // +5
	track(t, l, "u1", "hotpot", core.InteractionClick)     // +2
	track(t, l, "u2", "noodles", core.InteractionFavorite) // +3

	w := l.Weights("u1")
	if w["noodles"] != 6 || w["hotpot"] != 2 {
		t.Errorf("unexpected weights: %v", w)
	}
	if l.ItemWeight("noodles") != 9 {
		t.Errorf("expected item weight 9, got %v", l.ItemWeight("noodles"))
	}
	if l.CountUser("u1") != 3 || l.CountUser("u2") != 1 {
		t.Errorf("unexpected counts: %d/%d", l.CountUser("u1"), l.CountUser("u2"))
	}
	if len(l.AllUsers()) != 2 {
		t.Errorf("expected 2 users, got %v", l.AllUsers())
	}
	if _, ok := l.FirstSeen("u1"); !ok {
		t.Error("first seen should be recorded")
	}
	if _, ok := l.FirstSeen("ghost"); ok {
		t.Error("unknown user should have no first seen")
	}

	// 带类目的事件进类目偏好
	in := &core.Interaction{UserID: "u1", ItemID: "congee", Type: core.InteractionView, Category: "breakfast"}
	if err := l.Append(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	cats := l.UserCategories("u1")
	if len(cats) != 1 || cats[0] != "breakfast" {
		t.Errorf("unexpected categories: %v", cats)
	}
}

// TestLogRecentItems 测试窗口化读取：只看指定类型、只看窗口内。
func TestLogRecentItems(t *testing.T) {
	l := NewLog(nil, nil)
	ctx := context.Background()

	old := &core.Interaction{
		UserID: "u1", ItemID: "stale", Type: core.InteractionPurchase,
		Timestamp: time.Now().Add(-60 * 24 * time.Hour),
	}
	if err := l.Append(ctx, old); err != nil {
		t.Fatal(err)
	}
	track(t, l, "u1", "noodles", core.InteractionPurchase)
	track(t, l, "u1", "hotpot", core.InteractionView)

	got := l.RecentItems("u1", 30*24*time.Hour, core.InteractionPurchase, core.InteractionFavorite)
	if _, ok := got["noodles"]; !ok {
		t.Error("recent purchase should be included")
	}
	if _, ok := got["stale"]; ok {
		t.Error("purchase outside window should be excluded")
	}
	if _, ok := got["hotpot"]; ok {
		t.Error("view should not match purchase/favorite filter")
	}

	recent := l.Recent(30 * 24 * time.Hour)
	if len(recent) != 2 {
		t.Errorf("expected 2 recent events, got %d", len(recent))
	}
}
