package experiment

import (
	"context"
	"regexp"
	"testing"
	"time"
)

// stubUsers 是测试用的用户画像源。
type stubUsers struct {
	counts     map[string]int
	categories map[string][]string
	firstSeen  map[string]time.Time
}

func (s *stubUsers) CountUser(userID string) int { return s.counts[userID] }

func (s *stubUsers) UserCategories(userID string) []string { return s.categories[userID] }

func (s *stubUsers) FirstSeen(userID string) (time.Time, bool) {
	t, ok := s.firstSeen[userID]
	return t, ok
}

func validConfig() Config {
	return Config{
		Name:               "hybrid vs trending",
		ControlAlgorithm:   "hybrid",
		TreatmentAlgorithm: "trending",
	}
}

func floatPtr(v float64) *float64 { return &v }

// TestManagerCreate 测试配置校验、默认值与 id 格式。
func TestManagerCreate(t *testing.T) {
	m := NewManager(&stubUsers{}, nil)

	exp, err := m.Create(validConfig())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !regexp.MustCompile(`^[0-9a-f]{16}$`).MatchString(exp.ID) {
		t.Errorf("id should be 16 hex chars, got %q", exp.ID)
	}
	if exp.Status != StatusRunning {
		t.Errorf("new experiment should be running, got %s", exp.Status)
	}
	if exp.TrafficSplit != 0.5 {
		t.Errorf("default split should be 0.5, got %v", exp.TrafficSplit)
	}
	if exp.DurationDays != 14 {
		t.Errorf("default duration should be 14, got %d", exp.DurationDays)
	}
	if len(exp.TargetMetrics) != 2 {
		t.Errorf("default metrics should be ctr+conversion_rate, got %v", exp.TargetMetrics)
	}
}

// TestManagerCreateValidation 每个非法配置都应报 INVALID_EXPERIMENT_CONFIG。
func TestManagerCreateValidation(t *testing.T) {
	m := NewManager(&stubUsers{}, nil)

	mutate := []struct {
		name string
		fn   func(*Config)
	}{
		{"missing name", func(c *Config) { c.Name = "" }},
		{"missing control", func(c *Config) { c.ControlAlgorithm = "" }},
		{"missing treatment", func(c *Config) { c.TreatmentAlgorithm = "" }},
		{"split below zero", func(c *Config) { c.TrafficSplit = floatPtr(-0.1) }},
		{"split above one", func(c *Config) { c.TrafficSplit = floatPtr(1.5) }},
		{"unknown metric", func(c *Config) { c.TargetMetrics = []Metric{"bounce_rate"} }},
		{"duration too long", func(c *Config) { c.DurationDays = 91 }},
		{"bad segment expr", func(c *Config) { c.Segment = &SegmentFilters{Expr: "user.interactions >>> 3"} }},
	}

	for _, tt := range mutate {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.fn(&cfg)
			if _, err := m.Create(cfg); err == nil {
				t.Fatal("expected INVALID_EXPERIMENT_CONFIG")
			}
		})
	}
}

// TestManagerStopIdempotent 重复停止是 no-op，不是错误。
func TestManagerStopIdempotent(t *testing.T) {
	m := NewManager(&stubUsers{}, nil)
	exp, _ := m.Create(validConfig())

	stopped, err := m.Stop(exp.ID)
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if stopped.Status != StatusStopped || stopped.StoppedAt == nil {
		t.Errorf("unexpected stop state: %+v", stopped)
	}
	firstStoppedAt := *stopped.StoppedAt

	again, err := m.Stop(exp.ID)
	if err != nil {
		t.Fatalf("second stop should be no-op, got %v", err)
	}
	if !again.StoppedAt.Equal(firstStoppedAt) {
		t.Error("second stop must not move stoppedAt")
	}

	if _, err := m.Stop("ffffffffffffffff"); err == nil {
		t.Fatal("stopping unknown experiment should fail")
	}
}

// TestManagerReturnsSnapshots Create/Get/List 交出的对象是副本：
// 之后的 Stop 不能改到调用方已持有的实验，读侧序列化与写入不竞争。
func TestManagerReturnsSnapshots(t *testing.T) {
	m := NewManager(&stubUsers{}, nil)
	created, _ := m.Create(validConfig())

	got, err := m.Get(created.ID)
	if err != nil {
		t.Fatal(err)
	}
	listed := m.List()[0]

	if _, err := m.Stop(created.ID); err != nil {
		t.Fatal(err)
	}

	for name, exp := range map[string]*Experiment{
		"create": created, "get": got, "list": listed,
	} {
		if exp.Status != StatusRunning || exp.StoppedAt != nil {
			t.Errorf("%s handed out a live pointer: %+v", name, exp)
		}
	}

	after, _ := m.Get(created.ID)
	if after.Status != StatusStopped {
		t.Error("manager state must still reflect the stop")
	}
}

// TestManagerAssignUser 测试实验解析：最早可用实验、分群门控、停止后不再分组。
func TestManagerAssignUser(t *testing.T) {
	ctx := context.Background()
	users := &stubUsers{
		counts:     map[string]int{"heavy": 40, "light": 1},
		categories: map[string][]string{"heavy": {"sichuan"}},
		firstSeen:  map[string]time.Time{"heavy": time.Now().Add(-90 * 24 * time.Hour)},
	}
	m := NewManager(users, nil)

	// 无实验时不入组
	if a, err := m.AssignUser(ctx, "heavy"); err != nil || a != nil {
		t.Fatalf("expected no assignment, got (%v, %v)", a, err)
	}

	cfg := validConfig()
	cfg.Segment = &SegmentFilters{MinInteractions: 10}
	exp, _ := m.Create(cfg)

	a, err := m.AssignUser(ctx, "heavy")
	if err != nil || a == nil {
		t.Fatalf("eligible user should be assigned: (%v, %v)", a, err)
	}
	if a.ExperimentID != exp.ID {
		t.Errorf("assigned to wrong experiment: %s", a.ExperimentID)
	}
	if a.Algorithm != exp.Algorithm(a.Variant) {
		t.Errorf("algorithm mismatch: %s", a.Algorithm)
	}

	// 分群不过的用户不入组
	if a, err := m.AssignUser(ctx, "light"); err != nil || a != nil {
		t.Fatalf("ineligible user should get no variant, got (%v, %v)", a, err)
	}

	m.Stop(exp.ID)
	if a, _ := m.AssignUser(ctx, "heavy"); a != nil {
		t.Error("stopped experiment must not assign")
	}
}

// TestSegmentEligible 测试各个分群条件与 CEL 表达式。
func TestSegmentEligible(t *testing.T) {
	ctx := context.Background()
	users := &stubUsers{
		counts:     map[string]int{"u1": 15},
		categories: map[string][]string{"u1": {"dessert", "sichuan"}},
		firstSeen:  map[string]time.Time{"u1": time.Now().Add(-40 * 24 * time.Hour)},
	}

	tests := []struct {
		name string
		f    *SegmentFilters
		want bool
	}{
		{"nil filters", nil, true},
		{"min interactions pass", &SegmentFilters{MinInteractions: 10}, true},
		{"min interactions fail", &SegmentFilters{MinInteractions: 20}, false},
		{"category match", &SegmentFilters{PreferredCategories: []string{"dessert"}}, true},
		{"category miss", &SegmentFilters{PreferredCategories: []string{"seafood"}}, false},
		{"registration pass", &SegmentFilters{RegistrationDaysAgo: 30}, true},
		{"registration fail", &SegmentFilters{RegistrationDaysAgo: 60}, false},
		{"expr pass", &SegmentFilters{Expr: `user.interactions >= 10 && "dessert" in user.categories`}, true},
		{"expr fail", &SegmentFilters{Expr: `user.registration_days > 365`}, false},
		{"combined", &SegmentFilters{MinInteractions: 10, PreferredCategories: []string{"sichuan"}, RegistrationDaysAgo: 30}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.f != nil && tt.f.Expr != "" {
				if err := tt.f.compile(); err != nil {
					t.Fatalf("compile failed: %v", err)
				}
			}
			got, err := tt.f.Eligible(ctx, "u1", users)
			if err != nil {
				t.Fatalf("eligible failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

// TestManagerRecordAndAnalyze 测试指标采集、停止后拒绝归因与显著性分析。
func TestManagerRecordAndAnalyze(t *testing.T) {
	m := NewManager(&stubUsers{}, nil)
	exp, _ := m.Create(Config{
		Name:               "ctr lift",
		ControlAlgorithm:   "hybrid",
		TreatmentAlgorithm: "neural",
		TargetMetrics:      []Metric{MetricCTR},
	})

	// 未知实验
	if _, err := m.Analyze("ffffffffffffffff"); err == nil {
		t.Fatal("analyzing unknown experiment should fail")
	}

	// 零样本：合法的欠功效结果，不是错误
	a, err := m.Analyze(exp.ID)
	if err != nil {
		t.Fatalf("zero-sample analyze failed: %v", err)
	}
	if !a.Underpowered || a.TotalSamples != 0 || len(a.Metrics) != 1 {
		t.Errorf("unexpected zero-sample analysis: %+v", a)
	}

	// control CTR 10%，treatment CTR 40%，各 200 条
	for i := 0; i < 200; i++ {
		cv, tv := 0.0, 0.0
		if i%10 == 0 {
			cv = 1
		}
		if i%10 < 4 {
			tv = 1
		}
		m.Record(MetricSample{ExperimentID: exp.ID, UserID: "cu", Variant: VariantControl, Metric: MetricCTR, Value: cv})
		m.Record(MetricSample{ExperimentID: exp.ID, UserID: "tu", Variant: VariantTreatment, Metric: MetricCTR, Value: tv})
	}

	a, err = m.Analyze(exp.ID)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if a.Underpowered {
		t.Error("400 samples should not be underpowered")
	}
	s := a.Metrics[0]
	if s.Control.Count != 200 || s.Treatment.Count != 200 {
		t.Fatalf("sample counts wrong: %+v", s)
	}
	if s.Control.Mean != 0.1 || s.Treatment.Mean != 0.4 {
		t.Errorf("means wrong: control %v treatment %v", s.Control.Mean, s.Treatment.Mean)
	}
	if !s.Significant || s.PValue >= 0.05 {
		t.Errorf("10%% vs 40%% over 200 samples must be significant, p=%v", s.PValue)
	}
	if s.Lift < 2.9 || s.Lift > 3.1 {
		t.Errorf("expected lift about 3.0, got %v", s.Lift)
	}

	// 停止后拒绝新样本
	m.Stop(exp.ID)
	m.Record(MetricSample{ExperimentID: exp.ID, UserID: "cu", Variant: VariantControl, Metric: MetricCTR, Value: 1})
	after, _ := m.Analyze(exp.ID)
	if after.TotalSamples != a.TotalSamples {
		t.Errorf("samples recorded after stop: %d -> %d", a.TotalSamples, after.TotalSamples)
	}
}

// TestAnalyzeValueMetric 均值型指标走 Welch 检验。
func TestAnalyzeValueMetric(t *testing.T) {
	m := NewManager(&stubUsers{}, nil)
	exp, _ := m.Create(Config{
		Name:               "engagement",
		ControlAlgorithm:   "hybrid",
		TreatmentAlgorithm: "neural",
		TargetMetrics:      []Metric{MetricUserEngagement},
	})

	for i := 0; i < 100; i++ {
		m.Record(MetricSample{ExperimentID: exp.ID, UserID: "cu", Variant: VariantControl,
			Metric: MetricUserEngagement, Value: 2 + float64(i%3)})
		m.Record(MetricSample{ExperimentID: exp.ID, UserID: "tu", Variant: VariantTreatment,
			Metric: MetricUserEngagement, Value: 4 + float64(i%3)})
	}

	a, err := m.Analyze(exp.ID)
	if err != nil {
		t.Fatal(err)
	}
	s := a.Metrics[0]
	if s.Treatment.Mean <= s.Control.Mean {
		t.Errorf("treatment mean should be higher: %v vs %v", s.Treatment.Mean, s.Control.Mean)
	}
	if !s.Significant {
		t.Errorf("clear separation should be significant, p=%v", s.PValue)
	}
}
