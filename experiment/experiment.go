// Package experiment 实现在线实验框架：实验生命周期、确定性分流、
// 分群过滤、指标采集与对比分析。
//
// 状态机：created → running → stopped。分析是读侧投影，
// 运行中/停止后都可反复计算，不改变实验状态。
package experiment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dineflow/recommend/core"
)

// Metric 是实验目标指标的闭合枚举。
type Metric string

const (
	MetricCTR            Metric = "ctr"
	MetricConversionRate Metric = "conversion_rate"
	MetricUserEngagement Metric = "user_engagement"
	MetricRevenuePerUser Metric = "revenue_per_user"
)

var validMetrics = map[Metric]bool{
	MetricCTR:            true,
	MetricConversionRate: true,
	MetricUserEngagement: true,
	MetricRevenuePerUser: true,
}

// IsRateMetric 判断指标是否为比例型（取值 0/1，用两比例检验）。
func IsRateMetric(m Metric) bool {
	return m == MetricCTR || m == MetricConversionRate
}

// Status 是实验生命周期状态。
type Status string

const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

// Config 是创建实验的输入。
type Config struct {
	Name               string          `json:"name"`
	Description        string          `json:"description,omitempty"`
	ControlAlgorithm   string          `json:"controlAlgorithm"`
	TreatmentAlgorithm string          `json:"treatmentAlgorithm"`
	TrafficSplit       *float64        `json:"trafficSplit,omitempty"` // 默认 0.5
	TargetMetrics      []Metric        `json:"targetMetrics,omitempty"`
	Segment            *SegmentFilters `json:"segmentFilters,omitempty"`
	DurationDays       int             `json:"durationDays,omitempty"` // 默认 14，范围 [1,90]
}

// Experiment 是一个运行中的实验。字段创建后不再修改——
// 调整分流比例/分群要开新实验，保证已有分组永远稳定。
type Experiment struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Description        string          `json:"description,omitempty"`
	ControlAlgorithm   string          `json:"controlAlgorithm"`
	TreatmentAlgorithm string          `json:"treatmentAlgorithm"`
	TrafficSplit       float64         `json:"trafficSplit"`
	TargetMetrics      []Metric        `json:"targetMetrics"`
	Segment            *SegmentFilters `json:"segmentFilters,omitempty"`
	DurationDays       int             `json:"durationDays"`
	Status             Status          `json:"status"`
	CreatedAt          time.Time       `json:"createdAt"`
	StoppedAt          *time.Time      `json:"stoppedAt,omitempty"`
}

// Algorithm 返回分组绑定的算法名。
func (e *Experiment) Algorithm(v Variant) string {
	if v == VariantTreatment {
		return e.TreatmentAlgorithm
	}
	return e.ControlAlgorithm
}

// expired 判断实验是否超出持续期（超期实验不再纳入新分流）。
func (e *Experiment) expired(now time.Time) bool {
	return now.After(e.CreatedAt.AddDate(0, 0, e.DurationDays))
}

// snapshot 返回实验的只读副本。对外只交副本：调用方持有的对象
// 不会被后续 Stop 在锁内的状态写入改到，读侧序列化无需持锁。
// Segment 编译后不再变化，浅拷贝共享即可。
func (e *Experiment) snapshot() *Experiment {
	cp := *e
	cp.TargetMetrics = append([]Metric(nil), e.TargetMetrics...)
	if e.StoppedAt != nil {
		t := *e.StoppedAt
		cp.StoppedAt = &t
	}
	return &cp
}

func invalidConfig(field, format string, args ...any) error {
	return core.NewFieldError(core.ModuleExperiment, core.ErrorCodeInvalidExperimentConfig, field,
		fmt.Sprintf(format, args...))
}

func notFound(id string) error {
	return core.NewDomainError(core.ModuleExperiment, core.ErrorCodeExperimentNotFound,
		fmt.Sprintf("experiment %q not found", id))
}

// newID 生成 16 位十六进制实验 id。
func newID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand 不可用属于环境故障
	}
	return hex.EncodeToString(buf)
}

// UserStats 是分群过滤需要的用户画像接口，由交互日志实现。
type UserStats interface {
	CountUser(userID string) int
	UserCategories(userID string) []string
	FirstSeen(userID string) (time.Time, bool)
}

// Manager 拥有实验与指标样本。实验注册表用读写锁保护；
// 分流本身是纯函数，不经过任何锁。
type Manager struct {
	users UserStats
	log   *zap.Logger

	mu          sync.RWMutex
	experiments map[string]*Experiment
	order       []string // 创建顺序，分流时按最早的可用实验

	samplesMu sync.Mutex
	samples   []MetricSample
}

func NewManager(users UserStats, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		users:       users,
		log:         logger,
		experiments: make(map[string]*Experiment),
	}
}

// Create 校验配置并启动实验。没有单独的激活步骤：
// 创建即 running，id 为生成的 16 位十六进制。
func (m *Manager) Create(cfg Config) (*Experiment, error) {
	if cfg.Name == "" {
		return nil, invalidConfig("name", "name is required")
	}
	if cfg.ControlAlgorithm == "" {
		return nil, invalidConfig("controlAlgorithm", "controlAlgorithm is required")
	}
	if cfg.TreatmentAlgorithm == "" {
		return nil, invalidConfig("treatmentAlgorithm", "treatmentAlgorithm is required")
	}

	split := 0.5
	if cfg.TrafficSplit != nil {
		split = *cfg.TrafficSplit
		if split < 0 || split > 1 {
			return nil, invalidConfig("trafficSplit", "trafficSplit must be in [0,1], got %v", split)
		}
	}

	metrics := cfg.TargetMetrics
	if len(metrics) == 0 {
		metrics = []Metric{MetricCTR, MetricConversionRate}
	}
	for _, metric := range metrics {
		if !validMetrics[metric] {
			return nil, invalidConfig("targetMetrics", "unknown metric %q", metric)
		}
	}

	duration := cfg.DurationDays
	if duration == 0 {
		duration = 14
	}
	if duration < 1 || duration > 90 {
		return nil, invalidConfig("durationDays", "durationDays must be in [1,90], got %d", duration)
	}

	if cfg.Segment != nil {
		if err := cfg.Segment.compile(); err != nil {
			return nil, err
		}
	}

	exp := &Experiment{
		ID:                 newID(),
		Name:               cfg.Name,
		Description:        cfg.Description,
		ControlAlgorithm:   cfg.ControlAlgorithm,
		TreatmentAlgorithm: cfg.TreatmentAlgorithm,
		TrafficSplit:       split,
		TargetMetrics:      metrics,
		Segment:            cfg.Segment,
		DurationDays:       duration,
		Status:             StatusRunning,
		CreatedAt:          time.Now(),
	}

	m.mu.Lock()
	m.experiments[exp.ID] = exp
	m.order = append(m.order, exp.ID)
	m.mu.Unlock()

	m.log.Info("experiment created",
		zap.String("id", exp.ID),
		zap.String("name", exp.Name),
		zap.Float64("trafficSplit", exp.TrafficSplit))
	return exp.snapshot(), nil
}

// Get 返回实验快照；未知 id 返回 EXPERIMENT_NOT_FOUND。
func (m *Manager) Get(id string) (*Experiment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exp, ok := m.experiments[id]
	if !ok {
		return nil, notFound(id)
	}
	return exp.snapshot(), nil
}

// List 按创建顺序返回所有实验的快照。
func (m *Manager) List() []*Experiment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Experiment, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.experiments[id].snapshot())
	}
	return out
}

// Stop 停止实验并记录 stoppedAt。幂等：重复停止是 no-op，不是错误。
// 停止只影响之后的指标归因，不会撤销已分配的分组。
func (m *Manager) Stop(id string) (*Experiment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.experiments[id]
	if !ok {
		return nil, notFound(id)
	}
	if exp.Status == StatusStopped {
		return exp.snapshot(), nil
	}
	now := time.Now()
	exp.Status = StatusStopped
	exp.StoppedAt = &now
	m.log.Info("experiment stopped", zap.String("id", id))
	return exp.snapshot(), nil
}

// Assignment 是一次分流结果。
type Assignment struct {
	ExperimentID string
	Variant      Variant
	Algorithm    string
}

// AssignUser 为用户解析当前生效的实验分组：取最早创建的、运行中且未超期、
// 用户通过分群过滤的实验。不符合分群的用户不入组也不计指标，
// 走默认算法。无可用实验时返回 (nil, nil)。
func (m *Manager) AssignUser(ctx context.Context, userID string) (*Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	for _, id := range m.order {
		exp := m.experiments[id]
		if exp.Status != StatusRunning || exp.expired(now) {
			continue
		}
		if exp.Segment != nil {
			ok, err := exp.Segment.Eligible(ctx, userID, m.users)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		v := Assign(exp.ID, userID, exp.TrafficSplit)
		return &Assignment{ExperimentID: exp.ID, Variant: v, Algorithm: exp.Algorithm(v)}, nil
	}
	return nil, nil
}
