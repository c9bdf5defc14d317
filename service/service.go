// Package service 是对外门面：聚合推荐引擎、交互日志、训练器、
// 热度分析器与实验框架，并提供 HTTP 绑定。
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dineflow/recommend/core"
	"github.com/dineflow/recommend/engine"
	"github.com/dineflow/recommend/experiment"
	"github.com/dineflow/recommend/interaction"
	"github.com/dineflow/recommend/neural"
	"github.com/dineflow/recommend/trending"
)

// Service 聚合所有组件，HTTP/RPC 层只依赖它。
type Service struct {
	engine      *engine.Engine
	catalog     engine.Catalog
	log         *interaction.Log
	trainer     *neural.Trainer
	analyzer    *trending.Analyzer
	experiments *experiment.Manager
	logger      *zap.Logger
	startedAt   time.Time
}

func New(
	eng *engine.Engine,
	catalog engine.Catalog,
	log *interaction.Log,
	trainer *neural.Trainer,
	analyzer *trending.Analyzer,
	experiments *experiment.Manager,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		engine:      eng,
		catalog:     catalog,
		log:         log,
		trainer:     trainer,
		analyzer:    analyzer,
		experiments: experiments,
		logger:      logger,
		startedAt:   time.Now(),
	}
}

// RecommendationsResponse 是推荐接口的响应体。
// RecommendationID 可回填到后续交互事件做曝光归因。
type RecommendationsResponse struct {
	RecommendationID string       `json:"recommendationId"`
	UserID           string       `json:"userId"`
	Items            []*core.Item `json:"items"`
	Count            int          `json:"count"`
	Algorithm        string       `json:"algorithm"`
	ExperimentID     string       `json:"experimentId,omitempty"`
	Variant          string       `json:"variant,omitempty"`
	TotalGenerated   int          `json:"totalGenerated"`
	GeneratedAt      time.Time    `json:"generatedAt"`
}

func (s *Service) wrap(userID string, r *engine.RecommendResult) *RecommendationsResponse {
	return &RecommendationsResponse{
		RecommendationID: uuid.NewString(),
		UserID:           userID,
		Items:            r.Items,
		Count:            len(r.Items),
		Algorithm:        r.Algorithm,
		ExperimentID:     r.ExperimentID,
		Variant:          r.Variant,
		TotalGenerated:   r.TotalGenerated,
		GeneratedAt:      time.Now(),
	}
}

// GetRecommendations 获取推荐（显式算法 → 实验 → 默认的完整解析链）。
func (s *Service) GetRecommendations(ctx context.Context, userID string, opts engine.RecommendOptions) (*RecommendationsResponse, error) {
	r, err := s.engine.Recommend(ctx, userID, opts)
	if err != nil {
		return nil, err
	}
	return s.wrap(userID, r), nil
}

// GetPersonalized 获取个性化推荐（强制混合算法）。
func (s *Service) GetPersonalized(ctx context.Context, userID string, opts engine.RecommendOptions) (*RecommendationsResponse, error) {
	r, err := s.engine.RecommendPersonalized(ctx, userID, opts)
	if err != nil {
		return nil, err
	}
	return s.wrap(userID, r), nil
}

// GetContextual 获取上下文推荐（必须提供用餐上下文）。
func (s *Service) GetContextual(ctx context.Context, userID string, opts engine.RecommendOptions) (*RecommendationsResponse, error) {
	r, err := s.engine.RecommendContextual(ctx, userID, opts)
	if err != nil {
		return nil, err
	}
	return s.wrap(userID, r), nil
}

// TrackInteraction 记录交互事件并做实验指标归因。
// 事件落盘成功即返回；归因失败只记日志，不影响写入结果。
func (s *Service) TrackInteraction(ctx context.Context, in *core.Interaction) error {
	// 从目录补齐类目，让分群过滤能按类目判断
	if in != nil && in.Category == "" && in.ItemID != "" {
		if it, ok := s.catalog.Item(ctx, in.ItemID); ok {
			in.Category = it.Category
		}
	}

	if err := s.log.Append(ctx, in); err != nil {
		return err
	}

	s.attribute(ctx, in)
	return nil
}

// attribute 把交互事件换算为其所属实验的指标样本。
// 未入组的用户不产生样本。
func (s *Service) attribute(ctx context.Context, in *core.Interaction) {
	if s.experiments == nil {
		return
	}
	assignment, err := s.experiments.AssignUser(ctx, in.UserID)
	if err != nil || assignment == nil {
		if err != nil {
			s.logger.Warn("experiment attribution skipped", zap.Error(err))
		}
		return
	}
	exp, err := s.experiments.Get(assignment.ExperimentID)
	if err != nil {
		return
	}

	for _, metric := range exp.TargetMetrics {
		value, ok := s.metricValue(ctx, metric, in)
		if !ok {
			continue
		}
		s.experiments.Record(experiment.MetricSample{
			ExperimentID: assignment.ExperimentID,
			UserID:       in.UserID,
			Variant:      assignment.Variant,
			Metric:       metric,
			Value:        value,
			Timestamp:    in.Timestamp,
		})
	}
}

// metricValue 把一条交互换算成指标观测值。
//   - ctr:              click=1，view=0（其余类型不计入曝光分母）
//   - conversion_rate:  purchase=1，click/view=0
//   - user_engagement:  交互的有效权重
//   - revenue_per_user: purchase 计菜品价格，其余为 0
func (s *Service) metricValue(ctx context.Context, metric experiment.Metric, in *core.Interaction) (float64, bool) {
	switch metric {
	case experiment.MetricCTR:
		switch in.Type {
		case core.InteractionClick:
			return 1, true
		case core.InteractionView:
			return 0, true
		}
		return 0, false
	case experiment.MetricConversionRate:
		switch in.Type {
		case core.InteractionPurchase:
			return 1, true
		case core.InteractionClick, core.InteractionView:
			return 0, true
		}
		return 0, false
	case experiment.MetricUserEngagement:
		return in.EffectiveWeight(), true
	case experiment.MetricRevenuePerUser:
		if in.Type != core.InteractionPurchase {
			return 0, true
		}
		if it, ok := s.catalog.Item(ctx, in.ItemID); ok {
			return it.Price, true
		}
		return 0, true
	}
	return 0, false
}

// CreateExperiment 创建并启动实验。
func (s *Service) CreateExperiment(cfg experiment.Config) (*experiment.Experiment, error) {
	return s.experiments.Create(cfg)
}

// ExperimentResults 返回实验的分析结果。
func (s *Service) ExperimentResults(id string) (*experiment.Analysis, error) {
	return s.experiments.Analyze(id)
}

// StopExperiment 停止实验（幂等）。
func (s *Service) StopExperiment(id string) (*experiment.Experiment, error) {
	return s.experiments.Stop(id)
}

// ListExperiments 返回全部实验。
func (s *Service) ListExperiments() []*experiment.Experiment {
	return s.experiments.List()
}

// TrainModel 触发一次异步模型训练。
func (s *Service) TrainModel(ctx context.Context) error {
	return s.trainer.Train(ctx)
}

// TrainingStatus 返回训练状态（非阻塞）。
func (s *Service) TrainingStatus() neural.TrainingState {
	return s.trainer.Status()
}

// AnalyzeTrends 触发一次异步热度聚合。
func (s *Service) AnalyzeTrends(ctx context.Context) error {
	return s.analyzer.Analyze(ctx)
}

// TrendStatus 返回热度分析状态（非阻塞）。
func (s *Service) TrendStatus() trending.Status {
	return s.analyzer.Status()
}

// Trending 读取热度排行。
func (s *Service) Trending(ctx context.Context, q trending.Query) ([]*core.Item, error) {
	return s.analyzer.Trending(ctx, q)
}

// Seasonal 读取当季加权的热度排行。season 为空时按当前月份推断。
func (s *Service) Seasonal(ctx context.Context, q trending.Query) ([]*core.Item, error) {
	if q.Season == "" {
		q.Season = core.SeasonOf(time.Now())
	}
	return s.analyzer.Trending(ctx, q)
}

// Health 是健康检查响应。
type Health struct {
	Status        string  `json:"status"`
	IsInitialized bool    `json:"isInitialized"`
	Uptime        float64 `json:"uptime"` // 秒
}

// HealthCheck 返回服务健康状态。
func (s *Service) HealthCheck() Health {
	return Health{
		Status:        "healthy",
		IsInitialized: true,
		Uptime:        time.Since(s.startedAt).Seconds(),
	}
}
