// Package neural 拥有神经策略的训练生命周期。
// TrainingState 是每个部署的单例，只有本包可以变更它；
// 其余组件只能通过 Status/Model 观察。
package neural

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dineflow/recommend/core"
)

// State 是训练状态机：idle → training → trained | failed；
// trained/failed 可再次进入 training。
type State string

const (
	StateIdle     State = "idle"
	StateTraining State = "training"
	StateTrained  State = "trained"
	StateFailed   State = "failed"
)

// TrainingState 是训练任务的可观测状态，仅通过轮询暴露。
type TrainingState struct {
	Status        State      `json:"status"`
	LastTrainedAt *time.Time `json:"lastTrainedAt,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
}

// DataSource 提供训练数据：全量用户-菜品行为权重，由交互日志实现。
type DataSource interface {
	AllUsers() []string
	Weights(userID string) map[string]float64
}

// Config 是训练超参。
type Config struct {
	Dim            int     // 隐向量维度，默认 16
	Epochs         int     // 迭代轮数，默认 30
	LearningRate   float64 // 默认 0.05
	Regularization float64 // 默认 0.02
}

func (c Config) withDefaults() Config {
	if c.Dim <= 0 {
		c.Dim = 16
	}
	if c.Epochs <= 0 {
		c.Epochs = 30
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.05
	}
	if c.Regularization <= 0 {
		c.Regularization = 0.02
	}
	return c
}

// Trainer 是训练控制器。同一时刻至多一个训练在进行——
// 单飞保证由状态机自身承担（training 状态即互斥），无外部锁。
type Trainer struct {
	data DataSource
	cfg  Config
	log  *zap.Logger

	mu    sync.Mutex
	state TrainingState
	model *Model
}

func NewTrainer(data DataSource, cfg Config, logger *zap.Logger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{
		data:  data,
		cfg:   cfg.withDefaults(),
		log:   logger,
		state: TrainingState{Status: StateIdle},
	}
}

// Train 触发一次异步训练并立即返回确认。
// 已在训练时返回 TRAINING_IN_PROGRESS 且不改变任何状态——
// 重复触发不会排队出第二次训练。
func (t *Trainer) Train(ctx context.Context) error {
	t.mu.Lock()
	if t.state.Status == StateTraining {
		t.mu.Unlock()
		return core.NewDomainError(core.ModuleNeural, core.ErrorCodeTrainingInProgress, "model training already in progress")
	}
	t.state.Status = StateTraining
	t.state.LastError = ""
	t.mu.Unlock()

	go t.run(context.WithoutCancel(ctx))
	return nil
}

// Status 返回当前训练状态，非阻塞。
func (t *Trainer) Status() TrainingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Model 返回训练好的模型；未就绪时返回 MODEL_UNAVAILABLE。
func (t *Trainer) Model() (*Model, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Status != StateTrained || t.model == nil {
		return nil, core.NewDomainError(core.ModuleNeural, core.ErrorCodeModelUnavailable,
			"neural model is not trained (status: "+string(t.state.Status)+")")
	}
	return t.model, nil
}

// run 在后台拟合模型。失败只记录在状态里，绝不向触发方传播。
func (t *Trainer) run(ctx context.Context) {
	start := time.Now()
	model, err := t.fit(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.state.Status = StateFailed
		t.state.LastError = err.Error()
		t.log.Warn("model training failed", zap.Error(err))
		return
	}
	now := time.Now()
	t.model = model
	t.state.Status = StateTrained
	t.state.LastTrainedAt = &now
	t.log.Info("model training finished",
		zap.Int("users", len(model.userVecs)),
		zap.Int("items", len(model.itemVecs)),
		zap.Duration("elapsed", time.Since(start)))
}

func (t *Trainer) fit(ctx context.Context) (*Model, error) {
	data := make(map[string]map[string]float64)
	for _, userID := range t.data.AllUsers() {
		if w := t.data.Weights(userID); len(w) > 0 {
			data[userID] = w
		}
	}
	if len(data) == 0 {
		return nil, core.NewDomainError(core.ModuleNeural, core.ErrorCodeInternalError, "no interaction data to train on")
	}
	return fitModel(ctx, data, t.cfg)
}
