package experiment

import (
	"time"

	"go.uber.org/zap"
)

// MetricSample 是一条不可变的指标观测。样本只追加不修改，
// 分析永远是对样本序列的重放。
type MetricSample struct {
	ExperimentID string    `json:"experimentId"`
	UserID       string    `json:"userId"`
	Variant      Variant   `json:"variant"`
	Metric       Metric    `json:"metric"`
	Value        float64   `json:"value"`
	Timestamp    time.Time `json:"timestamp"`
}

// Record 追加一条指标样本。只有运行中的实验接受归因：
// 停止或超期后到达的事件静默丢弃，保证分析窗口封闭。
func (m *Manager) Record(sample MetricSample) {
	m.mu.RLock()
	exp, ok := m.experiments[sample.ExperimentID]
	running := ok && exp.Status == StatusRunning
	m.mu.RUnlock()
	if !running {
		return
	}

	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	m.samplesMu.Lock()
	m.samples = append(m.samples, sample)
	m.samplesMu.Unlock()

	m.log.Debug("metric sample recorded",
		zap.String("experiment", sample.ExperimentID),
		zap.String("variant", string(sample.Variant)),
		zap.String("metric", string(sample.Metric)),
		zap.Float64("value", sample.Value))
}

// samplesFor 快照某实验的样本。复制一份返回，
// 调用方拿到的切片与后续写入隔离。
func (m *Manager) samplesFor(experimentID string) []MetricSample {
	m.samplesMu.Lock()
	defer m.samplesMu.Unlock()
	out := make([]MetricSample, 0, 64)
	for _, s := range m.samples {
		if s.ExperimentID == experimentID {
			out = append(out, s)
		}
	}
	return out
}
