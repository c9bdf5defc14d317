package experiment

import (
	"math"
	"time"
)

// VariantStats 是单个分组在某个指标上的汇总。
type VariantStats struct {
	Users  int     `json:"users"`  // 去重用户数
	Count  int     `json:"count"`  // 样本条数
	Sum    float64 `json:"sum"`    //
	Mean   float64 `json:"mean"`   // 比例型指标即为转化率
	StdDev float64 `json:"stdDev"` // 样本标准差（比例型为 p(1-p) 的平方根）
}

// MetricSummary 是一个指标的对照结果。
type MetricSummary struct {
	Metric      Metric       `json:"metric"`
	Control     VariantStats `json:"control"`
	Treatment   VariantStats `json:"treatment"`
	Lift        float64      `json:"lift"` // (treatment-control)/control，control 均值为 0 时为 0
	PValue      float64      `json:"pValue"`
	Significant bool         `json:"significant"` // p < 0.05
}

// Analysis 是一次实验分析的完整输出。纯读侧投影：
// 不改变实验状态，可在运行中或停止后反复计算。
type Analysis struct {
	ExperimentID string          `json:"experimentId"`
	Name         string          `json:"name"`
	Status       Status          `json:"status"`
	TotalSamples int             `json:"totalSamples"`
	Metrics      []MetricSummary `json:"metrics"`
	Underpowered bool            `json:"underpowered"` // 任一分组样本不足
	AnalyzedAt   time.Time       `json:"analyzedAt"`
}

// minSamplesPerVariant 低于该样本量时显著性判定一律为 false。
const minSamplesPerVariant = 30

// Analyze 计算实验各目标指标的分组对比与显著性。
// 零样本实验返回合法但 Underpowered 的结果，而不是错误。
func (m *Manager) Analyze(id string) (*Analysis, error) {
	exp, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	samples := m.samplesFor(id)

	out := &Analysis{
		ExperimentID: exp.ID,
		Name:         exp.Name,
		Status:       exp.Status,
		TotalSamples: len(samples),
		Metrics:      make([]MetricSummary, 0, len(exp.TargetMetrics)),
		AnalyzedAt:   time.Now(),
	}

	for _, metric := range exp.TargetMetrics {
		summary := summarizeMetric(metric, samples)
		if summary.Control.Count < minSamplesPerVariant || summary.Treatment.Count < minSamplesPerVariant {
			out.Underpowered = true
			summary.Significant = false
		}
		out.Metrics = append(out.Metrics, summary)
	}
	return out, nil
}

func summarizeMetric(metric Metric, samples []MetricSample) MetricSummary {
	var control, treatment accumulator
	for _, s := range samples {
		if s.Metric != metric {
			continue
		}
		if s.Variant == VariantTreatment {
			treatment.add(s)
		} else {
			control.add(s)
		}
	}

	summary := MetricSummary{
		Metric:    metric,
		Control:   control.stats(),
		Treatment: treatment.stats(),
	}
	if summary.Control.Mean != 0 {
		summary.Lift = (summary.Treatment.Mean - summary.Control.Mean) / summary.Control.Mean
	}

	if IsRateMetric(metric) {
		summary.PValue = twoProportionPValue(control, treatment)
	} else {
		summary.PValue = welchPValue(control, treatment)
	}
	summary.Significant = summary.PValue < 0.05
	return summary
}

type accumulator struct {
	count  int
	sum    float64
	sumSq  float64
	users  map[string]bool
	hits   int // 比例型指标中 value > 0 的条数
}

func (a *accumulator) add(s MetricSample) {
	if a.users == nil {
		a.users = make(map[string]bool)
	}
	a.users[s.UserID] = true
	a.count++
	a.sum += s.Value
	a.sumSq += s.Value * s.Value
	if s.Value > 0 {
		a.hits++
	}
}

func (a *accumulator) mean() float64 {
	if a.count == 0 {
		return 0
	}
	return a.sum / float64(a.count)
}

// variance 样本方差（n-1 分母）。
func (a *accumulator) variance() float64 {
	if a.count < 2 {
		return 0
	}
	n := float64(a.count)
	return (a.sumSq - a.sum*a.sum/n) / (n - 1)
}

func (a *accumulator) stats() VariantStats {
	return VariantStats{
		Users:  len(a.users),
		Count:  a.count,
		Sum:    a.sum,
		Mean:   a.mean(),
		StdDev: math.Sqrt(a.variance()),
	}
}

// twoProportionPValue 两比例 z 检验（双侧）。
// 比例型指标的样本取值为 0/1，比较两组转化率。
func twoProportionPValue(control, treatment accumulator) float64 {
	n1, n2 := float64(control.count), float64(treatment.count)
	if n1 == 0 || n2 == 0 {
		return 1
	}
	p1 := float64(control.hits) / n1
	p2 := float64(treatment.hits) / n2
	pooled := float64(control.hits+treatment.hits) / (n1 + n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	if se == 0 {
		return 1
	}
	z := (p2 - p1) / se
	return pValueFromZ(z)
}

// welchPValue Welch t 检验（双侧，正态近似）。
// 用于均值型指标（engagement、revenue），不假设两组方差相等。
func welchPValue(control, treatment accumulator) float64 {
	n1, n2 := float64(control.count), float64(treatment.count)
	if n1 < 2 || n2 < 2 {
		return 1
	}
	se := math.Sqrt(control.variance()/n1 + treatment.variance()/n2)
	if se == 0 {
		return 1
	}
	t := (treatment.mean() - control.mean()) / se
	return pValueFromZ(t)
}

// pValueFromZ 双侧 p 值：P(|Z| > |z|) = erfc(|z|/√2)。
func pValueFromZ(z float64) float64 {
	return math.Erfc(math.Abs(z) / math.Sqrt2)
}
