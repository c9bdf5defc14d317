package experiment

import "hash/fnv"

// Variant 是实验的一个分组，各自绑定一个算法。
type Variant string

const (
	VariantControl   Variant = "control"
	VariantTreatment Variant = "treatment"
)

// Bucket 把 (experimentID, userID) 确定性地映射到 [0,1)。
// 纯函数：同样输入在任意进程、任意时刻得到同一结果（A/B 有效性的前提），
// 因此读取无需任何锁。FNV-1a 的定义跨平台稳定。
func Bucket(experimentID, userID string) float64 {
	h := fnv.New64a()
	h.Write([]byte(experimentID))
	h.Write([]byte{':'})
	h.Write([]byte(userID))
	return float64(h.Sum64()) / float64(1<<64)
}

// Assign 返回用户在实验中的分组。
// 边界规则：bucket < trafficSplit → treatment；bucket >= trafficSplit → control。
// 即 trafficSplit 是路由到 treatment 的概率质量，split=0 时全部 control。
func Assign(experimentID, userID string, trafficSplit float64) Variant {
	if Bucket(experimentID, userID) < trafficSplit {
		return VariantTreatment
	}
	return VariantControl
}
