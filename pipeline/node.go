package pipeline

import (
	"context"

	"github.com/dineflow/recommend/core"
)

// Kind 用于标记 Node 类型，方便观测/治理/编排（例如按阶段打点）。
type Kind string

const (
	KindCandidate   Kind = "candidate"   // 候选阶段：从目录生成候选集
	KindFilter      Kind = "filter"      // 过滤阶段：剔除不符合约束的候选（已购/预算外/不可售）
	KindRank        Kind = "rank"        // 打分阶段：策略对候选打分并排序
	KindReRank      Kind = "rerank"      // 重排阶段：多样性/促销位调优
	KindPostProcess Kind = "postprocess" // 后处理阶段：解释拼装、截断
)

// Node 是推荐链路的最小可扩展单元。
// 统一采用“输入 items -> 输出 items”的形态，方便候选生成、Filter 截断、ReRank 重排等操作。
type Node interface {
	Name() string
	Kind() Kind

	Process(
		ctx context.Context,
		rctx *core.RecommendContext,
		items []*core.Item,
	) ([]*core.Item, error)
}
