// Package recommend 是 dineflow 点餐平台的个性化推荐与在线实验引擎。
//
// 设计要点：
// - Pipeline-first: 推荐逻辑通过 Node 串联（候选 → Filter → 打分 → ReRank）
// - Labels-first: labels 全链路透传与标准化 merge，支持 explain / 观测 / 策略驱动
// - Strategy 可插拔: 协同过滤 / 内容匹配 / 神经模型 / 热度，统一 Score 能力
// - 实验优先: 确定性分流（同一用户同一实验永远同一组），指标只追加不修改
package recommend

import "github.com/dineflow/recommend/pipeline"

// 轻量 facade：便于直接 import 根包使用核心抽象。
type Pipeline = pipeline.Pipeline
type Node = pipeline.Node
type Kind = pipeline.Kind

const (
	KindCandidate   = pipeline.KindCandidate
	KindFilter      = pipeline.KindFilter
	KindRank        = pipeline.KindRank
	KindReRank      = pipeline.KindReRank
	KindPostProcess = pipeline.KindPostProcess
)
