package experiment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/dineflow/recommend/core"
)

var (
	segmentEnv     *cel.Env
	segmentEnvOnce sync.Once
	segmentEnvErr  error
)

// segmentCELEnv 返回分群表达式的 CEL 环境（线程安全，可复用）。
// 暴露给表达式的变量：
//   - user: {id, interactions, categories, registration_days}
func segmentCELEnv() (*cel.Env, error) {
	segmentEnvOnce.Do(func() {
		segmentEnv, segmentEnvErr = cel.NewEnv(
			cel.Variable("user", cel.DynType),
		)
	})
	return segmentEnv, segmentEnvErr
}

// SegmentFilters 门控实验资格：未通过过滤的用户不入组、不计指标，
// 由编排层回落到默认算法（而不是 control 算法）。
//
// Expr 是可选的 CEL 表达式，用于声明式的自定义分群，例如：
//
//	user.interactions >= 10 && "dessert" in user.categories
type SegmentFilters struct {
	// MinInteractions 最少交互事件数
	MinInteractions int `json:"minInteractions,omitempty"`

	// PreferredCategories 用户需交互过其中至少一个类目
	PreferredCategories []string `json:"preferredCategories,omitempty"`

	// RegistrationDaysAgo 用户需至少注册满多少天
	RegistrationDaysAgo int `json:"registrationDaysAgo,omitempty"`

	// Expr 自定义 CEL 分群表达式（可选）
	Expr string `json:"expr,omitempty"`

	prg cel.Program
}

// compile 在创建实验时编译一次 Expr，之后的资格判断只执行程序。
func (f *SegmentFilters) compile() error {
	if f.Expr == "" {
		return nil
	}
	env, err := segmentCELEnv()
	if err != nil {
		return fmt.Errorf("segment cel env: %w", err)
	}
	ast, issues := env.Compile(f.Expr)
	if issues != nil && issues.Err() != nil {
		return invalidConfig("segmentFilters.expr", "invalid segment expression: %v", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return invalidConfig("segmentFilters.expr", "invalid segment expression: %v", err)
	}
	f.prg = prg
	return nil
}

// Eligible 判断用户是否通过全部分群条件。
func (f *SegmentFilters) Eligible(ctx context.Context, userID string, users UserStats) (bool, error) {
	if f == nil {
		return true, nil
	}
	if users == nil {
		// 没有画像数据源时无法分群，保守地全部排除
		return false, nil
	}

	count := users.CountUser(userID)
	if f.MinInteractions > 0 && count < f.MinInteractions {
		return false, nil
	}

	categories := users.UserCategories(userID)
	if len(f.PreferredCategories) > 0 {
		matched := false
		for _, want := range f.PreferredCategories {
			for _, have := range categories {
				if have == want {
					matched = true
					break
				}
			}
		}
		if !matched {
			return false, nil
		}
	}

	var registrationDays int
	if first, ok := users.FirstSeen(userID); ok {
		registrationDays = int(time.Since(first).Hours() / 24)
	}
	if f.RegistrationDaysAgo > 0 && registrationDays < f.RegistrationDaysAgo {
		return false, nil
	}

	if f.prg != nil {
		out, _, err := f.prg.ContextEval(ctx, map[string]any{
			"user": map[string]any{
				"id":                userID,
				"interactions":      count,
				"categories":        categories,
				"registration_days": registrationDays,
			},
		})
		if err != nil {
			return false, core.NewDomainError(core.ModuleExperiment, core.ErrorCodeInternalError,
				fmt.Sprintf("segment expression eval: %v", err))
		}
		ok, isBool := out.Value().(bool)
		if !isBool {
			return false, core.NewDomainError(core.ModuleExperiment, core.ErrorCodeInternalError,
				"segment expression did not evaluate to bool")
		}
		return ok, nil
	}
	return true, nil
}
