package core

import "net/http"

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供机器可读的错误代码（Code）和消息（Message）
//   - Field 在校验类错误中指向出错字段
//   - HTTPStatus 给出传输层应返回的状态类（400 校验 / 404 不存在 / 409 冲突 / 503 不可用 / 500 内部）
type DomainError struct {
	Module  string // 模块名称（如 "engine", "experiment", "neural"）
	Code    string // 错误代码（如 "LIMIT_EXCEEDED"）
	Field   string // 出错字段（可为空）
	Message string // 错误消息
}

func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError 创建新的领域错误。
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{Module: module, Code: code, Message: message}
}

// NewFieldError 创建带出错字段的校验错误。
func NewFieldError(module, code, field, message string) *DomainError {
	return &DomainError{Module: module, Code: code, Field: field, Message: message}
}

// GetDomainError 获取 DomainError，如果不是则返回 nil。
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	if domainErr, ok := err.(*DomainError); ok {
		return domainErr
	}
	return nil
}

// 错误代码常量
const (
	ErrorCodeMissingUserID           = "MISSING_USER_ID"            // userID 为空
	ErrorCodeLimitExceeded           = "LIMIT_EXCEEDED"             // limit 超过上限
	ErrorCodeInvalidContext          = "INVALID_CONTEXT"            // 上下文字段越界或无法解析
	ErrorCodeInvalidInteractionType  = "INVALID_INTERACTION_TYPE"   // 交互类型不在枚举内
	ErrorCodeInvalidExperimentConfig = "INVALID_EXPERIMENT_CONFIG"  // 实验配置缺失/越界
	ErrorCodeExperimentNotFound      = "EXPERIMENT_NOT_FOUND"       // 实验不存在
	ErrorCodeTrainingInProgress      = "TRAINING_IN_PROGRESS"       // 已有训练在进行
	ErrorCodeAnalysisInProgress      = "ANALYSIS_IN_PROGRESS"       // 已有趋势分析在进行
	ErrorCodeModelUnavailable        = "MODEL_UNAVAILABLE"          // 神经模型未训练完成
	ErrorCodeInvalidInput            = "INVALID_INPUT"              // 其他输入无效
	ErrorCodeNotFound                = "NOT_FOUND"                  // 资源不存在
	ErrorCodeNotSupported            = "NOT_SUPPORTED"              // 操作不支持
	ErrorCodeInternalError           = "INTERNAL_ERROR"             // 内部错误
)

// 模块名称常量
const (
	ModuleStore       = "store"
	ModuleContext     = "context"
	ModuleInteraction = "interaction"
	ModuleEngine      = "engine"
	ModuleStrategy    = "strategy"
	ModuleExperiment  = "experiment"
	ModuleNeural      = "neural"
	ModuleTrending    = "trending"
	ModuleService     = "service"
)

// HTTPStatus 返回错误代码对应的 HTTP 状态类。
func (e *DomainError) HTTPStatus() int {
	switch e.Code {
	case ErrorCodeMissingUserID, ErrorCodeLimitExceeded, ErrorCodeInvalidContext,
		ErrorCodeInvalidInteractionType, ErrorCodeInvalidExperimentConfig,
		ErrorCodeInvalidInput:
		return http.StatusBadRequest
	case ErrorCodeExperimentNotFound, ErrorCodeNotFound:
		return http.StatusNotFound
	case ErrorCodeTrainingInProgress, ErrorCodeAnalysisInProgress:
		return http.StatusConflict
	case ErrorCodeModelUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsNotFound 检查错误是否为资源不存在。
func IsNotFound(err error) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == ErrorCodeNotFound || domainErr.Code == ErrorCodeExperimentNotFound
	}
	return false
}

// IsConflict 检查错误是否为单飞冲突（训练/分析已在进行）。
func IsConflict(err error) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == ErrorCodeTrainingInProgress || domainErr.Code == ErrorCodeAnalysisInProgress
	}
	return false
}

// IsValidation 检查错误是否为输入校验失败。
func IsValidation(err error) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.HTTPStatus() == http.StatusBadRequest
	}
	return false
}

// IsModelUnavailable 检查错误是否为模型未就绪。
func IsModelUnavailable(err error) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == ErrorCodeModelUnavailable
	}
	return false
}
