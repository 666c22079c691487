package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于日志分级与事件投递。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	CodeUnknown         Code = "UNKNOWN"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeStorageFailure  Code = "STORAGE_FAILURE"
	CodeTimeout         Code = "TIMEOUT"
	CodeNotFound        Code = "NOT_FOUND"

	CodePreconditionFailed   Code = "PRECONDITION_FAILED"
	CodeAttemptInProgress    Code = "ATTEMPT_IN_PROGRESS"
	CodeCatalogUnavailable   Code = "CATALOG_UNAVAILABLE"
	CodeWorkflowNotFound     Code = "WORKFLOW_NOT_FOUND"
	CodeNotInitialized       Code = "NOT_INITIALIZED"
	CodeNoAccount            Code = "NO_ACCOUNT"
	CodeChannelDisconnected  Code = "CHANNEL_DISCONNECTED"
	CodeRemoteExecutionError Code = "REMOTE_EXECUTION_ERROR"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:              {Message: "unknown error", Severity: SeverityCritical},
		CodeInvalidArgument:      {Message: "invalid argument", Severity: SeverityInfo},
		CodeStorageFailure:       {Message: "storage failure", Severity: SeverityCritical, Retryable: true},
		CodeTimeout:              {Message: "operation timed out", Severity: SeverityWarning, Retryable: true},
		CodeNotFound:             {Message: "not found", Severity: SeverityInfo},
		CodePreconditionFailed:   {Message: "precondition failed", Severity: SeverityInfo},
		CodeAttemptInProgress:    {Message: "an execution is already in progress for this agent", Severity: SeverityInfo},
		CodeCatalogUnavailable:   {Message: "agent catalog unavailable", Severity: SeverityWarning, Retryable: true},
		CodeWorkflowNotFound:     {Message: "no workflow found for this agent", Severity: SeverityWarning, Retryable: true},
		CodeNotInitialized:       {Message: "authentication provider not initialized", Severity: SeverityWarning},
		CodeNoAccount:            {Message: "no accounts found, please connect your wallet", Severity: SeverityWarning},
		CodeChannelDisconnected:  {Message: "realtime channel disconnected", Severity: SeverityWarning, Retryable: true},
		CodeRemoteExecutionError: {Message: "execution failed", Severity: SeverityWarning},
	}
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性，未注册时回落到 UNKNOWN。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。
type Error struct {
	code      Code
	message   string
	cause     error
	retryable *bool
	severity  *Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithRetryable 覆盖错误码默认的可重试属性。
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New 创建一个新的错误实例，message 为空时使用错误码的默认描述。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 按错误码匹配。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回不含错误码前缀的描述。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Retryable 判断是否可重试。
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return AttributesOf(e.code).Retryable
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// From 尝试从 error 链中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误链上最外层统一错误的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// HasCode 判断错误链上是否存在指定错误码。
func HasCode(err error, code Code) bool {
	return stdErrors.Is(err, &Error{code: code})
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}

// Describe 返回适合直接展示给用户的描述：统一错误给出 message 与根因，
// 其余错误原样返回。
func Describe(err error) string {
	if err == nil {
		return ""
	}
	e, ok := From(err)
	if !ok {
		return err.Error()
	}
	if e.cause == nil {
		return e.message
	}
	return e.message + ": " + Describe(e.cause)
}
