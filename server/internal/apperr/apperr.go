package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 是错误分类，调用方（UI）据此决定展示重试还是硬失败。
type Kind string

const (
	KindInvalidInput   Kind = "InvalidInput"
	KindInvalidSession Kind = "InvalidSession"
	KindModel          Kind = "ModelError"
	KindProcess        Kind = "ProcessError"
)

// 稳定错误码。
const (
	CodeInvalidInput   = "INVALID_INPUT"
	CodeInvalidSession = "INVALID_SESSION"
	CodeModel          = "MODEL_ERROR"
	CodeProcess        = "PROCESS_ERROR"
	CodeInternal       = "INTERNAL_ERROR"
)

// Mapping 定义各分类默认的 HTTP 状态，可在启动时覆盖。
var Mapping = map[Kind]int{
	KindInvalidInput:   http.StatusBadRequest,
	KindInvalidSession: http.StatusBadRequest,
	KindModel:          http.StatusBadGateway,
	KindProcess:        http.StatusInternalServerError,
}

// Error 是带稳定错误码的结构化错误。
type Error struct {
	Kind    Kind
	Code    string
	Status  int
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetails 附加调试细节并返回自身。
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

func newError(kind Kind, code, msg string, err error) *Error {
	status, ok := Mapping[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &Error{Kind: kind, Code: code, Status: status, Message: msg, Err: err}
}

// InvalidInput 表示请求体格式错误，立即拒绝且无副作用。
func InvalidInput(msg string) *Error {
	return newError(KindInvalidInput, CodeInvalidInput, msg, nil)
}

// InvalidSession 表示缺少会话 ID。
func InvalidSession(msg string) *Error {
	return newError(KindInvalidSession, CodeInvalidSession, msg, nil)
}

// SessionNotFound 表示会话 ID 未知：与缺少 ID 同为 INVALID_SESSION，状态码为 404。
func SessionNotFound(id string, err error) *Error {
	e := newError(KindInvalidSession, CodeInvalidSession, "session not found", err)
	e.Status = http.StatusNotFound
	e.Details = map[string]any{"sessionId": id}
	return e
}

// Model 表示补全服务在降级后仍不可用或输出无法解析。
func Model(msg string, err error) *Error {
	return newError(KindModel, CodeModel, msg, err)
}

// Process 表示评分/清洗阶段的意外内部错误。
func Process(msg string, err error) *Error {
	return newError(KindProcess, CodeProcess, msg, err)
}

// From 把任意错误转成 *Error；未知错误归为 500。
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeInternal, Status: http.StatusInternalServerError, Message: "internal error", Err: err}
}

// IsKind 判断错误链中是否有指定分类的 *Error。
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
