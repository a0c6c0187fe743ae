package application

import (
	"fmt"
	"net/http"

	"github.com/none9527/llmcached/internal/infrastructure/upstream"
)

// ErrorKind 调度层错误分类
type ErrorKind int

const (
	KindClientError ErrorKind = iota
	KindLookupError
	KindAdmissionTimeout
	KindNoEndpoint
	KindUpstreamConnect
	KindUpstreamTimeout
	KindUpstreamOther
	KindUpstreamStatus
	KindUpstreamParse
	KindCodecError
)

// DispatchError 携带HTTP状态码的调度错误。Message 面向客户端,
// 不包含堆栈等内部细节。
type DispatchError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *DispatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DispatchError) Unwrap() error { return e.Err }

func clientError(msg string) *DispatchError {
	return &DispatchError{Kind: KindClientError, Status: http.StatusBadRequest, Message: msg}
}

func lookupError(err error) *DispatchError {
	return &DispatchError{Kind: KindLookupError, Status: http.StatusInternalServerError,
		Message: "cache lookup failed", Err: err}
}

func admissionTimeoutError() *DispatchError {
	return &DispatchError{Kind: KindAdmissionTimeout, Status: http.StatusServiceUnavailable,
		Message: "server is busy, please retry later"}
}

func noEndpointError() *DispatchError {
	return &DispatchError{Kind: KindNoEndpoint, Status: http.StatusServiceUnavailable,
		Message: "no upstream endpoint available"}
}

func parseError(err error) *DispatchError {
	return &DispatchError{Kind: KindUpstreamParse, Status: http.StatusInternalServerError,
		Message: "upstream response could not be parsed", Err: err}
}

func codecError(err error) *DispatchError {
	return &DispatchError{Kind: KindCodecError, Status: http.StatusInternalServerError,
		Message: "cached answer could not be decoded", Err: err}
}

// fromUpstream 将传输层错误映射为HTTP状态:
// 连接失败502, 超时504, 非2xx原样转发, 其他502。
func fromUpstream(err *upstream.Error) *DispatchError {
	switch err.Kind {
	case upstream.KindConnect:
		return &DispatchError{Kind: KindUpstreamConnect, Status: http.StatusBadGateway,
			Message: err.Message, Err: err.Err}
	case upstream.KindTimeout:
		return &DispatchError{Kind: KindUpstreamTimeout, Status: http.StatusGatewayTimeout,
			Message: err.Message, Err: err.Err}
	case upstream.KindStatus:
		return &DispatchError{Kind: KindUpstreamStatus, Status: err.Status,
			Message: err.Message}
	case upstream.KindParse:
		return parseError(err)
	default:
		return &DispatchError{Kind: KindUpstreamOther, Status: http.StatusBadGateway,
			Message: err.Message, Err: err.Err}
	}
}
