// Package upstream implements the shared HTTP client used to reach the
// configured chat-completion endpoints, the tolerant response coercer, and
// the optional curl subprocess fallback.
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/none9527/llmcached/internal/infrastructure/config"
)

// 非2xx响应体最多保留的字节数
const statusSnippetLimit = 2048

// ErrorKind 上游错误的粗分类
type ErrorKind int

const (
	KindConnect ErrorKind = iota
	KindTimeout
	KindStatus
	KindParse
	KindOther
)

// Error 携带分类与上游状态码的传输层错误
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Client 所有上游调用共享的HTTP客户端。连接池、HTTP/2与TLS行为在构造时
// 一次性确定, 之后只读。
type Client struct {
	http     *http.Client
	config   config.HTTPClientConfig
	proxy    config.ProxyConfig
	useCurl  bool
	logger   *zap.Logger
}

// NewClient 按配置构建共享客户端
func NewClient(cfg config.HTTPClientConfig, proxyCfg config.ProxyConfig, useCurl bool, logger *zap.Logger) *Client {
	dialer := &net.Dialer{
		Timeout:   time.Duration(cfg.ConnectTimeoutSeconds) * time.Second,
		KeepAlive: time.Duration(cfg.TCPKeepaliveSeconds) * time.Second,
	}

	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		Proxy:               nil, // 不使用系统代理
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
		MaxIdleConnsPerHost: cfg.PoolMaxIdlePerHost,
		IdleConnTimeout:     time.Duration(cfg.PoolIdleTimeoutSeconds) * time.Second,
		ForceAttemptHTTP2:   true,
	}

	if h2, err := http2.ConfigureTransports(transport); err == nil {
		h2.ReadIdleTimeout = time.Duration(cfg.HTTP2KeepAliveIntervalSeconds) * time.Second
		h2.PingTimeout = time.Duration(cfg.HTTP2KeepAliveTimeoutSeconds) * time.Second
		if cfg.HTTP2InitialStreamWindowSize > 0 {
			h2.MaxReadFrameSize = uint32(cfg.HTTP2InitialStreamWindowSize)
		}
	} else {
		logger.Warn("HTTP/2配置失败，回退HTTP/1.1", zap.Error(err))
	}

	maxRedirects := cfg.MaxRedirects
	httpClient := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	return &Client{
		http:    httpClient,
		config:  cfg,
		proxy:   proxyCfg,
		useCurl: useCurl,
		logger:  logger,
	}
}

func (c *Client) sendTimeout(proxyPath bool) time.Duration {
	if proxyPath {
		return time.Duration(c.proxy.RequestTimeoutSeconds) * time.Second
	}
	return time.Duration(c.config.TimeoutSeconds) * time.Second
}

func (c *Client) readTimeout(proxyPath bool) time.Duration {
	if proxyPath {
		return time.Duration(c.proxy.ResponseReadTimeoutSeconds) * time.Second
	}
	return time.Duration(c.config.TimeoutSeconds) * time.Second
}

// Post sends a JSON payload to targetURL. Send and body-read run under
// independent timeouts; proxyPath selects the longer proxy-mode timeouts.
// A non-2xx status is returned as a KindStatus error carrying a body snippet.
func (c *Client) Post(ctx context.Context, targetURL string, payload []byte, headers map[string]string, proxyPath bool) ([]byte, *Error) {
	if c.useCurl {
		return c.postWithCurl(ctx, targetURL, payload, headers, proxyPath)
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.sendTimeout(proxyPath))
	defer cancel()

	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, targetURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindOther, Message: "build request", Err: err}
	}
	applyHeaders(req, headers)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifySendError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, statusSnippetLimit))
		return nil, &Error{
			Kind:    KindStatus,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("upstream returned %d: %s", resp.StatusCode, snippet),
		}
	}

	body, readErr := readBodyWithTimeout(resp.Body, c.readTimeout(proxyPath))
	if readErr != nil {
		return nil, readErr
	}
	return body, nil
}

// Passthrough forwards an arbitrary request and returns the upstream status,
// headers and body verbatim. Used by the models/embeddings handlers.
func (c *Client) Passthrough(ctx context.Context, method, targetURL string, payload []byte, headers map[string]string) (int, http.Header, []byte, *Error) {
	sendCtx, cancel := context.WithTimeout(ctx, c.sendTimeout(false))
	defer cancel()

	var reader io.Reader
	if len(payload) > 0 {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(sendCtx, method, targetURL, reader)
	if err != nil {
		return 0, nil, nil, &Error{Kind: KindOther, Message: "build request", Err: err}
	}
	applyHeaders(req, headers)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, nil, classifySendError(err)
	}
	defer resp.Body.Close()

	body, readErr := readBodyWithTimeout(resp.Body, c.readTimeout(false))
	if readErr != nil {
		return 0, nil, nil, readErr
	}
	return resp.StatusCode, resp.Header, body, nil
}

func applyHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
}

// readBodyWithTimeout 读取响应体, 超时则关闭连接中断读取
func readBodyWithTimeout(body io.ReadCloser, timeout time.Duration) ([]byte, *Error) {
	var timedOut atomic.Bool
	timer := time.AfterFunc(timeout, func() {
		timedOut.Store(true)
		body.Close()
	})
	defer timer.Stop()

	data, err := io.ReadAll(body)
	if err != nil {
		if timedOut.Load() {
			return nil, &Error{Kind: KindTimeout, Message: "response body read timed out", Err: err}
		}
		return nil, &Error{Kind: KindOther, Message: "read response body", Err: err}
	}
	return data, nil
}

// classifySendError 将传输错误映射为粗分类
func classifySendError(err error) *Error {
	var opErr *net.OpError
	var netErr net.Error

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Message: "upstream request timed out", Err: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &Error{Kind: KindTimeout, Message: "upstream request timed out", Err: err}
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return &Error{Kind: KindConnect, Message: "failed to connect to upstream", Err: err}
	default:
		return &Error{Kind: KindOther, Message: "upstream request failed", Err: err}
	}
}
