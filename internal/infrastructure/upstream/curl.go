package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"

	"go.uber.org/zap"
)

// curl退出码, 见 man curl
const (
	curlExitCouldNotConnect = 7
	curlExitTimeout         = 28
)

// postWithCurl 通过curl子进程发送请求, 语义对齐原生路径:
// 同样的超时上限、跳过证书校验、错误粗分类。请求体经stdin传入。
func (c *Client) postWithCurl(ctx context.Context, targetURL string, payload []byte, headers map[string]string, proxyPath bool) ([]byte, *Error) {
	timeout := c.sendTimeout(proxyPath) + c.readTimeout(proxyPath)

	args := []string{
		"-sS",
		"-k",
		"-X", "POST",
		"--max-time", strconv.Itoa(int(timeout.Seconds())),
		"--data-binary", "@-",
	}
	hasContentType := false
	for k, v := range headers {
		if k == "Content-Type" {
			hasContentType = true
		}
		args = append(args, "-H", fmt.Sprintf("%s: %s", k, v))
	}
	if !hasContentType {
		args = append(args, "-H", "Content-Type: application/json")
	}
	args = append(args, targetURL)

	cmd := exec.CommandContext(ctx, "curl", args...)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.Debug("使用curl发送请求", zap.String("url", targetURL))

	if err := cmd.Run(); err != nil {
		return nil, classifyCurlError(err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func classifyCurlError(err error, stderr string) *Error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case curlExitCouldNotConnect:
			return &Error{Kind: KindConnect, Message: "curl: failed to connect: " + stderr, Err: err}
		case curlExitTimeout:
			return &Error{Kind: KindTimeout, Message: "curl: request timed out: " + stderr, Err: err}
		}
	}
	return &Error{Kind: KindOther, Message: "curl: request failed: " + stderr, Err: err}
}
