package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/none9527/llmcached/internal/application"
)

// ProxyHandler 将models/embeddings请求透传到上游端点
type ProxyHandler struct {
	dispatcher *application.Dispatcher
	logger     *zap.Logger
}

// NewProxyHandler 创建透传处理器
func NewProxyHandler(dispatcher *application.Dispatcher, logger *zap.Logger) *ProxyHandler {
	return &ProxyHandler{dispatcher: dispatcher, logger: logger}
}

// ListModels handles GET /models and GET /v1/models.
func (h *ProxyHandler) ListModels(c *gin.Context) {
	h.passthrough(c, http.MethodGet, "/v1/models", nil)
}

// Embeddings handles POST /embeddings and POST /v1/embeddings.
func (h *ProxyHandler) Embeddings(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, http.StatusBadRequest, "failed to read request body")
		return
	}
	h.passthrough(c, http.MethodPost, "/v1/embeddings", body)
}

// passthrough 转发并原样回写上游响应
func (h *ProxyHandler) passthrough(c *gin.Context, method, path string, body []byte) {
	status, headers, respBody, derr := h.dispatcher.Passthrough(
		c.Request.Context(), method, path, body, c.Request.Header)
	if derr != nil {
		h.logger.Warn("透传失败",
			zap.String("path", path),
			zap.String("reason", derr.Message))
		writeError(c, derr.Status, derr.Message)
		return
	}

	contentType := headers.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(status, contentType, respBody)
}
