// Package handlers contains the gin handlers for the public API surface.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/none9527/llmcached/internal/application"
	"github.com/none9527/llmcached/internal/domain/chat"
)

// ChatHandler 处理聊天补全请求
type ChatHandler struct {
	dispatcher *application.Dispatcher
	logger     *zap.Logger
}

// NewChatHandler 创建聊天处理器
func NewChatHandler(dispatcher *application.Dispatcher, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{dispatcher: dispatcher, logger: logger}
}

// ChatCompletions handles POST /chat/completions and POST /v1/chat/completions.
func (h *ChatHandler) ChatCompletions(c *gin.Context) {
	var req chat.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("无效的请求体", zap.Error(err))
		writeError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	body, derr := h.dispatcher.Dispatch(c.Request.Context(), &req, c.Request.Header)
	if derr != nil {
		h.logger.Warn("请求处理失败",
			zap.Int("status", derr.Status),
			zap.String("reason", derr.Message))
		writeError(c, derr.Status, derr.Message)
		return
	}

	c.Data(http.StatusOK, "application/json", body)
}

// writeError 以OpenAI兼容的错误格式返回
func writeError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"message": message,
			"type":    "api_error",
		},
	})
}
