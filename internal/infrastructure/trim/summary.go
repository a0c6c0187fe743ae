package trim

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/none9527/llmcached/internal/domain/chat"
	"github.com/none9527/llmcached/internal/infrastructure/config"
	"github.com/none9527/llmcached/internal/infrastructure/upstream"
)

const summaryInstruction = "Condense the user message to about %d characters. " +
	"Preserve the meaning, answer in the same language as the input, " +
	"and return only the condensed text."

// sentenceEnders 句子边界字符
var sentenceEnders = []rune{'.', '!', '?', '。', '！', '？'}

// Summarizer 单条消息摘要器。mode为"api"且配置可用时走摘要接口,
// 失败或超时逐条回退本地截断。
type Summarizer struct {
	mode      string
	config    config.SummaryAPIConfig
	defaults  config.APIDefaultsConfig
	endpoints []chat.Endpoint
	client    *upstream.Client
	logger    *zap.Logger
}

// NewSummarizer 创建摘要器
func NewSummarizer(mode string, cfg config.SummaryAPIConfig, defaults config.APIDefaultsConfig, client *upstream.Client, logger *zap.Logger) *Summarizer {
	endpoints := make([]chat.Endpoint, 0, len(cfg.Endpoints))
	for _, e := range cfg.Endpoints {
		endpoints = append(endpoints, chat.Endpoint{
			URL: e.URL, Weight: e.Weight, Model: e.Model, Version: e.Version,
		})
	}
	return &Summarizer{
		mode:      mode,
		config:    cfg,
		defaults:  defaults,
		endpoints: endpoints,
		client:    client,
		logger:    logger,
	}
}

// Summarize condenses content to roughly targetLen characters.
func (s *Summarizer) Summarize(ctx context.Context, content string, targetLen int) string {
	if s.mode == "api" && s.config.Enabled && s.client != nil && len(s.endpoints) > 0 {
		if out, ok := s.summarizeAPI(ctx, content, targetLen); ok {
			return out
		}
	}
	return SummarizeLocal(content, targetLen)
}

// summarizeAPI 构造合成请求调用摘要端点
func (s *Summarizer) summarizeAPI(ctx context.Context, content string, targetLen int) (string, bool) {
	endpoint, ok := chat.SelectEndpoint(s.endpoints)
	if !ok {
		return "", false
	}

	req := chat.ChatRequest{
		Model: endpoint.Model,
		Messages: []chat.Message{
			{Role: "system", Content: fmt.Sprintf(summaryInstruction, targetLen)},
			{Role: "user", Content: content},
		},
		Temperature: s.config.Temperature,
		MaxTokens:   s.config.MaxTokens,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", false
	}

	headers := map[string]string{
		"Content-Type":      "application/json",
		"X-Summary-Request": "true",
	}
	if s.config.APIKeyEnv != "" {
		if key := os.Getenv(s.config.APIKeyEnv); key != "" {
			headers["Authorization"] = "Bearer " + key
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.config.Timeout())
	defer cancel()

	url := strings.TrimSuffix(endpoint.URL, "/") + "/v1/chat/completions"
	body, sendErr := s.client.Post(callCtx, url, payload, headers, false)
	if sendErr != nil {
		s.logger.Warn("摘要API调用失败，回退本地摘要", zap.Error(sendErr))
		return "", false
	}

	resp, parseErr := upstream.ParseChatResponse(body, s.defaults)
	if parseErr != nil || len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		s.logger.Warn("摘要API响应不可用，回退本地摘要")
		return "", false
	}
	return resp.Choices[0].Message.Content, true
}

// SummarizeLocal truncates content to maxLen characters, preferring a
// sentence boundary, then a word boundary, then a raw code-point cut. An
// ellipsis marks cuts that do not end on sentence punctuation.
func SummarizeLocal(content string, maxLen int) string {
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	window := runes[:maxLen]

	if cut := lastSentenceEnd(window); cut > 0 {
		return string(window[:cut+1])
	}
	if cut := lastSpace(window); cut > 0 {
		return strings.TrimRight(string(window[:cut]), " ") + "…"
	}
	return string(window) + "…"
}

func lastSentenceEnd(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		for _, e := range sentenceEnders {
			if runes[i] == e {
				return i
			}
		}
	}
	return -1
}

func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return -1
}
