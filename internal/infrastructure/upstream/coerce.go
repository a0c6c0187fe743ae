package upstream

import (
	"encoding/json"

	"github.com/none9527/llmcached/internal/domain/chat"
	"github.com/none9527/llmcached/internal/infrastructure/config"
)

// ParseChatResponse 解析上游响应。严格解析优先; 失败或缺少choices时逐字段
// 宽容提取, 缺省值取自api_defaults。两条路径都恢复不出choices则返回解析错误。
func ParseChatResponse(body []byte, defaults config.APIDefaultsConfig) (*chat.ChatResponse, *Error) {
	var strict chat.ChatResponse
	if err := json.Unmarshal(body, &strict); err == nil && strict.ID != "" && len(strict.Choices) > 0 {
		return &strict, nil
	}

	return coerceChatResponse(body, defaults)
}

func coerceChatResponse(body []byte, defaults config.APIDefaultsConfig) (*chat.ChatResponse, *Error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &Error{Kind: KindParse, Message: "response is not valid JSON", Err: err}
	}

	rawChoices, _ := raw["choices"].([]any)
	if len(rawChoices) == 0 {
		return nil, &Error{Kind: KindParse, Message: "response contains no choices"}
	}

	resp := &chat.ChatResponse{
		ID:                stringField(raw, "id", "unknown"),
		Object:            stringField(raw, "object", defaults.DefaultObject),
		Created:           int64Field(raw, "created", 0),
		Model:             stringField(raw, "model", "unknown"),
		SystemFingerprint: stringField(raw, "system_fingerprint", defaults.DefaultSystemFingerprint),
	}

	if usage, ok := raw["usage"].(map[string]any); ok {
		resp.Usage = chat.Usage{
			PromptTokens:     intField(usage, "prompt_tokens", 0),
			CompletionTokens: intField(usage, "completion_tokens", 0),
			TotalTokens:      intField(usage, "total_tokens", 0),
		}
	}

	for i, rc := range rawChoices {
		choice := chat.Choice{
			Index:        i,
			FinishReason: defaults.DefaultFinishReason,
			Message: chat.Message{
				Role:    defaults.DefaultRole,
				Content: "",
			},
		}
		if m, ok := rc.(map[string]any); ok {
			choice.Index = intField(m, "index", i)
			choice.FinishReason = stringField(m, "finish_reason", defaults.DefaultFinishReason)
			if msg, ok := m["message"].(map[string]any); ok {
				choice.Message.Role = stringField(msg, "role", defaults.DefaultRole)
				choice.Message.Content = stringField(msg, "content", "")
			}
		}
		resp.Choices = append(resp.Choices, choice)
	}

	return resp, nil
}

func stringField(m map[string]any, key, def string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return def
}

func int64Field(m map[string]any, key string, def int64) int64 {
	if f, ok := m[key].(float64); ok {
		return int64(f)
	}
	return def
}

func intField(m map[string]any, key string, def int) int {
	if f, ok := m[key].(float64); ok {
		return int(f)
	}
	return def
}
