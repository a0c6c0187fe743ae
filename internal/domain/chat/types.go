package chat

import (
	"encoding/json"
	"strings"
)

// ChatRequest OpenAI 兼容的 chat-completion 请求体
type ChatRequest struct {
	Model          string    `json:"model"`
	Messages       []Message `json:"messages"`
	Temperature    float32   `json:"temperature"`
	MaxTokens      int       `json:"max_tokens"`
	Stream         bool      `json:"stream"`
	EnableThinking *bool     `json:"enable_thinking,omitempty"`
}

// UnmarshalJSON applies the wire defaults (temperature 0.1, max_tokens -1)
// for fields the client omitted.
func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	type alias ChatRequest
	tmp := alias{
		Temperature: 0.1,
		MaxTokens:   -1,
	}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*r = ChatRequest(tmp)
	return nil
}

// Clone returns a deep copy safe to mutate before forwarding.
func (r *ChatRequest) Clone() *ChatRequest {
	out := *r
	out.Messages = make([]Message, len(r.Messages))
	copy(out.Messages, r.Messages)
	if r.EnableThinking != nil {
		v := *r.EnableThinking
		out.EnableThinking = &v
	}
	return &out
}

// Message 会话中的单条消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse OpenAI 兼容的 chat-completion 响应体
type ChatResponse struct {
	ID                string          `json:"id"`
	Object            string          `json:"object"`
	Created           int64           `json:"created"`
	Model             string          `json:"model"`
	Choices           []Choice        `json:"choices"`
	Usage             Usage           `json:"usage"`
	Stats             json.RawMessage `json:"stats,omitempty"`
	SystemFingerprint string          `json:"system_fingerprint"`
}

// Choice 单个补全候选
type Choice struct {
	Index        int             `json:"index"`
	Logprobs     json.RawMessage `json:"logprobs"`
	FinishReason string          `json:"finish_reason"`
	Message      Message         `json:"message"`
}

// Usage token 用量统计
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FirstUserMessage returns the first role=="user" message, matching on the
// lowercased role.
func FirstUserMessage(msgs []Message) (Message, bool) {
	for _, m := range msgs {
		if strings.ToLower(m.Role) == "user" {
			return m, true
		}
	}
	return Message{}, false
}
