// Package trim shortens over-budget conversation histories before they are
// forwarded upstream. The default mode drops whole messages pair-aware; the
// smart mode summarizes individual messages by importance.
package trim

import (
	"context"

	"go.uber.org/zap"

	"github.com/none9527/llmcached/internal/domain/chat"
	"github.com/none9527/llmcached/internal/infrastructure/config"
	"github.com/none9527/llmcached/internal/infrastructure/token"
)

// Trimmer 上下文裁切入口。启动时按配置确定模式, 之后只读。
type Trimmer struct {
	config     config.ContextTrimConfig
	summarizer *Summarizer
	logger     *zap.Logger
}

// NewTrimmer 创建裁切器。summarizer 仅在smart+api模式下被使用, 可为nil。
func NewTrimmer(cfg config.ContextTrimConfig, summarizer *Summarizer, logger *zap.Logger) *Trimmer {
	return &Trimmer{config: cfg, summarizer: summarizer, logger: logger}
}

// Trim applies the configured trimming mode. Disabled or under-budget inputs
// are returned unchanged.
func (t *Trimmer) Trim(ctx context.Context, msgs []chat.Message) []chat.Message {
	if !t.config.Enabled || len(msgs) == 0 {
		return msgs
	}
	if t.config.SmartEnabled {
		return t.trimSmart(ctx, msgs)
	}
	return t.trimDefault(msgs)
}

// trimDefault 丢弃式裁切: 保留最后一条与全部system/prompt消息,
// 第一对问答无条件保留, 其余从新到旧按预算挑选, 优先整对。
func (t *Trimmer) trimDefault(msgs []chat.Message) []chat.Message {
	maxTokens := t.config.MaxContextTokens

	costs := make([]int, len(msgs))
	total := 0
	for i, m := range msgs {
		costs[i] = token.Estimate(m.Content)
		total += costs[i]
	}
	if total <= maxTokens {
		return msgs
	}
	if len(msgs) <= 2 {
		return msgs
	}

	keep := make(map[int]bool, len(msgs))
	keep[len(msgs)-1] = true
	for i, m := range msgs {
		if isProtectedRole(m.Role) {
			keep[i] = true
		}
	}

	budget := maxTokens
	for i := range keep {
		budget -= costs[i]
	}

	pairs := findPairs(msgs)
	if len(pairs) > 0 {
		first := pairs[0]
		for _, idx := range []int{first.User, first.Assistant} {
			if !keep[idx] {
				keep[idx] = true
				budget -= costs[idx]
			}
		}
	}

	for i := len(msgs) - 1; i >= 0; i-- {
		if keep[i] {
			continue
		}
		if msgs[i].Role == "assistant" && i > 0 && msgs[i-1].Role == "user" && !keep[i-1] {
			pairCost := costs[i] + costs[i-1]
			if pairCost <= budget {
				keep[i] = true
				keep[i-1] = true
				budget -= pairCost
				i--
				continue
			}
		}
		if costs[i] <= budget {
			keep[i] = true
			budget -= costs[i]
		}
	}

	kept := make([]chat.Message, 0, len(keep))
	for i, m := range msgs {
		if keep[i] {
			kept = append(kept, m)
		}
	}

	// 兜底: 裁过头时退回最近两条
	if len(kept) < 2 {
		kept = append([]chat.Message(nil), msgs[len(msgs)-2:]...)
	}

	t.logger.Info("上下文裁切完成",
		zap.Int("original_messages", len(msgs)),
		zap.Int("kept_messages", len(kept)),
		zap.Int("original_tokens", total),
		zap.Int("max_tokens", maxTokens))
	return kept
}

// pair 一组user→assistant问答
type pair struct {
	User      int
	Assistant int
}

// findPairs 枚举user后紧跟的assistant, 中间允许隔着其他角色
func findPairs(msgs []chat.Message) []pair {
	var pairs []pair
	for i := 0; i < len(msgs); i++ {
		if msgs[i].Role != "user" {
			continue
		}
		for j := i + 1; j < len(msgs); j++ {
			if msgs[j].Role == "assistant" {
				pairs = append(pairs, pair{User: i, Assistant: j})
				i = j
				break
			}
			if msgs[j].Role == "user" {
				break
			}
		}
	}
	return pairs
}

func isProtectedRole(role string) bool {
	return role == "system" || role == "prompt"
}
