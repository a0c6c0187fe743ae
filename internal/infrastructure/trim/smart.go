package trim

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/none9527/llmcached/internal/domain/chat"
	"github.com/none9527/llmcached/internal/infrastructure/token"
)

// 并发摘要的上限
const summaryConcurrency = 8

// trimSmart 摘要式裁切: 按重要度为每条非保护消息计算目标长度并发摘要;
// 仍超预算则先渐进压缩, 最后极限压缩。
func (t *Trimmer) trimSmart(ctx context.Context, msgs []chat.Message) []chat.Message {
	n := len(msgs)
	maxTokens := t.config.SmartMaxTokens
	overhead := t.config.PerMessageOverhead

	costs := make([]int, n)
	total := 0
	for i, m := range msgs {
		costs[i] = token.Estimate(m.Content) + overhead
		total += costs[i]
	}
	if total <= maxTokens {
		return msgs
	}

	pairs := findPairs(msgs)
	protected := t.protectedSet(msgs, pairs)
	inPair := make(map[int]bool, len(pairs)*2)
	for _, p := range pairs {
		inPair[p.User] = true
		inPair[p.Assistant] = true
	}

	out := make([]chat.Message, n)
	copy(out, msgs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(summaryConcurrency)
	for i := range msgs {
		if protected[i] {
			continue
		}
		imp := importance(msgs, i, inPair[i])
		target := t.targetLength(msgs[i], imp)
		i := i
		g.Go(func() error {
			out[i].Content = t.summarizer.Summarize(gctx, msgs[i].Content, target)
			return nil
		})
	}
	g.Wait()

	total = 0
	for i := range out {
		costs[i] = token.Estimate(out[i].Content) + overhead
		total += costs[i]
	}

	if total > maxTokens {
		total = t.progressivePass(out, costs, protected, total, maxTokens, overhead)
	}
	if total > maxTokens {
		total = t.extremePass(out, costs, protected, total, maxTokens, overhead)
	}

	t.logger.Info("智能裁切完成",
		zap.Int("messages", n),
		zap.Int("final_tokens", total),
		zap.Int("max_tokens", maxTokens))
	return out
}

// protectedSet 不参与摘要的消息: system/prompt、最后min_keep_pairs对问答、末条
func (t *Trimmer) protectedSet(msgs []chat.Message, pairs []pair) map[int]bool {
	protected := make(map[int]bool, len(msgs))
	for i, m := range msgs {
		if isProtectedRole(m.Role) {
			protected[i] = true
		}
	}

	keepPairs := t.config.MinKeepPairs
	if keepPairs < 1 {
		keepPairs = 1
	}
	for i := len(pairs) - 1; i >= 0 && len(pairs)-i <= keepPairs; i-- {
		protected[pairs[i].User] = true
		protected[pairs[i].Assistant] = true
	}

	protected[len(msgs)-1] = true
	return protected
}

// importance 重要度打分, 范围[0,1]
func importance(msgs []chat.Message, i int, paired bool) float64 {
	n := len(msgs)
	score := 0.4 * float64(n-i) / float64(n)

	switch msgs[i].Role {
	case "system", "prompt":
		score += 0.3 * 1.0
	case "user":
		score += 0.3 * 0.8
	case "assistant":
		score += 0.3 * 0.6
	default:
		score += 0.3 * 0.4
	}

	length := len([]rune(msgs[i].Content))
	switch {
	case length < 50:
		score += 0.2 * 0.3
	case length < 500:
		score += 0.2 * 1.0
	case length < 2000:
		score += 0.2 * 0.8
	default:
		score += 0.2 * 0.6
	}

	if paired {
		score += 0.1
	}
	return score
}

// targetLength 摘要目标长度(字符)
func (t *Trimmer) targetLength(msg chat.Message, imp float64) int {
	contentLen := len([]rune(msg.Content))

	baseRatio := 0.2 + 0.6*imp
	aggr := 0.1 * float64(t.config.SummaryAggressiveness)
	if aggr > 0.7 {
		aggr = 0.7
	}
	aggrFactor := 1 - aggr

	var roleMult float64
	switch msg.Role {
	case "system", "prompt":
		roleMult = 1.5
	case "user":
		roleMult = 1.2
	case "assistant":
		roleMult = 1.0
	default:
		roleMult = 0.8
	}

	target := int(baseRatio * aggrFactor * roleMult * float64(contentLen))

	minLen := 15
	if contentLen >= 100 {
		minLen = 30
	}
	maxLen := 300
	if imp > 0.7 {
		maxLen = 500
	}

	if target < minLen {
		target = minLen
	}
	if target > maxLen {
		target = maxLen
	}
	return target
}

// progressivePass 按时间顺序逐条压缩, 越旧压得越狠, 达标即停
func (t *Trimmer) progressivePass(out []chat.Message, costs []int, protected map[int]bool, total, maxTokens, overhead int) int {
	n := len(out)
	for i := 0; i < n && total > maxTokens; i++ {
		if protected[i] {
			continue
		}
		ratio := 0.1 + 0.4*float64(n-i)/float64(n)
		length := len([]rune(out[i].Content))
		target := int(float64(length) * ratio)
		if target < 8 {
			target = 8
		}
		if target >= length {
			continue
		}
		out[i].Content = truncateRunes(out[i].Content, target)
		newCost := token.Estimate(out[i].Content) + overhead
		total += newCost - costs[i]
		costs[i] = newCost
	}
	return total
}

// extremePass 极限压缩: assistant留10字符, 其他留5字符
func (t *Trimmer) extremePass(out []chat.Message, costs []int, protected map[int]bool, total, maxTokens, overhead int) int {
	n := len(out)
	for i := 0; i < n && total > maxTokens; i++ {
		if protected[i] || i == n-1 || out[i].Role == "system" {
			continue
		}
		limit := 5
		if out[i].Role == "assistant" {
			limit = 10
		}
		if len([]rune(out[i].Content)) <= limit {
			continue
		}
		out[i].Content = truncateRunes(out[i].Content, limit)
		newCost := token.Estimate(out[i].Content) + overhead
		total += newCost - costs[i]
		costs[i] = newCost
	}
	return total
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
