// Package token implements the heuristic token estimator used for
// context-budget checks. The estimate is deterministic and intentionally
// model-agnostic.
package token

import (
	"sync"
	"unicode/utf8"

	"github.com/none9527/llmcached/internal/domain/chat"
)

// 每条消息的固定开销
const messageOverhead = 3

const memoCapacity = 10000

var (
	memoMu sync.Mutex
	memo   = make(map[string]int, 1024)
)

// Estimate returns the heuristic token count for a single message content.
//
// Rules: contiguous ASCII alphanumeric runs cost 1 token up to 3 chars,
// ceil(len*0.75) beyond; every other ASCII char costs 1; CJK code points
// cost 2; remaining multi-byte code points cost 2 or 3 by UTF-8 width.
// A fixed per-message overhead of 3 is added at the end.
func Estimate(s string) int {
	if s == "" {
		return 0
	}

	memoMu.Lock()
	if n, ok := memo[s]; ok {
		memoMu.Unlock()
		return n
	}
	memoMu.Unlock()

	count := 0
	wordLen := 0
	flushWord := func() {
		if wordLen == 0 {
			return
		}
		if wordLen <= 3 {
			count++
		} else {
			// ceil(wordLen * 0.75)
			count += (wordLen*3 + 3) / 4
		}
		wordLen = 0
	}

	for _, r := range s {
		switch {
		case r < 128 && isASCIIAlnum(r):
			wordLen++
		case r < 128:
			flushWord()
			count++
		case isCJK(r):
			flushWord()
			count += 2
		default:
			flushWord()
			if utf8.RuneLen(r) > 2 {
				count += 3
			} else {
				count += 2
			}
		}
	}
	flushWord()

	if count == 0 {
		count = 1
	}
	count += messageOverhead

	memoMu.Lock()
	if len(memo) < memoCapacity {
		memo[s] = count
	}
	memoMu.Unlock()

	return count
}

// Total sums the estimates over a message list.
func Total(msgs []chat.Message) int {
	total := 0
	for _, m := range msgs {
		total += Estimate(m.Content)
	}
	return total
}

// ClearCache drops the memoization table.
func ClearCache() {
	memoMu.Lock()
	memo = make(map[string]int, 1024)
	memoMu.Unlock()
}

func isASCIIAlnum(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// isCJK 覆盖中日韩常用区段
func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF: // CJK Unified Ideographs
		return true
	case r >= 0x3400 && r <= 0x4DBF: // Extension A
		return true
	case r >= 0x20000 && r <= 0x2A6DF: // Extension B
		return true
	case r >= 0x3040 && r <= 0x309F: // Hiragana
		return true
	case r >= 0x30A0 && r <= 0x30FF: // Katakana
		return true
	case r >= 0xAC00 && r <= 0xD7AF: // Hangul
		return true
	}
	return false
}
