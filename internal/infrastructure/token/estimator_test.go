package token

import (
	"testing"

	"github.com/none9527/llmcached/internal/domain/chat"
)

// === Estimate ===

func TestEstimate_Empty(t *testing.T) {
	if got := Estimate(""); got != 0 {
		t.Errorf("empty content: got %d, want 0", got)
	}
}

func TestEstimate_ShortWord(t *testing.T) {
	// 单个短词1 token + 固定开销3
	if got := Estimate("hi"); got != 4 {
		t.Errorf("short word: got %d, want 4", got)
	}
}

func TestEstimate_LongWord(t *testing.T) {
	// "hello": ceil(5*0.75)=4, +3开销
	if got := Estimate("hello"); got != 7 {
		t.Errorf("long word: got %d, want 7", got)
	}
}

func TestEstimate_Punctuation(t *testing.T) {
	// "a"=1, "."=1, "b"=1, +3
	if got := Estimate("a.b"); got != 6 {
		t.Errorf("punctuation: got %d, want 6", got)
	}
}

func TestEstimate_CJK(t *testing.T) {
	// 每个汉字2 token
	if got := Estimate("你好"); got != 7 {
		t.Errorf("cjk: got %d, want 7", got)
	}
}

func TestEstimate_MixedSentence(t *testing.T) {
	short := Estimate("hi")
	long := Estimate("hello world this is a longer sentence with many words")
	if long <= short {
		t.Errorf("longer content should cost more: short=%d long=%d", short, long)
	}
}

// === Memoization ===

func TestEstimate_MemoStable(t *testing.T) {
	ClearCache()
	first := Estimate("memoized content for the stability check")
	second := Estimate("memoized content for the stability check")
	if first != second {
		t.Errorf("memoized result differs: %d vs %d", first, second)
	}

	ClearCache()
	third := Estimate("memoized content for the stability check")
	if third != first {
		t.Errorf("recomputed result differs after ClearCache: %d vs %d", third, first)
	}
}

// === Total ===

func TestTotal(t *testing.T) {
	msgs := []chat.Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}
	want := Estimate("hi") + Estimate("hello")
	if got := Total(msgs); got != want {
		t.Errorf("Total: got %d, want %d", got, want)
	}
}
