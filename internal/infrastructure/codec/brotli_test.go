package codec

import (
	"errors"
	"strings"
	"testing"
)

// === Compress / Decompress ===

func TestRoundTrip(t *testing.T) {
	cases := []string{
		"hi",
		"The quick brown fox jumps over the lazy dog.",
		"中文回答也要能完整还原, 包括标点。",
		strings.Repeat("repeated content compresses well ", 200),
	}
	for _, content := range cases {
		compressed, err := Compress([]byte(content))
		if err != nil {
			t.Fatalf("Compress(%q...): %v", content[:10], err)
		}
		got, err := DecompressString(compressed)
		if err != nil {
			t.Fatalf("DecompressString: %v", err)
		}
		if got != content {
			t.Errorf("round trip mismatch: got %q, want %q", got, content)
		}
	}
}

func TestCompress_Shrinks(t *testing.T) {
	content := strings.Repeat("llmcached ", 500)
	compressed, err := Compress([]byte(content))
	if err != nil {
		t.Fatal(err)
	}
	if len(compressed) >= len(content) {
		t.Errorf("expected compression: in=%d out=%d", len(content), len(compressed))
	}
}

func TestDecompress_Truncated(t *testing.T) {
	compressed, err := Compress([]byte(strings.Repeat("some answer content ", 100)))
	if err != nil {
		t.Fatal(err)
	}

	_, err = Decompress(compressed[:len(compressed)/2])
	if err == nil {
		t.Fatal("expected error for truncated blob")
	}
	var cerr *CodecError
	if !errors.As(err, &cerr) {
		t.Errorf("expected *CodecError, got %T", err)
	}
}

func TestDecompressString_InvalidUTF8(t *testing.T) {
	compressed, err := Compress([]byte{0xff, 0xfe, 0xfd})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecompressString(compressed); err == nil {
		t.Fatal("expected error for non-UTF-8 content")
	}
}
