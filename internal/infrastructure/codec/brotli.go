// Package codec provides the brotli compression codec and the SHA-256
// content fingerprints used as cache keys.
package codec

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/andybalholm/brotli"
)

// brotli 压缩参数: quality 11, window 22
const (
	compressQuality = 11
	compressLGWin   = 22
	copyBufferSize  = 4096
)

// CodecError wraps compression, decompression and UTF-8 decode failures.
type CodecError struct {
	Op  string
	Err error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("codec %s: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

// Compress encodes the assistant content bytes with brotli.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(data) / 2)

	w := brotli.NewWriterOptions(&buf, brotli.WriterOptions{
		Quality: compressQuality,
		LGWin:   compressLGWin,
	})
	if _, err := w.Write(data); err != nil {
		return nil, &CodecError{Op: "compress", Err: err}
	}
	if err := w.Close(); err != nil {
		return nil, &CodecError{Op: "compress", Err: err}
	}
	return buf.Bytes(), nil
}

// Decompress decodes a complete brotli blob.
func Decompress(data []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(data))
	var out bytes.Buffer
	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(&out, r, buf); err != nil {
		return nil, &CodecError{Op: "decompress", Err: err}
	}
	return out.Bytes(), nil
}

// DecompressString decodes a brotli blob and interprets it as UTF-8 text.
func DecompressString(data []byte) (string, error) {
	raw, err := Decompress(data)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", &CodecError{Op: "decode", Err: fmt.Errorf("invalid UTF-8 in decompressed content")}
	}
	return string(raw), nil
}
