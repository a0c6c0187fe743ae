package codec

import (
	"crypto/sha256"
	"encoding/hex"
)

// QuestionKey 用户问题内容的 SHA-256 十六进制指纹
func QuestionKey(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// AnswerKey 压缩后回答内容的 SHA-256 十六进制指纹
func AnswerKey(compressed []byte) string {
	sum := sha256.Sum256(compressed)
	return hex.EncodeToString(sum[:])
}
