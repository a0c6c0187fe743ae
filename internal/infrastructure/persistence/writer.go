package persistence

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/none9527/llmcached/internal/infrastructure/cache"
	"github.com/none9527/llmcached/internal/infrastructure/codec"
)

// Writer 将压缩后的问答写入数据库。答案按内容哈希去重
// (INSERT OR IGNORE), 问题到答案的映射为 last-writer-wins (INSERT OR REPLACE)。
type Writer struct {
	store        *Store
	cacheVersion int
	logger       *zap.Logger
}

// NewWriter 创建数据库写入工具
func NewWriter(store *Store, cacheVersion int, logger *zap.Logger) *Writer {
	return &Writer{store: store, cacheVersion: cacheVersion, logger: logger}
}

// WriteSingle persists one question/answer pair in a single transaction.
// Returns false (after logging) on any sub-step failure.
func (w *Writer) WriteSingle(ctx context.Context, questionKey string, compressed []byte) bool {
	answerKey := codec.AnswerKey(compressed)

	tx, err := w.store.db.BeginTx(ctx, nil)
	if err != nil {
		w.logger.Error("开始数据库事务失败", zap.Error(err))
		return false
	}

	if err := upsertPair(ctx, tx, questionKey, answerKey, compressed, w.cacheVersion); err != nil {
		w.logger.Error("写入缓存记录失败",
			zap.String("question_key", questionKey), zap.Error(err))
		tx.Rollback()
		return false
	}

	if err := tx.Commit(); err != nil {
		w.logger.Error("提交事务失败", zap.Error(err))
		return false
	}

	w.logger.Info("成功缓存响应",
		zap.Int("size", len(compressed)),
		zap.String("answer_key", answerKey))
	return true
}

// BatchWrite persists a batch inside one transaction. A failing row is
// skipped and counted; it does not abort the batch.
func (w *Writer) BatchWrite(ctx context.Context, items []cache.Item) (success, failed int) {
	if len(items) == 0 {
		return 0, 0
	}

	w.logger.Info("开始批量写入缓存数据", zap.Int("count", len(items)))

	tx, err := w.store.db.BeginTx(ctx, nil)
	if err != nil {
		w.logger.Error("开始数据库事务失败", zap.Error(err))
		return 0, len(items)
	}

	for _, item := range items {
		answerKey := codec.AnswerKey(item.Value)
		if err := upsertPair(ctx, tx, item.Key, answerKey, item.Value, w.cacheVersion); err != nil {
			w.logger.Error("批量写入: 插入记录失败",
				zap.String("question_key", item.Key), zap.Error(err))
			failed++
			continue
		}
		success++
	}

	if err := tx.Commit(); err != nil {
		w.logger.Error("批量写入: 提交事务失败", zap.Error(err))
		return 0, len(items)
	}

	w.logger.Info("批量写入完成",
		zap.Int("success", success), zap.Int("total", len(items)))
	return success, len(items) - success
}

// upsertPair 在同一事务内写 answers 与 questions 两行
func upsertPair(ctx context.Context, tx execer, questionKey, answerKey string, compressed []byte, version int) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO answers (key, response, size, hit_count, version)
		 VALUES (?, ?, ?, 0, ?)`,
		answerKey, compressed, len(compressed), version); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO questions (key, answer_key) VALUES (?, ?)`,
		questionKey, answerKey); err != nil {
		return err
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
