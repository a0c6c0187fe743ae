package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/none9527/llmcached/internal/infrastructure/config"
)

// Maintainer 后台缓存维护: 定期清理过期低命中数据并输出统计
type Maintainer struct {
	store  *Store
	config config.MaintenanceConfig
	logger *zap.Logger
}

// NewMaintainer 创建维护任务
func NewMaintainer(store *Store, cfg config.MaintenanceConfig, logger *zap.Logger) *Maintainer {
	return &Maintainer{store: store, config: cfg, logger: logger}
}

// Run blocks until ctx is cancelled. Performs the optional startup cleanup,
// drops the migration backup table after one hour, then prunes on the
// configured interval.
func (m *Maintainer) Run(ctx context.Context) {
	if !m.config.Enabled {
		m.logger.Info("缓存维护功能已禁用")
		return
	}

	if m.config.CleanupOnStartup {
		m.logger.Info("执行启动时缓存清理")
		if err := m.CleanupOldEntries(ctx); err != nil {
			m.logger.Error("启动时缓存清理失败", zap.Error(err))
		}
	}

	backupTimer := time.NewTimer(time.Hour)
	defer backupTimer.Stop()

	interval := time.Duration(m.config.IntervalHours) * time.Hour
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("缓存维护任务已启动", zap.Int("interval_hours", m.config.IntervalHours))

	for {
		select {
		case <-ctx.Done():
			return
		case <-backupTimer.C:
			if err := m.CleanupBackupTable(ctx); err != nil {
				m.logger.Error("清理备份表失败", zap.Error(err))
			}
		case <-ticker.C:
			m.logger.Info("执行定期缓存维护")
			if err := m.CleanupOldEntries(ctx); err != nil {
				m.logger.Error("缓存维护失败", zap.Error(err))
			}
		}
	}
}

// CleanupOldEntries prunes, in one transaction, (a) answers referenced by no
// question with hit_count below the threshold and created before the cutoff,
// then (b) questions created before the cutoff. Answers orphaned by (b) are
// picked up by the next pass.
func (m *Maintainer) CleanupOldEntries(ctx context.Context) error {
	cutoff := time.Now().Unix() - int64(m.config.RetentionDays)*86400

	tx, err := m.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin maintenance tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM answers
		 WHERE key IN (
			SELECT a.key FROM answers a
			LEFT JOIN questions q ON a.key = q.answer_key
			WHERE q.key IS NULL AND a.hit_count < ? AND a.created_at < ?
		 )`, m.config.MinHitCount, cutoff)
	if err != nil {
		return fmt.Errorf("prune answers: %w", err)
	}
	prunedAnswers, _ := res.RowsAffected()

	res, err = tx.ExecContext(ctx,
		`DELETE FROM questions WHERE created_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("prune questions: %w", err)
	}
	prunedQuestions, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit maintenance tx: %w", err)
	}

	m.logger.Info("缓存清理完成",
		zap.Int64("pruned_answers", prunedAnswers),
		zap.Int64("pruned_questions", prunedQuestions))

	stats, err := m.Stats(ctx)
	if err != nil {
		return fmt.Errorf("collect cache stats: %w", err)
	}
	m.LogStats(stats)
	return nil
}

// CleanupBackupTable drops the cache_backup table left by the migration.
func (m *Maintainer) CleanupBackupTable(ctx context.Context) error {
	var one int
	err := m.store.db.QueryRowContext(ctx,
		`SELECT 1 FROM sqlite_master WHERE type='table' AND name='cache_backup'`).Scan(&one)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := m.store.db.ExecContext(ctx, `DROP TABLE cache_backup`); err != nil {
		return err
	}
	m.logger.Info("备份表cache_backup已删除")
	return nil
}

// TopHit 命中数最高的答案行
type TopHit struct {
	Key      string
	HitCount int64
	Size     int64
}

// CacheStats 缓存统计信息
type CacheStats struct {
	Questions  int64
	Answers    int64
	ReuseRatio float64
	TotalBytes int64
	TopHits    []TopHit
}

// Stats 汇总问题数、答案数、复用率、总字节数与 top-5 命中
func (m *Maintainer) Stats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{}

	if err := m.store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM questions`).Scan(&stats.Questions); err != nil {
		return nil, err
	}
	if err := m.store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM answers`).Scan(&stats.Answers); err != nil {
		return nil, err
	}
	if stats.Answers > 0 {
		stats.ReuseRatio = float64(stats.Questions) / float64(stats.Answers)
	}

	var total sql.NullInt64
	if err := m.store.db.QueryRowContext(ctx,
		`SELECT SUM(size) FROM answers`).Scan(&total); err != nil {
		return nil, err
	}
	stats.TotalBytes = total.Int64

	rows, err := m.store.db.QueryContext(ctx,
		`SELECT key, hit_count, size FROM answers ORDER BY hit_count DESC LIMIT 5`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var h TopHit
		if err := rows.Scan(&h.Key, &h.HitCount, &h.Size); err != nil {
			return nil, err
		}
		stats.TopHits = append(stats.TopHits, h)
	}
	return stats, rows.Err()
}

// LogStats 输出统计信息
func (m *Maintainer) LogStats(stats *CacheStats) {
	m.logger.Info("缓存统计信息",
		zap.Int64("questions", stats.Questions),
		zap.Int64("answers", stats.Answers),
		zap.Float64("reuse_ratio", stats.ReuseRatio),
		zap.Int64("total_bytes", stats.TotalBytes))
	for _, h := range stats.TopHits {
		key := h.Key
		if len(key) > 8 {
			key = key[:8]
		}
		m.logger.Info("高命中答案",
			zap.String("key", key),
			zap.Int64("hit_count", h.HitCount),
			zap.Int64("size", h.Size))
	}
}
