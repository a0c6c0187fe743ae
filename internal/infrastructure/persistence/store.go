// Package persistence implements the embedded SQLite store that owns all
// long-term question/answer state, plus its writers and maintenance loop.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/none9527/llmcached/internal/infrastructure/config"
)

// Store SQLite 持久化存储
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if missing) the SQLite database, applies the schema,
// migrates a legacy single-table layout, and tunes the connection pool.
func Open(databaseURL string, cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// 连接池策略
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MinConnections)
	db.SetConnMaxLifetime(time.Duration(cfg.MaxLifetimeSeconds) * time.Second)
	db.SetConnMaxIdleTime(time.Duration(cfg.IdleTimeoutSeconds) * time.Second)

	s := &Store{db: db, logger: logger}

	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	if err := s.migrateLegacyCache(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate legacy cache table: %w", err)
	}

	// 调优失败不影响启动
	s.optimize(context.Background())

	return s, nil
}

// DB exposes the underlying pool for the writer and maintenance code.
func (s *Store) DB() *sql.DB { return s.db }

// Close 关闭连接池
func (s *Store) Close() error { return s.db.Close() }

// initSchema 建表与索引
func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS answers (
			key TEXT PRIMARY KEY,
			response BLOB NOT NULL,
			size INTEGER NOT NULL,
			hit_count INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		)`,
		`CREATE TABLE IF NOT EXISTS questions (
			key TEXT PRIMARY KEY,
			answer_key TEXT NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
			FOREIGN KEY(answer_key) REFERENCES answers(key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_answers_key ON answers(key)`,
		`CREATE INDEX IF NOT EXISTS idx_answers_version ON answers(version)`,
		`CREATE INDEX IF NOT EXISTS idx_questions_key ON questions(key)`,
		`CREATE INDEX IF NOT EXISTS idx_questions_answer_key ON questions(answer_key)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// migrateLegacyCache copies rows from the legacy single-table schema into
// answers/questions, then renames the old table to cache_backup. The backup
// is dropped later by the maintenance loop.
func (s *Store) migrateLegacyCache(ctx context.Context) error {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sqlite_master WHERE type='table' AND name='cache'`).Scan(&one)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	s.logger.Info("检测到旧的cache表，开始数据迁移")

	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO answers (key, response, size, hit_count, version)
		 SELECT key, response, size, hit_count, version FROM cache`); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO questions (key, answer_key)
		 SELECT key, key FROM cache`); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `ALTER TABLE cache RENAME TO cache_backup`); err != nil {
		return err
	}

	s.logger.Info("数据迁移完成，旧表已重命名为cache_backup")
	return nil
}

// optimize 应用 SQLite 调优参数, 单条失败仅记录日志
func (s *Store) optimize(ctx context.Context) {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA wal_autocheckpoint=1000;",
		"PRAGMA wal_checkpoint(PASSIVE);",
		"PRAGMA read_uncommitted=true;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=20000;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA mmap_size=30000000000;",
		"PRAGMA page_size=4096;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=OFF;",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			s.logger.Warn("设置SQLite参数失败",
				zap.String("pragma", pragma), zap.Error(err))
		}
	}

	if _, err := s.db.ExecContext(ctx, "VACUUM;"); err != nil {
		s.logger.Warn("数据库VACUUM失败", zap.Error(err))
	} else {
		s.logger.Info("数据库VACUUM成功")
	}
}

// Lookup joins questions → answers by question key and returns the compressed
// answer blob together with its answer key. In override mode only answers
// with version >= the requested version qualify.
func (s *Store) Lookup(ctx context.Context, questionKey string, version int, overrideMode bool) ([]byte, string, bool, error) {
	query := `SELECT a.response, a.key FROM questions q
		JOIN answers a ON q.answer_key = a.key
		WHERE q.key = ? LIMIT 1`
	args := []any{questionKey}
	if overrideMode {
		query = `SELECT a.response, a.key FROM questions q
			JOIN answers a ON q.answer_key = a.key
			WHERE q.key = ? AND a.version >= ? LIMIT 1`
		args = append(args, version)
	}

	var blob []byte
	var answerKey string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&blob, &answerKey)
	if err == sql.ErrNoRows {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, err
	}
	return blob, answerKey, true, nil
}

// BumpHitCount increments the hit counter with an atomic SQL expression so
// concurrent hits do not lose updates.
func (s *Store) BumpHitCount(ctx context.Context, answerKey string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE answers SET hit_count = hit_count + 1 WHERE key = ?`, answerKey)
	return err
}
