package persistence

import (
	"context"
	"testing"

	"github.com/none9527/llmcached/internal/infrastructure/codec"
	"github.com/none9527/llmcached/internal/infrastructure/config"
)

func testMaintenanceConfig() config.MaintenanceConfig {
	return config.MaintenanceConfig{
		Enabled:       true,
		IntervalHours: 12,
		RetentionDays: 30,
		MinHitCount:   5,
	}
}

// === CleanupOldEntries ===

func TestCleanupOldEntries(t *testing.T) {
	store := newTestStore(t)
	writer := NewWriter(store, 0, testLogger())
	m := NewMaintainer(store, testMaintenanceConfig(), testLogger())
	ctx := context.Background()

	blob, _ := codec.Compress([]byte("stale answer"))
	writer.WriteSingle(ctx, codec.QuestionKey("stale question"), blob)

	// 将时间戳改为90天前
	old := int64(90 * 86400)
	mustExec(t, store.DB(), `UPDATE questions SET created_at = strftime('%s','now') - ?`, old)
	mustExec(t, store.DB(), `UPDATE answers SET created_at = strftime('%s','now') - ?`, old)

	// 第一轮: 问题行被删除, 答案因当时仍被引用而保留
	if err := m.CleanupOldEntries(ctx); err != nil {
		t.Fatal(err)
	}
	var questions int
	store.DB().QueryRow(`SELECT COUNT(*) FROM questions`).Scan(&questions)
	if questions != 0 {
		t.Fatalf("expired questions: got %d, want 0", questions)
	}

	// 第二轮: 孤立且低命中的答案被删除
	if err := m.CleanupOldEntries(ctx); err != nil {
		t.Fatal(err)
	}
	var answers int
	store.DB().QueryRow(`SELECT COUNT(*) FROM answers`).Scan(&answers)
	if answers != 0 {
		t.Errorf("orphaned answers: got %d, want 0", answers)
	}
}

func TestCleanupOldEntries_KeepsHotAnswers(t *testing.T) {
	store := newTestStore(t)
	writer := NewWriter(store, 0, testLogger())
	m := NewMaintainer(store, testMaintenanceConfig(), testLogger())
	ctx := context.Background()

	blob, _ := codec.Compress([]byte("hot answer"))
	writer.WriteSingle(ctx, codec.QuestionKey("hot question"), blob)

	old := int64(90 * 86400)
	mustExec(t, store.DB(), `UPDATE questions SET created_at = strftime('%s','now') - ?`, old)
	mustExec(t, store.DB(),
		`UPDATE answers SET created_at = strftime('%s','now') - ?, hit_count = 100`, old)

	m.CleanupOldEntries(ctx)
	m.CleanupOldEntries(ctx)

	var answers int
	store.DB().QueryRow(`SELECT COUNT(*) FROM answers`).Scan(&answers)
	if answers != 1 {
		t.Errorf("high hit_count answer must survive, got %d rows", answers)
	}
}

func TestCleanupOldEntries_KeepsFreshRows(t *testing.T) {
	store := newTestStore(t)
	writer := NewWriter(store, 0, testLogger())
	m := NewMaintainer(store, testMaintenanceConfig(), testLogger())
	ctx := context.Background()

	blob, _ := codec.Compress([]byte("fresh answer"))
	writer.WriteSingle(ctx, codec.QuestionKey("fresh question"), blob)

	if err := m.CleanupOldEntries(ctx); err != nil {
		t.Fatal(err)
	}

	var questions, answers int
	store.DB().QueryRow(`SELECT COUNT(*) FROM questions`).Scan(&questions)
	store.DB().QueryRow(`SELECT COUNT(*) FROM answers`).Scan(&answers)
	if questions != 1 || answers != 1 {
		t.Errorf("fresh rows must survive: questions=%d answers=%d", questions, answers)
	}
}

// === Stats ===

func TestStats(t *testing.T) {
	store := newTestStore(t)
	writer := NewWriter(store, 0, testLogger())
	m := NewMaintainer(store, testMaintenanceConfig(), testLogger())
	ctx := context.Background()

	shared, _ := codec.Compress([]byte("shared answer"))
	writer.WriteSingle(ctx, codec.QuestionKey("q1"), shared)
	writer.WriteSingle(ctx, codec.QuestionKey("q2"), shared)

	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Questions != 2 || stats.Answers != 1 {
		t.Errorf("counts: questions=%d answers=%d", stats.Questions, stats.Answers)
	}
	if stats.ReuseRatio != 2.0 {
		t.Errorf("reuse ratio: got %v, want 2.0", stats.ReuseRatio)
	}
	if stats.TotalBytes != int64(len(shared)) {
		t.Errorf("total bytes: got %d, want %d", stats.TotalBytes, len(shared))
	}
	if len(stats.TopHits) != 1 {
		t.Errorf("top hits: got %d entries", len(stats.TopHits))
	}
}
