package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

// recordingWriter 记录每次批量写入的项
type recordingWriter struct {
	mu      sync.Mutex
	batches [][]Item
}

func (w *recordingWriter) BatchWrite(ctx context.Context, items []Item) (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batches = append(w.batches, items)
	return len(items), 0
}

func (w *recordingWriter) total() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.batches {
		n += len(b)
	}
	return n
}

// === FlushNow ===

func TestFlushNow_DrainsPendingAndResident(t *testing.T) {
	c := NewMemoryCache(2)
	c.Insert("k1", []byte("v1"))
	c.Insert("k2", []byte("v2"))
	c.Insert("k3", []byte("v3")) // k1被淘汰进pending

	w := &recordingWriter{}
	f := NewIdleFlusher(c, IdleFlushConfig{Enabled: true}, w, testLogger())

	f.FlushNow(context.Background())

	if got := w.total(); got != 3 {
		t.Errorf("flushed items: got %d, want 3", got)
	}
	if c.CacheCount() != 0 || c.PendingCount() != 0 {
		t.Errorf("cache should be empty after flush: cache=%d pending=%d",
			c.CacheCount(), c.PendingCount())
	}
}

func TestFlushNow_EmptyCacheNoWrite(t *testing.T) {
	c := NewMemoryCache(2)
	w := &recordingWriter{}
	f := NewIdleFlusher(c, IdleFlushConfig{Enabled: true}, w, testLogger())

	f.FlushNow(context.Background())

	if len(w.batches) != 0 {
		t.Errorf("expected no writes for empty cache, got %d batches", len(w.batches))
	}
}

// === Run ===

func TestRun_FlushesAfterIdle(t *testing.T) {
	c := NewMemoryCache(10)
	c.Insert("k1", []byte("v1"))

	w := &recordingWriter{}
	f := NewIdleFlusher(c, IdleFlushConfig{
		Enabled:       true,
		IdleTimeout:   30 * time.Millisecond,
		CheckInterval: 10 * time.Millisecond,
	}, w, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for w.total() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if got := w.total(); got != 1 {
		t.Errorf("idle flush should have written 1 item, got %d", got)
	}
}

func TestRun_TouchDefersFlush(t *testing.T) {
	c := NewMemoryCache(10)
	c.Insert("k1", []byte("v1"))

	w := &recordingWriter{}
	f := NewIdleFlusher(c, IdleFlushConfig{
		Enabled:       true,
		IdleTimeout:   time.Hour,
		CheckInterval: 10 * time.Millisecond,
	}, w, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	if got := w.total(); got != 0 {
		t.Errorf("flush must not fire inside the idle window, wrote %d items", got)
	}
}
