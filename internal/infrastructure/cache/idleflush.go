package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BatchWriter 将缓存项批量落库
type BatchWriter interface {
	BatchWrite(ctx context.Context, items []Item) (success, failed int)
}

// IdleFlushConfig 空闲刷新参数
type IdleFlushConfig struct {
	Enabled       bool
	IdleTimeout   time.Duration
	CheckInterval time.Duration
}

// IdleFlusher drains the memory cache and pending map to the database once
// no dispatch activity has been observed for the configured idle window.
type IdleFlusher struct {
	cache  *MemoryCache
	config IdleFlushConfig
	writer BatchWriter
	logger *zap.Logger

	mu           sync.Mutex
	lastActivity time.Time
}

// NewIdleFlusher 创建空闲刷新管理器; writer 可为 nil (仅演练, 不落库)
func NewIdleFlusher(cache *MemoryCache, cfg IdleFlushConfig, writer BatchWriter, logger *zap.Logger) *IdleFlusher {
	return &IdleFlusher{
		cache:        cache,
		config:       cfg,
		writer:       writer,
		logger:       logger,
		lastActivity: time.Now(),
	}
}

// Touch 记录一次调度活动
func (f *IdleFlusher) Touch() {
	f.mu.Lock()
	f.lastActivity = time.Now()
	f.mu.Unlock()
}

func (f *IdleFlusher) idleFor() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return time.Since(f.lastActivity)
}

// Run blocks until ctx is cancelled, scanning every CheckInterval.
func (f *IdleFlusher) Run(ctx context.Context) {
	if !f.config.Enabled {
		f.logger.Info("空闲刷新功能已禁用")
		return
	}

	f.logger.Info("启动空闲刷新任务",
		zap.Duration("idle_timeout", f.config.IdleTimeout),
		zap.Duration("check_interval", f.config.CheckInterval))

	ticker := time.NewTicker(f.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if f.idleFor() < f.config.IdleTimeout {
				continue
			}
			f.FlushNow(ctx)
		}
	}
}

// FlushNow drains the pending map and the resident cache in one batch write.
// Also used directly during shutdown.
func (f *IdleFlusher) FlushNow(ctx context.Context) {
	pendingCount := f.cache.PendingCount()
	cacheCount := f.cache.CacheCount()
	if pendingCount == 0 && cacheCount == 0 {
		return
	}

	f.logger.Info("系统空闲，开始刷新缓存",
		zap.Int("cache_count", cacheCount),
		zap.Int("pending_count", pendingCount))

	items := f.cache.TakePending(pendingCount)
	// 常驻项先移入 pending, 再整体取出
	f.cache.FlushAllToPending()
	items = append(items, f.cache.TakePending(f.cache.PendingCount())...)

	if f.writer == nil {
		f.logger.Info("空闲刷新: 未配置数据库写入，跳过", zap.Int("items", len(items)))
		f.Touch()
		return
	}

	if len(items) > 0 {
		success, failed := f.writer.BatchWrite(ctx, items)
		f.logger.Info("空闲刷新: 数据库写入完成",
			zap.Int("success", success), zap.Int("failed", failed))
	}
	f.Touch()
}
