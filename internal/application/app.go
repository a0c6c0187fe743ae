package application

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/none9527/llmcached/internal/infrastructure/cache"
	"github.com/none9527/llmcached/internal/infrastructure/config"
	"github.com/none9527/llmcached/internal/infrastructure/persistence"
	"github.com/none9527/llmcached/internal/infrastructure/trim"
	"github.com/none9527/llmcached/internal/infrastructure/upstream"
	"github.com/none9527/llmcached/internal/infrastructure/worker"
)

// App 应用容器, 持有全部组件与后台任务生命周期
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Store      *persistence.Store
	Memory     *cache.MemoryCache
	Writer     *persistence.Writer
	Flusher    *cache.IdleFlusher
	Maintainer *persistence.Maintainer
	Client     *upstream.Client
	Dispatcher *Dispatcher
	HitPool    *worker.Pool
	MissPool   *worker.Pool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 按配置装配全部组件
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	store, err := persistence.Open(cfg.DatabaseURL, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	writer := persistence.NewWriter(store, cfg.CacheVersion, logger)
	maintainer := persistence.NewMaintainer(store, cfg.CacheMaintenance, logger)
	client := upstream.NewClient(cfg.HTTPClient, cfg.Proxy, cfg.UseCurl, logger)

	var memory *cache.MemoryCache
	var flusher *cache.IdleFlusher
	if cfg.Cache.Enabled {
		memory = cache.NewMemoryCache(cfg.Cache.MaxItems)
		flusher = cache.NewIdleFlusher(memory, cache.IdleFlushConfig{
			Enabled:       cfg.IdleFlush.Enabled,
			IdleTimeout:   cfg.IdleFlush.IdleTimeout(),
			CheckInterval: cfg.IdleFlush.CheckInterval(),
		}, writer, logger)
	}

	var trimmer *trim.Trimmer
	if cfg.ContextTrim.Enabled {
		summarizer := trim.NewSummarizer(
			cfg.ContextTrim.SummaryMode, cfg.ContextTrim.SummaryAPI,
			cfg.APIDefaults, client, logger)
		trimmer = trim.NewTrimmer(cfg.ContextTrim, summarizer, logger)
	}

	hitPool := worker.NewPool("cache-hit", cfg.CacheHitPoolSize, logger)
	missPool := worker.NewPool("cache-miss", cfg.CacheMissPoolSize, logger)

	dispatcher := NewDispatcher(cfg, memory, store, writer, client, trimmer,
		flusher, hitPool, missPool, logger)

	return &App{
		Config:     cfg,
		Logger:     logger,
		Store:      store,
		Memory:     memory,
		Writer:     writer,
		Flusher:    flusher,
		Maintainer: maintainer,
		Client:     client,
		Dispatcher: dispatcher,
		HitPool:    hitPool,
		MissPool:   missPool,
	}, nil
}

// Start 启动空闲刷新与缓存维护后台任务
func (a *App) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Flusher != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.Flusher.Run(ctx)
		}()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Maintainer.Run(ctx)
	}()
}

// Stop cancels background loops, performs a final flush of unwritten cache
// entries, drains the worker pools and closes the store.
func (a *App) Stop(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	if a.Flusher != nil {
		a.Flusher.FlushNow(ctx)
	}

	a.HitPool.Stop()
	a.MissPool.Stop()

	if err := a.Store.Close(); err != nil {
		a.Logger.Warn("关闭数据库失败", zap.Error(err))
	}
}
