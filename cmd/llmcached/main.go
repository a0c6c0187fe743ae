package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/none9527/llmcached/internal/application"
	"github.com/none9527/llmcached/internal/infrastructure/config"
	"github.com/none9527/llmcached/internal/infrastructure/logger"
	"github.com/none9527/llmcached/internal/infrastructure/persistence"
	httpserver "github.com/none9527/llmcached/internal/interfaces/http"
)

const (
	appName    = "llmcached"
	appVersion = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "Caching reverse proxy for OpenAI-compatible chat APIs",
		Long:  "llmcached 缓存反向代理: 相同问题直接返回历史答案, 未命中时按权重转发上游并落库",
		RunE:  runServe,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "启动代理服务 (默认)",
		RunE:  runServe,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "输出缓存统计信息后退出",
		RunE:  runStats,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "显示版本",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", appName, appVersion)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	log.Info("Starting llmcached",
		zap.String("version", appVersion),
		zap.Int("endpoints", len(cfg.APIEndpoints)))

	if dump, err := cfg.Dump(); err == nil {
		log.Debug("生效配置", zap.String("config", dump))
	}

	app, err := application.New(cfg, log)
	if err != nil {
		log.Error("Failed to initialize application", zap.Error(err))
		return err
	}
	app.Start()

	mode := "release"
	if cfg.Log.Level == "debug" {
		mode = "debug"
	}
	server := httpserver.NewServer(httpserver.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
		Mode: mode,
	}, app.Dispatcher, log)

	ctx := context.Background()
	if err := server.Start(ctx); err != nil {
		log.Error("Failed to start HTTP server", zap.Error(err))
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping HTTP server", zap.Error(err))
	}
	app.Stop(shutdownCtx)

	log.Info("Application stopped successfully")
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 安静日志, 只输出统计结果
	log, err := logger.New(config.LogConfig{Level: "error", Format: "console"})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	store, err := persistence.Open(cfg.DatabaseURL, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	maintainer := persistence.NewMaintainer(store, cfg.CacheMaintenance, log)
	stats, err := maintainer.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("collect stats: %w", err)
	}

	fmt.Printf("questions:    %d\n", stats.Questions)
	fmt.Printf("answers:      %d\n", stats.Answers)
	fmt.Printf("reuse ratio:  %.2f\n", stats.ReuseRatio)
	fmt.Printf("total bytes:  %d\n", stats.TotalBytes)
	for _, h := range stats.TopHits {
		key := h.Key
		if len(key) > 8 {
			key = key[:8]
		}
		fmt.Printf("top hit:      %s  hits=%d  size=%d\n", key, h.HitCount, h.Size)
	}
	return nil
}
