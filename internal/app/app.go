package app

import (
	"fmt"

	"github.com/LJTian/TrendingVault/internal/collector"
	"github.com/LJTian/TrendingVault/internal/config"
	"github.com/LJTian/TrendingVault/internal/enrichment"
	"github.com/LJTian/TrendingVault/internal/logger"
	"github.com/LJTian/TrendingVault/internal/processor"
	"github.com/LJTian/TrendingVault/internal/retention"
	"github.com/LJTian/TrendingVault/internal/scheduler"
	"github.com/LJTian/TrendingVault/internal/snapshot"
	"github.com/LJTian/TrendingVault/internal/storage"
	"gorm.io/driver/sqlite"
)

// Application 持有 API 服务与命令行共用的组件
type Application struct {
	Config      *config.Config
	Store       *storage.Store
	Gate        *enrichment.Gate
	Coordinator *snapshot.Coordinator
	Pruner      *retention.Pruner
	Scheduler   *scheduler.Scheduler
}

// Options 运行方式的覆盖项
type Options struct {
	// SQLitePath 非空时用本地 sqlite 代替 PostgreSQL，便于本地调试
	SQLitePath string
}

// DefaultFetchers 默认启用的数据源
func DefaultFetchers(log *logger.Logger) []collector.Fetcher {
	return []collector.Fetcher{
		&collector.GitHubTrendingFetcher{Log: log},
		&collector.HackerNewsFetcher{Log: log},
		&collector.BaiduHotFetcher{Log: log},
	}
}

func New(cfg *config.Config, log *logger.Logger, opts Options) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		store *storage.Store
		err   error
	)
	if opts.SQLitePath != "" {
		store, err = storage.Open(sqlite.Open(opts.SQLitePath), nil, log)
	} else {
		store, err = storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr, log)
	}
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	store.CacheTTL = cfg.CacheTTL

	var dispatcher enrichment.Dispatcher
	if store.Redis != nil {
		dispatcher = enrichment.NewRedisDispatcher(store.Redis, cfg.EnrichmentQueue)
	} else {
		dispatcher = enrichment.NewLogDispatcher(log)
	}
	gate := enrichment.NewGate(store, dispatcher, log)
	coordinator := snapshot.NewCoordinator(store, gate, cfg.Snapshot, log)
	pruner := retention.NewPruner(store, cfg.Snapshot.Window(), log)

	sched, err := scheduler.New(cfg, DefaultFetchers(log), processor.NewSimpleProcessor(), store, coordinator, pruner, gate, log)
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}

	return &Application{
		Config:      cfg,
		Store:       store,
		Gate:        gate,
		Coordinator: coordinator,
		Pruner:      pruner,
		Scheduler:   sched,
	}, nil
}

// Close 释放数据库与 Redis 连接
func (a *Application) Close() {
	if a.Store == nil {
		return
	}
	if sqlDB, err := a.Store.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if a.Store.Redis != nil {
		_ = a.Store.Redis.Close()
	}
}
