package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LJTian/TrendingVault/internal/api"
	"github.com/LJTian/TrendingVault/internal/app"
	"github.com/LJTian/TrendingVault/internal/config"
	"github.com/LJTian/TrendingVault/internal/logger"
	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	application, err := app.New(cfg, log, app.Options{SQLitePath: os.Getenv("SQLITE_PATH")})
	if err != nil {
		log.Fatal("init application failed", "error", err)
	}
	defer application.Close()

	application.Scheduler.Start()

	r := gin.Default()
	// 若配置了全局访问密码，则启用 Basic Auth 保护（/health 仍然免认证）
	if cfg.BasicAuthUser != "" && cfg.BasicAuthPass != "" {
		r.Use(api.BasicAuth(cfg.BasicAuthUser, cfg.BasicAuthPass))
	}

	apiServer := api.NewServer(application.Store, application.Coordinator, application.Pruner, application.Gate, cfg, log)
	apiServer.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("starting api server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server exit", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown", "error", err)
	}
	// 等待正在执行的构建结束；超时后未完成的构建会在下次启动时按过期锁释放
	select {
	case <-application.Scheduler.Stop().Done():
	case <-ctx.Done():
	}
}
