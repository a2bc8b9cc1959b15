package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/tokenboard/internal/authz"
	"github.com/tokenboard/internal/config"
	"github.com/tokenboard/internal/db"
	"github.com/tokenboard/internal/handler"
	"github.com/tokenboard/internal/logging"
	"github.com/tokenboard/internal/router"
	"github.com/tokenboard/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load config")
	}

	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	gin.SetMode(cfg.GinMode)

	// 初始化数据库
	if err := db.Init(cfg.DatabasePath); err != nil {
		logging.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("failed to initialize database")
	}

	api := handler.NewAPI(db.DB)

	if cfg.SuperRootUserName != "" && cfg.SuperRootPassword != "" {
		admin, created, err := api.Users().EnsureAdmin(cfg.SuperRootUserName, cfg.SuperRootPassword)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to ensure super root admin")
		}
		logging.Info().Uint("user_id", admin.ID).Bool("created", created).Msg("super root admin ready")
	}

	enforcer, err := authz.NewEnforcer()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize authorization")
	}

	grants := service.NewMonthlyGrantService(db.DB, api.Ledger(), api.Settings())
	scheduler, err := service.NewScheduler(cfg.MonthlyGrantSchedule, grants)
	if err != nil {
		logging.Fatal().Err(err).Str("schedule", cfg.MonthlyGrantSchedule).Msg("invalid monthly grant schedule")
	}
	scheduler.Start()

	// 设置并运行 Gin 服务器
	r := router.SetupRouter(api, enforcer, router.Config{
		SessionSecret: cfg.SessionSecret,
		SecureCookie:  cfg.CookieSecure,
		ViewRateLimit: cfg.ViewRateLimit,
		ViewRateBurst: cfg.ViewRateBurst,
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		logging.Info().Str("addr", cfg.ListenAddr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("failed to run server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	scheduler.Stop(ctx)
	if err := srv.Shutdown(ctx); err != nil {
		logging.Error().Err(err).Msg("server forced to shutdown")
	}

	if sqlDB, err := db.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
