//go:build ignore

// 用法: go run scripts/init_user.go -username root -password '...'
// 未指定时读取 SUPER_ROOT_USER_NAME / SUPER_ROOT_PASSWORD。已存在的同名用户会被提升为管理员。
package main

import (
	"flag"

	"github.com/tokenboard/internal/config"
	"github.com/tokenboard/internal/db"
	"github.com/tokenboard/internal/logging"
	"github.com/tokenboard/internal/service"
)

func main() {
	username := flag.String("username", "", "admin username")
	password := flag.String("password", "", "admin password (at least 8 characters)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if *username == "" {
		*username = cfg.SuperRootUserName
	}
	if *password == "" {
		*password = cfg.SuperRootPassword
	}
	if *username == "" || *password == "" {
		logging.Fatal().Msg("username and password are required")
	}

	// 初始化数据库
	if err := db.Init(cfg.DatabasePath); err != nil {
		logging.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("failed to initialize database")
	}

	settings := service.NewSystemSettingService(db.DB)
	users := service.NewUserService(db.DB, service.NewTokenLedger(db.DB, settings), settings)

	admin, created, err := users.EnsureAdmin(*username, *password)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to ensure admin")
	}

	if created {
		logging.Info().Uint("user_id", admin.ID).Str("username", admin.Username).Msg("admin created")
		return
	}
	logging.Info().Uint("user_id", admin.ID).Str("username", admin.Username).Msg("existing user promoted to admin")
}
