package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar 指定 YAML 配置文件路径的环境变量。
const ConfigPathEnvVar = "CONFIG_PATH"

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr           string        `koanf:"listen_addr"`
	Port                 string        `koanf:"port"`
	DatabasePath         string        `koanf:"database_path"`
	SessionSecret        string        `koanf:"session_secret"`
	CookieSecure         bool          `koanf:"cookie_secure"`
	GinMode              string        `koanf:"gin_mode"`
	LogLevel             string        `koanf:"log_level"`
	LogFormat            string        `koanf:"log_format"`
	SuperRootUserName    string        `koanf:"super_root_user_name"`
	SuperRootPassword    string        `koanf:"super_root_password"`
	MonthlyGrantSchedule string        `koanf:"monthly_grant_schedule"`
	ViewRateLimit        float64       `koanf:"view_rate_limit"`
	ViewRateBurst        int           `koanf:"view_rate_burst"`
	ShutdownTimeout      time.Duration `koanf:"shutdown_timeout"`
}

func defaults() AppConfig {
	return AppConfig{
		Port:                 "8080",
		DatabasePath:         "tokenboard.db",
		SessionSecret:        "tokenboard-dev-secret",
		GinMode:              "release",
		LogLevel:             "info",
		LogFormat:            "json",
		MonthlyGrantSchedule: "@daily",
		ViewRateLimit:        5,
		ViewRateBurst:        10,
		ShutdownTimeout:      10 * time.Second,
	}
}

var knownKeys = map[string]struct{}{
	"listen_addr":            {},
	"port":                   {},
	"database_path":          {},
	"session_secret":         {},
	"cookie_secure":          {},
	"gin_mode":               {},
	"log_level":              {},
	"log_format":             {},
	"super_root_user_name":   {},
	"super_root_password":    {},
	"monthly_grant_schedule": {},
	"view_rate_limit":        {},
	"view_rate_burst":        {},
	"shutdown_timeout":       {},
}

// Load 依次读取默认值、可选的 YAML 文件与环境变量（.env 亦会被加载），后者优先。
func Load() (AppConfig, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return AppConfig{}, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return AppConfig{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return AppConfig{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// envKey 把 DATABASE_PATH 映射为 database_path，未知变量返回空串以忽略。
func envKey(key string) string {
	lowered := strings.ToLower(strings.TrimSpace(key))
	if _, ok := knownKeys[lowered]; !ok {
		return ""
	}
	return lowered
}

func findConfigFile() string {
	if path := strings.TrimSpace(os.Getenv(ConfigPathEnvVar)); path != "" {
		return path
	}
	for _, candidate := range []string{"config.yaml", "config.yml"} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

func (c *AppConfig) normalize() {
	c.Port = strings.TrimSpace(c.Port)
	if c.Port == "" {
		c.Port = "8080"
	}
	c.ListenAddr = strings.TrimSpace(c.ListenAddr)
	if c.ListenAddr == "" {
		c.ListenAddr = fmt.Sprintf(":%s", c.Port)
	}
	c.DatabasePath = strings.TrimSpace(c.DatabasePath)
	if c.DatabasePath == "" {
		c.DatabasePath = "tokenboard.db"
	}
	c.SessionSecret = strings.TrimSpace(c.SessionSecret)
	if c.SessionSecret == "" {
		c.SessionSecret = "tokenboard-dev-secret"
	}
	c.GinMode = strings.TrimSpace(c.GinMode)
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	c.SuperRootUserName = strings.TrimSpace(c.SuperRootUserName)
	c.SuperRootPassword = strings.TrimSpace(c.SuperRootPassword)
	c.MonthlyGrantSchedule = strings.TrimSpace(c.MonthlyGrantSchedule)
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Validate 校验配置的取值范围。
func (c AppConfig) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen address is required")
	}
	if c.ViewRateLimit <= 0 {
		return errors.New("view_rate_limit must be positive")
	}
	if c.ViewRateBurst <= 0 {
		return errors.New("view_rate_burst must be positive")
	}
	return nil
}
