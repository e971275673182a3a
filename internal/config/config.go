// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database: DATABASE_URLがあればPostgreSQL、なければDATABASE_PATHのSQLiteを使う
	DatabaseURL  string `env:"DATABASE_URL"`
	DatabasePath string `env:"DATABASE_PATH"`
	AutoMigrate  bool   `env:"AUTO_MIGRATE" envDefault:"false"`

	// Telegram
	TelegramBotToken             string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramBotUsername          string `env:"TELEGRAM_BOT_USERNAME"`
	TelegramAPIEndpoint          string `env:"TELEGRAM_API_ENDPOINT" envDefault:"https://api.telegram.org/bot%s/%s"`
	TelegramAllowMissingAuthDate bool   `env:"TELEGRAM_ALLOW_MISSING_AUTH_DATE" envDefault:"false"`

	// Session
	SessionMaxAge int `env:"SESSION_MAX_AGE" envDefault:"604800"`

	// Rate Limit（req/min/IP）
	RateLimitLogin    int `env:"RATE_LIMIT_LOGIN" envDefault:"10"`
	RateLimitRegister int `env:"RATE_LIMIT_REGISTER" envDefault:"5"`

	// Profile
	ProfileCheckWebsite bool          `env:"PROFILE_CHECK_WEBSITE" envDefault:"false"`
	WebsiteCheckTimeout time.Duration `env:"WEBSITE_CHECK_TIMEOUT" envDefault:"5s"`

	// Worker
	CleanupSchedule string `env:"CLEANUP_SCHEDULE" envDefault:"@hourly"`
	MetricsPort     string `env:"METRICS_PORT"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,required,notEmpty"`

	// Cookie（SecureはBASE_URLのスキームから導出する）
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.DatabaseURL == "" && cfg.DatabasePath == "" {
		return nil, fmt.Errorf("missing required environment variables: DATABASE_URL or DATABASE_PATH")
	}

	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)

	var errs []error
	if cfg.SessionMaxAge <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_MAX_AGE must be positive, got %d", cfg.SessionMaxAge))
	}
	if cfg.RateLimitLogin <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_LOGIN must be positive, got %d", cfg.RateLimitLogin))
	}
	if cfg.RateLimitRegister <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_REGISTER must be positive, got %d", cfg.RateLimitRegister))
	}
	if err := validateBaseURL(cfg.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	return cfg, nil
}

// validateBaseURL はBASE_URLがhttpまたはhttpsの絶対URLであることを確認する。
// リダイレクト先とCookieのSecure属性がこの値から決まる。
func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("BASE_URL must be an absolute http(s) URL, got %q", raw)
	}
	return nil
}

// DatabaseTarget はdatabase.Openに渡す接続先を返す。
// DATABASE_URLが設定されていればそちらを優先する。
func (c *Config) DatabaseTarget() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return c.DatabasePath
}

// LoginEnabled はTelegramログインが有効かを返す。
func (c *Config) LoginEnabled() bool {
	return c.TelegramBotToken != ""
}
