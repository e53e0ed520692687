// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// Session
	JWTSecret     string `mapstructure:"JWT_SECRET"`
	SessionMaxAge int    `mapstructure:"SESSION_MAX_AGE"` // 秒

	// Redis（パスワード再設定トークン）
	RedisAddr     string        `mapstructure:"REDIS_ADDR"`
	RedisPassword string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int           `mapstructure:"REDIS_DB"`
	ResetTokenTTL time.Duration `mapstructure:"RESET_TOKEN_TTL"`

	// Blob Store
	GCSBucket           string `mapstructure:"GCS_BUCKET"`
	GCSCDNDomain        string `mapstructure:"GCS_CDN_DOMAIN"`
	GCSCredentialsFile  string `mapstructure:"GCS_CREDENTIALS_FILE"`
	StorageEmulatorHost string `mapstructure:"STORAGE_EMULATOR_HOST"`
	ImageMaxSize        int64  `mapstructure:"IMAGE_MAX_SIZE"`

	// Mail
	SendGridAPIKey string `mapstructure:"SENDGRID_API_KEY"`
	MailFrom       string `mapstructure:"MAIL_FROM"`
	MailFromName   string `mapstructure:"MAIL_FROM_NAME"`

	// Fetch（画像・フィード取り込み）
	FetchTimeout time.Duration `mapstructure:"FETCH_TIMEOUT"`
	FetchMaxSize int64         `mapstructure:"FETCH_MAX_SIZE"`

	// Sync
	CatalogSampleFallback     bool   `mapstructure:"CATALOG_SAMPLE_FALLBACK"`
	EnrollmentPartialFallback string `mapstructure:"ENROLLMENT_PARTIAL_FALLBACK"` // samples | partial

	// Rate Limit（req/min）
	RateLimitGeneral int `mapstructure:"RATE_LIMIT_GENERAL"`
	RateLimitAuth    int `mapstructure:"RATE_LIMIT_AUTH"`

	// Worker
	CleanupInterval time.Duration `mapstructure:"CLEANUP_INTERVAL"`

	// Server
	ServerPort string `mapstructure:"SERVER_PORT"`
	BaseURL    string `mapstructure:"BASE_URL"`

	// CORS
	CORSAllowedOrigin string `mapstructure:"CORS_ALLOWED_ORIGIN"`
}

// requiredKeys は未設定の場合に起動を中止する環境変数。
var requiredKeys = []string{
	"DATABASE_URL",
	"JWT_SECRET",
	"BASE_URL",
}

// defaults は任意設定のデフォルト値。
var defaults = map[string]interface{}{
	"SESSION_MAX_AGE":             30 * 24 * 60 * 60,
	"REDIS_ADDR":                  "localhost:6379",
	"REDIS_PASSWORD":              "",
	"REDIS_DB":                    0,
	"RESET_TOKEN_TTL":             15 * time.Minute,
	"GCS_BUCKET":                  "",
	"GCS_CDN_DOMAIN":              "",
	"GCS_CREDENTIALS_FILE":        "",
	"STORAGE_EMULATOR_HOST":       "",
	"IMAGE_MAX_SIZE":              int64(5242880),
	"SENDGRID_API_KEY":            "",
	"MAIL_FROM":                   "noreply@latework.app",
	"MAIL_FROM_NAME":              "LateWork",
	"FETCH_TIMEOUT":               10 * time.Second,
	"FETCH_MAX_SIZE":              int64(5242880),
	"CATALOG_SAMPLE_FALLBACK":     true,
	"ENROLLMENT_PARTIAL_FALLBACK": "samples",
	"RATE_LIMIT_GENERAL":          120,
	"RATE_LIMIT_AUTH":             10,
	"CLEANUP_INTERVAL":            time.Hour,
	"SERVER_PORT":                 "8080",
	"CORS_ALLOWED_ORIGIN":         "http://localhost:8081",
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	for _, key := range requiredKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", key, err)
		}
	}
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	var missing []string
	for _, key := range requiredKeys {
		if strings.TrimSpace(v.GetString(key)) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	switch cfg.EnrollmentPartialFallback {
	case "samples", "partial":
	default:
		return nil, fmt.Errorf("ENROLLMENT_PARTIAL_FALLBACK must be 'samples' or 'partial', got %q", cfg.EnrollmentPartialFallback)
	}

	return cfg, nil
}

// UploadsEnabled はBlob Storeのバケットが設定されている場合にtrueを返す。
func (c *Config) UploadsEnabled() bool {
	return c.GCSBucket != ""
}

// MailEnabled はSendGridのAPIキーが設定されている場合にtrueを返す。
func (c *Config) MailEnabled() bool {
	return c.SendGridAPIKey != ""
}
