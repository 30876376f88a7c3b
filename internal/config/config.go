package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// 実行環境
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// minSessionSecretLength はCookie署名鍵として受け付ける最小バイト数。
const minSessionSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	MongoURI         string `env:"MONGODB_URI,required,notEmpty"`
	MongoDatabase    string `env:"MONGODB_DATABASE" envDefault:"code_tutor"`
	DBResetOnStartup bool   `env:"DB_RESET_ON_STARTUP" envDefault:"false"`

	// OAuth (GitHub)
	GitHubClientID     string `env:"GITHUB_CLIENT_ID,required,notEmpty"`
	GitHubClientSecret string `env:"GITHUB_CLIENT_SECRET,required,notEmpty"`
	GitHubCallbackURL  string `env:"GITHUB_CALLBACK_URL,required,notEmpty"`
	FrontendURL        string `env:"FRONTEND_URL,required,notEmpty"`

	// Session
	SessionSecret     string        `env:"SESSION_SECRET,required,notEmpty"`
	SessionCookieName string        `env:"SESSION_COOKIE_NAME" envDefault:"code_tutor.sid"`
	SessionSameSite   string        `env:"SESSION_COOKIE_SAMESITE" envDefault:"lax"`
	SessionMaxAge     time.Duration `env:"SESSION_MAX_AGE" envDefault:"24h"`
	CookieDomain      string        `env:"COOKIE_DOMAIN"`

	// CORS
	CORSOrigins []string `env:"CORS_ORIGIN" envSeparator:"," envDefault:"http://localhost:5173"`

	// Rate Limit
	RateLimitPerMinute     int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"300"`
	RateLimitUserPerMinute int `env:"RATE_LIMIT_USER_PER_MINUTE" envDefault:"120"`

	// Logging
	LogLevel         string `env:"LOG_LEVEL"`
	LogDir           string `env:"LOG_DIR" envDefault:"logs"`
	LogMaxSizeMB     int    `env:"LOG_MAX_SIZE_MB" envDefault:"5"`
	LogMaxFiles      int    `env:"LOG_MAX_FILES" envDefault:"5"`
	LogRetentionDays int    `env:"LOG_RETENTION_DAYS" envDefault:"14"`
	LogCompress      bool   `env:"LOG_COMPRESS" envDefault:"false"`

	// Cleanup
	InactiveUserRetention time.Duration `env:"INACTIVE_USER_RETENTION" envDefault:"8760h"`
	CleanupSchedule       string        `env:"CLEANUP_SCHEDULE" envDefault:"@every 1h"`

	// Server
	Port         string `env:"PORT" envDefault:"3000"`
	Environment  string `env:"NODE_ENV" envDefault:"development"`
	MaxBodyBytes int64  `env:"MAX_BODY_BYTES" envDefault:"1048576"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は未設定の変数名をすべて含むエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		var missing []string
		var agg env.AggregateError
		if errors.As(err, &agg) {
			for _, e := range agg.Errors {
				switch v := e.(type) {
				case env.VarIsNotSetError:
					missing = append(missing, v.Key)
				case env.EmptyVarError:
					missing = append(missing, v.Key)
				}
			}
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("required environment variables are not set: %v", missing)
		}
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.Environment = strings.ToLower(cfg.Environment)
	cfg.SessionSameSite = strings.ToLower(cfg.SessionSameSite)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.LogLevel == "" {
		if cfg.IsDevelopment() {
			cfg.LogLevel = "debug"
		} else {
			cfg.LogLevel = "info"
		}
	}

	return cfg, nil
}

// LoadDotEnv は.envファイルが存在すれば読み込む。既存の環境変数は上書きしない。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if fileExists(p) {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func (c *Config) validate() error {
	if len(c.SessionSecret) < minSessionSecretLength {
		return fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSessionSecretLength)
	}

	switch c.Environment {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		return fmt.Errorf("NODE_ENV must be one of development, production, test: %q", c.Environment)
	}

	switch c.SessionSameSite {
	case "lax", "strict", "none":
	default:
		return fmt.Errorf("SESSION_COOKIE_SAMESITE must be one of lax, strict, none: %q", c.SessionSameSite)
	}

	if c.SessionMaxAge <= 0 {
		return fmt.Errorf("SESSION_MAX_AGE must be positive")
	}

	return nil
}

// IsProduction は本番環境かどうかを返す。
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// IsDevelopment は開発環境かどうかを返す。
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// CookieSameSite はセッションCookieのSameSite属性を返す。
func (c *Config) CookieSameSite() http.SameSite {
	switch c.SessionSameSite {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// CookieSecure はセッションCookieにSecure属性を付与するかを返す。
// 開発環境以外は常にSecure。SameSite=NoneはブラウザがSecureを要求するため常にSecure。
func (c *Config) CookieSecure() bool {
	if c.CookieSameSite() == http.SameSiteNoneMode {
		return true
	}
	return !c.IsDevelopment()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
