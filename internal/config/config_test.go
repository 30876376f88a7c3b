package config

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "test-session-secret-32bytes-long!"

func setRequiredEnvVars(t *testing.T) {
	t.Helper()
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")
	t.Setenv("GITHUB_CLIENT_ID", "test-client-id")
	t.Setenv("GITHUB_CLIENT_SECRET", "test-client-secret")
	t.Setenv("GITHUB_CALLBACK_URL", "http://localhost:3000/api/auth/github/callback")
	t.Setenv("SESSION_SECRET", testSecret)
	t.Setenv("FRONTEND_URL", "http://localhost:5173")
}

func TestLoad_AllRequiredVarsSet_ReturnsConfig(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.MongoURI != "mongodb://localhost:27017" {
		t.Errorf("MongoURI = %q, want %q", cfg.MongoURI, "mongodb://localhost:27017")
	}
	if cfg.GitHubClientID != "test-client-id" {
		t.Errorf("GitHubClientID = %q, want %q", cfg.GitHubClientID, "test-client-id")
	}
	if cfg.GitHubClientSecret != "test-client-secret" {
		t.Errorf("GitHubClientSecret = %q, want %q", cfg.GitHubClientSecret, "test-client-secret")
	}
	if cfg.GitHubCallbackURL != "http://localhost:3000/api/auth/github/callback" {
		t.Errorf("GitHubCallbackURL = %q", cfg.GitHubCallbackURL)
	}
	if cfg.SessionSecret != testSecret {
		t.Errorf("SessionSecret = %q, want %q", cfg.SessionSecret, testSecret)
	}
	if cfg.FrontendURL != "http://localhost:5173" {
		t.Errorf("FrontendURL = %q, want %q", cfg.FrontendURL, "http://localhost:5173")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.MongoDatabase != "code_tutor" {
		t.Errorf("MongoDatabase = %q, want %q", cfg.MongoDatabase, "code_tutor")
	}
	if cfg.SessionCookieName != "code_tutor.sid" {
		t.Errorf("SessionCookieName = %q, want %q", cfg.SessionCookieName, "code_tutor.sid")
	}
	if cfg.SessionMaxAge != 24*time.Hour {
		t.Errorf("SessionMaxAge = %v, want %v", cfg.SessionMaxAge, 24*time.Hour)
	}
	if cfg.Port != "3000" {
		t.Errorf("Port = %q, want %q", cfg.Port, "3000")
	}
	if cfg.Environment != EnvDevelopment {
		t.Errorf("Environment = %q, want %q", cfg.Environment, EnvDevelopment)
	}
	if cfg.DBResetOnStartup {
		t.Error("DBResetOnStartup should default to false")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q in development", cfg.LogLevel, "debug")
	}
	if cfg.LogRetentionDays != 14 {
		t.Errorf("LogRetentionDays = %d, want %d", cfg.LogRetentionDays, 14)
	}
	if cfg.InactiveUserRetention != 365*24*time.Hour {
		t.Errorf("InactiveUserRetention = %v, want %v", cfg.InactiveUserRetention, 365*24*time.Hour)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "http://localhost:5173" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnvVars(t)

	t.Setenv("SESSION_MAX_AGE", "1h")
	t.Setenv("SESSION_COOKIE_NAME", "ct.sid")
	t.Setenv("CORS_ORIGIN", "https://a.example.com,https://b.example.com")
	t.Setenv("PORT", "8080")
	t.Setenv("NODE_ENV", "Production")
	t.Setenv("DB_RESET_ON_STARTUP", "true")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "60")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.SessionMaxAge != time.Hour {
		t.Errorf("SessionMaxAge = %v, want %v", cfg.SessionMaxAge, time.Hour)
	}
	if cfg.SessionCookieName != "ct.sid" {
		t.Errorf("SessionCookieName = %q, want %q", cfg.SessionCookieName, "ct.sid")
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example.com" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want %q", cfg.Port, "8080")
	}
	if !cfg.IsProduction() {
		t.Errorf("Environment = %q, want production", cfg.Environment)
	}
	if !cfg.DBResetOnStartup {
		t.Error("DBResetOnStartup should be true")
	}
	if cfg.RateLimitPerMinute != 60 {
		t.Errorf("RateLimitPerMinute = %d, want %d", cfg.RateLimitPerMinute, 60)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q in production", cfg.LogLevel, "info")
	}
}

func TestLoad_MissingRequiredVars_ReturnsError(t *testing.T) {
	keys := []string{
		"MONGODB_URI",
		"GITHUB_CLIENT_ID",
		"GITHUB_CLIENT_SECRET",
		"GITHUB_CALLBACK_URL",
		"SESSION_SECRET",
		"FRONTEND_URL",
	}

	for _, key := range keys {
		t.Run(key, func(t *testing.T) {
			setRequiredEnvVars(t)
			t.Setenv(key, "")

			_, err := Load()
			if err == nil {
				t.Fatalf("expected error for missing %s, got nil", key)
			}
			if !strings.Contains(err.Error(), key) {
				t.Errorf("error %q should mention %s", err.Error(), key)
			}
		})
	}
}

func TestLoad_ShortSessionSecret_ReturnsError(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("SESSION_SECRET", "too-short")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for short SESSION_SECRET")
	}
}

func TestLoad_InvalidSameSite_ReturnsError(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("SESSION_COOKIE_SAMESITE", "sometimes")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid SESSION_COOKIE_SAMESITE")
	}
}

func TestLoad_InvalidEnvironment_ReturnsError(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("NODE_ENV", "staging")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid NODE_ENV")
	}
}

func TestCookiePolicy(t *testing.T) {
	tests := []struct {
		name       string
		env        string
		sameSite   string
		wantMode   http.SameSite
		wantSecure bool
	}{
		{"development lax", EnvDevelopment, "lax", http.SameSiteLaxMode, false},
		{"production lax", EnvProduction, "lax", http.SameSiteLaxMode, true},
		{"development none forces secure", EnvDevelopment, "none", http.SameSiteNoneMode, true},
		{"production strict", EnvProduction, "strict", http.SameSiteStrictMode, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Environment: tt.env, SessionSameSite: tt.sameSite}
			if got := cfg.CookieSameSite(); got != tt.wantMode {
				t.Errorf("CookieSameSite() = %v, want %v", got, tt.wantMode)
			}
			if got := cfg.CookieSecure(); got != tt.wantSecure {
				t.Errorf("CookieSecure() = %v, want %v", got, tt.wantSecure)
			}
		})
	}
}

func TestLoadDotEnv_DoesNotOverrideExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("CT_DOTENV_A=from-file\nCT_DOTENV_B=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CT_DOTENV_A", "from-env")
	t.Setenv("CT_DOTENV_B", "")
	os.Unsetenv("CT_DOTENV_B")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	if got := os.Getenv("CT_DOTENV_A"); got != "from-env" {
		t.Errorf("CT_DOTENV_A = %q, want %q", got, "from-env")
	}
	if got := os.Getenv("CT_DOTENV_B"); got != "from-file" {
		t.Errorf("CT_DOTENV_B = %q, want %q", got, "from-file")
	}
}

func TestLoadDotEnv_MissingFileIsNotAnError(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}
