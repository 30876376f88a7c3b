package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/codetutor/internal/metrics"
	"github.com/hitoshi/codetutor/internal/session"
)

// 認証エンドポイントの試行回数制限の既定値
const (
	DefaultAuthMaxAttempts = 5
	DefaultAuthWindow      = 15 * time.Minute
)

// AuthAttempts はセッションに保存する試行回数とウィンドウのリセット時刻。
type AuthAttempts struct {
	Count     int       `json:"count"`
	ResetTime time.Time `json:"resetTime"`
}

// AuthAttemptConfig は認証試行の制限設定。
type AuthAttemptConfig struct {
	MaxAttempts int
	Window      time.Duration
	// Now はテスト用に差し替え可能な現在時刻。
	Now func() time.Time
}

// NewAuthAttemptLimiter はセッション単位で認証エンドポイントへの試行回数を制限するミドルウェアを返す。
// ウィンドウ内の試行がMaxAttemptsに達した後のリクエストは429を返す。ウィンドウが過ぎるとカウントはリセットされる。
// セッションミドルウェアの後に配置する。
func NewAuthAttemptLimiter(config AuthAttemptConfig, sessions SessionManager, collector metrics.MetricsCollector, logger *slog.Logger) func(next http.Handler) http.Handler {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultAuthMaxAttempts
	}
	if config.Window <= 0 {
		config.Window = DefaultAuthWindow
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := session.FromContext(r.Context())
			if !ok {
				WriteInternalServerError(w)
				return
			}

			now := config.Now()
			var attempts AuthAttempts
			found, err := sess.Get(session.AuthAttemptsKey, &attempts)
			if err != nil || !found || now.After(attempts.ResetTime) {
				attempts = AuthAttempts{Count: 0, ResetTime: now.Add(config.Window)}
			}

			if attempts.Count >= config.MaxAttempts {
				collector.RecordRateLimited("auth")
				logger.Warn("rate limit exceeded for authentication",
					slog.String("request_id", RequestIDFromContext(r.Context())),
					slog.String("ip", r.RemoteAddr),
					slog.Int("attempts", attempts.Count),
				)
				writeRateLimitResponse(w, attempts.ResetTime.Sub(now), "auth", "Too many authentication attempts. Please try again later.")
				return
			}

			attempts.Count++
			if err := sess.Set(session.AuthAttemptsKey, attempts); err != nil {
				WriteInternalServerError(w)
				return
			}
			if err := sessions.Save(r.Context(), w, sess); err != nil {
				logger.Error("failed to save session", slog.String("error", err.Error()))
				WriteInternalServerError(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
