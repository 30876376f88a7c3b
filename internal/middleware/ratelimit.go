package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/httprate"
	gojson "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/hitoshi/codetutor/internal/metrics"
	"github.com/hitoshi/codetutor/internal/model"
)

const tooManyRequestsMessage = "Too many requests. Please try again later."

// RateLimiterConfig はユーザー単位のレート制限の設定を保持する。
type RateLimiterConfig struct {
	Rate            rate.Limit    // 1ユーザーあたりのレート（req/sec）
	Burst           int           // バーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 120 req/min/user。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return PerMinuteRateLimiterConfig(120)
}

// PerMinuteRateLimiterConfig は1分あたりのリクエスト数から設定を組み立てる。
func PerMinuteRateLimiterConfig(perMinute int) RateLimiterConfig {
	if perMinute <= 0 {
		perMinute = 120
	}
	return RateLimiterConfig{
		Rate:            rate.Limit(float64(perMinute) / 60.0),
		Burst:           perMinute,
		CleanupInterval: 5 * time.Minute,
	}
}

// userLimiter はユーザーごとのレートリミッターとアクセス時刻を保持する。
type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter は認証済みユーザーごとのレート制限を管理する。
type RateLimiter struct {
	config  RateLimiterConfig
	metrics metrics.MetricsCollector

	mu       sync.Mutex
	limiters map[string]*userLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig, collector metrics.MetricsCollector) *RateLimiter {
	rl := &RateLimiter{
		config:   config,
		metrics:  collector,
		limiters: make(map[string]*userLimiter),
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Middleware はユーザー単位のレート制限ミドルウェアを返す。
// ユーザーミドルウェアとRequireAuthの後に配置する。
func (rl *RateLimiter) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteUnauthorized(w)
				return
			}

			if !rl.limiter(userID).Allow() {
				rl.metrics.RecordRateLimited("user")
				writeRateLimitResponse(w, retryAfterForRate(rl.config.Rate), "system", tooManyRequestsMessage)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LimiterCount は現在管理されているリミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) LimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) limiter(userID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if ul, ok := rl.limiters[userID]; ok {
		ul.lastAccess = time.Now()
		return ul.limiter
	}

	l := rate.NewLimiter(rl.config.Rate, rl.config.Burst)
	rl.limiters[userID] = &userLimiter{limiter: l, lastAccess: time.Now()}
	return l
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for userID, ul := range rl.limiters {
		if now.Sub(ul.lastAccess) > ttl {
			delete(rl.limiters, userID)
		}
	}
}

// NewIPRateLimitMiddleware はクライアントIPごとに1分あたりのリクエスト数を制限するミドルウェアを返す。
func NewIPRateLimitMiddleware(requestsPerMinute int, collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			collector.RecordRateLimited("ip")
			writeRateLimitResponse(w, 0, "system", tooManyRequestsMessage)
		}),
	)
}

func retryAfterForRate(r rate.Limit) time.Duration {
	if r <= 0 {
		return time.Second
	}
	// 1トークンが補充されるまでの時間
	return time.Duration(math.Ceil(1.0/float64(r))) * time.Second
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// retryAfterが正の場合はRetry-Afterヘッダーに秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, retryAfter time.Duration, category, message string) {
	if retryAfter > 0 {
		sec := int(math.Ceil(retryAfter.Seconds()))
		if sec < 1 {
			sec = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(sec))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	_ = gojson.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     model.ErrCodeRateLimit,
		Message:  message,
		Category: category,
		Action:   "しばらく待ってから再度お試しください。",
	})
}
