package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/codetutor/internal/metrics"
	"github.com/hitoshi/codetutor/internal/middleware"
	"github.com/hitoshi/codetutor/internal/session"
)

// SessionStore はルーターが必要とするセッション操作。
type SessionStore interface {
	middleware.SessionManager
	Destroy(ctx context.Context, w http.ResponseWriter, s *session.Session) (bool, error)
}

var _ SessionStore = (*session.Manager)(nil)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger   *slog.Logger
	Metrics  metrics.MetricsCollector
	Gatherer prometheus.Gatherer

	// ミドルウェア依存
	Sessions             SessionStore
	Users                middleware.UserFinder
	RateLimiter          *middleware.RateLimiter
	AuthAttempts         middleware.AuthAttemptConfig
	CORSAllowedOrigins   []string
	IPRateLimitPerMinute int
	MaxBodyBytes         int64
	HSTS                 bool
	CSRF                 middleware.CSRFConfig

	// 環境
	Environment string
	// HideErrorDetails が真の場合、検証エラーの詳細メッセージを返さない。本番環境で有効にする。
	HideErrorDetails bool

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// コース
	CourseService CourseServiceInterface

	// ユーザー
	UserService UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → IPRateLimit → BodyLimit → Session → User
//
// 認証が必要なルートはさらに RequireAuth → RateLimit(per user) → CSRF を通過する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware(middleware.SecurityHeadersConfig{
		AllowedOrigins: deps.CORSAllowedOrigins,
		HSTS:           deps.HSTS,
	}))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))
	r.Use(middleware.NewIPRateLimitMiddleware(deps.IPRateLimitPerMinute, deps.Metrics))
	r.Use(middleware.NewBodyLimitMiddleware(deps.MaxBodyBytes))

	healthHandler := NewHealthHandler(deps.Environment)
	authHandler := NewAuthHandler(deps.AuthService, deps.Sessions, deps.AuthConfig, deps.Logger)
	courseHandler := NewCourseHandler(deps.CourseService, deps.Logger, deps.HideErrorDetails)
	userHandler := NewUserHandler(deps.UserService, deps.CourseService, deps.Logger, deps.HideErrorDetails)

	// --- セッション不要のルート ---
	r.Get("/health", healthHandler.Health)
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Sessions, deps.Logger))
		r.Use(middleware.NewUserMiddleware(deps.Users, deps.Sessions, deps.Logger))

		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

		// 認証ルート（OAuthフロー）
		authLimiter := middleware.NewAuthAttemptLimiter(deps.AuthAttempts, deps.Sessions, deps.Metrics, deps.Logger)
		r.Route("/auth", func(r chi.Router) {
			r.With(authLimiter).Get("/github", authHandler.Login)
			r.With(authLimiter).Get("/github/callback", authHandler.Callback)
			r.Get("/status", authHandler.Status)
			r.Post("/logout", authHandler.Logout)
		})

		// 公開コース
		r.Get("/courses", courseHandler.ListPublished)
		r.Get("/courses/search", courseHandler.Search)
		r.Get("/courses/popular", courseHandler.Popular)
		r.Get("/courses/level/{level}", courseHandler.ListByLevel)
		r.Get("/courses/{id}", courseHandler.Get)

		// --- 認証が必要なルート ---
		// ミドルウェアスタック: RequireAuth → RateLimit → CSRF
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Use(deps.RateLimiter.Middleware())
			r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

			r.Post("/courses", courseHandler.Create)
			r.Patch("/courses/{id}", courseHandler.Update)
			r.Post("/courses/{id}/publish", courseHandler.Publish)
			r.Delete("/courses/{id}/publish", courseHandler.Unpublish)
			r.Post("/courses/{id}/students", courseHandler.Enroll)
			r.Delete("/courses/{id}/students", courseHandler.Leave)

			r.Get("/users/me", userHandler.Me)
			r.Patch("/users/me", userHandler.UpdateMe)
			r.Get("/users/me/courses", userHandler.MyCourses)
		})
	})

	return r
}
