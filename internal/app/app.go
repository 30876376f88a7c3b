package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/hitoshi/codetutor/internal/auth"
	"github.com/hitoshi/codetutor/internal/config"
	"github.com/hitoshi/codetutor/internal/course"
	"github.com/hitoshi/codetutor/internal/database"
	"github.com/hitoshi/codetutor/internal/handler"
	"github.com/hitoshi/codetutor/internal/logger"
	"github.com/hitoshi/codetutor/internal/metrics"
	"github.com/hitoshi/codetutor/internal/middleware"
	"github.com/hitoshi/codetutor/internal/repository"
	"github.com/hitoshi/codetutor/internal/security"
	"github.com/hitoshi/codetutor/internal/session"
	"github.com/hitoshi/codetutor/internal/user"
	"github.com/hitoshi/codetutor/internal/worker/cleanup"
)

const (
	shutdownTimeout   = 30 * time.Second
	disconnectTimeout = 10 * time.Second
	defaultPort       = "3000"
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はコンソール出力先としてそのwriterを使用する。
// 返却されるio.Closerはログファイルを閉じる。
func Init(w io.Writer) (*config.Config, io.Closer, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(logger.Setup(w))

	// 2. .envファイルと環境変数から設定を読み込む
	if err := config.LoadDotEnv(); err != nil {
		return nil, nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定に従ってファイル出力を含むロガーに差し替える
	l, closer := logger.New(w, logger.Options{
		Level:         cfg.LogLevel,
		Dir:           cfg.LogDir,
		FileName:      "app.log",
		MaxSizeMB:     cfg.LogMaxSizeMB,
		MaxBackups:    cfg.LogMaxFiles,
		RetentionDays: cfg.LogRetentionDays,
		Compress:      cfg.LogCompress,
	})
	logger.SetupDefault(l)

	return cfg, closer, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = defaultPort
		}
		return runHealthcheck(port)
	}

	cfg, closer, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer closer.Close()

	if isUnknown(args) {
		slog.Warn("unknown command, falling back to serve",
			slog.String("command", args[0]),
			slog.String("available", commandNames()),
		)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.Port),
		slog.String("environment", cfg.Environment),
		slog.String("frontend_url", cfg.FrontendURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// MongoDBに接続し、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. DB接続
	client, db, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer disconnect(client)

	// 2. インデックスの作成（起動時リセットが有効な場合は作り直す）
	if cfg.DBResetOnStartup {
		if err := database.Reset(ctx, db, cfg.MongoURI, slog.Default()); err != nil {
			return fmt.Errorf("failed to reset database: %w", err)
		}
	} else if err := database.RunMigrations(cfg.MongoURI, cfg.MongoDatabase); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// 3. メトリクス
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 4. リポジトリの初期化
	userRepo := repository.NewMongoUserRepo(db)
	courseRepo := repository.NewMongoCourseRepo(db)
	sessionRepo := repository.NewMongoSessionRepo(db)

	// 5. セッション管理
	sessions := newSessionManager(cfg, sessionRepo, collector)

	// 6. サービスの初期化
	userService := user.NewService(userRepo, slog.Default())
	courseService := course.NewService(courseRepo, userRepo, security.NewContentSanitizer(), collector, slog.Default())
	provider := auth.NewGitHubProvider(auth.GitHubConfig{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		RedirectURL:  cfg.GitHubCallbackURL,
	}, slog.Default())
	authService := auth.NewService(provider, userService, sessions, collector, slog.Default())

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitUserPerMinute),
		collector,
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:   slog.Default(),
		Metrics:  collector,
		Gatherer: reg,

		Sessions:             sessions,
		Users:                userRepo,
		RateLimiter:          rateLimiter,
		CORSAllowedOrigins:   cfg.CORSOrigins,
		IPRateLimitPerMinute: cfg.RateLimitPerMinute,
		MaxBodyBytes:         cfg.MaxBodyBytes,
		HSTS:                 cfg.IsProduction(),
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure(),
			CookieDomain: cfg.CookieDomain,
			Logger:       slog.Default(),
		},

		Environment:      cfg.Environment,
		HideErrorDetails: cfg.IsProduction(),

		AuthService: authService,
		AuthConfig:  handler.AuthHandlerConfig{FrontendURL: cfg.FrontendURL},

		CourseService: courseService,
		UserService:   userService,
	})

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilDone(ctx, server, "API server")
}

// runWorker はワーカーモードで起動する。
// MongoDBに接続し、クリーンアップジョブをスケジュール実行する。
// /health と /metrics のみを公開する管理用HTTPサーバーも起動する。
func runWorker(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. DB接続
	client, db, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer disconnect(client)

	// 2. メトリクス
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 3. クリーンアップジョブの初期化
	sessions := newSessionManager(cfg, repository.NewMongoSessionRepo(db), collector)
	job := cleanup.NewCleanupJob(sessions, repository.NewMongoUserRepo(db), collector, slog.Default())
	job.UserRetention = cfg.InactiveUserRetention

	scheduler, err := cleanup.NewScheduler(ctx, job, cfg.CleanupSchedule, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create cleanup scheduler: %w", err)
	}

	slog.Info("worker starting",
		slog.String("schedule", cfg.CleanupSchedule),
		slog.Duration("user_retention", cfg.InactiveUserRetention),
	)

	// 起動直後に1回実行
	if _, err := job.Run(ctx); err != nil {
		slog.Error("cleanup job failed", slog.String("error", err.Error()))
	}
	scheduler.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		scheduler.Stop(stopCtx)
	}()

	// 4. 管理用HTTPサーバー
	r := chi.NewRouter()
	r.Get("/health", handler.NewHealthHandler(cfg.Environment).Health)
	r.Handle("/metrics", metrics.SetupMetricsRoute(reg))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return serveUntilDone(ctx, server, "worker admin server")
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("mongodb_uri", maskMongoURI(cfg.MongoURI)),
		slog.String("database", cfg.MongoDatabase),
	)

	if err := database.RunMigrations(cfg.MongoURI, cfg.MongoDatabase); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// connect はMongoDBに接続する。接続できない場合は起動を中止する。
func connect(ctx context.Context, cfg *config.Config) (*mongo.Client, *mongo.Database, error) {
	client, db, err := database.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		slog.Error("mongodb connection failed",
			slog.String("mongodb_uri", maskMongoURI(cfg.MongoURI)),
			slog.String("error", err.Error()),
		)
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established", slog.String("database", cfg.MongoDatabase))
	return client, db, nil
}

func disconnect(client *mongo.Client) {
	if err := database.Disconnect(client, disconnectTimeout); err != nil {
		slog.Error("failed to disconnect mongodb", slog.String("error", err.Error()))
		return
	}
	slog.Info("database connection closed")
}

// newSessionManager は設定からセッションマネージャーを組み立てる。
// 作成・破棄はメトリクスとデバッグログに記録する。
func newSessionManager(cfg *config.Config, store session.Store, collector metrics.MetricsCollector) *session.Manager {
	return session.NewManager(store, []byte(cfg.SessionSecret), session.Options{
		CookieName: cfg.SessionCookieName,
		MaxAge:     cfg.SessionMaxAge,
		Secure:     cfg.CookieSecure(),
		SameSite:   cfg.CookieSameSite(),
		Domain:     cfg.CookieDomain,
	}, session.Hooks{
		OnCreate: func(*session.Session) {
			collector.RecordSessionCreated()
		},
		OnDestroy: func(string) {
			collector.RecordSessionDestroyed()
		},
	}, slog.Default())
}

// newRegistry はアプリケーションのメトリクスとランタイムメトリクスを登録するレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// serveUntilDone はHTTPサーバーを起動し、ctxが終了したらグレースフルシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// maskMongoURI は接続URIの認証情報をマスクする。
func maskMongoURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User == nil {
		return u.Scheme + "://" + u.Host
	}
	return u.Scheme + "://***@" + u.Host
}
