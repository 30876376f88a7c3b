// Package authclient はフロントエンドの認証コンテキストをGoで再現したクライアントを提供する。
//
// ログイン状態を/api/auth/statusから取得して保持し、保護されたページへの
// 遷移可否（待機・表示・リダイレクト）を判定する。
package authclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/go-resty/resty/v2"

	"github.com/hitoshi/codetutor/internal/model"
)

const (
	statusPath = "/api/auth/status"
	logoutPath = "/api/auth/logout"
	loginPath  = "/api/auth/github"

	defaultTimeout = 10 * time.Second
)

// ユーザーに表示するエラー
var (
	ErrAuthCheckFailed = errors.New("Authentication check failed")
	ErrLogoutFailed    = errors.New("Logout failed")
)

// publicPaths は認証なしで表示できるページ。
var publicPaths = map[string]bool{
	"/":              true,
	"/login":         true,
	"/auth/callback": true,
}

// Config はClientの設定。
type Config struct {
	BaseURL string
	Timeout time.Duration
	// HTTPClient はテストでの差し替え用。nilの場合は新規に生成する。
	HTTPClient *http.Client
}

// Client はログイン状態を保持する認証コンテキスト。並行に呼び出してよい。
type Client struct {
	http    *resty.Client
	baseURL string
	logger  *slog.Logger

	mu         sync.Mutex
	user       *model.PublicUser
	loading    bool
	lastErr    error
	inProgress bool
}

type statusResponse struct {
	IsAuthenticated bool              `json:"isAuthenticated"`
	User            *model.PublicUser `json:"user"`
}

// New はClientを生成する。Cookieはクライアント内のCookie Jarに保持する。
// 初回のMountが完了するまではLoading状態。
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	rc := resty.NewWithClient(hc).
		SetBaseURL(baseURL).
		SetCookieJar(jar).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(gojson.Marshal).
		SetJSONUnmarshaler(gojson.Unmarshal)

	return &Client{
		http:    rc,
		baseURL: baseURL,
		logger:  logger,
		loading: true,
	}, nil
}

// Mount は初期化時のログイン状態確認を行う。
func (c *Client) Mount(ctx context.Context) error {
	c.logger.Info("initializing auth state")
	return c.check(ctx, true)
}

// Focus はウィンドウのフォーカス復帰時の再確認を行う。確認中の場合は何もしない。
func (c *Client) Focus(ctx context.Context) error {
	return c.check(ctx, false)
}

// Revalidate はログイン状態を再取得する。
func (c *Client) Revalidate(ctx context.Context) error {
	return c.check(ctx, true)
}

func (c *Client) check(ctx context.Context, force bool) error {
	c.mu.Lock()
	if c.inProgress && !force {
		c.mu.Unlock()
		c.logger.Debug("auth check skipped")
		return nil
	}
	c.inProgress = true
	c.mu.Unlock()

	var body statusResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&body).
		Get(statusPath)
	if err == nil && resp.IsError() {
		err = fmt.Errorf("unexpected status %d", resp.StatusCode())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inProgress = false
	c.loading = false

	if err != nil {
		c.logger.Error("auth check failed", slog.String("error", err.Error()))
		c.user = nil
		c.lastErr = ErrAuthCheckFailed
		return fmt.Errorf("%w: %w", ErrAuthCheckFailed, err)
	}

	next := body.User
	if !body.IsAuthenticated {
		next = nil
	}
	if (c.user == nil) != (next == nil) {
		c.logger.Info("user state updated",
			slog.Bool("was_authenticated", c.user != nil),
			slog.Bool("is_authenticated", next != nil),
		)
	}
	c.user = next
	return nil
}

// Logout はログアウトを要求し、完了後にログイン状態を再取得する。
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Post(logoutPath)
	if err == nil && resp.IsError() {
		err = fmt.Errorf("unexpected status %d", resp.StatusCode())
	}
	if err != nil {
		c.logger.Error("logout failed", slog.String("error", err.Error()))
		c.mu.Lock()
		c.lastErr = ErrLogoutFailed
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrLogoutFailed, err)
	}

	c.mu.Lock()
	c.user = nil
	c.lastErr = nil
	c.mu.Unlock()
	c.logger.Info("logout successful")

	return c.Revalidate(ctx)
}

// User は現在のユーザーを返す。未認証の場合はnil。
func (c *Client) User() *model.PublicUser {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// IsAuthenticated はログイン済みかどうかを返す。
func (c *Client) IsAuthenticated() bool {
	return c.User() != nil
}

// Loading は初回の状態確認が完了していないかどうかを返す。
func (c *Client) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Err は直近のエラーを返す。
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// ClearError はエラー状態を解除する。
func (c *Client) ClearError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = nil
}

// LoginURL はGitHubログインを開始するURLを返す。
func (c *Client) LoginURL() string {
	return c.baseURL + loginPath
}
