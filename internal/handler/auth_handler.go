// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/codetutor/internal/auth"
	"github.com/hitoshi/codetutor/internal/middleware"
	"github.com/hitoshi/codetutor/internal/model"
	"github.com/hitoshi/codetutor/internal/session"
)

// callbackPath はログイン成功時のフロントエンドのリダイレクト先。
const callbackPath = "/auth/github/callback"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	BeginLogin(ctx context.Context, w http.ResponseWriter, sess *session.Session) (string, error)
	CompleteLogin(ctx context.Context, w http.ResponseWriter, sess *session.Session, params auth.CallbackParams) (*model.User, error)
}

// SessionDestroyer はログアウト時のセッション破棄に必要なインターフェース。
type SessionDestroyer interface {
	Destroy(ctx context.Context, w http.ResponseWriter, s *session.Session) (bool, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	FrontendURL string
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	sessions SessionDestroyer
	config   AuthHandlerConfig
	logger   *slog.Logger
	errors   errorWriter
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, sessions SessionDestroyer, config AuthHandlerConfig, logger *slog.Logger) *AuthHandler {
	config.FrontendURL = strings.TrimRight(config.FrontendURL, "/")
	return &AuthHandler{
		service:  service,
		sessions: sessions,
		config:   config,
		logger:   logger,
		errors:   errorWriter{logger: logger},
	}
}

// authStatusResponse はログイン状態のレスポンス。
type authStatusResponse struct {
	IsAuthenticated bool              `json:"isAuthenticated"`
	User            *model.PublicUser `json:"user"`
}

// logoutResponse はログアウトのレスポンス。
type logoutResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Login はGitHub OAuthフローを開始する。
// GET /api/auth/github
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	redirectURL, err := h.service.BeginLogin(r.Context(), w, sess)
	if err != nil {
		h.errors.writeError(w, r, err)
		return
	}

	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// Callback はOAuthコールバックを処理する。
// GET /api/auth/github/callback?code=xxx&state=yyy
// 失敗時はユーザーに触れずにフロントエンドへ?error=auth_failedでリダイレクトする。
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	q := r.URL.Query()
	_, err := h.service.CompleteLogin(r.Context(), w, sess, auth.CallbackParams{
		Code:  q.Get("code"),
		State: q.Get("state"),
		Error: q.Get("error"),
	})
	if err != nil {
		http.Redirect(w, r, h.failureURL(), http.StatusFound)
		return
	}

	// セッションは保存済み
	http.Redirect(w, r, h.config.FrontendURL+callbackPath, http.StatusFound)
}

// Status は現在のログイン状態を返す。
// GET /api/auth/status
// セッションが削除済みのユーザーを参照している場合も未認証として200を返す。
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	u, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, authStatusResponse{})
		return
	}
	writeJSON(w, http.StatusOK, authStatusResponse{
		IsAuthenticated: true,
		User:            u.Public(),
	})
}

// Logout はセッションを破棄し、Cookieをクリアする。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusBadRequest, logoutResponse{Message: "no active session"})
		return
	}

	userID := sess.UserID()
	existed, err := h.sessions.Destroy(r.Context(), w, sess)
	if err != nil {
		h.logger.Error("failed to destroy session",
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}
	if !existed {
		writeJSON(w, http.StatusBadRequest, logoutResponse{Message: "no active session"})
		return
	}

	h.logger.Info("user logged out",
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		slog.String("user_id", userID),
	)
	writeJSON(w, http.StatusOK, logoutResponse{Success: true})
}

func (h *AuthHandler) failureURL() string {
	u, err := url.Parse(h.config.FrontendURL)
	if err != nil {
		return h.config.FrontendURL + "?error=auth_failed"
	}
	q := u.Query()
	q.Set("error", "auth_failed")
	u.RawQuery = q.Encode()
	return u.String()
}
