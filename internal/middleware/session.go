// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/codetutor/internal/model"
	"github.com/hitoshi/codetutor/internal/session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
	userContextKey   = contextKey("user")
)

// SessionManager はミドルウェアが使うセッション操作。
// session.Managerの部分集合として定義する。
type SessionManager interface {
	Load(ctx context.Context, r *http.Request) (*session.Session, error)
	Save(ctx context.Context, w http.ResponseWriter, s *session.Session) error
	Refresh(ctx context.Context, w http.ResponseWriter, s *session.Session) error
}

var _ SessionManager = (*session.Manager)(nil)

// UserFinder はユーザーの検索に必要なインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// NewSessionMiddleware はCookieからセッションを読み込み、コンテキストに格納するミドルウェアを返す。
// 保存済みのセッションは有効期限をローリングで延長する。
// ストアのエラーはリクエストを500で失敗させる。
func NewSessionMiddleware(sessions SessionManager, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := sessions.Load(r.Context(), r)
			if err != nil {
				logger.Error("failed to load session",
					slog.String("request_id", RequestIDFromContext(r.Context())),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			if err := sessions.Refresh(r.Context(), w, sess); err != nil {
				logger.Error("failed to refresh session",
					slog.String("request_id", RequestIDFromContext(r.Context())),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(session.NewContext(r.Context(), sess)))
		})
	}
}

// NewUserMiddleware はセッションに紐付いたユーザーを解決し、コンテキストに注入するミドルウェアを返す。
// ユーザーが削除済みの場合はセッションから紐付けを外し、未認証として扱う。
func NewUserMiddleware(users UserFinder, sessions SessionManager, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := session.FromContext(r.Context())
			if !ok || !sess.IsAuthenticated() {
				next.ServeHTTP(w, r)
				return
			}

			u, err := users.FindByID(r.Context(), sess.UserID())
			if err != nil {
				logger.Error("failed to resolve session user",
					slog.String("request_id", RequestIDFromContext(r.Context())),
					slog.String("user_id", sess.UserID()),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			if u == nil {
				logger.Warn("session references a deleted user",
					slog.String("user_id", sess.UserID()),
				)
				sess.ClearUser()
				if err := sessions.Save(r.Context(), w, sess); err != nil {
					logger.Error("failed to save session", slog.String("error", err.Error()))
					WriteInternalServerError(w)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			setRequestUserID(r.Context(), u.ID)
			ctx := ContextWithUser(r.Context(), u)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth は認証済みでないリクエストに401を返すミドルウェア。
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := UserIDFromContext(r.Context()); err != nil {
			WriteUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// ユーザーミドルウェアを通過した認証済みリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userContextKey).(*model.User)
	return u, ok && u != nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// ContextWithUser はコンテキストにユーザーとそのIDを注入する。
func ContextWithUser(ctx context.Context, u *model.User) context.Context {
	ctx = context.WithValue(ctx, userContextKey, u)
	return ContextWithUserID(ctx, u.ID)
}
