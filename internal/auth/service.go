// Package auth はGitHub OAuthによるログインフローを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/hitoshi/codetutor/internal/metrics"
	"github.com/hitoshi/codetutor/internal/model"
	"github.com/hitoshi/codetutor/internal/session"
)

// stateKey はOAuthのstateを保持するセッションのキー。
const stateKey = "oauthState"

var (
	// ErrInvalidCode は認可コードが不正または期限切れであることを表す。
	ErrInvalidCode = errors.New("invalid authorization code")
	// ErrAuthFailed はログインに失敗したことを表す。理由はラップしたエラーで判別する。
	ErrAuthFailed = errors.New("authentication failed")
)

// IdentityProvider は外部IdPのインターフェース。
// 通信を担う部分とユーザーの作成・更新を分離するための抽象化。
type IdentityProvider interface {
	// AuthCodeURL は認可画面のURLを生成する。
	AuthCodeURL(state string) string
	// Exchange は認可コードを交換し、プロフィールを取得する。
	Exchange(ctx context.Context, code string) (*model.GitHubProfile, error)
}

// UserResolver はプロフィールからユーザーを解決する。
type UserResolver interface {
	FindOrCreateFromProfile(ctx context.Context, profile *model.GitHubProfile) (*model.User, bool, error)
}

// CallbackParams はコールバックのクエリパラメータ。
type CallbackParams struct {
	Code  string
	State string
	Error string
}

// Service はログインフローのビジネスロジックを提供する。
type Service struct {
	provider IdentityProvider
	users    UserResolver
	sessions *session.Manager
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
}

// NewService はServiceを生成する。
func NewService(
	provider IdentityProvider,
	users UserResolver,
	sessions *session.Manager,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	return &Service{
		provider: provider,
		users:    users,
		sessions: sessions,
		metrics:  collector,
		logger:   logger,
	}
}

// BeginLogin はstateを生成してセッションに保存し、認可画面のURLを返す。
func (s *Service) BeginLogin(ctx context.Context, w http.ResponseWriter, sess *session.Session) (string, error) {
	state := uuid.NewString()
	if err := sess.Set(stateKey, state); err != nil {
		return "", err
	}
	if err := s.sessions.Save(ctx, w, sess); err != nil {
		return "", fmt.Errorf("failed to save oauth state: %w", err)
	}
	return s.provider.AuthCodeURL(state), nil
}

// CompleteLogin はコールバックを検証してユーザーを解決し、セッションにユーザーを紐付ける。
// セッションIDはログイン時に再生成し、リダイレクト前に保存まで完了させる。
// 失敗した場合はユーザーを変更せず、ErrAuthFailedをラップしたエラーを返す。
func (s *Service) CompleteLogin(ctx context.Context, w http.ResponseWriter, sess *session.Session, params CallbackParams) (*model.User, error) {
	var expected string
	found, err := sess.Get(stateKey, &expected)
	if err != nil {
		found = false
	}
	sess.Delete(stateKey)

	switch {
	case params.Error != "":
		return nil, s.fail(ctx, w, sess, "provider_error", errors.New(params.Error))
	case !found || expected == "" || params.State != expected:
		return nil, s.fail(ctx, w, sess, "state_mismatch", errors.New("oauth state mismatch"))
	}

	profile, err := s.provider.Exchange(ctx, params.Code)
	if err != nil {
		return nil, s.fail(ctx, w, sess, "exchange", err)
	}

	u, created, err := s.users.FindOrCreateFromProfile(ctx, profile)
	if err != nil {
		return nil, s.fail(ctx, w, sess, "user", err)
	}

	if err := s.sessions.Regenerate(sess, session.AuthAttemptsKey); err != nil {
		return nil, fmt.Errorf("failed to regenerate session: %w", err)
	}
	sess.SetUserID(u.ID)
	if err := s.sessions.Save(ctx, w, sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.metrics.RecordLogin(created)
	s.logger.Info("user logged in",
		slog.String("user_id", u.ID),
		slog.String("github_id", u.GitHubID),
		slog.Bool("new_user", created),
	)
	return u, nil
}

// fail は失敗を記録し、使用済みのstateを削除したセッションを保存する。
func (s *Service) fail(ctx context.Context, w http.ResponseWriter, sess *session.Session, reason string, cause error) error {
	s.metrics.RecordAuthFailure(reason)
	s.logger.Warn("github login failed",
		slog.String("reason", reason),
		slog.String("error", cause.Error()),
	)
	if err := s.sessions.Save(ctx, w, sess); err != nil {
		s.logger.Error("failed to save session after login failure", slog.String("error", err.Error()))
	}
	return fmt.Errorf("%w (%s): %w", ErrAuthFailed, reason, cause)
}
