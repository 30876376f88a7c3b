// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/codetutor/internal/model"
	"github.com/hitoshi/codetutor/internal/repository"
	"github.com/hitoshi/codetutor/internal/validation"
)

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo repository.UserRepository
	logger   *slog.Logger
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, logger *slog.Logger) *Service {
	return &Service{
		userRepo: userRepo,
		logger:   logger,
		now:      time.Now,
	}
}

// FindOrCreateFromProfile はGitHubプロフィールに対応するユーザーを返す。
// 未登録のGitHub IDであればユーザーを作成し、登録済みであれば最終ログイン日時のみを更新する。
// 戻り値のboolは新規作成した場合にtrue。
func (s *Service) FindOrCreateFromProfile(ctx context.Context, profile *model.GitHubProfile) (*model.User, bool, error) {
	if profile == nil || profile.ID == "" {
		return nil, false, errors.New("github profile id is empty")
	}

	existing, err := s.userRepo.FindByGitHubID(ctx, profile.ID)
	if err != nil {
		return nil, false, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if existing != nil {
		u, err := s.touch(ctx, existing)
		return u, false, err
	}

	u := &model.User{
		Username:    usernameFromProfile(profile),
		Email:       strings.ToLower(strings.TrimSpace(profile.PreferredEmail())),
		GitHubID:    profile.ID,
		DisplayName: truncate(strings.TrimSpace(profile.DisplayName), validation.MaxDisplayNameLength),
		AvatarURL:   profile.AvatarURL,
		Provider:    model.ProviderGitHub,
		LastLogin:   s.now().UTC(),
	}
	if u.DisplayName == "" {
		u.DisplayName = profile.Username
	}

	if err := validation.ValidateUser(u); err != nil {
		return nil, false, err
	}

	err = s.userRepo.Create(ctx, u)
	var dup *model.DuplicateKeyError
	switch {
	case err == nil:
	case errors.As(err, &dup) && dup.Field == "githubId":
		// 同一GitHub IDの同時ログインで先に作成された側を採用する
		winner, ferr := s.userRepo.FindByGitHubID(ctx, profile.ID)
		if ferr != nil {
			return nil, false, fmt.Errorf("ユーザーの再取得に失敗しました: %w", ferr)
		}
		if winner == nil {
			return nil, false, err
		}
		u, terr := s.touch(ctx, winner)
		return u, false, terr
	case errors.As(err, &dup) && dup.Field == "username":
		// ローカルユーザーと大文字小文字違いで衝突した場合はGitHub IDを付けて再試行する
		u.Username = truncate(u.Username, validation.MaxUsernameLength-len(profile.ID)-1) + "-" + profile.ID
		if err := s.userRepo.Create(ctx, u); err != nil {
			return nil, false, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
		}
	case errors.As(err, &dup) && dup.Field == "email":
		// メールは任意項目のため、衝突時は持たずに作成する
		u.Email = ""
		if err := s.userRepo.Create(ctx, u); err != nil {
			return nil, false, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
		}
	default:
		return nil, false, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	s.logger.Info("ユーザーを作成しました",
		slog.String("user_id", u.ID),
		slog.String("username", u.Username),
		slog.String("provider", string(u.Provider)),
	)
	return u, true, nil
}

func (s *Service) touch(ctx context.Context, u *model.User) (*model.User, error) {
	updated, err := s.TouchLastLogin(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("既存ユーザーがログインしました",
		slog.String("user_id", updated.ID),
		slog.String("provider", string(updated.Provider)),
	)
	return updated, nil
}

// TouchLastLogin は最終ログイン日時を現在時刻に更新し、更新後のユーザーを返す。
// ユーザーが存在しない場合はUSER_NOT_FOUNDを返す。
func (s *Service) TouchLastLogin(ctx context.Context, userID string) (*model.User, error) {
	updated, err := s.userRepo.TouchLastLogin(ctx, userID, s.now().UTC())
	if errors.Is(err, model.ErrNotFound) {
		return nil, model.NewUserNotFoundError()
	}
	if err != nil {
		return nil, fmt.Errorf("最終ログイン日時の更新に失敗しました: %w", err)
	}
	return updated, nil
}

// GetByID は指定IDのユーザーを返す。存在しない場合はnilを返す。
func (s *Service) GetByID(ctx context.Context, id string) (*model.User, error) {
	u, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	return u, nil
}

// GetByUsername はユーザー名（大文字小文字を区別しない）でユーザーを返す。
func (s *Service) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	u, err := s.userRepo.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	return u, nil
}

// ListByProvider は指定プロバイダのユーザー一覧を返す。
func (s *Service) ListByProvider(ctx context.Context, provider model.Provider) ([]*model.User, error) {
	users, err := s.userRepo.ListByProvider(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	return users, nil
}

// UpdateProfile は表示名・アバターURL・メールを更新する。
// 検証に失敗した場合は保存せずに*model.ValidationErrorを返す。
func (s *Service) UpdateProfile(ctx context.Context, userID string, in *model.UserProfileUpdate) (*model.User, error) {
	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}

	if in.DisplayName != nil {
		u.DisplayName = strings.TrimSpace(*in.DisplayName)
	}
	if in.AvatarURL != nil {
		u.AvatarURL = strings.TrimSpace(*in.AvatarURL)
	}
	if in.Email != nil {
		u.Email = strings.ToLower(strings.TrimSpace(*in.Email))
	}

	if err := validation.ValidateUser(u); err != nil {
		return nil, err
	}
	if err := s.userRepo.Update(ctx, u); err != nil {
		return nil, fmt.Errorf("ユーザーの更新に失敗しました: %w", err)
	}

	s.logger.Info("プロフィールを更新しました", slog.String("user_id", u.ID))
	return u, nil
}

// usernameFromProfile はGitHubのログイン名からユーザー名を決める。
// 最小長に満たない場合はGitHub IDを付与する。
func usernameFromProfile(p *model.GitHubProfile) string {
	name := strings.TrimSpace(p.Username)
	if utf8.RuneCountInString(name) < validation.MinUsernameLength {
		name = name + "-" + p.ID
	}
	return truncate(name, validation.MaxUsernameLength)
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
