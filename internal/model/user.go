// Package model はドメインモデルを定義する。
package model

import "time"

// Provider はユーザーの認証経路を表す。
type Provider string

const (
	// ProviderGitHub はGitHub OAuthで作成されたユーザー。
	ProviderGitHub Provider = "github"
	// ProviderLocal はローカル作成のユーザー。
	ProviderLocal Provider = "local"
)

// User はサービス利用ユーザーを表す。
// GitHubIDが設定されている場合に限りProviderはgithubとなる。
type User struct {
	ID          string
	Username    string
	Email       string
	GitHubID    string
	DisplayName string
	AvatarURL   string
	Provider    Provider
	LastLogin   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsGitHubUser はGitHub経由のユーザーかどうかを返す。
func (u *User) IsGitHubUser() bool {
	return u.Provider == ProviderGitHub && u.GitHubID != ""
}

// PublicUser はAPIレスポンスに含めるユーザーの公開フィールド。
type PublicUser struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	DisplayName  string    `json:"displayName,omitempty"`
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	Provider     Provider  `json:"provider"`
	IsGitHubUser bool      `json:"isGithubUser"`
	LastLogin    time.Time `json:"lastLogin"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Public は公開フィールドのみを持つ表現に変換する。
func (u *User) Public() *PublicUser {
	if u == nil {
		return nil
	}
	return &PublicUser{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		DisplayName:  u.DisplayName,
		AvatarURL:    u.AvatarURL,
		Provider:     u.Provider,
		IsGitHubUser: u.IsGitHubUser(),
		LastLogin:    u.LastLogin,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

// GitHubProfile はIdPから取得したプロフィール。
type GitHubProfile struct {
	ID          string
	Username    string
	DisplayName string
	AvatarURL   string
	Emails      []ProfileEmail
}

// ProfileEmail はIdPが返すメールアドレス。
type ProfileEmail struct {
	Email    string
	Primary  bool
	Verified bool
}

// PreferredEmail はプライマリかつ検証済みのメールを優先して返す。
func (p *GitHubProfile) PreferredEmail() string {
	for _, e := range p.Emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	for _, e := range p.Emails {
		if e.Verified {
			return e.Email
		}
	}
	if len(p.Emails) > 0 {
		return p.Emails[0].Email
	}
	return ""
}

// UserProfileUpdate はプロフィール更新の入力。nilのフィールドは変更しない。
type UserProfileUpdate struct {
	DisplayName *string `json:"displayName"`
	AvatarURL   *string `json:"avatarUrl"`
	Email       *string `json:"email"`
}
