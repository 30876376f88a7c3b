package validation

import (
	"github.com/hitoshi/codetutor/internal/model"
)

// ユーザー属性の長さ制約
const (
	MinUsernameLength    = 3
	MaxUsernameLength    = 50
	MaxDisplayNameLength = 100
)

type userRules struct {
	Username    string `json:"username" validate:"required,min=3,max=50"`
	Email       string `json:"email" validate:"omitempty,basic_email"`
	DisplayName string `json:"displayName" validate:"max=100"`
	AvatarURL   string `json:"avatarUrl" validate:"omitempty,http_url"`
	Provider    string `json:"provider" validate:"oneof=github local"`
}

// ValidateUser はUserの書き込み前検査を行う。
// 違反がなければnil、あれば*model.ValidationErrorを返す。
func ValidateUser(u *model.User) error {
	provider := u.Provider
	if provider == "" {
		provider = model.ProviderLocal
	}

	ve := validateStruct("user", &userRules{
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Provider:    string(provider),
	})

	switch {
	case provider == model.ProviderGitHub && u.GitHubID == "":
		ve.Add("githubId", "GitHub ID is required for github users")
	case provider == model.ProviderLocal && u.GitHubID != "":
		ve.Add("provider", "Provider must be github when a GitHub ID is set")
	}

	return ve.OrNil()
}
