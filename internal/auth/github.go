package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	gojson "github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/hitoshi/codetutor/internal/model"
)

const (
	defaultGitHubAPIURL  = "https://api.github.com"
	defaultGitHubTimeout = 10 * time.Second

	// breakerFailureThreshold は回路を開くまでの連続失敗回数。
	breakerFailureThreshold = 5
	breakerOpenTimeout      = 30 * time.Second
)

// GitHubScopes はメールアドレス取得に必要なスコープ。
var GitHubScopes = []string{"user:email"}

// GitHubConfig はGitHub OAuthプロバイダーの設定。
type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string
	APIURL   string

	Timeout time.Duration
}

// GitHubProvider はGitHub OAuth 2.0による認証を提供する。
// 認可コードの交換はx/oauth2、ユーザー情報の取得はREST APIで行い、
// どちらもサーキットブレーカーで保護する。
type GitHubProvider struct {
	oauth      *oauth2.Config
	api        *resty.Client
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*model.GitHubProfile]
	logger     *slog.Logger
}

var _ IdentityProvider = (*GitHubProvider)(nil)

// NewGitHubProvider はGitHubProviderを生成する。
func NewGitHubProvider(cfg GitHubConfig, logger *slog.Logger) *GitHubProvider {
	endpoint := github.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultGitHubAPIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultGitHubTimeout
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}

	api := resty.NewWithClient(httpClient).
		SetBaseURL(cfg.APIURL).
		SetHeader("Accept", "application/vnd.github+json").
		SetHeader("X-GitHub-Api-Version", "2022-11-28").
		SetJSONMarshaler(gojson.Marshal).
		SetJSONUnmarshaler(gojson.Unmarshal)

	p := &GitHubProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       GitHubScopes,
		},
		api:        api,
		httpClient: httpClient,
		logger:     logger,
	}

	p.breaker = gobreaker.NewCircuitBreaker[*model.GitHubProfile](gobreaker.Settings{
		Name:    "github",
		Timeout: breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		// 利用者起因の失敗（不正・期限切れの認可コード）では回路を開かない
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrInvalidCode)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return p
}

// AuthCodeURL はGitHubの認可画面のURLを生成する。
func (p *GitHubProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// Exchange は認可コードをアクセストークンに交換し、プロフィールを取得する。
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*model.GitHubProfile, error) {
	if code == "" {
		return nil, ErrInvalidCode
	}
	return p.breaker.Execute(func() (*model.GitHubProfile, error) {
		return p.exchange(ctx, code)
	})
}

// githubUser はGET /userのレスポンス。
type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
	Email     string `json:"email"`
}

// githubEmail はGET /user/emailsの1要素。
type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func (p *GitHubProvider) exchange(ctx context.Context, code string) (*model.GitHubProfile, error) {
	tok, err := p.oauth.Exchange(context.WithValue(ctx, oauth2.HTTPClient, p.httpClient), code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && (re.ErrorCode == "bad_verification_code" || (re.Response != nil && re.Response.StatusCode < 500)) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCode, re.ErrorCode)
		}
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	var u githubUser
	resp, err := p.api.R().
		SetContext(ctx).
		SetAuthToken(tok.AccessToken).
		SetResult(&u).
		Get("/user")
	if err != nil {
		return nil, fmt.Errorf("user request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("user fetch failed with status %d", resp.StatusCode())
	}
	if u.ID == 0 {
		return nil, fmt.Errorf("empty id in user response")
	}

	profile := &model.GitHubProfile{
		ID:          strconv.FormatInt(u.ID, 10),
		Username:    u.Login,
		DisplayName: u.Name,
		AvatarURL:   u.AvatarURL,
	}

	emails, err := p.fetchEmails(ctx, tok.AccessToken)
	if err != nil {
		// メール一覧が取れなくてもログインは継続する
		p.logger.Warn("failed to fetch github emails",
			slog.String("github_id", profile.ID),
			slog.String("error", err.Error()),
		)
	}
	for _, e := range emails {
		profile.Emails = append(profile.Emails, model.ProfileEmail{
			Email:    e.Email,
			Primary:  e.Primary,
			Verified: e.Verified,
		})
	}
	if len(profile.Emails) == 0 && u.Email != "" {
		profile.Emails = []model.ProfileEmail{{Email: u.Email, Primary: true}}
	}

	return profile, nil
}

func (p *GitHubProvider) fetchEmails(ctx context.Context, accessToken string) ([]githubEmail, error) {
	var emails []githubEmail
	resp, err := p.api.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetResult(&emails).
		Get("/user/emails")
	if err != nil {
		return nil, fmt.Errorf("emails request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("emails fetch failed with status %d", resp.StatusCode())
	}
	return emails, nil
}
