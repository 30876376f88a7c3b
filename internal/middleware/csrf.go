package middleware

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/gorilla/securecookie"

	"github.com/hitoshi/codetutor/internal/model"
)

// ダブルサブミットCookie方式のCSRF対策。
// トークンはHttpOnlyでないCookieで配り、フロントエンドが同じ値をヘッダーで送り返す。
const (
	csrfCookieName = "csrf_token"
	csrfHeaderName = "X-CSRF-Token"
	csrfTokenBytes = 32
	csrfCookieTTL  = 24 * time.Hour
)

var errCSRFTokenGeneration = errors.New("failed to generate CSRF token")

// CSRFConfig はCSRFミドルウェアの設定。
type CSRFConfig struct {
	CookieSecure bool
	CookieDomain string
	Logger       *slog.Logger
}

// csrfGuard はトークンの発行と照合を行う。
type csrfGuard struct {
	secure bool
	domain string
	logger *slog.Logger
}

func newCSRFGuard(config CSRFConfig) *csrfGuard {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &csrfGuard{secure: config.CookieSecure, domain: config.CookieDomain, logger: logger}
}

type csrfTokenResponse struct {
	Token string `json:"token"`
}

// NewCSRFMiddleware はCSRFミドルウェアを返す。
// GET・HEAD・OPTIONSは照合せずに通し、トークンCookieがなければ発行する。
// それ以外のメソッドはCookieとX-CSRF-Tokenヘッダーの一致を要求し、不一致なら403を返す。
func NewCSRFMiddleware(config CSRFConfig) func(next http.Handler) http.Handler {
	g := newCSRFGuard(config)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				if g.cookieToken(r) == "" {
					if _, err := g.issue(w); err != nil {
						g.logger.Error(err.Error(), slog.String("request_id", RequestIDFromContext(r.Context())))
					}
				}
			default:
				if reason := g.verify(r); reason != "" {
					g.reject(w, r, reason)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewCSRFTokenHandler はGET /api/csrf-tokenのハンドラーを返す。
// 発行済みのCookieがあればその値を返す。
func NewCSRFTokenHandler(config CSRFConfig) http.Handler {
	g := newCSRFGuard(config)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := g.cookieToken(r)
		if token == "" {
			var err error
			if token, err = g.issue(w); err != nil {
				g.logger.Error(err.Error(), slog.String("request_id", RequestIDFromContext(r.Context())))
				WriteInternalServerError(w)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = gojson.NewEncoder(w).Encode(csrfTokenResponse{Token: token})
	})
}

func (g *csrfGuard) cookieToken(r *http.Request) string {
	c, err := r.Cookie(csrfCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// verify は照合に失敗した理由を返す。成功時は空文字。
func (g *csrfGuard) verify(r *http.Request) string {
	cookie := g.cookieToken(r)
	header := r.Header.Get(csrfHeaderName)
	switch {
	case cookie == "":
		return "missing cookie token"
	case header == "":
		return "missing header token"
	case subtle.ConstantTimeCompare([]byte(cookie), []byte(header)) != 1:
		return "token mismatch"
	}
	return ""
}

func (g *csrfGuard) reject(w http.ResponseWriter, r *http.Request, reason string) {
	g.logger.Warn("csrf check rejected request",
		slog.String("reason", reason),
		slog.String("request_id", RequestIDFromContext(r.Context())),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)
	WriteErrorResponse(w, http.StatusForbidden, &model.APIError{
		Code:     model.ErrCodeForbidden,
		Message:  "CSRF token validation failed",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	})
}

// issue は新しいトークンを生成してCookieに設定する。
func (g *csrfGuard) issue(w http.ResponseWriter) (string, error) {
	key := securecookie.GenerateRandomKey(csrfTokenBytes)
	if key == nil {
		return "", errCSRFTokenGeneration
	}
	token := hex.EncodeToString(key)

	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		Domain:   g.domain,
		MaxAge:   int(csrfCookieTTL.Seconds()),
		HttpOnly: false,
		Secure:   g.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}
