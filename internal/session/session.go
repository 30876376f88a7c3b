// Package session はサーバーサイドセッションを提供する。
//
// セッション本体はStore（MongoDB）に保存し、ブラウザには署名付きCookieで
// セッションIDのみを渡す。ユーザーはIDのみを保持する弱参照で、
// リクエストごとにリポジトリから解決する。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/hitoshi/codetutor/internal/model"
)

// AuthAttemptsKey は認証エンドポイントの試行回数を保持するキー。
// ログインでIDを再生成しても引き継ぐ。
const AuthAttemptsKey = "authAttempts"

// Store はセッションの永続化先のインターフェース。
type Store interface {
	Get(ctx context.Context, id string) (*model.Session, error)
	Save(ctx context.Context, session *model.Session) error
	Touch(ctx context.Context, id string, expires time.Time) error
	Destroy(ctx context.Context, id string) (bool, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Session はリクエスト中に操作するセッション。
// 値を変更した場合はManager.Saveで永続化する。
type Session struct {
	id        string
	userID    string
	values    map[string]json.RawMessage
	expires   time.Time
	createdAt time.Time

	isNew     bool
	modified  bool
	destroyed bool
	previous  string // Regenerate前のID
}

func newSession() (*Session, error) {
	id, err := generateID()
	if err != nil {
		return nil, err
	}
	return &Session{
		id:     id,
		values: map[string]json.RawMessage{},
		isNew:  true,
	}, nil
}

func fromRecord(rec *model.Session) *Session {
	values := rec.Data
	if values == nil {
		values = map[string]json.RawMessage{}
	}
	return &Session{
		id:        rec.ID,
		userID:    rec.UserID,
		values:    values,
		expires:   rec.Expires,
		createdAt: rec.CreatedAt,
	}
}

func (s *Session) toRecord() *model.Session {
	return &model.Session{
		ID:        s.id,
		UserID:    s.userID,
		Data:      s.values,
		Expires:   s.expires,
		CreatedAt: s.createdAt,
	}
}

// ID はセッションIDを返す。
func (s *Session) ID() string { return s.id }

// UserID は認証済みユーザーのIDを返す。未認証の場合は空文字。
func (s *Session) UserID() string { return s.userID }

// IsAuthenticated はユーザーが紐付いているかどうかを返す。
func (s *Session) IsAuthenticated() bool { return s.userID != "" }

// IsNew はまだ保存されていないセッションかどうかを返す。
func (s *Session) IsNew() bool { return s.isNew }

// Expires は有効期限を返す。未保存の場合はゼロ値。
func (s *Session) Expires() time.Time { return s.expires }

// SetUserID はユーザーを紐付ける。
func (s *Session) SetUserID(userID string) {
	s.userID = userID
	s.modified = true
}

// ClearUser はユーザーの紐付けを解除する。
func (s *Session) ClearUser() {
	if s.userID == "" {
		return
	}
	s.userID = ""
	s.modified = true
}

// Get はkeyの値をdstにデコードする。値がなければfalseを返す。
func (s *Session) Get(key string, dst any) (bool, error) {
	raw, ok := s.values[key]
	if !ok {
		return false, nil
	}
	if err := gojson.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("failed to decode session value %q: %w", key, err)
	}
	return true, nil
}

// Set はkeyに値を設定する。
func (s *Session) Set(key string, v any) error {
	raw, err := gojson.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode session value %q: %w", key, err)
	}
	s.values[key] = raw
	s.modified = true
	return nil
}

// Delete はkeyの値を削除する。
func (s *Session) Delete(key string) {
	if _, ok := s.values[key]; !ok {
		return
	}
	delete(s.values, key)
	s.modified = true
}

// empty はユーザーも値も持たないかどうかを返す。未初期化のセッションは保存しない。
func (s *Session) empty() bool {
	return s.userID == "" && len(s.values) == 0
}

// generateID は暗号論的に安全なランダムなセッションIDを生成する（32バイト、hex）。
func generateID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}
	return hex.EncodeToString(b), nil
}

type contextKey struct{}

// NewContext はセッションを格納したコンテキストを返す。
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext はコンテキストからセッションを取り出す。
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok && s != nil
}
