package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// 既定値
const (
	DefaultCookieName    = "code_tutor.sid"
	DefaultMaxAge        = 24 * time.Hour
	DefaultTouchInterval = time.Hour
)

// Options はCookieと有効期限の設定。
type Options struct {
	CookieName string
	MaxAge     time.Duration
	// TouchInterval は期限延長をストアへ書き込む最小間隔。
	TouchInterval time.Duration
	Secure        bool
	SameSite      http.SameSite
	Domain        string
}

// Hooks はセッションの作成・破棄時に呼ばれる。ログとメトリクス専用。
type Hooks struct {
	OnCreate  func(s *Session)
	OnDestroy func(id string)
}

// Manager はCookieとストアを結びつけてセッションを読み書きする。
type Manager struct {
	store  Store
	codec  *CookieCodec
	opts   Options
	hooks  Hooks
	logger *slog.Logger
	now    func() time.Time
}

// NewManager はManagerを生成する。
func NewManager(store Store, secret []byte, opts Options, hooks Hooks, logger *slog.Logger) *Manager {
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.TouchInterval <= 0 {
		opts.TouchInterval = DefaultTouchInterval
	}
	if opts.SameSite == http.SameSiteNoneMode {
		opts.Secure = true
	}
	return &Manager{
		store:  store,
		codec:  NewCookieCodec(opts.CookieName, secret, opts.MaxAge),
		opts:   opts,
		hooks:  hooks,
		logger: logger,
		now:    time.Now,
	}
}

// CookieName はセッションCookieの名前を返す。
func (m *Manager) CookieName() string { return m.opts.CookieName }

// Load はリクエストのCookieからセッションを読み込む。
// Cookieがない・改ざんされている・期限切れの場合は未保存の新しいセッションを返す。
// ストアのエラーはそのまま返し、呼び出し側でリクエストを失敗させる。
func (m *Manager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(m.opts.CookieName)
	if err != nil {
		return newSession()
	}

	id, err := m.codec.Decode(cookie.Value)
	if err != nil {
		m.logger.Debug("invalid session cookie", slog.String("error", err.Error()))
		return newSession()
	}

	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if rec == nil || rec.Expired(m.now()) {
		return newSession()
	}

	return fromRecord(rec), nil
}

// Save は変更されたセッションを保存し、Cookieを設定する。
// ユーザーも値も持たない新規セッションは保存しない。
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if s.destroyed {
		return nil
	}
	if s.isNew && s.empty() {
		return nil
	}
	if !s.isNew && !s.modified {
		return nil
	}

	if s.previous != "" {
		if _, err := m.store.Destroy(ctx, s.previous); err != nil {
			return fmt.Errorf("failed to destroy previous session: %w", err)
		}
		if m.hooks.OnDestroy != nil {
			m.hooks.OnDestroy(s.previous)
		}
		s.previous = ""
	}

	now := m.now()
	if s.createdAt.IsZero() {
		s.createdAt = now
	}
	s.expires = now.Add(m.opts.MaxAge)

	if err := m.store.Save(ctx, s.toRecord()); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	created := s.isNew
	s.isNew = false
	s.modified = false

	if err := m.setCookie(w, s); err != nil {
		return err
	}

	if created && m.hooks.OnCreate != nil {
		m.hooks.OnCreate(s)
	}
	return nil
}

// Refresh は保存済みセッションの有効期限をローリングで延長し、Cookieを再発行する。
// ストアへの書き込みはTouchIntervalごとに1回に抑える。
func (m *Manager) Refresh(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if s.isNew || s.destroyed {
		return nil
	}

	now := m.now()
	if s.expires.Sub(now) <= m.opts.MaxAge-m.opts.TouchInterval {
		expires := now.Add(m.opts.MaxAge)
		if err := m.store.Touch(ctx, s.id, expires); err != nil {
			return fmt.Errorf("failed to touch session: %w", err)
		}
		s.expires = expires
	}

	return m.setCookie(w, s)
}

// Regenerate はセッションIDを新しくし、keepに挙げたキー以外の値を破棄する。
// 古いセッションは次回のSaveで削除される。ログイン直後のセッション固定化対策。
func (m *Manager) Regenerate(s *Session, keep ...string) error {
	id, err := generateID()
	if err != nil {
		return err
	}
	if !s.isNew && s.previous == "" {
		s.previous = s.id
	}
	values := make(map[string]json.RawMessage, len(keep))
	for _, k := range keep {
		if v, ok := s.values[k]; ok {
			values[k] = v
		}
	}
	s.id = id
	s.userID = ""
	s.values = values
	s.createdAt = time.Time{}
	s.isNew = true
	s.modified = true
	return nil
}

// Destroy はセッションを削除し、Cookieを無効化する。
// 保存済みのセッションが存在した場合はtrueを返す。
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, s *Session) (bool, error) {
	if s.destroyed {
		return false, nil
	}

	existed := false
	if !s.isNew {
		ok, err := m.store.Destroy(ctx, s.id)
		if err != nil {
			return false, fmt.Errorf("failed to destroy session: %w", err)
		}
		existed = ok
	}

	s.destroyed = true
	s.userID = ""
	s.values = map[string]json.RawMessage{}
	m.clearCookie(w)

	if existed && m.hooks.OnDestroy != nil {
		m.hooks.OnDestroy(s.id)
	}
	return existed, nil
}

// PurgeExpired は期限切れのセッションを削除する。
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	return m.store.PurgeExpired(ctx, m.now())
}

func (m *Manager) setCookie(w http.ResponseWriter, s *Session) error {
	value, err := m.codec.Encode(s.id)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    value,
		Path:     "/",
		Domain:   m.opts.Domain,
		Expires:  s.expires,
		MaxAge:   int(m.opts.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: m.opts.SameSite,
	})
	return nil
}

func (m *Manager) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   m.opts.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: m.opts.SameSite,
	})
}
