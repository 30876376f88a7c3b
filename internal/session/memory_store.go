package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hitoshi/codetutor/internal/model"
)

// MemoryStore はプロセス内にセッションを保持するStore。
// ハンドラーやミドルウェアのテストでMongoDBの代わりに使う。
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	now      func() time.Time
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]*model.Session{}, now: time.Now}
}

// Get は有効なセッションを返す。
func (s *MemoryStore) Get(_ context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[id]
	if !ok || rec.Expired(s.now()) {
		return nil, nil
	}
	return cloneRecord(rec), nil
}

// Save はセッションを保存する。
func (s *MemoryStore) Save(_ context.Context, rec *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cloneRecord(rec)
	c.UpdatedAt = s.now()
	s.sessions[rec.ID] = c
	return nil
}

// Touch は有効期限を更新する。
func (s *MemoryStore) Touch(_ context.Context, id string, expires time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.sessions[id]; ok {
		rec.Expires = expires
		rec.UpdatedAt = s.now()
	}
	return nil
}

// Destroy はセッションを削除する。
func (s *MemoryStore) Destroy(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok, nil
}

// PurgeExpired は期限切れのセッションを削除する。
func (s *MemoryStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, rec := range s.sessions {
		if rec.Expired(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// Len は保持しているセッション数を返す。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func cloneRecord(rec *model.Session) *model.Session {
	c := *rec
	c.Data = make(map[string]json.RawMessage, len(rec.Data))
	for k, v := range rec.Data {
		c.Data[k] = append(json.RawMessage(nil), v...)
	}
	return &c
}

var _ Store = (*MemoryStore)(nil)
