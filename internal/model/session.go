package model

import (
	"encoding/json"
	"time"
)

// Session はサーバーサイドセッションの永続化レコード。
// ユーザーはIDのみを保持し、リクエストごとに解決する。
// Dataは認証試行回数などセッション単位の任意の値をJSONで保持する。
type Session struct {
	ID        string
	UserID    string
	Data      map[string]json.RawMessage
	Expires   time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired は指定時刻時点で期限切れかどうかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !s.Expires.After(now)
}
