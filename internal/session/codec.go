package session

import (
	"fmt"
	"time"

	"github.com/gorilla/securecookie"
)

// CookieCodec はセッションIDをHMAC署名付きのCookie値に変換する。
type CookieCodec struct {
	name string
	sc   *securecookie.SecureCookie
}

// NewCookieCodec はsecretをHMAC鍵とするCookieCodecを生成する。
// maxAgeを超えた署名済みの値は検証時に拒否される。
func NewCookieCodec(name string, secret []byte, maxAge time.Duration) *CookieCodec {
	sc := securecookie.New(secret, nil)
	sc.MaxAge(int(maxAge.Seconds()))
	sc.SetSerializer(securecookie.JSONEncoder{})
	return &CookieCodec{name: name, sc: sc}
}

// Encode はセッションIDを署名付きの値にする。
func (c *CookieCodec) Encode(id string) (string, error) {
	v, err := c.sc.Encode(c.name, id)
	if err != nil {
		return "", fmt.Errorf("failed to encode session cookie: %w", err)
	}
	return v, nil
}

// Decode は署名を検証してセッションIDを取り出す。改ざん・期限切れの場合はエラーを返す。
func (c *CookieCodec) Decode(value string) (string, error) {
	var id string
	if err := c.sc.Decode(c.name, value, &id); err != nil {
		return "", fmt.Errorf("failed to decode session cookie: %w", err)
	}
	return id, nil
}
