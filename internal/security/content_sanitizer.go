// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService はコースの自由入力テキストをサニタイズし、
// 保存済みコンテンツ経由のXSSからユーザーを保護する。
// 説明文は許可リストベースのポリシーで安全なタグのみを通過させ、
// タイトルやトピックなどのプレーンテキストはすべてのタグを除去する。
package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/codetutor/internal/model"
)

// ContentSanitizerService はコース入力のサニタイズ機能のインターフェースを定義する。
type ContentSanitizerService interface {
	// Sanitize は説明文のHTMLをサニタイズして安全なHTMLを返す。
	// 許可タグ（p, br, a, ul, ol, li, blockquote, pre, code, strong, em, img）のみを通過させる。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(rawHTML string) string

	// PlainText はすべてのタグを除去し、前後の空白を取り除いたテキストを返す。
	PlainText(s string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type contentSanitizer struct {
	policy *bluemonday.Policy
	strict *bluemonday.Policy
}

var _ ContentSanitizerService = (*contentSanitizer)(nil)

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// ポリシーの内容:
//   - 許可タグ: p, br, a, ul, ol, li, blockquote, pre, code, strong, em, img
//   - imgのsrc属性: httpsスキームのみ許可
//   - aタグ: target="_blank" と rel="noopener noreferrer" を自動付与
//   - プレーンテキスト: bluemonday.StrictPolicy
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	// script, iframe, style等は許可リストに含めないことで除去される
	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src").OnElements("img")
	p.AllowAttrs("alt").OnElements("img")
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return true
	})

	return &contentSanitizer{
		policy: p,
		strict: bluemonday.StrictPolicy(),
	}
}

// Sanitize は説明文のHTMLをサニタイズして安全なHTMLを返す。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return strings.TrimSpace(s.policy.Sanitize(rawHTML))
}

// PlainText はタグを除去したテキストを返す。
// StrictPolicyはエンティティをエスケープするため、JSONで返す値として元の文字に戻す。
func (s *contentSanitizer) PlainText(in string) string {
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(in)))
}

// SanitizeCourse はコースの自由入力フィールドをその場でサニタイズする。
// 埋め込みコンテンツのdataは種別ごとの不透明なペイロードのため対象外。
func SanitizeCourse(s ContentSanitizerService, c *model.Course) {
	c.Title = s.PlainText(c.Title)
	c.Description = s.Sanitize(c.Description)
	for i, t := range c.Topics {
		c.Topics[i] = s.PlainText(t)
	}
	for i := range c.Content {
		c.Content[i].Title = s.PlainText(c.Content[i].Title)
		c.Content[i].Description = s.Sanitize(c.Content[i].Description)
	}
}
