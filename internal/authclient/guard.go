package authclient

import "log/slog"

// Decision は保護されたページの表示判定。
type Decision int

const (
	// Wait はログイン状態の確認中。
	Wait Decision = iota
	// Render はページを表示する。
	Render
	// Redirect はトップページへ遷移させる。
	Redirect
)

func (d Decision) String() string {
	switch d {
	case Wait:
		return "wait"
	case Render:
		return "render"
	case Redirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// GuardResult はGuardの結果。RedirectのときのみToとFromを持つ。
type GuardResult struct {
	Decision Decision
	To       string
	// From はログイン後に戻る元のパス。
	From string
}

// Guard はpathのページを表示してよいかを判定する。公開ページは状態確認を待たずに表示する。
func (c *Client) Guard(path string) GuardResult {
	if isPublicPath(path) {
		return GuardResult{Decision: Render}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.loading:
		return GuardResult{Decision: Wait}
	case c.user != nil:
		return GuardResult{Decision: Render}
	default:
		c.logger.Warn("unauthorized access attempt", slog.String("path", path))
		return GuardResult{Decision: Redirect, To: "/", From: path}
	}
}

// isPublicPath は認証なしで表示できるページかどうかを返す。
func isPublicPath(path string) bool {
	return publicPaths[path]
}
