package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/codetutor/internal/session"
)

const testSecret = "test-session-secret-32bytes-long!"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func bufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

func newTestManager() (*session.Manager, *session.MemoryStore) {
	store := session.NewMemoryStore()
	return session.NewManager(store, []byte(testSecret), session.Options{}, session.Hooks{}, discardLogger()), store
}

// okHandler は200を返し、呼び出されたことを記録する。
func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if called != nil {
			*called = true
		}
		w.WriteHeader(http.StatusOK)
	})
}

// withCookies はレスポンスのCookieをリクエストに引き継ぐ。
func withCookies(t *testing.T, req *http.Request, resp *httptest.ResponseRecorder) *http.Request {
	t.Helper()
	for _, c := range resp.Result().Cookies() {
		if c.MaxAge < 0 {
			continue
		}
		req.AddCookie(c)
	}
	return req
}

// logBuffer はJSONログを蓄積し、最後の行を取り出す。
type logBuffer struct {
	bytes.Buffer
}

func (b *logBuffer) logger() *slog.Logger {
	return bufferLogger(&b.Buffer)
}

func (b *logBuffer) last(t *testing.T) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(b.Bytes()), []byte("\n"))
	var entry map[string]any
	if err := json.Unmarshal(lines[len(lines)-1], &entry); err != nil {
		t.Fatalf("invalid JSON log: %v", err)
	}
	return entry
}
