package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func newAuthLimitRouter(now func() time.Time, collector *recordingCollector) http.Handler {
	mgr, _ := newTestManager()
	r := chi.NewRouter()
	r.Use(NewSessionMiddleware(mgr, discardLogger()))
	r.With(NewAuthAttemptLimiter(AuthAttemptConfig{Now: now}, mgr, collector, discardLogger())).
		Get("/api/auth/github", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusFound)
		})
	return r
}

// TestAuthAttemptLimiter_SixthAttemptIsRejected は同一セッションからの6回目の試行が429になることを検証する。
func TestAuthAttemptLimiter_SixthAttemptIsRejected(t *testing.T) {
	collector := &recordingCollector{}
	h := newAuthLimitRouter(nil, collector)

	var prev *httptest.ResponseRecorder
	for i := 1; i <= 6; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/github", nil)
		if prev != nil {
			req = withCookies(t, req, prev)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		want := http.StatusFound
		if i == 6 {
			want = http.StatusTooManyRequests
		}
		if w.Code != want {
			t.Fatalf("attempt %d: status = %d, want %d", i, w.Code, want)
		}
		prev = w
	}

	if len(collector.limited) != 1 || collector.limited[0] != "auth" {
		t.Errorf("rate limited scopes = %v, want [auth]", collector.limited)
	}
	if prev.Header().Get("Retry-After") == "" {
		t.Error("Retry-After should be set")
	}
}

func TestAuthAttemptLimiter_SeparateSessions(t *testing.T) {
	h := newAuthLimitRouter(nil, &recordingCollector{})

	// Cookieを持たないリクエストは毎回新しいセッションになる
	for i := 0; i < 8; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth/github", nil))
		if w.Code != http.StatusFound {
			t.Fatalf("request %d: status = %d, want 302", i+1, w.Code)
		}
	}
}

func TestAuthAttemptLimiter_WindowReset(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	h := newAuthLimitRouter(clock, &recordingCollector{})

	var prev *httptest.ResponseRecorder
	send := func() int {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/github", nil)
		if prev != nil {
			req = withCookies(t, req, prev)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		prev = w
		return w.Code
	}

	for i := 0; i < DefaultAuthMaxAttempts; i++ {
		send()
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", code)
	}

	now = now.Add(DefaultAuthWindow + time.Second)
	if code := send(); code != http.StatusFound {
		t.Errorf("status after window = %d, want 302", code)
	}
}
