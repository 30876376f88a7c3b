package authclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	gojson "github.com/goccy/go-json"
)

// fakeServer はCookieでログイン状態を管理するテスト用サーバー。
type fakeServer struct {
	mu          sync.Mutex
	sessions    map[string]bool
	statusCalls int
	failStatus  bool
	failLogout  bool
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	fs := &fakeServer{sessions: map[string]bool{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/login-as-alice", func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.sessions["sid-alice"] = true
		fs.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "code_tutor.sid", Value: "sid-alice", Path: "/"})
	})
	mux.HandleFunc("/api/auth/status", func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		fs.statusCalls++
		if fs.failStatus {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		c, err := r.Cookie("code_tutor.sid")
		if err != nil || !fs.sessions[c.Value] {
			_, _ = io.WriteString(w, `{"isAuthenticated":false,"user":null}`)
			return
		}
		_ = gojson.NewEncoder(w).Encode(map[string]any{
			"isAuthenticated": true,
			"user":            map[string]any{"id": "user-1", "username": "alice", "provider": "github", "isGithubUser": true},
		})
	})
	mux.HandleFunc("/api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if fs.failLogout {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		c, err := r.Cookie("code_tutor.sid")
		if err != nil || !fs.sessions[c.Value] {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"success":false,"message":"no active session"}`)
			return
		}
		delete(fs.sessions, c.Value)
		http.SetCookie(w, &http.Cookie{Name: "code_tutor.sid", Value: "", Path: "/", MaxAge: -1})
		_, _ = io.WriteString(w, `{"success":true}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return fs, srv
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: srv.URL, HTTPClient: srv.Client()}, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// loginViaJar はクライアントのCookie Jarにセッションを持たせる。
func loginViaJar(t *testing.T, c *Client) {
	t.Helper()
	if _, err := c.http.R().Get("/login-as-alice"); err != nil {
		t.Fatalf("login: %v", err)
	}
}

func TestClient_GuardBeforeMountWaits(t *testing.T) {
	_, srv := newFakeServer(t)
	c := newTestClient(t, srv)

	if !c.Loading() {
		t.Error("client should be loading before mount")
	}
	if got := c.Guard("/playground"); got.Decision != Wait {
		t.Errorf("Guard = %v, want wait", got.Decision)
	}
}

func TestClient_MountAnonymousRedirects(t *testing.T) {
	_, srv := newFakeServer(t)
	c := newTestClient(t, srv)

	if err := c.Mount(context.Background()); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if c.Loading() || c.IsAuthenticated() {
		t.Errorf("loading = %v, authenticated = %v", c.Loading(), c.IsAuthenticated())
	}

	got := c.Guard("/playground")
	want := GuardResult{Decision: Redirect, To: "/", From: "/playground"}
	if got != want {
		t.Errorf("Guard = %+v, want %+v", got, want)
	}
}

func TestClient_AuthenticatedRendersAndLogout(t *testing.T) {
	fs, srv := newFakeServer(t)
	c := newTestClient(t, srv)
	loginViaJar(t, c)

	if err := c.Mount(context.Background()); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	u := c.User()
	if u == nil || u.Username != "alice" || !u.IsGitHubUser {
		t.Fatalf("user = %+v", u)
	}
	if got := c.Guard("/playground"); got.Decision != Render {
		t.Errorf("Guard = %v, want render", got.Decision)
	}

	before := fs.statusCalls
	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if c.IsAuthenticated() {
		t.Error("user should be cleared after logout")
	}
	if fs.statusCalls != before+1 {
		t.Errorf("status calls = %d, want revalidation after logout", fs.statusCalls-before)
	}
	if got := c.Guard("/playground"); got.Decision != Redirect {
		t.Errorf("Guard after logout = %v, want redirect", got.Decision)
	}
}

func TestClient_RevalidateFailureClearsUser(t *testing.T) {
	fs, srv := newFakeServer(t)
	c := newTestClient(t, srv)
	loginViaJar(t, c)
	if err := c.Mount(context.Background()); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	fs.mu.Lock()
	fs.failStatus = true
	fs.mu.Unlock()

	err := c.Focus(context.Background())
	if !errors.Is(err, ErrAuthCheckFailed) {
		t.Fatalf("Focus err = %v, want ErrAuthCheckFailed", err)
	}
	if c.IsAuthenticated() {
		t.Error("user should be cleared on failed check")
	}
	if !errors.Is(c.Err(), ErrAuthCheckFailed) {
		t.Errorf("Err() = %v", c.Err())
	}

	c.ClearError()
	if c.Err() != nil {
		t.Error("ClearError should reset the error")
	}
}

func TestClient_LogoutFailureKeepsUser(t *testing.T) {
	fs, srv := newFakeServer(t)
	c := newTestClient(t, srv)
	loginViaJar(t, c)
	if err := c.Mount(context.Background()); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	fs.mu.Lock()
	fs.failLogout = true
	fs.mu.Unlock()

	if err := c.Logout(context.Background()); !errors.Is(err, ErrLogoutFailed) {
		t.Fatalf("Logout err = %v, want ErrLogoutFailed", err)
	}
	if !c.IsAuthenticated() {
		t.Error("user should be kept when logout fails")
	}
	if !errors.Is(c.Err(), ErrLogoutFailed) {
		t.Errorf("Err() = %v", c.Err())
	}
}

func TestClient_ConcurrentRevalidate(t *testing.T) {
	_, srv := newFakeServer(t)
	c := newTestClient(t, srv)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Focus(context.Background())
			_ = c.Guard("/playground")
		}()
	}
	wg.Wait()

	if err := c.Revalidate(context.Background()); err != nil {
		t.Fatalf("Revalidate: %v", err)
	}
	if c.Loading() {
		t.Error("loading should be false after revalidation")
	}
}

func TestClient_GuardPublicPaths(t *testing.T) {
	_, srv := newFakeServer(t)
	c := newTestClient(t, srv)

	// 状態確認前でも公開ページは表示する
	for _, path := range []string{"/", "/login", "/auth/callback"} {
		if got := c.Guard(path); got.Decision != Render {
			t.Errorf("Guard(%q) before mount = %v, want render", path, got.Decision)
		}
	}

	if err := c.Mount(context.Background()); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if got := c.Guard("/login"); got != (GuardResult{Decision: Render}) {
		t.Errorf("Guard(/login) anonymous = %+v, want render", got)
	}
	if got := c.Guard("/playground"); got.Decision != Redirect {
		t.Errorf("Guard(/playground) anonymous = %v, want redirect", got.Decision)
	}
}

func TestClient_LoginURL(t *testing.T) {
	c, err := New(Config{BaseURL: "http://localhost:3000/"}, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.LoginURL(); got != "http://localhost:3000/api/auth/github" {
		t.Errorf("LoginURL = %q", got)
	}
}
