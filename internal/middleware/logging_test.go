package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/codetutor/internal/metrics"
	"github.com/hitoshi/codetutor/internal/model"
)

type recordingCollector struct {
	metrics.Nop
	statuses []int
	latency  []time.Duration
	limited  []string
}

func (c *recordingCollector) RecordHTTPStatus(code int) { c.statuses = append(c.statuses, code) }
func (c *recordingCollector) RecordRequestLatency(d time.Duration) {
	c.latency = append(c.latency, d)
}
func (c *recordingCollector) RecordRateLimited(scope string) { c.limited = append(c.limited, scope) }

// TestLoggingMiddleware_OneLinePerRequest はリクエストごとにrequest_id付きのJSONが1行出力されることを検証する。
func TestLoggingMiddleware_OneLinePerRequest(t *testing.T) {
	var buf bytes.Buffer
	collector := &recordingCollector{}

	var seenID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusCreated)
	})
	h := NewLoggingMiddleware(bufferLogger(&buf), collector)(inner)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/courses", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("log lines = %d, want 1", len(lines))
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("invalid JSON log: %v", err)
	}
	if entry["msg"] != "http_request" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["status"] != float64(http.StatusCreated) {
		t.Errorf("status = %v, want 201", entry["status"])
	}
	if entry["method"] != http.MethodPost || entry["path"] != "/api/courses" {
		t.Errorf("method/path = %v %v", entry["method"], entry["path"])
	}
	if entry["slow"] != false {
		t.Errorf("slow = %v, want false", entry["slow"])
	}
	id, _ := entry["request_id"].(string)
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("request_id = %q is not a uuid", id)
	}
	if id != seenID || w.Header().Get("X-Request-ID") != id {
		t.Error("request id should be shared with the handler and the response header")
	}
	if len(collector.statuses) != 1 || collector.statuses[0] != http.StatusCreated {
		t.Errorf("recorded statuses = %v", collector.statuses)
	}
	if len(collector.latency) != 1 {
		t.Errorf("recorded latencies = %d, want 1", len(collector.latency))
	}
}

func TestLoggingMiddleware_KeepsValidIncomingRequestID(t *testing.T) {
	var buf bytes.Buffer
	h := NewLoggingMiddleware(bufferLogger(&buf), metrics.Nop{})(okHandler(nil))

	incoming := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", incoming)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != incoming {
		t.Errorf("X-Request-ID = %q, want %q", got, incoming)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "not a uuid\n")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got == "not a uuid\n" {
		t.Error("invalid incoming request id should be replaced")
	}
}

func TestLoggingMiddleware_LevelsAndUserID(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusNotFound, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			setRequestUserID(r.Context(), "user-1")
			w.WriteHeader(tt.status)
		})
		h := NewLoggingMiddleware(bufferLogger(&buf), metrics.Nop{})(inner)
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if entry["level"] != tt.level {
			t.Errorf("status %d: level = %v, want %s", tt.status, entry["level"], tt.level)
		}
		if entry["user_id"] != "user-1" {
			t.Errorf("user_id = %v, want user-1", entry["user_id"])
		}
	}
}

func TestRecoveryMiddleware_Returns500(t *testing.T) {
	var buf bytes.Buffer
	h := NewRecoveryMiddleware(bufferLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != model.ErrCodeInternal {
		t.Errorf("code = %q", body.Code)
	}
	if strings.Contains(w.Body.String(), "boom") {
		t.Error("panic value must not leak to the client")
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Error("panic should be logged")
	}
}

func TestRecoveryMiddleware_LogsRequestIDOfInnerLogger(t *testing.T) {
	var logs logBuffer
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	h := NewRecoveryMiddleware(logs.logger())(
		NewLoggingMiddleware(discardLogger(), metrics.Nop{})(panicking),
	)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	entry := logs.last(t)
	if entry["msg"] != "panic recovered" {
		t.Fatalf("msg = %v", entry["msg"])
	}
	if entry["request_id"] == "" || entry["request_id"] != w.Header().Get("X-Request-ID") {
		t.Errorf("request_id = %v, want %q", entry["request_id"], w.Header().Get("X-Request-ID"))
	}
	if entry["panic"] != "boom" {
		t.Errorf("panic = %v, want boom", entry["panic"])
	}
}

func TestBodyLimitMiddleware(t *testing.T) {
	h := NewBodyLimitMiddleware(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var v map[string]any
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	small := httptest.NewRequest(http.MethodPost, "/api/courses", strings.NewReader(`{"a":1}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, small)
	if w.Code != http.StatusOK {
		t.Errorf("small body status = %d, want 200", w.Code)
	}

	large := httptest.NewRequest(http.MethodPost, "/api/courses", strings.NewReader(`{"a":"`+strings.Repeat("x", 64)+`"}`))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, large)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("large body status = %d, want 413", w.Code)
	}
}
