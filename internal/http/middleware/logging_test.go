package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

// logLines decodes the captured JSON log lines.
func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	return r
}

func TestRequestID_GenerateAndPropagate(t *testing.T) {
	r := newEngine(RequestID())
	r.GET("/rid", func(c *gin.Context) {
		if RequestIDFrom(c) == "" {
			t.Errorf("requestID not set in context")
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rid", nil))
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected generated %s header", requestIDHeader)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/rid", nil)
	req.Header.Set(strings.ToLower(requestIDHeader), "abc-123")
	r.ServeHTTP(w, req)
	if got := w.Header().Get(requestIDHeader); got != "abc-123" {
		t.Fatalf("expected propagated request id, got %q", got)
	}
}

func TestIdentity_SetsUserID(t *testing.T) {
	r := newEngine(Identity())
	var seen string
	r.GET("/me", func(c *gin.Context) { seen = UserID(c) })

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(UserIDHeader, "  alice ")
	r.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "alice" {
		t.Fatalf("UserID = %q", seen)
	}

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/me", nil))
	if seen != "" {
		t.Fatalf("anonymous UserID = %q", seen)
	}
}

func TestLogger_LevelsByOutcome(t *testing.T) {
	buf := captureLogger(t)
	r := newEngine(RequestID(), Identity(), Logger())
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	r.GET("/err", func(c *gin.Context) {
		_ = c.Error(http.ErrAbortHandler)
		c.Status(http.StatusOK)
	})

	for _, p := range []string{"/ok", "/bad", "/boom", "/err", "/missing"} {
		req := httptest.NewRequest(http.MethodGet, p, nil)
		req.Header.Set(UserIDHeader, "alice")
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	want := []struct{ level, path string }{
		{"info", "/ok"}, {"warn", "/bad"}, {"error", "/boom"}, {"error", "/err"}, {"warn", "/missing"},
	}
	lines := logLines(t, buf)
	if len(lines) != len(want) {
		t.Fatalf("got %d log lines, want %d", len(lines), len(want))
	}
	for i, w := range want {
		if lines[i]["level"] != w.level || lines[i]["path"] != w.path || lines[i]["user_id"] != "alice" {
			t.Fatalf("line %d = %v, want %+v", i, lines[i], w)
		}
		if lines[i]["request_id"] == "" {
			t.Fatalf("line %d has no request id", i)
		}
	}
}

func TestLogger_WebsocketUpgradeLogsSession(t *testing.T) {
	buf := captureLogger(t)
	r := newEngine(RequestID(), Logger())
	r.GET("/ws", func(c *gin.Context) { c.Status(http.StatusSwitchingProtocols) })

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Upgrade", "WebSocket")
	r.ServeHTTP(httptest.NewRecorder(), req)

	lines := logLines(t, buf)
	if len(lines) != 2 || lines[0]["message"] != "websocket upgrade" || lines[1]["message"] != "websocket session ended" {
		t.Fatalf("upgrade logs = %v", lines)
	}
	if _, ok := lines[1]["session"]; !ok {
		t.Fatalf("session duration missing: %v", lines[1])
	}
}

func TestRecovery_WritesJSON500(t *testing.T) {
	captureLogger(t)
	r := newEngine(RequestID(), Recovery())
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	r.GET("/late", func(c *gin.Context) {
		c.String(http.StatusOK, "partial")
		panic("late")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["code"] != "internal_error" || body["request_id"] != w.Header().Get(requestIDHeader) {
		t.Fatalf("body = %v", body)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/late", nil))
	if w.Code != http.StatusOK || w.Body.String() != "partial" {
		t.Fatalf("a started response must be left alone, got %d %q", w.Code, w.Body.String())
	}
}

func TestLoggerFrom_Fallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if LoggerFrom(c) == nil {
		t.Fatalf("expected fallback logger")
	}
	l := zerolog.Nop()
	c.Set(loggerKey, &l)
	if LoggerFrom(c) != &l {
		t.Fatalf("expected the stored logger")
	}
}

func TestTruncate(t *testing.T) {
	if truncate("abc", 0) != "abc" || truncate("abc", 5) != "abc" || truncate("abcdef", 3) != "abc…" {
		t.Fatalf("truncate mismatch")
	}
}
