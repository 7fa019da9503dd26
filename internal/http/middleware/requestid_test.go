package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestRequestID_ReusesWellFormedAndReplacesOthers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/rid", func(c *gin.Context) { c.String(http.StatusOK, RequestIDFrom(c)) })

	cases := map[string]bool{ // inbound -> kept
		"":                        false,
		"batch-7.retry:2":         true,
		"has space":               false,
		"line\nbreak":             false,
		strings.Repeat("a", 129):  false,
		"0b0c8f4e-2f7a-4c61-9d2a": true,
	}
	for in, kept := range cases {
		req := httptest.NewRequest(http.MethodGet, "/rid", nil)
		if in != "" {
			req.Header[HeaderRequestID] = []string{in}
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		got := w.Header().Get(HeaderRequestID)
		if got != w.Body.String() {
			t.Fatalf("%q: header %q differs from context %q", in, got, w.Body.String())
		}
		if kept && got != in {
			t.Fatalf("%q should be reused, got %q", in, got)
		}
		if !kept {
			if _, err := uuid.Parse(got); err != nil {
				t.Fatalf("%q should be replaced by a uuid, got %q", in, got)
			}
		}
	}
}

func TestLoggerFrom_ScopedAndFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogs(t)

	bare := gin.New()
	bare.GET("/log", func(c *gin.Context) { LoggerFrom(c).Info().Msg("bare") })
	bare.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/log", nil))
	if !strings.Contains(buf.String(), `"message":"bare"`) || strings.Contains(buf.String(), "request_id") {
		t.Fatalf("fallback logger: %s", buf.String())
	}
	buf.Reset()

	scoped := gin.New()
	scoped.Use(RequestID())
	scoped.Use(func(c *gin.Context) { setUser(c, "u-3"); c.Next() })
	scoped.GET("/log", func(c *gin.Context) { LoggerFrom(c).Info().Msg("scoped") })
	req := httptest.NewRequest(http.MethodGet, "/log", nil)
	req.Header.Set(HeaderRequestID, "rid-9")
	scoped.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line: %v (%s)", err, buf.String())
	}
	if line["request_id"] != "rid-9" || line["user_id"] != "u-3" {
		t.Fatalf("scoped fields missing: %v", line)
	}
}

func TestRecovery_PanicBecomesEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogs(t)

	r := gin.New()
	r.Use(RequestID(), Recovery())
	r.GET("/jobs/:id", func(c *gin.Context) { panic("nil provider") })

	req := httptest.NewRequest(http.MethodGet, "/jobs/j1", nil)
	req.Header.Set(HeaderRequestID, "rid-p")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if w.Code != http.StatusInternalServerError || body["code"] != "internal_error" || body["request_id"] != "rid-p" {
		t.Fatalf("unexpected %d %v", w.Code, body)
	}
	logs := buf.String()
	if !strings.Contains(logs, `"panic":"nil provider"`) || !strings.Contains(logs, `"route":"/jobs/:id"`) || !strings.Contains(logs, `"request_id":"rid-p"`) {
		t.Fatalf("panic log incomplete: %s", logs)
	}
}

func TestRecovery_AfterWriteOnlyAborts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	captureLogs(t)

	r := gin.New()
	r.Use(Recovery())
	r.GET("/csv", func(c *gin.Context) {
		c.String(http.StatusOK, "clip_id,status\n")
		panic("row encoder")
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/csv", nil))
	if strings.Contains(w.Body.String(), "internal_error") {
		t.Fatalf("envelope appended to a started body: %q", w.Body.String())
	}
}

func TestRecovery_AbortHandlerIsSilent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogs(t)

	r := gin.New()
	r.Use(Recovery())
	r.GET("/events", func(c *gin.Context) { panic(http.ErrAbortHandler) })
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/events", nil))
	if buf.Len() != 0 {
		t.Fatalf("client aborts should not be logged: %s", buf.String())
	}
}
