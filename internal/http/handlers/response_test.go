package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func Test_fail_EnvelopeAndLogLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		status  int
		code    string
		wantLog string
	}{
		{http.StatusInternalServerError, "internal_error", `"level":"error"`},
		{http.StatusBadGateway, ErrCodeUpstreamFailure, `"level":"warn"`},
		{http.StatusNotFound, ErrCodeNotFound, ""},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		logger := zerolog.New(&buf)

		r := gin.New()
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("X-Request-ID", "rid-"+strconv.Itoa(tc.status))
			c.Set("logger", &logger)
			c.Next()
		})
		r.GET("/x", func(c *gin.Context) { fail(c, tc.status, tc.code, "msg") })

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		if w.Code != tc.status {
			t.Fatalf("status=%d want %d", w.Code, tc.status)
		}
		var resp ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("json: %v", err)
		}
		if resp.RequestID != "rid-"+strconv.Itoa(tc.status) || resp.Code != tc.code || resp.Message != "msg" || resp.ResetAt != nil {
			t.Fatalf("unexpected body: %+v", resp)
		}
		if tc.wantLog == "" {
			if buf.Len() != 0 {
				t.Fatalf("%d should not log: %s", tc.status, buf.String())
			}
			continue
		}
		if !strings.Contains(buf.String(), tc.wantLog) || !strings.Contains(buf.String(), `"code":"`+tc.code+`"`) {
			t.Fatalf("%d log=%s", tc.status, buf.String())
		}
	}
}

func Test_SuccessHelpers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ok", func(c *gin.Context) { ok(c, http.StatusCreated, gin.H{"ok": true, "n": 1}) })
	r.DELETE("/gone", func(c *gin.Context) { noContent(c) })
	r.GET("/missing", func(c *gin.Context) { Fail(c, http.StatusNotFound, ErrCodeNotFound, "nope") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w.Code != http.StatusCreated || !strings.Contains(w.Body.String(), `"n":1`) {
		t.Fatalf("ok: %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/gone", nil))
	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Fatalf("noContent: %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), `"code":"not_found"`) {
		t.Fatalf("Fail: %d %s", w.Code, w.Body.String())
	}
}

func Test_failQuota_ResetAtAndRetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	reset := time.Now().Add(90 * time.Second)
	r.POST("/gen", func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-429")
		failQuota(c, reset, "readme quota exhausted")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/gen", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d", w.Code)
	}
	secs, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || secs < 85 || secs > 91 {
		t.Fatalf("Retry-After=%q", w.Header().Get("Retry-After"))
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json: %v", err)
	}
	if er.Code != ErrCodeQuotaExceeded || er.RequestID != "rid-429" || er.ResetAt == nil || !er.ResetAt.Equal(reset.UTC().Truncate(0)) {
		t.Fatalf("unexpected body: %+v", er)
	}
}

func Test_failQuota_PastResetStillAsksToWait(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/q", func(c *gin.Context) { failQuota(c, time.Now().Add(-time.Minute), "x") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/q", nil))
	if w.Header().Get("Retry-After") != "1" {
		t.Fatalf("Retry-After=%q", w.Header().Get("Retry-After"))
	}
}
