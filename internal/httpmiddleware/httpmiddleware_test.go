package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"instaq/internal/metrics"
)

func TestTokenBucketRefills(t *testing.T) {
	now := time.Date(2026, 10, 11, 9, 0, 0, 0, time.UTC)
	l := NewSimpleTokenBucket(2, 60)
	l.clock = func() time.Time { return now }

	if !l.allow("ip:1") || !l.allow("ip:1") {
		t.Fatal("first two requests should pass")
	}
	if l.allow("ip:1") {
		t.Error("third request should be limited")
	}
	if !l.allow("ip:2") {
		t.Error("buckets must be independent per key")
	}

	now = now.Add(time.Second)
	if !l.allow("ip:1") {
		t.Error("one token should refill after a second at 60/min")
	}
}

func TestGinMiddlewareBy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewSimpleTokenBucket(1, 1)
	r := gin.New()
	r.Use(l.GinMiddlewareBy(func(c *gin.Context) string { return c.GetHeader("X-Caller") }))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	call := func(caller string) int {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("X-Caller", caller)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	if call("a") != http.StatusOK {
		t.Error("first call should pass")
	}
	if call("a") != http.StatusTooManyRequests {
		t.Error("second call from same caller should be limited")
	}
	if call("b") != http.StatusOK {
		t.Error("other caller should pass")
	}
}

func TestRequestMetricsAndHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := metrics.New(nil)
	r := gin.New()
	r.Use(RequestMetrics(m), SecurityHeaders())
	r.GET("/api/attendance/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for _, path := range []string{"/api/attendance/a", "/api/attendance/b", "/nope"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if path != "/nope" && w.Header().Get("X-Frame-Options") != "DENY" {
			t.Errorf("security headers missing on %s", path)
		}
	}

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/api/attendance/:id", "404")); got != 2 {
		t.Errorf("route counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Errorf("unmatched counter = %v, want 1", got)
	}
}
