package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountsAndPathFallback(t *testing.T) {
	r := newEngine(Metrics())
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "hello") })
	r.GET("/statusonly", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	baseOK := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/ok", "200"))
	base404 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/does-not-exist", "404"))

	for _, p := range []string{"/ok", "/does-not-exist", "/statusonly"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/ok", "200")); got != baseOK+1 {
		t.Fatalf("counter /ok 200 = %v; want %v", got, baseOK+1)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/does-not-exist", "404")); got != base404+1 {
		t.Fatalf("counter 404 fallback = %v; want %v", got, base404+1)
	}
	if inFlight := testutil.ToFloat64(httpInflight); inFlight != 0 {
		t.Fatalf("httpInflight = %v; want 0", inFlight)
	}
}

func TestMetrics_UpgradeSkipsLatency(t *testing.T) {
	r := newEngine(Metrics())
	r.GET("/ws-metrics", func(c *gin.Context) { c.Status(http.StatusSwitchingProtocols) })

	latSeries := testutil.CollectAndCount(httpLat)
	sessions := testutil.CollectAndCount(wsSessions)

	req := httptest.NewRequest(http.MethodGet, "/ws-metrics", nil)
	req.Header.Set("Upgrade", "websocket")
	r.ServeHTTP(httptest.NewRecorder(), req)

	if got := testutil.CollectAndCount(httpLat); got != latSeries {
		t.Fatalf("upgrade added a latency series: %d -> %d", latSeries, got)
	}
	if got := testutil.CollectAndCount(wsSessions); got != 1 || sessions != 1 {
		t.Fatalf("session histogram series = %d", got)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/ws-metrics", "101")); got < 1 {
		t.Fatalf("upgrade not counted")
	}
}
