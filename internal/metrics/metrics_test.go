package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveOffline("asset", "cache", 3*time.Millisecond)
	m.ObserveOffline("page", "", time.Millisecond)
	m.ObserveProxy("events", 200)
	m.ObserveLifecycle("install", errors.New("boom"))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/-/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`ticks_offline_requests_total{classification="asset",source="cache"} 1`,
		`ticks_offline_requests_total{classification="page",source="error"} 1`,
		`ticks_proxy_requests_total{endpoint="events",status="200"} 1`,
		`ticks_lifecycle_events_total{phase="install",result="failed"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, text)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveOffline("other", "network", time.Second)
	m.ObserveProxy("image", 500)
	m.ObserveLifecycle("activate", nil)
}
