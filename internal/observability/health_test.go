package observability_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/observability"
)

func TestReadiness_NotReadyUntilSet(t *testing.T) {
	h := observability.NewHealthChecker()

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("before SetReady: got %d, want 503", rec.Code)
	}

	h.SetReady(true)
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("after SetReady: got %d, want 200", rec.Code)
	}
}

func TestReadiness_FailingProbe(t *testing.T) {
	h := observability.NewHealthChecker()
	h.SetReady(true)
	h.Register("postgres", func(ctx context.Context) error { return errors.New("connection refused") })
	h.Register("nats", func(ctx context.Context) error { return nil })

	failures := h.Check(context.Background())
	if len(failures) != 1 || failures["postgres"] != "connection refused" {
		t.Errorf("failures: got %v", failures)
	}

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("got %d, want 503", rec.Code)
	}
}

func TestLiveness(t *testing.T) {
	rec := httptest.NewRecorder()
	observability.NewHealthChecker().LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("got %d, want 200", rec.Code)
	}
}

func TestMetrics_IsolatedRegistry(t *testing.T) {
	// Two registries must not collide.
	a := observability.NewMetrics(prometheus.NewRegistry())
	observability.NewMetrics(prometheus.NewRegistry())

	a.SetChannelMetrics("persist", 25, 100)
	if got := testutil.ToFloat64(a.ChannelUtilization.WithLabelValues("persist")); got != 0.25 {
		t.Errorf("utilization: got %v, want 0.25", got)
	}
}
