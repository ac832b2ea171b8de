package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestWrapHandlerCountsStatus(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	h := m.WrapHandler("/predict", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/predict", nil))

	if got := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/predict", "400")); got != 1 {
		t.Fatalf("requests counter %v", got)
	}
}

func TestRecorderHooks(t *testing.T) {
	m := NewMetrics(nil)
	m.TickDone(20 * time.Millisecond)
	m.ZoneScored("lib", 120, 44, "model")
	m.AlertTriggered("lib", "SURGE")
	m.AlertSuppressed("throttled")
	m.SideEffectDropped("email")
	m.BreakerChanged("model", 2)

	if got := testutil.ToFloat64(m.zoneCRI.WithLabelValues("lib")); got != 44 {
		t.Fatalf("cri gauge %v", got)
	}
	if got := testutil.ToFloat64(m.cbState.WithLabelValues("model")); got != 2 {
		t.Fatalf("breaker gauge %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "crowdsense_ticks_total 1") {
		t.Fatalf("exposition missing tick counter:\n%s", rec.Body.String())
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.TickDone(time.Second)
	m.ZoneFailed("x")
	m.AlertTriggered("x", "HIGH")
	m.ObservationDiscarded("stale")
	h := m.WrapHandler("/x", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
}
