package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	ticksTotal      prometheus.Counter
	tickDuration    prometheus.Histogram
	zoneFailures    *prometheus.CounterVec
	zoneDensity     *prometheus.GaugeVec
	zoneCRI         *prometheus.GaugeVec
	provenanceTotal *prometheus.CounterVec

	alertsTriggered  *prometheus.CounterVec
	alertsSuppressed *prometheus.CounterVec

	sideEffectsDropped *prometheus.CounterVec
	sideEffectsFailed  *prometheus.CounterVec

	observationsDiscarded *prometheus.CounterVec
	cbState               *prometheus.GaugeVec
}

// NewMetrics registers every collector on reg; a nil reg gets a fresh registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: reg,
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		ticksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crowdsense_ticks_total",
			Help: "Scheduler ticks completed.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crowdsense_tick_duration_seconds",
			Help:    "Time spent evaluating every zone in one tick.",
			Buckets: prometheus.DefBuckets,
		}),
		zoneFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crowdsense_zone_failures_total",
			Help: "Zone evaluations that panicked and kept their previous snapshot.",
		}, []string{"zone"}),
		zoneDensity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crowdsense_zone_density",
			Help: "Latest estimated head count per zone.",
		}, []string{"zone"}),
		zoneCRI: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crowdsense_zone_cri",
			Help: "Latest crowd risk index per zone.",
		}, []string{"zone"}),
		provenanceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crowdsense_density_source_total",
			Help: "Density steps by source (formula, model, observed).",
		}, []string{"source"}),
		alertsTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crowdsense_alerts_triggered_total",
			Help: "Alerts dispatched by zone and type.",
		}, []string{"zone", "type"}),
		alertsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crowdsense_alerts_suppressed_total",
			Help: "Alert evaluations that did not dispatch, by reason.",
		}, []string{"reason"}),
		sideEffectsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crowdsense_side_effects_dropped_total",
			Help: "Side effects dropped because the worker queue was full.",
		}, []string{"kind"}),
		sideEffectsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crowdsense_side_effects_failed_total",
			Help: "Side effects that returned an error.",
		}, []string{"kind"}),
		observationsDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crowdsense_observations_discarded_total",
			Help: "Observations not used, by reason.",
		}, []string{"reason"}),
		cbState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cb_state",
			Help: "Circuit breaker state gauge (0 closed, 1 half, 2 open).",
		}, []string{"target"}),
	}

	reg.MustRegister(
		m.httpRequestsTotal,
		m.httpDuration,
		m.ticksTotal,
		m.tickDuration,
		m.zoneFailures,
		m.zoneDensity,
		m.zoneCRI,
		m.provenanceTotal,
		m.alertsTriggered,
		m.alertsSuppressed,
		m.sideEffectsDropped,
		m.sideEffectsFailed,
		m.observationsDiscarded,
		m.cbState,
	)

	m.cbState.WithLabelValues("model").Set(0)
	m.cbState.WithLabelValues("smtp").Set(0)

	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		duration := time.Since(start).Seconds()
		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(duration)
		}
	})
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TickDone(d time.Duration) {
	if m == nil {
		return
	}
	m.ticksTotal.Inc()
	m.tickDuration.Observe(d.Seconds())
}

func (m *Metrics) ZoneFailed(zone string) {
	if m == nil {
		return
	}
	m.zoneFailures.WithLabelValues(zone).Inc()
}

func (m *Metrics) ZoneScored(zone string, density float64, cri int, source string) {
	if m == nil {
		return
	}
	m.zoneDensity.WithLabelValues(zone).Set(density)
	m.zoneCRI.WithLabelValues(zone).Set(float64(cri))
	m.provenanceTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) AlertTriggered(zone, typ string) {
	if m == nil {
		return
	}
	m.alertsTriggered.WithLabelValues(zone, typ).Inc()
}

func (m *Metrics) AlertSuppressed(reason string) {
	if m == nil {
		return
	}
	m.alertsSuppressed.WithLabelValues(reason).Inc()
}

func (m *Metrics) SideEffectDropped(kind string) {
	if m == nil {
		return
	}
	m.sideEffectsDropped.WithLabelValues(kind).Inc()
}

func (m *Metrics) SideEffectFailed(kind string) {
	if m == nil {
		return
	}
	m.sideEffectsFailed.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObservationDiscarded(reason string) {
	if m == nil {
		return
	}
	m.observationsDiscarded.WithLabelValues(reason).Inc()
}

// BreakerChanged matches the breaker hooks of the model and SMTP clients.
func (m *Metrics) BreakerChanged(name string, state float64) {
	if m == nil {
		return
	}
	m.cbState.WithLabelValues(name).Set(state)
}
