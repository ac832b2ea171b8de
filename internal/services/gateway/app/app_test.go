package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	crowd_simulator "github.com/LeonardoBeccarini/crowdsense/internal/crowd-simulator"
	"github.com/LeonardoBeccarini/crowdsense/internal/model/entities"
	"github.com/LeonardoBeccarini/crowdsense/internal/model/messages"
	"github.com/LeonardoBeccarini/crowdsense/internal/observability"
	alert_engine "github.com/LeonardoBeccarini/crowdsense/internal/services/alert-engine"
	"github.com/LeonardoBeccarini/crowdsense/internal/services/events"
	"github.com/LeonardoBeccarini/crowdsense/internal/services/persistence"
	"github.com/LeonardoBeccarini/crowdsense/internal/services/risk"
	"github.com/LeonardoBeccarini/crowdsense/internal/services/scheduler"
)

type fixture struct {
	sched  *scheduler.Scheduler
	store  *persistence.MemoryStore
	events *events.Registry
	srv    *httptest.Server
}

func newFixture(t *testing.T, tick bool) *fixture {
	t.Helper()
	zones := []entities.Zone{
		{ID: "canteen", Name: "Student Canteen", Capacity: 200, BaseDensity: 100, Category: entities.CategorySocial},
		{ID: "lib", Name: "Main Library", Capacity: 500, BaseDensity: 250, Category: entities.CategoryStudy},
	}
	reg, err := events.NewRegistry([]entities.Event{{
		ID: "fair", Name: "Spring Fair", ZoneID: "canteen",
		OrganizerEmail: "org@campus.edu", OrganizerRole: entities.RoleOrganizer,
		Status: entities.EventPending,
	}}, nil, nil, nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	store := persistence.NewMemoryStore(0)
	sched, err := scheduler.New(scheduler.Config{TickInterval: time.Hour}, scheduler.Deps{
		Zones:     zones,
		Estimator: crowd_simulator.NewDensityEstimator(crowd_simulator.Options{}),
		Scorer:    risk.NewScorer(risk.DefaultConfig()),
		Surge:     risk.NewSurgeDetector(0),
		Decider:   alert_engine.NewDecider(alert_engine.DefaultConfig()),
		Store:     store,
		Events:    reg,
		Clock:     crowd_simulator.NewSimulatedClock(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), 5*time.Minute, 8, 20),
	})
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	if tick {
		sched.Tick(context.Background())
	}

	m := observability.NewMetrics(prometheus.NewRegistry())
	g := NewGateway(Config{StaleAfter: time.Minute}, sched, store, reg, m)
	srv := httptest.NewServer(g.Router())
	t.Cleanup(srv.Close)
	return &fixture{sched: sched, store: store, events: reg, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		rd = bytes.NewReader(raw)
	}
	req, _ := http.NewRequest(method, f.srv.URL+path, rd)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestLiveData(t *testing.T) {
	f := newFixture(t, true)
	resp := f.do(t, http.MethodGet, "/live-data", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	set := decode[messages.SnapshotSet](t, resp)
	if set.Tick != 1 || len(set.Zones) != 2 {
		t.Fatalf("set %+v", set)
	}
	if set.Zones["canteen"].Capacity != 200 {
		t.Fatalf("canteen %+v", set.Zones["canteen"])
	}
}

func TestPredictValidation(t *testing.T) {
	f := newFixture(t, false)
	cases := []struct {
		name string
		body any
		want string
	}{
		{"unknown zone", scheduler.PredictRequest{Location: "gym", Hour: 10}, "unknown zone"},
		{"bad hour", scheduler.PredictRequest{Location: "canteen", Hour: 30}, "invalid input"},
		{"malformed", `{"location":`, "invalid json"},
		{"unknown field", `{"location":"canteen","floor":3}`, "invalid json"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/predict", tc.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status %d", resp.StatusCode)
			}
			e := decode[errorResponse](t, resp)
			if !strings.Contains(e.Error, tc.want) {
				t.Fatalf("error %q, want %q", e.Error, tc.want)
			}
		})
	}
}

func TestPredictScores(t *testing.T) {
	f := newFixture(t, false)
	resp := f.do(t, http.MethodPost, "/predict", scheduler.PredictRequest{
		Location: "Main Library", Hour: 11, Weekday: 1, PrevDensity: 300, Prev2Density: 280, RollingMean3: 290,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	out := decode[scheduler.PredictResponse](t, resp)
	if out.Location != "lib" || out.Provenance != messages.ProvenanceFormula {
		t.Fatalf("resp %+v", out)
	}
	if out.CRI < 0 || out.CRI > 100 || out.PredictedDensity <= 0 {
		t.Fatalf("resp %+v", out)
	}
	if out.Alert.Trigger {
		t.Fatalf("no event on lib, preview must not trigger: %+v", out.Alert)
	}

	recs, _ := f.store.RecentPredictions(context.Background(), "lib", 0)
	if len(recs) != 1 || recs[0].Source != "api" {
		t.Fatalf("records %+v", recs)
	}
}

func TestPredictionsAndAlerts(t *testing.T) {
	f := newFixture(t, true)

	resp := f.do(t, http.MethodGet, "/predictions?zone=canteen", nil)
	list := decode[listResponse[messages.PredictionRecord]](t, resp)
	if list.Count != 1 || list.Items[0].ZoneID != "canteen" {
		t.Fatalf("predictions %+v", list)
	}

	resp = f.do(t, http.MethodGet, "/predictions?limit=abc", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/alerts", nil)
	alerts := decode[listResponse[messages.AlertRecord]](t, resp)
	if alerts.Count != 0 || alerts.Items == nil {
		t.Fatalf("alerts %+v", alerts)
	}
}

func TestListingsCapLimit(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	for i := 0; i < 300; i++ {
		_ = f.store.Insert(ctx, persistence.Predictions, messages.PredictionRecord{ZoneID: "lib", CRI: i % 100})
		_ = f.store.Insert(ctx, persistence.Alerts, messages.AlertRecord{ZoneID: "lib", Type: messages.AlertHigh})
	}

	list := decode[listResponse[messages.PredictionRecord]](t, f.do(t, http.MethodGet, "/predictions?limit=300", nil))
	if list.Count != persistence.DefaultPageSize || len(list.Items) != persistence.DefaultPageSize {
		t.Fatalf("predictions count %d", list.Count)
	}
	alerts := decode[listResponse[messages.AlertRecord]](t, f.do(t, http.MethodGet, "/alerts?zone=lib&limit=1000", nil))
	if alerts.Count != persistence.DefaultPageSize {
		t.Fatalf("alerts count %d", alerts.Count)
	}
}

func TestListingsRejectUnknownZone(t *testing.T) {
	f := newFixture(t, true)
	for _, path := range []string{
		"/predictions?zone=atrium",
		"/alerts?zone=" + url.QueryEscape(`lib" or true`),
		"/predictions?zone=" + url.QueryEscape("${x}"),
	} {
		resp := f.do(t, http.MethodGet, path, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status %d", path, resp.StatusCode)
		}
	}
}

func TestZonesCarryLatestReading(t *testing.T) {
	f := newFixture(t, true)
	zones := decode[[]zoneView](t, f.do(t, http.MethodGet, "/zones", nil))
	if len(zones) != 2 || zones[0].ID != "canteen" {
		t.Fatalf("zones %+v", zones)
	}
	if zones[0].Current == nil || zones[0].Status == "" {
		t.Fatalf("missing reading %+v", zones[0])
	}
}

func TestEventStatus(t *testing.T) {
	f := newFixture(t, false)

	resp := f.do(t, http.MethodPut, "/events/fair/status", statusUpdate{Status: "approved"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if ev := decode[entities.Event](t, resp); ev.Status != entities.EventApproved {
		t.Fatalf("event %+v", ev)
	}
	if ev, _ := f.events.Get("fair"); ev.Status != entities.EventApproved {
		t.Fatalf("registry not updated: %+v", ev)
	}

	if resp := f.do(t, http.MethodPut, "/events/nope/status", statusUpdate{Status: "APPROVED"}); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown event status %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPut, "/events/fair/status", statusUpdate{Status: "MAYBE"}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad status %d", resp.StatusCode)
	}

	list := decode[[]entities.Event](t, f.do(t, http.MethodGet, "/events", nil))
	if len(list) != 1 {
		t.Fatalf("events %+v", list)
	}
}

func TestReadiness(t *testing.T) {
	f := newFixture(t, false)
	if resp := f.do(t, http.MethodGet, "/readyz", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("ready before first tick: %d", resp.StatusCode)
	}
	f.sched.Tick(context.Background())
	resp := f.do(t, http.MethodGet, "/readyz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("not ready after tick: %d", resp.StatusCode)
	}
	if h := decode[healthResponse](t, resp); h.Tick != 1 || h.Checks["store"] != "ok" {
		t.Fatalf("health %+v", h)
	}
	if resp := f.do(t, http.MethodGet, "/healthz", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz %d", resp.StatusCode)
	}
}

func TestRouterPlumbing(t *testing.T) {
	f := newFixture(t, true)

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/live-data", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("cors origin %q", got)
	}

	if resp := f.do(t, http.MethodDelete, "/zones", nil); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("delete status %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/nowhere", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("404 status %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/metrics", nil)
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), `http_requests_total{route="/live-data",status="200"}`) {
		t.Fatalf("metrics missing request counter:\n%s", buf.String())
	}
}
