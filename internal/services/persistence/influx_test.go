package persistence

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/query"

	"github.com/LeonardoBeccarini/crowdsense/internal/model/messages"
)

func TestInfluxConfigValidate(t *testing.T) {
	if _, err := NewInfluxStore(InfluxConfig{URL: "http://influx:8086"}); err == nil {
		t.Fatalf("expected error for incomplete config")
	}
}

func TestInfluxStoreWritesLineProtocol(t *testing.T) {
	var (
		mu    sync.Mutex
		lines []string
		fail  bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/write" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		lines = append(lines, string(body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s, err := NewInfluxStore(InfluxConfig{URL: srv.URL, Token: "t", Org: "campus", Bucket: "crowd"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	rec := messages.PredictionRecord{ZoneID: "lib", Density: 120, Capacity: 500, CRI: 40, Source: "scheduler",
		Timestamp: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)}
	if err := s.Insert(ctx, Predictions, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !s.Healthy() {
		t.Fatalf("store unhealthy after a good write")
	}

	mu.Lock()
	if len(lines) != 1 || !strings.HasPrefix(lines[0], measurementPrediction+",") || !strings.Contains(lines[0], "zone=lib") {
		mu.Unlock()
		t.Fatalf("unexpected line protocol %q", lines)
	}
	fail = true
	mu.Unlock()

	if err := s.Insert(ctx, Alerts, messages.AlertRecord{ZoneID: "lib", Type: messages.AlertHigh}); err == nil {
		t.Fatalf("expected write error")
	}
	if s.Healthy() {
		t.Fatalf("store healthy right after a failed write")
	}
}

func TestInfluxStoreRejectsZoneBeforeQuerying(t *testing.T) {
	var queries int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, err := NewInfluxStore(InfluxConfig{URL: srv.URL, Token: "t", Org: "campus", Bucket: "crowd"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if _, err := s.RecentPredictions(ctx, `lib${"x"}`, 0); !errors.Is(err, ErrInvalidZone) {
		t.Fatalf("predictions err=%v", err)
	}
	if _, err := s.RecentAlerts(ctx, `lib") or (r.zone != "`, 0); !errors.Is(err, ErrInvalidZone) {
		t.Fatalf("alerts err=%v", err)
	}
	if queries != 0 {
		t.Fatalf("%d queries reached the server", queries)
	}
	if !s.Healthy() {
		t.Fatalf("rejected zone marked the store unhealthy")
	}
}

func TestPointForTagsZone(t *testing.T) {
	p := pointFor(messages.AlertRecord{ZoneID: "canteen", Type: messages.AlertSurge, CRI: 77})
	if p.Name() != measurementAlert {
		t.Fatalf("measurement %q", p.Name())
	}
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["zone"] != "canteen" || tags["alert_type"] != "SURGE" {
		t.Fatalf("tags %v", tags)
	}
	var id string
	for _, f := range p.FieldList() {
		if f.Key == "id" {
			id, _ = f.Value.(string)
		}
	}
	if id == "" {
		t.Fatalf("point without id field")
	}
}

func TestBuildFlux(t *testing.T) {
	q := buildFlux("crowd", measurementPrediction, "lib", time.Hour, 50)
	for _, want := range []string{
		`from(bucket: "crowd")`,
		`range(start: -3600s)`,
		`r._measurement == "crowd_prediction"`,
		`r.zone == "lib"`,
		`pivot(`,
		`sort(columns: ["_time"], desc: true)`,
		`limit(n: 50)`,
	} {
		if !strings.Contains(q, want) {
			t.Fatalf("query missing %q:\n%s", want, q)
		}
	}
	if strings.Contains(buildFlux("crowd", measurementAlert, "", time.Hour, 5), "r.zone") {
		t.Fatalf("zone filter added for empty zone")
	}
}

func TestDecodeRecords(t *testing.T) {
	ts := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	p := decodePrediction(query.NewFluxRecord(0, map[string]interface{}{
		"_time": ts, "zone": "lib", "id": "p1", "density": 120.0, "capacity": int64(500),
		"cri": int64(40), "surge": true, "provenance": "model", "risk_level": "LOW",
	}))
	if p.ID != "p1" || p.ZoneID != "lib" || p.Capacity != 500 || p.CRI != 40 || !p.Surge ||
		p.Provenance != messages.ProvenanceModel || !p.Timestamp.Equal(ts) {
		t.Fatalf("decoded %+v", p)
	}

	a := decodeAlert(query.NewFluxRecord(0, map[string]interface{}{
		"_time": ts, "zone": "pg", "alert_type": "CRITICAL", "cri": "91", "forecast": "Increasing",
	}))
	if a.Type != messages.AlertCritical || a.CRI != 91 || a.Forecast != "Increasing" {
		t.Fatalf("decoded %+v", a)
	}
}
