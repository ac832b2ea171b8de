package predictor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newModelServer(t *testing.T, handler func(f Features) (int, any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/predict" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var f Features
		if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
			t.Errorf("decode features: %v", err)
		}
		status, body := handler(f)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPModelPredict(t *testing.T) {
	srv := newModelServer(t, func(f Features) (int, any) {
		if f.Location != "canteen" || f.Hour != 12 || f.RollingMean3 != 90 {
			t.Errorf("unexpected features %+v", f)
		}
		return http.StatusOK, map[string]any{"location": f.Location, "predicted_density": 142.5}
	})

	m := NewHTTPModel(srv.URL, Options{Timeout: time.Second})
	got, err := m.Predict(context.Background(), Features{Location: "canteen", Hour: 12, RollingMean3: 90})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if got != 142.5 {
		t.Fatalf("got %v want 142.5", got)
	}
}

func TestHTTPModelErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
		want   error
	}{
		{name: "unknown location", status: http.StatusOK, body: map[string]any{"error": "Unknown location: atrium"}, want: ErrUnknownLocation},
		{name: "non positive", status: http.StatusOK, body: map[string]any{"predicted_density": -3.0}, want: ErrNonPositivePrediction},
		{name: "zero", status: http.StatusOK, body: map[string]any{"predicted_density": 0.0}, want: ErrNonPositivePrediction},
		{name: "server error", status: http.StatusInternalServerError, body: map[string]any{"detail": "boom"}, want: ErrModelUnavailable},
		{name: "missing value", status: http.StatusOK, body: map[string]any{"location": "x"}, want: ErrModelUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := newModelServer(t, func(Features) (int, any) { return tc.status, tc.body })
			m := NewHTTPModel(srv.URL, Options{})
			_, err := m.Predict(context.Background(), Features{Location: "atrium"})
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v want %v", err, tc.want)
			}
		})
	}
}

func TestHTTPModelBreakerOpens(t *testing.T) {
	calls := 0
	srv := newModelServer(t, func(Features) (int, any) {
		calls++
		return http.StatusBadGateway, map[string]any{}
	})
	m := NewHTTPModel(srv.URL, Options{BreakerFailures: 2, BreakerOpenFor: time.Minute})

	for i := 0; i < 5; i++ {
		if _, err := m.Predict(context.Background(), Features{}); !errors.Is(err, ErrModelUnavailable) {
			t.Fatalf("call %d: got %v", i, err)
		}
	}
	if calls != 2 {
		t.Fatalf("breaker should stop calls after 2 failures, server saw %d", calls)
	}
}

func TestApplies(t *testing.T) {
	all := NewHTTPModel("http://model:8000", Options{})
	if !all.Applies("anything") {
		t.Fatalf("no zone list means every zone")
	}
	some := NewHTTPModel("http://model:8000", Options{Zones: []string{"lib", " canteen "}})
	if !some.Applies("canteen") || some.Applies("pg") {
		t.Fatalf("zone list not honoured")
	}
}

func TestNewPicksClientByScheme(t *testing.T) {
	m, err := New("", Options{})
	if err != nil || m != nil {
		t.Fatalf("empty endpoint: got %v, %v", m, err)
	}
	m, err = New("http://model:8000", Options{})
	if _, ok := m.(*HTTPModel); !ok || err != nil {
		t.Fatalf("http endpoint: got %T, %v", m, err)
	}
	m, err = New("grpc://model:50051", Options{})
	if err != nil {
		t.Fatalf("grpc endpoint: %v", err)
	}
	g, ok := m.(*GRPCModel)
	if !ok {
		t.Fatalf("grpc endpoint: got %T", m)
	}
	_ = g.Close()
	if _, err := New("ftp://model", Options{}); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}
