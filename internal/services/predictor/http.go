package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// HTTPModel calls a model server exposing POST /predict.
type HTTPModel struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	zones   zoneSet
}

type predictResponse struct {
	Location       string   `json:"location"`
	Predicted      *float64 `json:"predicted_density"`
	Error          string   `json:"error"`
	KnownLocations []string `json:"known_locations"`
}

func NewHTTPModel(base string, opts Options) *HTTPModel {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if !strings.HasSuffix(base, "/predict") {
		base += "/predict"
	}
	return &HTTPModel{
		url:     base,
		client:  &http.Client{Timeout: timeout},
		breaker: mkCB("model-http", opts),
		zones:   newZoneSet(opts.Zones),
	}
}

func (m *HTTPModel) Applies(zoneID string) bool { return m.zones.contains(zoneID) }

func (m *HTTPModel) Predict(ctx context.Context, f Features) (float64, error) {
	res, err := m.breaker.Execute(func() (interface{}, error) {
		return m.do(ctx, f)
	})
	if err != nil {
		if errors.Is(err, ErrUnknownLocation) || errors.Is(err, ErrNonPositivePrediction) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	return res.(float64), nil
}

func (m *HTTPModel) do(ctx context.Context, f Features) (float64, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return 0, fmt.Errorf("model status %d: %s", resp.StatusCode, string(b))
	}

	var out predictResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode model response: %w", err)
	}
	if out.Error != "" {
		if strings.Contains(strings.ToLower(out.Error), "unknown location") {
			return 0, fmt.Errorf("%w: %s", ErrUnknownLocation, f.Location)
		}
		return 0, fmt.Errorf("model error: %s", out.Error)
	}
	if out.Predicted == nil {
		return 0, errors.New("model response without predicted_density")
	}
	return checkValue(*out.Predicted)
}
