package persistence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/query"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/crowdsense/internal/model/messages"
	"github.com/LeonardoBeccarini/crowdsense/pkg/logger"
)

const (
	measurementPrediction = "crowd_prediction"
	measurementAlert      = "crowd_alert"

	// how far back listings look
	defaultLookback = 7 * 24 * time.Hour
	// a write error younger than this makes the store unhealthy
	errorGrace = 30 * time.Second
)

type InfluxConfig struct {
	URL      string
	Token    string
	Org      string
	Bucket   string
	Lookback time.Duration
}

func (c InfluxConfig) Validate() error {
	if c.URL == "" || c.Token == "" || c.Org == "" || c.Bucket == "" {
		return fmt.Errorf("influx config incomplete")
	}
	return nil
}

// InfluxStore writes one point per record, tagged by zone, and lists them
// with time-descending Flux queries.
type InfluxStore struct {
	client   influxdb2.Client
	write    api.WriteAPIBlocking
	query    api.QueryAPI
	bucket   string
	lookback time.Duration
	log      zerolog.Logger

	mu      sync.RWMutex
	lastErr time.Time
}

func NewInfluxStore(cfg InfluxConfig) (*InfluxStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = defaultLookback
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxStore{
		client:   client,
		write:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		query:    client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
		lookback: cfg.Lookback,
		log:      logger.For("influx"),
	}, nil
}

func (s *InfluxStore) Insert(ctx context.Context, c Collection, record any) error {
	rec, err := normalize(c, record)
	if err != nil {
		return err
	}
	p := pointFor(rec)
	if err := s.write.WritePoint(ctx, p); err != nil {
		s.markErr()
		return fmt.Errorf("influx write %s: %w", c, err)
	}
	return nil
}

func (s *InfluxStore) RecentPredictions(ctx context.Context, zone string, limit int) ([]messages.PredictionRecord, error) {
	if err := checkZone(zone); err != nil {
		return nil, err
	}
	res, err := s.query.Query(ctx, buildFlux(s.bucket, measurementPrediction, zone, s.lookback, pageSize(limit)))
	if err != nil {
		s.markErr()
		return nil, fmt.Errorf("influx query predictions: %w", err)
	}
	defer func() { _ = res.Close() }()

	out := make([]messages.PredictionRecord, 0, pageSize(limit))
	for res.Next() {
		out = append(out, decodePrediction(res.Record()))
	}
	if err := res.Err(); err != nil {
		return out, fmt.Errorf("influx iterate predictions: %w", err)
	}
	return out, nil
}

func (s *InfluxStore) RecentAlerts(ctx context.Context, zone string, limit int) ([]messages.AlertRecord, error) {
	if err := checkZone(zone); err != nil {
		return nil, err
	}
	res, err := s.query.Query(ctx, buildFlux(s.bucket, measurementAlert, zone, s.lookback, pageSize(limit)))
	if err != nil {
		s.markErr()
		return nil, fmt.Errorf("influx query alerts: %w", err)
	}
	defer func() { _ = res.Close() }()

	out := make([]messages.AlertRecord, 0, pageSize(limit))
	for res.Next() {
		out = append(out, decodeAlert(res.Record()))
	}
	if err := res.Err(); err != nil {
		return out, fmt.Errorf("influx iterate alerts: %w", err)
	}
	return out, nil
}

// Healthy is false for a short while after a failed write or query.
func (s *InfluxStore) Healthy() bool {
	return s.LastErrorAge() > errorGrace
}

// LastErrorAge is the time since the last failed write or query.
func (s *InfluxStore) LastErrorAge() time.Duration {
	s.mu.RLock()
	t := s.lastErr
	s.mu.RUnlock()
	if t.IsZero() {
		return 99999 * time.Hour
	}
	return time.Since(t)
}

// Ping checks the server is reachable.
func (s *InfluxStore) Ping(ctx context.Context) bool {
	ok, err := s.client.Ping(ctx)
	return err == nil && ok
}

func (s *InfluxStore) Close() { s.client.Close() }

func (s *InfluxStore) markErr() {
	s.mu.Lock()
	s.lastErr = time.Now()
	s.mu.Unlock()
}

func pointFor(rec any) *write.Point {
	switch r := rec.(type) {
	case messages.PredictionRecord:
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		return influxdb2.NewPoint(measurementPrediction,
			map[string]string{
				"zone":   r.ZoneID,
				"source": r.Source,
			},
			map[string]interface{}{
				"id":         r.ID,
				"zone_name":  r.ZoneName,
				"density":    r.Density,
				"capacity":   int64(r.Capacity),
				"predicted":  r.Predicted,
				"cri":        int64(r.CRI),
				"risk_level": string(r.RiskLevel),
				"growth":     r.Growth,
				"surge":      r.Surge,
				"provenance": string(r.Provenance),
			},
			stamp(r.Timestamp))
	case messages.AlertRecord:
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		return influxdb2.NewPoint(measurementAlert,
			map[string]string{
				"zone":       r.ZoneID,
				"alert_type": string(r.Type),
			},
			map[string]interface{}{
				"id":         r.ID,
				"zone_name":  r.ZoneName,
				"event_id":   r.EventID,
				"event_name": r.EventName,
				"cri":        int64(r.CRI),
				"density":    r.Density,
				"capacity":   int64(r.Capacity),
				"growth":     r.Growth,
				"forecast":   r.Forecast,
				"action":     r.Action,
				"recipient":  r.Recipient,
			},
			stamp(r.Timestamp))
	}
	return nil
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func buildFlux(bucket, measurement, zone string, lookback time.Duration, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %q)\n", bucket)
	fmt.Fprintf(&b, "  |> range(start: -%ds)\n", int64(lookback.Seconds()))
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %q)\n", measurement)
	if zone != "" {
		fmt.Fprintf(&b, "  |> filter(fn: (r) => r.zone == %q)\n", zone)
	}
	b.WriteString("  |> pivot(rowKey: [\"_time\"], columnKey: [\"_field\"], valueColumn: \"_value\")\n")
	b.WriteString("  |> group()\n")
	b.WriteString("  |> sort(columns: [\"_time\"], desc: true)\n")
	fmt.Fprintf(&b, "  |> limit(n: %d)\n", limit)
	return b.String()
}

func decodePrediction(rec *query.FluxRecord) messages.PredictionRecord {
	return messages.PredictionRecord{
		ID:         asString(rec.ValueByKey("id")),
		ZoneID:     asString(rec.ValueByKey("zone")),
		ZoneName:   asString(rec.ValueByKey("zone_name")),
		Density:    asFloat(rec.ValueByKey("density")),
		Capacity:   int(asFloat(rec.ValueByKey("capacity"))),
		Predicted:  asFloat(rec.ValueByKey("predicted")),
		CRI:        int(asFloat(rec.ValueByKey("cri"))),
		RiskLevel:  messages.RiskLevel(asString(rec.ValueByKey("risk_level"))),
		Growth:     asFloat(rec.ValueByKey("growth")),
		Surge:      asBool(rec.ValueByKey("surge")),
		Provenance: messages.Provenance(asString(rec.ValueByKey("provenance"))),
		Source:     asString(rec.ValueByKey("source")),
		Timestamp:  rec.Time().UTC(),
	}
}

func decodeAlert(rec *query.FluxRecord) messages.AlertRecord {
	return messages.AlertRecord{
		ID:        asString(rec.ValueByKey("id")),
		ZoneID:    asString(rec.ValueByKey("zone")),
		ZoneName:  asString(rec.ValueByKey("zone_name")),
		EventID:   asString(rec.ValueByKey("event_id")),
		EventName: asString(rec.ValueByKey("event_name")),
		Type:      messages.AlertType(asString(rec.ValueByKey("alert_type"))),
		CRI:       int(asFloat(rec.ValueByKey("cri"))),
		Density:   asFloat(rec.ValueByKey("density")),
		Capacity:  int(asFloat(rec.ValueByKey("capacity"))),
		Growth:    asFloat(rec.ValueByKey("growth")),
		Forecast:  asString(rec.ValueByKey("forecast")),
		Action:    asString(rec.ValueByKey("action")),
		Recipient: asString(rec.ValueByKey("recipient")),
		Timestamp: rec.Time().UTC(),
	}
}

func asFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	case uint64:
		return float64(x)
	case int:
		return float64(x)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return f
		}
	}
	return 0
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asBool(v interface{}) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, _ := strconv.ParseBool(x)
		return b
	}
	return false
}
