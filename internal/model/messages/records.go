package messages

import "time"

type AlertType string

const (
	AlertCritical AlertType = "CRITICAL"
	AlertHigh     AlertType = "HIGH"
	AlertSurge    AlertType = "SURGE"
	AlertCapacity AlertType = "CAPACITY"
)

// PredictionRecord is persisted once per zone per tick and per /predict call.
type PredictionRecord struct {
	ID         string     `json:"id"`
	ZoneID     string     `json:"zone"`
	ZoneName   string     `json:"zone_name"`
	Density    float64    `json:"density"`
	Capacity   int        `json:"capacity"`
	Predicted  float64    `json:"predicted"`
	CRI        int        `json:"cri"`
	RiskLevel  RiskLevel  `json:"risk_level"`
	Growth     float64    `json:"growth"`
	Surge      bool       `json:"surge"`
	Provenance Provenance `json:"provenance"`
	Source     string     `json:"source"` // scheduler | api
	Timestamp  time.Time  `json:"timestamp"`
}

// AlertRecord is persisted (and published) for every dispatched alert.
type AlertRecord struct {
	ID        string    `json:"id"`
	ZoneID    string    `json:"zone"`
	ZoneName  string    `json:"zone_name"`
	EventID   string    `json:"event_id,omitempty"`
	EventName string    `json:"event_name,omitempty"`
	Type      AlertType `json:"alert_type"`
	CRI       int       `json:"cri"`
	Density   float64   `json:"density"`
	Capacity  int       `json:"capacity"`
	Growth    float64   `json:"growth"`
	Forecast  string    `json:"forecast"`
	Action    string    `json:"action"`
	Recipient string    `json:"recipient,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
