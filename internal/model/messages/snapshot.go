package messages

import "time"

type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskModerate RiskLevel = "MODERATE"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Provenance tells which source drove a density or forecast value.
type Provenance string

const (
	ProvenanceFormula  Provenance = "formula"
	ProvenanceModel    Provenance = "model"
	ProvenanceObserved Provenance = "observed"
)

// Snapshot is the per-zone state produced by one tick. Never mutated after publish.
type Snapshot struct {
	ZoneID     string     `json:"id"`
	Name       string     `json:"name"`
	Current    int        `json:"current"`
	Capacity   int        `json:"capacity"`
	Predicted  float64    `json:"predicted"`
	CRI        int        `json:"cri"`
	RiskLevel  RiskLevel  `json:"risk_level"`
	Surge      bool       `json:"surge"`
	Growth     float64    `json:"growth"`
	Status     string     `json:"status"`
	Provenance Provenance `json:"provenance"`
	LastAlert  *time.Time `json:"last_alert,omitempty"`
	Timestamp  time.Time  `json:"last_updated"`
}

// SnapshotSet is every zone's snapshot for one tick.
type SnapshotSet struct {
	Tick        uint64              `json:"tick"`
	GeneratedAt time.Time           `json:"generated_at"`
	Zones       map[string]Snapshot `json:"zones"`
}
