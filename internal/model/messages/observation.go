package messages

import "time"

// Observation is an externally measured head count for a zone.
type Observation struct {
	ZoneID    string    `json:"zone_id"`
	Count     float64   `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}
