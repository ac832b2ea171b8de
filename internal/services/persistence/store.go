// Package persistence stores prediction and alert records and reads them
// back newest first.
package persistence

import (
	"context"
	"errors"
	"regexp"

	"github.com/LeonardoBeccarini/crowdsense/internal/model/messages"
)

type Collection string

const (
	Predictions Collection = "predictions"
	Alerts      Collection = "alerts"
)

// DefaultPageSize is how many records a listing returns when no limit is
// given, and the most it ever returns.
const DefaultPageSize = 50

var (
	ErrUnknownCollection = errors.New("unknown collection")
	ErrRecordMismatch    = errors.New("record type does not match collection")
	ErrInvalidZone       = errors.New("invalid zone id")
)

var zonePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

type Store interface {
	// Insert accepts a messages.PredictionRecord for Predictions and a
	// messages.AlertRecord for Alerts (values or pointers).
	Insert(ctx context.Context, c Collection, record any) error
	// Recent* return newest first; an empty zone means every zone.
	RecentPredictions(ctx context.Context, zone string, limit int) ([]messages.PredictionRecord, error)
	RecentAlerts(ctx context.Context, zone string, limit int) ([]messages.AlertRecord, error)
	Healthy() bool
	Close()
}

func pageSize(limit int) int {
	if limit <= 0 || limit > DefaultPageSize {
		return DefaultPageSize
	}
	return limit
}

// checkZone accepts the empty zone (every zone) and plain identifiers only;
// zone ids end up inside query text.
func checkZone(zone string) error {
	if zone == "" || zonePattern.MatchString(zone) {
		return nil
	}
	return ErrInvalidZone
}

// normalize checks record against c and returns it by value.
func normalize(c Collection, record any) (any, error) {
	switch c {
	case Predictions:
		switch r := record.(type) {
		case messages.PredictionRecord:
			return r, nil
		case *messages.PredictionRecord:
			if r != nil {
				return *r, nil
			}
		}
	case Alerts:
		switch r := record.(type) {
		case messages.AlertRecord:
			return r, nil
		case *messages.AlertRecord:
			if r != nil {
				return *r, nil
			}
		}
	default:
		return nil, ErrUnknownCollection
	}
	return nil, ErrRecordMismatch
}
