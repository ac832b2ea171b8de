package persistence

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/crowdsense/internal/model/messages"
)

const defaultMemoryCap = 5000

// MemoryStore keeps the latest records of each collection in memory. Oldest
// records are dropped once a collection reaches its cap.
type MemoryStore struct {
	mu          sync.RWMutex
	max         int
	predictions []messages.PredictionRecord
	alerts      []messages.AlertRecord
}

func NewMemoryStore(max int) *MemoryStore {
	if max <= 0 {
		max = defaultMemoryCap
	}
	return &MemoryStore{max: max}
}

func (m *MemoryStore) Insert(_ context.Context, c Collection, record any) error {
	rec, err := normalize(c, record)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	switch r := rec.(type) {
	case messages.PredictionRecord:
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		m.predictions = appendCapped(m.predictions, r, m.max)
	case messages.AlertRecord:
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		m.alerts = appendCapped(m.alerts, r, m.max)
	}
	return nil
}

func (m *MemoryStore) RecentPredictions(_ context.Context, zone string, limit int) ([]messages.PredictionRecord, error) {
	if err := checkZone(zone); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.predictions, pageSize(limit), func(r messages.PredictionRecord) bool {
		return zone == "" || r.ZoneID == zone
	}), nil
}

func (m *MemoryStore) RecentAlerts(_ context.Context, zone string, limit int) ([]messages.AlertRecord, error) {
	if err := checkZone(zone); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.alerts, pageSize(limit), func(r messages.AlertRecord) bool {
		return zone == "" || r.ZoneID == zone
	}), nil
}

func (m *MemoryStore) Healthy() bool { return true }

func (m *MemoryStore) Close() {}

func appendCapped[T any](xs []T, x T, max int) []T {
	xs = append(xs, x)
	if over := len(xs) - max; over > 0 {
		xs = append(xs[:0:0], xs[over:]...)
	}
	return xs
}

// newestFirst walks xs (insertion order) backwards.
func newestFirst[T any](xs []T, limit int, keep func(T) bool) []T {
	out := make([]T, 0, min(limit, len(xs)))
	for i := len(xs) - 1; i >= 0 && len(out) < limit; i-- {
		if keep(xs[i]) {
			out = append(out, xs[i])
		}
	}
	return out
}
