package scheduler

import (
	"sync/atomic"
	"time"

	"github.com/LeonardoBeccarini/crowdsense/internal/model/messages"
)

// SnapshotStore hands out the latest published set. A set is never modified
// after Publish, so readers see one whole tick or the previous one.
type SnapshotStore struct {
	p  atomic.Pointer[messages.SnapshotSet]
	at atomic.Int64 // wall-clock publish time, unix nanos
}

var emptySet = &messages.SnapshotSet{Zones: map[string]messages.Snapshot{}}

func (s *SnapshotStore) Publish(set *messages.SnapshotSet) {
	s.at.Store(time.Now().UnixNano())
	s.p.Store(set)
}

// Latest never returns nil.
func (s *SnapshotStore) Latest() *messages.SnapshotSet {
	if set := s.p.Load(); set != nil {
		return set
	}
	return emptySet
}

func (s *SnapshotStore) Zone(id string) (messages.Snapshot, bool) {
	snap, ok := s.Latest().Zones[id]
	return snap, ok
}

// Age is how long ago, in wall-clock time, the latest set was published;
// zero before the first tick. GeneratedAt may be simulated time.
func (s *SnapshotStore) Age(now time.Time) time.Duration {
	at := s.at.Load()
	if at == 0 {
		return 0
	}
	return now.Sub(time.Unix(0, at))
}
