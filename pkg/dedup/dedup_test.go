package dedup

import (
	"testing"
	"time"
)

func TestShouldProcessDropsRepeatsWithinTTL(t *testing.T) {
	d := New(time.Minute, 10)
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	if !d.ShouldProcess("a") {
		t.Fatalf("first sighting must be processed")
	}
	if d.ShouldProcess("a") {
		t.Fatalf("repeat inside ttl must be dropped")
	}

	now = now.Add(2 * time.Minute)
	if !d.ShouldProcess("a") {
		t.Fatalf("repeat after ttl must be processed")
	}
}

func TestShouldProcessEmptyID(t *testing.T) {
	d := New(0, 0)
	for i := 0; i < 3; i++ {
		if !d.ShouldProcess("") {
			t.Fatalf("empty id must always be processed")
		}
	}
	if d.Len() != 0 {
		t.Fatalf("empty ids must not be tracked, got %d", d.Len())
	}
}

func TestShouldProcessBoundsMemory(t *testing.T) {
	d := New(time.Hour, 3)
	base := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		now := base.Add(time.Duration(i) * time.Second)
		d.now = func() time.Time { return now }
		d.ShouldProcess(id)
	}
	if d.Len() > 3 {
		t.Fatalf("expected at most 3 tracked ids, got %d", d.Len())
	}
	// "e" is the newest and must still be remembered
	if d.ShouldProcess("e") {
		t.Fatalf("newest id evicted")
	}
}
