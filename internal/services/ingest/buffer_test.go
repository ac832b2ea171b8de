package ingest

import (
	"errors"
	"testing"
	"time"

	"github.com/LeonardoBeccarini/crowdsense/internal/model/messages"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

var t0 = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func newTestBuffer(discards *[]string) *Buffer {
	b := NewBuffer(nil, Options{
		TTL:       time.Minute,
		Known:     func(id string) bool { return id == "canteen" || id == "lib" },
		OnDiscard: func(r string) { *discards = append(*discards, r) },
	})
	b.now = func() time.Time { return t0 }
	return b
}

func TestHandleZoneFromTopicAndDrainMean(t *testing.T) {
	var discards []string
	b := newTestBuffer(&discards)

	msgs := []fakeMessage{
		{TopicPrefix + "/canteen", []byte(`{"count": 100}`)},
		{TopicPrefix + "/canteen", []byte(`{"count": 120}`)},
		{TopicPrefix + "/anything", []byte(`{"zone_id": "lib", "count": 40}`)},
	}
	for _, m := range msgs {
		if err := b.Handle(m.topic, m); err != nil {
			t.Fatalf("handle %s: %v", m.payload, err)
		}
	}

	got := b.Drain(t0)
	if got["canteen"] != 110 || got["lib"] != 40 || len(got) != 2 {
		t.Fatalf("drained %v", got)
	}
	if again := b.Drain(t0); len(again) != 0 {
		t.Fatalf("buffer not emptied: %v", again)
	}
	if len(discards) != 0 {
		t.Fatalf("unexpected discards %v", discards)
	}
}

func TestHandleDropsRedelivery(t *testing.T) {
	var discards []string
	b := newTestBuffer(&discards)
	m := fakeMessage{TopicPrefix + "/canteen", []byte(`{"count": 100, "timestamp": "2024-03-04T11:59:50Z"}`)}
	_ = b.Handle(m.topic, m)
	_ = b.Handle(m.topic, m)

	if got := b.Drain(t0); got["canteen"] != 100 {
		t.Fatalf("drained %v", got)
	}
	if len(discards) != 1 || discards[0] != "duplicate" {
		t.Fatalf("discards %v", discards)
	}
}

func TestHandleRejects(t *testing.T) {
	cases := []struct {
		name    string
		topic   string
		payload string
		want    error
		reason  string
	}{
		{"bad json", TopicPrefix + "/canteen", `{`, ErrInvalidObservation, "decode"},
		{"negative", TopicPrefix + "/canteen", `{"count": -3}`, ErrInvalidObservation, "bad_count"},
		{"unknown zone", TopicPrefix + "/gym", `{"count": 3}`, ErrUnknownZone, "unknown_zone"},
		{"no zone", "other/topic", `{"count": 3}`, ErrInvalidObservation, "no_zone"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var discards []string
			b := newTestBuffer(&discards)
			err := b.Handle(tc.topic, fakeMessage{tc.topic, []byte(tc.payload)})
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want %v", err, tc.want)
			}
			if len(discards) != 1 || discards[0] != tc.reason {
				t.Fatalf("discards %v", discards)
			}
		})
	}
}

func TestDrainSkipsStale(t *testing.T) {
	var discards []string
	b := newTestBuffer(&discards)
	_ = b.Add(obs("canteen", 50, t0.Add(-5*time.Minute)))
	_ = b.Add(obs("canteen", 80, t0.Add(-10*time.Second)))
	_ = b.Add(obs("lib", 10, t0.Add(-2*time.Minute)))

	got := b.Drain(t0)
	if got["canteen"] != 80 {
		t.Fatalf("canteen %v", got["canteen"])
	}
	if _, ok := got["lib"]; ok {
		t.Fatalf("stale-only zone drained: %v", got)
	}
	if len(discards) != 2 {
		t.Fatalf("discards %v", discards)
	}
}

func TestZoneFromTopic(t *testing.T) {
	cases := map[string]string{
		TopicPrefix + "/lib":          "lib",
		TopicPrefix + "/north/lib":    "lib",
		TopicPrefix + "/":             "",
		"crowd/observationsX/lib":     "",
		"sensor/data/field1/sensor-1": "",
	}
	for topic, want := range cases {
		if got := zoneFromTopic(topic); got != want {
			t.Fatalf("zoneFromTopic(%q)=%q want %q", topic, got, want)
		}
	}
}

func obs(zone string, count float64, at time.Time) messages.Observation {
	return messages.Observation{ZoneID: zone, Count: count, Timestamp: at}
}
