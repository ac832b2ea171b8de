// Package ingest collects externally measured head counts from MQTT and
// hands them to the scheduler once per tick.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/crowdsense/internal/model/messages"
	"github.com/LeonardoBeccarini/crowdsense/pkg/dedup"
	"github.com/LeonardoBeccarini/crowdsense/pkg/logger"
	"github.com/LeonardoBeccarini/crowdsense/pkg/rabbitmq"
)

// TopicPrefix is followed by the zone id, e.g. crowd/observations/canteen.
const TopicPrefix = "crowd/observations"

var (
	ErrInvalidObservation = errors.New("invalid observation")
	ErrUnknownZone        = errors.New("unknown zone")
)

type Options struct {
	// TTL drops observations older than this when drained.
	TTL time.Duration
	// Known filters zone ids; nil accepts all.
	Known func(zoneID string) bool
	// OnDiscard is told why a message was not buffered.
	OnDiscard func(reason string)
}

type Buffer struct {
	consumer rabbitmq.IConsumer
	dedup    *dedup.Deduper
	opts     Options
	log      zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	pending map[string][]messages.Observation
}

// NewBuffer builds a buffer; consumer may be nil when observations only
// arrive through Add.
func NewBuffer(consumer rabbitmq.IConsumer, opts Options) *Buffer {
	if opts.TTL <= 0 {
		opts.TTL = time.Minute
	}
	return &Buffer{
		consumer: consumer,
		dedup:    dedup.New(10*time.Minute, 10000),
		opts:     opts,
		log:      logger.For("ingest"),
		now:      time.Now,
		pending:  make(map[string][]messages.Observation),
	}
}

// Start subscribes and blocks until ctx is done.
func (b *Buffer) Start(ctx context.Context) {
	if b.consumer == nil {
		<-ctx.Done()
		return
	}
	b.consumer.SetHandler(b.Handle)
	b.consumer.ConsumeMessage(ctx)
}

// Handle decodes one MQTT message. The zone comes from the payload or, when
// missing there, from the last topic segment.
func (b *Buffer) Handle(topic string, m mqtt.Message) error {
	payload := m.Payload()
	sum := sha256.Sum256(append([]byte(topic+"\n"), payload...))
	if !b.dedup.ShouldProcess(hex.EncodeToString(sum[:])) {
		b.discard("duplicate")
		return nil
	}

	var o messages.Observation
	if err := json.Unmarshal(payload, &o); err != nil {
		b.discard("decode")
		return fmt.Errorf("%w: %v", ErrInvalidObservation, err)
	}
	if o.ZoneID == "" {
		o.ZoneID = zoneFromTopic(topic)
	}
	if err := b.Add(o); err != nil {
		return err
	}
	b.log.Debug().Str("zone", o.ZoneID).Float64("count", o.Count).Msg("observation buffered")
	return nil
}

// Add buffers an observation, stamping it with the current time if needed.
func (b *Buffer) Add(o messages.Observation) error {
	o.ZoneID = strings.TrimSpace(o.ZoneID)
	switch {
	case o.ZoneID == "":
		b.discard("no_zone")
		return fmt.Errorf("%w: missing zone", ErrInvalidObservation)
	case o.Count < 0 || math.IsNaN(o.Count) || math.IsInf(o.Count, 0):
		b.discard("bad_count")
		return fmt.Errorf("%w: count %v", ErrInvalidObservation, o.Count)
	case b.opts.Known != nil && !b.opts.Known(o.ZoneID):
		b.discard("unknown_zone")
		return fmt.Errorf("%w %q", ErrUnknownZone, o.ZoneID)
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = b.now()
	}

	b.mu.Lock()
	b.pending[o.ZoneID] = append(b.pending[o.ZoneID], o)
	b.mu.Unlock()
	return nil
}

// Drain returns the mean fresh count per zone and empties the buffer.
func (b *Buffer) Drain(now time.Time) map[string]float64 {
	b.mu.Lock()
	pending := b.pending
	b.pending = make(map[string][]messages.Observation, len(pending))
	b.mu.Unlock()

	out := make(map[string]float64, len(pending))
	for zone, obs := range pending {
		sum, n := 0.0, 0
		for _, o := range obs {
			if now.Sub(o.Timestamp) > b.opts.TTL {
				b.discard("stale")
				continue
			}
			sum += o.Count
			n++
		}
		if n > 0 {
			out[zone] = sum / float64(n)
		}
	}
	return out
}

func (b *Buffer) discard(reason string) {
	if b.opts.OnDiscard != nil {
		b.opts.OnDiscard(reason)
	}
}

func zoneFromTopic(topic string) string {
	rest, ok := strings.CutPrefix(topic, TopicPrefix+"/")
	if !ok || rest == "" {
		return ""
	}
	if i := strings.LastIndexByte(rest, '/'); i >= 0 {
		rest = rest[i+1:]
	}
	return rest
}
