package sensor_simulator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/crowdsense/internal/model/entities"
	"github.com/LeonardoBeccarini/crowdsense/internal/model/messages"
	"github.com/LeonardoBeccarini/crowdsense/pkg/dedup"
	"github.com/LeonardoBeccarini/crowdsense/pkg/logger"
	"github.com/LeonardoBeccarini/crowdsense/pkg/rabbitmq"
)

// CounterSimulator publishes one zone's head count at a fixed interval and
// thins the crowd for a while when an alert for its zone comes back.
type CounterSimulator struct {
	mu        sync.Mutex
	zone      entities.Zone
	timer     *time.Timer // single dispersal timer
	generator *CountGenerator
	publisher rabbitmq.IPublisher
	consumer  rabbitmq.IConsumer
	deduper   *dedup.Deduper

	dispersal Dispersal
	now       func() time.Time
	log       zerolog.Logger
}

// Dispersal is how an alert affects the simulated crowd.
type Dispersal struct {
	Factor   float64       // damping applied to the pattern target
	Duration time.Duration // how long before the crowd returns
}

func NewCounterSimulator(consumer rabbitmq.IConsumer, publisher rabbitmq.IPublisher,
	gen *CountGenerator, zone entities.Zone, d Dispersal) *CounterSimulator {
	if d.Factor <= 0 || d.Factor > 1 {
		d.Factor = 0.6
	}
	if d.Duration <= 0 {
		d.Duration = 10 * time.Minute
	}
	return &CounterSimulator{
		zone:      zone,
		generator: gen,
		publisher: publisher,
		consumer:  consumer,
		deduper:   dedup.New(2*time.Minute, 10000),
		dispersal: d,
		now:       time.Now,
		log:       logger.WithZone(logger.For("counter-sim"), zone.ID),
	}
}

// Start listens for alerts and publishes a reading every interval until ctx
// is done.
func (s *CounterSimulator) Start(ctx context.Context, interval time.Duration) {
	if s.consumer != nil {
		s.consumer.SetHandler(s.handleMessage)
		go s.consumer.ConsumeMessage(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.stopTimer()
			s.publisher.Close()
			return
		case <-ticker.C:
			s.publishOnce()
		}
	}
}

func (s *CounterSimulator) publishOnce() {
	o := s.generator.Next(s.now().UTC())
	s.log.Debug().Float64("count", o.Count).Msg("pub observation")
	if err := s.publisher.PublishMessage(o); err != nil {
		s.log.Warn().Err(err).Msg("publish error")
	}
}

func (s *CounterSimulator) handleMessage(_ string, msg mqtt.Message) error {
	// QoS1 redelivery carries the same payload
	h := sha256.Sum256(msg.Payload())
	if !s.deduper.ShouldProcess(hex.EncodeToString(h[:])) {
		return nil
	}

	var rec messages.AlertRecord
	if err := json.Unmarshal(msg.Payload(), &rec); err != nil {
		return fmt.Errorf("invalid alert record: %w", err)
	}
	if rec.ZoneID != s.zone.ID {
		return nil
	}
	switch rec.Type {
	case messages.AlertCritical, messages.AlertCapacity:
		s.applyDispersal()
	}
	return nil
}

// applyDispersal damps the count and schedules the revert, replacing any
// pending one.
func (s *CounterSimulator) applyDispersal() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.generator.SetDamping(s.dispersal.Factor)
	s.log.Info().Float64("factor", s.dispersal.Factor).Dur("for", s.dispersal.Duration).Msg("dispersing crowd")

	s.timer = time.AfterFunc(s.dispersal.Duration, func() {
		s.generator.SetDamping(1)
		s.log.Info().Msg("crowd back to normal")
		s.mu.Lock()
		s.timer = nil
		s.mu.Unlock()
	})
}

func (s *CounterSimulator) stopTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
