// Package events holds the registered events per zone and tells organizers
// when their registration changes status.
package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/crowdsense/internal/model/entities"
	"github.com/LeonardoBeccarini/crowdsense/internal/services/notifier"
	"github.com/LeonardoBeccarini/crowdsense/pkg/logger"
)

var (
	ErrUnknownEvent  = errors.New("unknown event")
	ErrInvalidStatus = errors.New("invalid event status")
	ErrInvalidEvent  = errors.New("invalid event")
)

// StatusSender delivers status-change emails.
type StatusSender interface {
	SendStatus(ctx context.Context, to string, n notifier.StatusNotice) error
}

// Submitter runs side effects off the caller's goroutine; false means dropped.
type Submitter interface {
	Submit(kind string, fn func(ctx context.Context) error) bool
}

type Registry struct {
	mu     sync.RWMutex
	events map[string]entities.Event

	zoneName func(id string) string
	sender   StatusSender
	submit   Submitter
	now      func() time.Time
	log      zerolog.Logger
}

// NewRegistry validates evs; zoneName resolves display names and may be nil.
func NewRegistry(evs []entities.Event, zoneName func(string) string, sender StatusSender, submit Submitter) (*Registry, error) {
	r := &Registry{
		events:   make(map[string]entities.Event, len(evs)),
		zoneName: zoneName,
		sender:   sender,
		submit:   submit,
		now:      time.Now,
		log:      logger.For("events"),
	}
	for _, e := range evs {
		if err := validate(e); err != nil {
			return nil, err
		}
		if _, dup := r.events[e.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidEvent, e.ID)
		}
		if e.Status == "" {
			e.Status = entities.EventPending
		}
		r.events[e.ID] = e
	}
	return r, nil
}

func validate(e entities.Event) error {
	switch {
	case strings.TrimSpace(e.ID) == "":
		return fmt.Errorf("%w: empty id", ErrInvalidEvent)
	case strings.TrimSpace(e.ZoneID) == "":
		return fmt.Errorf("%w %q: empty zone", ErrInvalidEvent, e.ID)
	case e.Status != "" && !e.Status.Valid():
		return fmt.Errorf("%w %q: %w %q", ErrInvalidEvent, e.ID, ErrInvalidStatus, e.Status)
	case !e.Start.IsZero() && !e.End.IsZero() && e.End.Before(e.Start):
		return fmt.Errorf("%w %q: ends before it starts", ErrInvalidEvent, e.ID)
	}
	return nil
}

// ActiveFor returns the event running in zoneID at now. Approved events win
// over others; ties go to the earliest start.
func (r *Registry) ActiveFor(zoneID string, now time.Time) (entities.Event, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best entities.Event
	found := false
	for _, e := range r.events {
		if e.ZoneID != zoneID || !e.Covers(now) {
			continue
		}
		if !found || better(e, best) {
			best, found = e, true
		}
	}
	return best, found
}

func better(a, b entities.Event) bool {
	aa, ba := a.Status == entities.EventApproved, b.Status == entities.EventApproved
	if aa != ba {
		return aa
	}
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	return a.ID < b.ID
}

// List returns every event ordered by start time, then id.
func (r *Registry) List() []entities.Event {
	r.mu.RLock()
	out := make([]entities.Event, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Registry) Get(id string) (entities.Event, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.events[id]
	return e, ok
}

// SetStatus moves an event to status and queues a notification for its
// organizer. An empty message uses the standard wording for the status.
func (r *Registry) SetStatus(ctx context.Context, id string, status entities.EventStatus, message string) (entities.Event, error) {
	status = entities.EventStatus(strings.ToUpper(strings.TrimSpace(string(status))))
	if !status.Valid() {
		return entities.Event{}, fmt.Errorf("%w %q", ErrInvalidStatus, status)
	}

	r.mu.Lock()
	e, ok := r.events[id]
	if !ok {
		r.mu.Unlock()
		return entities.Event{}, fmt.Errorf("%w %q", ErrUnknownEvent, id)
	}
	e.Status = status
	r.events[id] = e
	r.mu.Unlock()

	r.log.Info().Str("event", id).Str("status", string(status)).Msg("event status changed")
	r.notify(ctx, e, message)
	return e, nil
}

func (r *Registry) notify(ctx context.Context, e entities.Event, message string) {
	if r.sender == nil || e.OrganizerEmail == "" {
		return
	}
	zone := r.displayName(e.ZoneID)
	n := notifier.StatusNotice{
		EventName: e.Name,
		ZoneName:  zone,
		Status:    string(e.Status),
		Message:   message,
		At:        r.now(),
	}
	if n.Message == "" {
		n.Message = StatusMessage(e, zone)
	}

	send := func(ctx context.Context) error {
		return r.sender.SendStatus(ctx, e.OrganizerEmail, n)
	}
	if r.submit == nil {
		if err := send(ctx); err != nil {
			r.log.Warn().Err(err).Str("event", e.ID).Msg("status notification failed")
		}
		return
	}
	if !r.submit.Submit("status-email", send) {
		r.log.Warn().Str("event", e.ID).Msg("status notification dropped")
	}
}

func (r *Registry) displayName(zoneID string) string {
	if r.zoneName != nil {
		if n := r.zoneName(zoneID); n != "" {
			return n
		}
	}
	return zoneID
}

// StatusMessage is the default organizer-facing text for e's current status.
func StatusMessage(e entities.Event, zoneName string) string {
	window := ""
	if !e.Start.IsZero() && !e.End.IsZero() {
		window = fmt.Sprintf(" (Scheduled: %s - %s)", e.Start.Format("2006-01-02 15:04"), e.End.Format("2006-01-02 15:04"))
	}
	switch e.Status {
	case entities.EventApproved:
		return fmt.Sprintf("Great news! Your event '%s' in %s%s has been approved. CrowdSense is now monitoring this zone for your safety during these hours.", e.Name, zoneName, window)
	case entities.EventRejected:
		return fmt.Sprintf("Your registration for '%s' in %s%s was not approved at this time.", e.Name, zoneName, window)
	case entities.EventUpdated:
		return fmt.Sprintf("The details for your event '%s'%s have been updated in our system.", e.Name, window)
	default:
		return fmt.Sprintf("There has been an update to your event '%s'%s.", e.Name, window)
	}
}
