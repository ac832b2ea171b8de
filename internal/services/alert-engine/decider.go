// Package alert_engine decides whether a zone's current risk warrants
// notifying the organizer of the event running there.
package alert_engine

import (
	"fmt"
	"time"

	"github.com/LeonardoBeccarini/crowdsense/internal/model/entities"
	"github.com/LeonardoBeccarini/crowdsense/internal/model/messages"
)

type Config struct {
	OrganizerRole    string
	ThrottleInterval time.Duration
	CriticalCRI      int
	HighCRI          int
	SurgeThreshold   float64
	MinDensityRatio  float64 // a surge only counts above this share of capacity
	MinSurgeCRI      int
}

func DefaultConfig() Config {
	return Config{
		OrganizerRole:    entities.RoleOrganizer,
		ThrottleInterval: 15 * time.Minute,
		CriticalCRI:      85,
		HighCRI:          70,
		SurgeThreshold:   0.30,
		MinDensityRatio:  0.10,
		MinSurgeCRI:      10,
	}
}

// Suppression reasons.
const (
	ReasonRole        = "role not allowed"
	ReasonEventStatus = "event not approved"
	ReasonThrottled   = "throttled"
	ReasonBelow       = "below thresholds"
)

// Eligibility is supplied by the caller; the role is taken as given.
type Eligibility struct {
	Role        string
	EventStatus entities.EventStatus // empty: no status to check
}

type Input struct {
	CRI      int
	Density  float64
	Capacity int
	Growth   float64
}

type Decision struct {
	Trigger bool               `json:"trigger"`
	Type    messages.AlertType `json:"type,omitempty"`
	Action  string             `json:"action,omitempty"`
	Reason  string             `json:"reason,omitempty"`
}

var actions = map[messages.AlertType]string{
	messages.AlertCritical: "IMMEDIATE ACTION REQUIRED: Temporarily restrict entry and redirect attendees to alternate zones. Dispatch security personnel.",
	messages.AlertSurge:    "NOTIFICATION: Sudden crowd spike detected. Monitor ingress points and prepare for crowd control measures.",
	messages.AlertHigh:     "WARNING: Approaching critical density. Advise staff to implement flow management protocols.",
	messages.AlertCapacity: "NOTICE: Zone has exceeded its approved capacity limit.",
}

// Action is the recommended action template for an alert type.
func Action(t messages.AlertType) string { return actions[t] }

type Decider struct {
	cfg Config
}

func NewDecider(cfg Config) *Decider {
	if cfg.OrganizerRole == "" {
		cfg.OrganizerRole = entities.RoleOrganizer
	}
	return &Decider{cfg: cfg}
}

func (d *Decider) Config() Config { return d.cfg }

// Evaluate runs the eligibility, throttle and threshold gates in that order.
// A triggering decision marks th at now. A nil th skips the throttle and
// leaves no trace, for previews.
func (d *Decider) Evaluate(in Input, el Eligibility, th *Throttle, now time.Time) Decision {
	if el.Role != d.cfg.OrganizerRole {
		return Decision{Reason: ReasonRole}
	}
	if el.EventStatus != "" && el.EventStatus != entities.EventApproved {
		return Decision{Reason: ReasonEventStatus}
	}
	if th != nil && !th.Allow(now, d.cfg.ThrottleInterval) {
		return Decision{Reason: ReasonThrottled}
	}
	if !d.triggers(in) {
		return Decision{Reason: ReasonBelow}
	}

	typ := d.Classify(in)
	if th != nil {
		th.Mark(now)
	}
	return Decision{Trigger: true, Type: typ, Action: Action(typ)}
}

func (d *Decider) triggers(in Input) bool {
	capacity := float64(in.Capacity)
	critical := in.CRI >= d.cfg.CriticalCRI
	high := in.CRI >= d.cfg.HighCRI
	over := in.Density > capacity
	surge := in.Growth >= d.cfg.SurgeThreshold &&
		in.Density > capacity*d.cfg.MinDensityRatio &&
		in.CRI > d.cfg.MinSurgeCRI
	return critical || high || over || surge
}

// Classify picks the alert type, first match wins.
func (d *Decider) Classify(in Input) messages.AlertType {
	switch {
	case in.CRI >= d.cfg.CriticalCRI:
		return messages.AlertCritical
	case in.Growth >= d.cfg.SurgeThreshold:
		return messages.AlertSurge
	case in.CRI >= d.cfg.HighCRI:
		return messages.AlertHigh
	default:
		return messages.AlertCapacity
	}
}

func (d Decision) String() string {
	if d.Trigger {
		return fmt.Sprintf("trigger %s", d.Type)
	}
	return "suppressed: " + d.Reason
}
