package entities

import "time"

// RoleOrganizer is the only role allowed to receive crowd alerts.
const RoleOrganizer = "event_organizer"

type EventStatus string

const (
	EventPending  EventStatus = "PENDING"
	EventApproved EventStatus = "APPROVED"
	EventRejected EventStatus = "REJECTED"
	EventUpdated  EventStatus = "UPDATED"
)

func (s EventStatus) Valid() bool {
	switch s {
	case EventPending, EventApproved, EventRejected, EventUpdated:
		return true
	}
	return false
}

// Event is a registered gathering in a zone, owned by an organizer.
type Event struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	ZoneID         string      `json:"zone_id"`
	OrganizerEmail string      `json:"organizer_email"`
	OrganizerRole  string      `json:"organizer_role"`
	Status         EventStatus `json:"status"`
	Start          time.Time   `json:"start,omitempty"`
	End            time.Time   `json:"end,omitempty"`
}

// Covers reports whether t falls inside the event window. A zero bound is open.
func (e Event) Covers(t time.Time) bool {
	if !e.Start.IsZero() && t.Before(e.Start) {
		return false
	}
	if !e.End.IsZero() && t.After(e.End) {
		return false
	}
	return true
}
