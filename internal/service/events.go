package service

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a live-update event.
type EventType string

const (
	EventParvaniToggled   EventType = "parvani_day_toggled"
	EventFacilityAssigned EventType = "facility_assigned"
	EventMatchConfirmed   EventType = "match_confirmed"
)

// Event is a descriptive payload the caller may forward to a live-update
// channel. The core never broadcasts on its own.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

func newEvent(t EventType, at time.Time, payload any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		OccurredAt: at,
		Payload:    payload,
	}
}

// ParvaniToggled describes a completed Parvani-day cascade.
type ParvaniToggled struct {
	Active         bool     `json:"active"`
	AffectedRoutes []string `json:"affected_routes"`
}

// FacilityAssigned describes a dispatch decision.
type FacilityAssigned struct {
	EmergencyID  string  `json:"emergency_id"`
	FacilityID   string  `json:"facility_id"`
	FacilityName string  `json:"facility_name"`
	DistanceKm   float64 `json:"distance_km"`
	EtaMinutes   float64 `json:"eta_minutes"`
}

// MatchConfirmed describes a resolved missing/found pair.
type MatchConfirmed struct {
	MissingID string `json:"missing_id"`
	FoundID   string `json:"found_id"`
}
