package schema

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// AlertKind discriminates the alert event union.
type AlertKind string

const (
	// AlertOpenOrUpdate announces a newly opened opportunity or a cooldown-gated
	// refresh of one that is still open.
	AlertOpenOrUpdate AlertKind = "OPEN_OR_UPDATE"
	// AlertClose announces a closed opportunity.
	AlertClose AlertKind = "CLOSE"
)

// DefaultAlertRetries is the enqueue retry budget attached to every alert.
const DefaultAlertRetries = 3

// AlertEvent is the only egress of the detector. Exactly one of Opportunity
// and Closed is set, matching Kind.
type AlertEvent struct {
	EventID     string             `json:"event_id"`
	Kind        AlertKind          `json:"kind"`
	Opportunity *ActiveOpportunity `json:"opportunity,omitempty"`
	Closed      *ClosedOpportunity `json:"closed,omitempty"`
	Priority    int                `json:"priority"`
	Retries     int                `json:"retries"`
	CreatedAt   time.Time          `json:"created_at"`
}

// AlertPriority maps a spread percentage to the sink priority scale.
func AlertPriority(spreadPct float64) int {
	if !Finite(spreadPct) || spreadPct < 0 {
		return 0
	}
	return int(math.Floor(spreadPct * 10))
}

// NewOpenAlert builds an OPEN_OR_UPDATE event from an opportunity snapshot.
// Priority derives from the current spread.
func NewOpenAlert(o ActiveOpportunity, now time.Time) AlertEvent {
	return AlertEvent{
		EventID:     uuid.NewString(),
		Kind:        AlertOpenOrUpdate,
		Opportunity: &o,
		Priority:    AlertPriority(o.SpreadPct),
		Retries:     DefaultAlertRetries,
		CreatedAt:   now,
	}
}

// NewCloseAlert builds a CLOSE event. Priority derives from the peak spread.
func NewCloseAlert(c ClosedOpportunity, now time.Time) AlertEvent {
	return AlertEvent{
		EventID:   uuid.NewString(),
		Kind:      AlertClose,
		Closed:    &c,
		Priority:  AlertPriority(c.PeakSpreadPct),
		Retries:   DefaultAlertRetries,
		CreatedAt: now,
	}
}
