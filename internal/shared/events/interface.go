package events

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medflow/platform/internal/shared/types"
)

// Event types published by the clinical workflow
const (
	TypePatientRegistered  = "patient.registered"
	TypePatientTriaged     = "patient.triaged"
	TypePatientDischarged  = "patient.discharged"
	TypeClinicalFileSigned = "clinical_file.signed"
	TypeOrderSent          = "order.sent"
	TypeOrderCancelled     = "order.cancelled"
	TypeRoundSigned        = "round.signed"
)

// Event represents a domain event
type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Source        string    `json:"source"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`

	PatientID types.ID `json:"patient_id"`
	ActorID   string   `json:"actor_id,omitempty"`

	Data any `json:"data"`
}

// NewEvent creates a new event with auto-generated ID and timestamp
func NewEvent(eventType, source string, patientID types.ID, data any) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		PatientID: patientID,
		Data:      data,
	}
}

// WithActor sets the clinician who caused the event
func (e Event) WithActor(actorID string) Event {
	e.ActorID = actorID
	return e
}

// WithCorrelation sets the correlation ID for request tracing
func (e Event) WithCorrelation(correlationID string) Event {
	e.CorrelationID = correlationID
	return e
}

// Handler is a function that handles an event
type Handler func(ctx context.Context, event Event) error

// EventBus defines the interface for event publishing and subscription
type EventBus interface {
	// Publish publishes an event to the bus
	Publish(ctx context.Context, event Event) error

	// Subscribe delivers events matching pattern to handler until ctx is done
	Subscribe(ctx context.Context, pattern string, handler Handler) error

	// Close closes the event bus connection
	Close()

	// Health checks the event bus connection
	Health() error
}

// matchesPattern checks if an event type matches a wildcard pattern.
// "order.*" matches "order.sent"; "*" matches everything.
func matchesPattern(eventType, pattern string) bool {
	if pattern == "*" || pattern == ">" {
		return true
	}

	patternParts := strings.Split(pattern, ".")
	typeParts := strings.Split(eventType, ".")

	for i, pp := range patternParts {
		if pp == "*" {
			return true
		}
		if i >= len(typeParts) || pp != typeParts[i] {
			return false
		}
	}

	return len(patternParts) == len(typeParts)
}

// Ensure implementations satisfy EventBus
var (
	_ EventBus = (*Bus)(nil)
	_ EventBus = (*MemoryBus)(nil)
)
