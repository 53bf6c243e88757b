package incidents

import (
	"context"
	"time"

	"github.com/erpops/incident-triage/internal/domain"
)

// EventType names an incident lifecycle event.
type EventType string

// Lifecycle event types.
const (
	EventIncidentCreated       EventType = "incident.created"
	EventIncidentStatusChanged EventType = "incident.status_changed"
)

// Event describes a committed change to an incident.
type Event struct {
	Type           EventType              `json:"event"`
	Incident       *domain.Incident       `json:"incident"`
	PreviousStatus *domain.IncidentStatus `json:"previous_status,omitempty"`
	OccurredAt     time.Time              `json:"occurred_at"`
}

// EventPublisher delivers lifecycle events to downstream consumers.
// Publishing is best-effort: errors are logged and never fail the operation.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}
