package incidents

import (
	"context"
	"fmt"
	"time"

	"github.com/erpops/incident-triage/internal/domain"
)

// Repository defines the interface for incident storage.
// Implementations wrap persistence failures with ErrStorageUnavailable.
type Repository interface {
	CreateIncident(ctx context.Context, incident *domain.Incident) error
	GetIncident(ctx context.Context, id string) (*domain.Incident, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]*domain.Incident, error)

	// UpdateIncidentStatus locks the incident, sets its status and moves
	// updated_at to at or, if that is not later, just past the stored value.
	// It returns the updated incident and the status it had before.
	UpdateIncidentStatus(ctx context.Context, id string, status domain.IncidentStatus, at time.Time) (*domain.Incident, domain.IncidentStatus, error)
}

// IncidentFilter holds optional exact-match filters combined with AND.
type IncidentFilter struct {
	Severity  *domain.Severity
	ERPModule *domain.ERPModule
	Status    *domain.IncidentStatus
}

// Validate rejects filter values outside their enumerations.
func (f IncidentFilter) Validate() error {
	if f.Severity != nil && !f.Severity.IsValid() {
		return fmt.Errorf("%w: severity %q", ErrInvalidFilter, *f.Severity)
	}
	if f.ERPModule != nil && !f.ERPModule.IsValid() {
		return fmt.Errorf("%w: erp_module %q", ErrInvalidFilter, *f.ERPModule)
	}
	if f.Status != nil && !f.Status.IsValid() {
		return fmt.Errorf("%w: status %q", ErrInvalidFilter, *f.Status)
	}
	return nil
}
