// Package incidents provides HTTP handlers and business logic for triaging
// and tracking ERP incidents.
package incidents

import (
	"context"
	"fmt"
	"time"

	"github.com/erpops/incident-triage/internal/domain"
	"github.com/erpops/incident-triage/internal/pkg/ctxlog"
	"github.com/erpops/incident-triage/internal/pkg/metrics"
	"github.com/google/uuid"
)

// Enricher derives severity, category, summary and action for a submission.
// It never fails.
type Enricher interface {
	Enrich(ctx context.Context, sub domain.IncidentSubmission) domain.Enrichment
}

// Service implements incident business logic.
type Service struct {
	repo      Repository
	enricher  Enricher
	publisher EventPublisher
	now       func() time.Time
}

// NewService creates a new incident service. publisher may be nil.
func NewService(repo Repository, enricher Enricher, publisher EventPublisher) *Service {
	return &Service{
		repo:      repo,
		enricher:  enricher,
		publisher: publisher,
		now:       time.Now,
	}
}

// CreateIncident validates, triages and stores a new incident with status OPEN.
func (s *Service) CreateIncident(ctx context.Context, sub domain.IncidentSubmission) (*domain.Incident, error) {
	if err := sub.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSubmission, err)
	}

	id := uuid.NewString()
	ctx = ctxlog.With(ctx, "incident_id", id)

	enrichment := s.enricher.Enrich(ctx, sub)
	now := s.timestamp()

	incident := &domain.Incident{
		ID:              id,
		Title:           sub.Title,
		Description:     sub.Description,
		ERPModule:       sub.ERPModule,
		Environment:     sub.Environment,
		BusinessUnit:    sub.BusinessUnit,
		Severity:        enrichment.Severity,
		Category:        enrichment.Category,
		AutoSummary:     &enrichment.AutoSummary,
		SuggestedAction: &enrichment.SuggestedAction,
		Status:          domain.IncidentStatusOpen,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.CreateIncident(ctx, incident); err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	metrics.IncidentsCreated.WithLabelValues(string(incident.Severity), string(incident.Category)).Inc()
	ctxlog.FromContext(ctx).Info("incident created",
		"severity", incident.Severity,
		"category", incident.Category,
		"enrichment_source", enrichment.Source,
	)

	s.publish(ctx, Event{
		Type:       EventIncidentCreated,
		Incident:   incident,
		OccurredAt: now,
	})

	return incident, nil
}

// GetIncident returns the stored incident. Malformed ids are reported as not found.
func (s *Service) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	id, ok := canonicalID(id)
	if !ok {
		return nil, ErrIncidentNotFound
	}
	incident, err := s.repo.GetIncident(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return incident, nil
}

// ListIncidents returns incidents matching every set filter, newest first.
func (s *Service) ListIncidents(ctx context.Context, filter IncidentFilter) ([]*domain.Incident, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	incidents, err := s.repo.ListIncidents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	return incidents, nil
}

// UpdateIncidentStatus moves an incident to status. Any status may follow any other.
func (s *Service) UpdateIncidentStatus(ctx context.Context, id string, status domain.IncidentStatus) (*domain.Incident, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	id, ok := canonicalID(id)
	if !ok {
		return nil, ErrIncidentNotFound
	}
	ctx = ctxlog.With(ctx, "incident_id", id)

	incident, previous, err := s.repo.UpdateIncidentStatus(ctx, id, status, s.timestamp())
	if err != nil {
		return nil, fmt.Errorf("update incident status: %w", err)
	}

	ctxlog.FromContext(ctx).Info("incident status changed",
		"from", previous,
		"to", incident.Status,
	)

	s.publish(ctx, Event{
		Type:           EventIncidentStatusChanged,
		Incident:       incident,
		PreviousStatus: &previous,
		OccurredAt:     incident.UpdatedAt,
	})

	return incident, nil
}

func (s *Service) publish(ctx context.Context, event Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		ctxlog.FromContext(ctx).Warn("failed to publish incident event",
			"event", event.Type,
			"error", err,
		)
	}
}

// timestamp returns the current time in UTC at the precision PostgreSQL stores.
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// canonicalID normalizes a UUID to its lowercase hyphenated form.
func canonicalID(id string) (string, bool) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}
