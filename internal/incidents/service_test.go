package incidents

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/erpops/incident-triage/internal/domain"
	"github.com/erpops/incident-triage/internal/enrichment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRepository implements Repository in memory.
type mockRepository struct {
	mu        sync.Mutex
	incidents map[string]*domain.Incident
	err       error
	updates   int
}

func newMockRepository() *mockRepository {
	return &mockRepository{incidents: make(map[string]*domain.Incident)}
}

func (m *mockRepository) CreateIncident(_ context.Context, incident *domain.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	stored := *incident
	m.incidents[incident.ID] = &stored
	return nil
}

func (m *mockRepository) GetIncident(_ context.Context, id string) (*domain.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	incident, ok := m.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	found := *incident
	return &found, nil
}

func (m *mockRepository) ListIncidents(_ context.Context, filter IncidentFilter) ([]*domain.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	result := make([]*domain.Incident, 0)
	for _, inc := range m.incidents {
		if filter.Severity != nil && inc.Severity != *filter.Severity {
			continue
		}
		if filter.ERPModule != nil && inc.ERPModule != *filter.ERPModule {
			continue
		}
		if filter.Status != nil && inc.Status != *filter.Status {
			continue
		}
		found := *inc
		result = append(result, &found)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *mockRepository) UpdateIncidentStatus(_ context.Context, id string, status domain.IncidentStatus, at time.Time) (*domain.Incident, domain.IncidentStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, "", m.err
	}
	incident, ok := m.incidents[id]
	if !ok {
		return nil, "", ErrIncidentNotFound
	}
	m.updates++
	previous := incident.Status
	incident.Status = status
	if at.After(incident.UpdatedAt) {
		incident.UpdatedAt = at
	} else {
		incident.UpdatedAt = incident.UpdatedAt.Add(time.Microsecond)
	}
	updated := *incident
	return &updated, previous, nil
}

// mockEnricher returns a fixed enrichment.
type mockEnricher struct {
	result domain.Enrichment
	calls  int
}

func (m *mockEnricher) Enrich(_ context.Context, _ domain.IncidentSubmission) domain.Enrichment {
	m.calls++
	return m.result
}

// mockPublisher records published events.
type mockPublisher struct {
	events []Event
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, event Event) error {
	m.events = append(m.events, event)
	return m.err
}

var validSubmission = domain.IncidentSubmission{
	Title:        "Payroll run stuck",
	Description:  "The monthly payroll run is stuck at 80 percent",
	ERPModule:    domain.ERPModulePayroll,
	Environment:  domain.EnvironmentTest,
	BusinessUnit: "HR Shared Services",
}

type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time { return c.t }

func newTestService(repo Repository, enricher Enricher, publisher EventPublisher, clock *fixedClock) *Service {
	s := NewService(repo, enricher, publisher)
	if clock != nil {
		s.now = clock.now
	}
	return s
}

func TestService_CreateIncident(t *testing.T) {
	repo := newMockRepository()
	enricher := &mockEnricher{result: domain.Enrichment{
		Severity:        domain.SeverityP1,
		Category:        domain.CategoryData,
		AutoSummary:     "Payroll batch halted.",
		SuggestedAction: "Restart the payroll job.",
		Source:          domain.EnrichmentSourceOpenAI,
	}}
	publisher := &mockPublisher{}
	clock := &fixedClock{t: time.Date(2026, 3, 1, 9, 30, 0, 123456789, time.FixedZone("CET", 3600))}
	s := newTestService(repo, enricher, publisher, clock)

	incident, err := s.CreateIncident(context.Background(), validSubmission)
	require.NoError(t, err)

	assert.Len(t, incident.ID, 36)
	assert.Equal(t, validSubmission.Title, incident.Title)
	assert.Equal(t, validSubmission.Description, incident.Description)
	assert.Equal(t, validSubmission.ERPModule, incident.ERPModule)
	assert.Equal(t, validSubmission.Environment, incident.Environment)
	assert.Equal(t, validSubmission.BusinessUnit, incident.BusinessUnit)
	assert.Equal(t, domain.SeverityP1, incident.Severity)
	assert.Equal(t, domain.CategoryData, incident.Category)
	require.NotNil(t, incident.AutoSummary)
	assert.Equal(t, "Payroll batch halted.", *incident.AutoSummary)
	require.NotNil(t, incident.SuggestedAction)
	assert.Equal(t, "Restart the payroll job.", *incident.SuggestedAction)
	assert.Equal(t, domain.IncidentStatusOpen, incident.Status)

	wantTime := time.Date(2026, 3, 1, 8, 30, 0, 123456000, time.UTC)
	assert.Equal(t, wantTime, incident.CreatedAt)
	assert.Equal(t, incident.CreatedAt, incident.UpdatedAt)
	assert.Equal(t, time.UTC, incident.CreatedAt.Location())

	stored, err := repo.GetIncident(context.Background(), incident.ID)
	require.NoError(t, err)
	assert.Equal(t, incident, stored)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, EventIncidentCreated, publisher.events[0].Type)
	assert.Equal(t, incident.ID, publisher.events[0].Incident.ID)
	assert.Nil(t, publisher.events[0].PreviousStatus)
}

func TestService_CreateIncident_UniqueIDs(t *testing.T) {
	s := newTestService(newMockRepository(), &mockEnricher{}, nil, nil)

	seen := make(map[string]bool)
	for range 50 {
		incident, err := s.CreateIncident(context.Background(), validSubmission)
		require.NoError(t, err)
		assert.False(t, seen[incident.ID])
		seen[incident.ID] = true
	}
}

func TestService_CreateIncident_InvalidSubmission(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.IncidentSubmission)
	}{
		{"short title", func(s *domain.IncidentSubmission) { s.Title = "Down" }},
		{"long title", func(s *domain.IncidentSubmission) { s.Title = strings.Repeat("t", 256) }},
		{"short description", func(s *domain.IncidentSubmission) { s.Description = "too short" }},
		{"unknown module", func(s *domain.IncidentSubmission) { s.ERPModule = "CRM" }},
		{"unknown environment", func(s *domain.IncidentSubmission) { s.Environment = "DEV" }},
		{"long business unit", func(s *domain.IncidentSubmission) { s.BusinessUnit = strings.Repeat("b", 101) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockRepository()
			enricher := &mockEnricher{}
			s := newTestService(repo, enricher, nil, nil)

			sub := validSubmission
			tt.mutate(&sub)

			incident, err := s.CreateIncident(context.Background(), sub)

			assert.Nil(t, incident)
			assert.ErrorIs(t, err, ErrInvalidSubmission)
			assert.Equal(t, 0, enricher.calls, "no enrichment for invalid input")
			assert.Empty(t, repo.incidents, "no record for invalid input")
		})
	}
}

func TestService_CreateIncident_MultibyteLengths(t *testing.T) {
	s := newTestService(newMockRepository(), &mockEnricher{}, nil, nil)

	sub := validSubmission
	sub.Title = "Zähl"
	_, err := s.CreateIncident(context.Background(), sub)
	assert.ErrorIs(t, err, ErrInvalidSubmission, "four characters")

	sub.Title = "Zählé"
	_, err = s.CreateIncident(context.Background(), sub)
	assert.NoError(t, err, "five characters")
}

func TestService_CreateIncident_StorageFailure(t *testing.T) {
	repo := newMockRepository()
	repo.err = fmt.Errorf("insert incident: %w: connection refused", ErrStorageUnavailable)
	publisher := &mockPublisher{}
	s := newTestService(repo, &mockEnricher{}, publisher, nil)

	incident, err := s.CreateIncident(context.Background(), validSubmission)

	assert.Nil(t, incident)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Empty(t, publisher.events)
}

func TestService_CreateIncident_PublishFailureIgnored(t *testing.T) {
	publisher := &mockPublisher{err: errors.New("broker down")}
	s := newTestService(newMockRepository(), &mockEnricher{}, publisher, nil)

	incident, err := s.CreateIncident(context.Background(), validSubmission)

	require.NoError(t, err)
	assert.NotNil(t, incident)
}

func TestService_CreateIncident_WithRuleEnricher(t *testing.T) {
	s := newTestService(newMockRepository(), enrichment.NewEnricher(nil, time.Second), nil, nil)

	sub := validSubmission
	sub.Environment = domain.EnvironmentProd
	sub.Description = "Access denied when approving timesheets"

	incident, err := s.CreateIncident(context.Background(), sub)
	require.NoError(t, err)

	assert.Equal(t, domain.SeverityP1, incident.Severity)
	assert.Equal(t, domain.CategorySecurity, incident.Category)
	assert.Equal(t, "Issue reported in PAYROLL module affecting HR Shared Services", *incident.AutoSummary)
	assert.Equal(t, "Review recent changes and validate system logs.", *incident.SuggestedAction)
}

func TestService_GetIncident(t *testing.T) {
	repo := newMockRepository()
	enricher := &mockEnricher{}
	s := newTestService(repo, enricher, nil, nil)

	created, err := s.CreateIncident(context.Background(), validSubmission)
	require.NoError(t, err)

	got, err := s.GetIncident(context.Background(), strings.ToUpper(created.ID))
	require.NoError(t, err)
	assert.Equal(t, created, got)
	assert.Equal(t, 1, enricher.calls, "reads do not re-enrich")
}

func TestService_GetIncident_NotFound(t *testing.T) {
	s := newTestService(newMockRepository(), &mockEnricher{}, nil, nil)

	for _, id := range []string{"", "not-a-uuid", "7d9f1c1e-0000-4000-8000-000000000000"} {
		_, err := s.GetIncident(context.Background(), id)
		assert.ErrorIs(t, err, ErrIncidentNotFound, "id %q", id)
	}
}

func TestService_ListIncidents(t *testing.T) {
	repo := newMockRepository()
	clock := &fixedClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	enricher := &mockEnricher{}
	s := newTestService(repo, enricher, nil, clock)

	create := func(severity domain.Severity, module domain.ERPModule) *domain.Incident {
		t.Helper()
		enricher.result = domain.Enrichment{Severity: severity, Category: domain.CategoryUnknown}
		sub := validSubmission
		sub.ERPModule = module
		clock.t = clock.t.Add(time.Minute)
		incident, err := s.CreateIncident(context.Background(), sub)
		require.NoError(t, err)
		return incident
	}

	first := create(domain.SeverityP1, domain.ERPModuleAP)
	second := create(domain.SeverityP2, domain.ERPModuleAP)
	third := create(domain.SeverityP1, domain.ERPModuleGL)

	_, err := s.UpdateIncidentStatus(context.Background(), first.ID, domain.IncidentStatusResolved)
	require.NoError(t, err)

	p1 := domain.SeverityP1
	ap := domain.ERPModuleAP
	open := domain.IncidentStatusOpen

	tests := []struct {
		name   string
		filter IncidentFilter
		want   []string
	}{
		{"all newest first", IncidentFilter{}, []string{third.ID, second.ID, first.ID}},
		{"by severity", IncidentFilter{Severity: &p1}, []string{third.ID, first.ID}},
		{"by module", IncidentFilter{ERPModule: &ap}, []string{second.ID, first.ID}},
		{"by status", IncidentFilter{Status: &open}, []string{third.ID, second.ID}},
		{"combined", IncidentFilter{Severity: &p1, ERPModule: &ap}, []string{first.ID}},
		{"combined no match", IncidentFilter{Severity: &p1, ERPModule: &ap, Status: &open}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListIncidents(context.Background(), tt.filter)
			require.NoError(t, err)

			ids := make([]string, 0, len(got))
			for _, inc := range got {
				ids = append(ids, inc.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestService_ListIncidents_InvalidFilter(t *testing.T) {
	s := newTestService(newMockRepository(), &mockEnricher{}, nil, nil)

	severity := domain.Severity("P9")
	module := domain.ERPModule("crm")
	status := domain.IncidentStatus("DONE")

	for _, filter := range []IncidentFilter{
		{Severity: &severity},
		{ERPModule: &module},
		{Status: &status},
	} {
		_, err := s.ListIncidents(context.Background(), filter)
		assert.ErrorIs(t, err, ErrInvalidFilter)
	}
}

func TestService_UpdateIncidentStatus(t *testing.T) {
	repo := newMockRepository()
	publisher := &mockPublisher{}
	clock := &fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestService(repo, &mockEnricher{}, publisher, clock)

	created, err := s.CreateIncident(context.Background(), validSubmission)
	require.NoError(t, err)

	clock.t = clock.t.Add(time.Hour)
	updated, err := s.UpdateIncidentStatus(context.Background(), created.ID, domain.IncidentStatusInProgress)
	require.NoError(t, err)

	assert.Equal(t, domain.IncidentStatusInProgress, updated.Status)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))
	assert.Equal(t, created.Severity, updated.Severity)
	assert.Equal(t, created.Category, updated.Category)
	assert.Equal(t, created.AutoSummary, updated.AutoSummary)

	require.Len(t, publisher.events, 2)
	event := publisher.events[1]
	assert.Equal(t, EventIncidentStatusChanged, event.Type)
	require.NotNil(t, event.PreviousStatus)
	assert.Equal(t, domain.IncidentStatusOpen, *event.PreviousStatus)
}

func TestService_UpdateIncidentStatus_AnyTransition(t *testing.T) {
	s := newTestService(newMockRepository(), &mockEnricher{}, nil, nil)

	created, err := s.CreateIncident(context.Background(), validSubmission)
	require.NoError(t, err)

	previous := created.UpdatedAt
	for _, status := range []domain.IncidentStatus{
		domain.IncidentStatusClosed,
		domain.IncidentStatusOpen,
		domain.IncidentStatusResolved,
		domain.IncidentStatusResolved,
		domain.IncidentStatusInProgress,
	} {
		updated, err := s.UpdateIncidentStatus(context.Background(), created.ID, status)
		require.NoError(t, err)
		assert.Equal(t, status, updated.Status)
		assert.True(t, updated.UpdatedAt.After(previous), "updated_at advances on %s", status)
		previous = updated.UpdatedAt
	}
}

func TestService_UpdateIncidentStatus_Errors(t *testing.T) {
	repo := newMockRepository()
	s := newTestService(repo, &mockEnricher{}, nil, nil)

	created, err := s.CreateIncident(context.Background(), validSubmission)
	require.NoError(t, err)

	_, err = s.UpdateIncidentStatus(context.Background(), created.ID, "REOPENED")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = s.UpdateIncidentStatus(context.Background(), "7d9f1c1e-0000-4000-8000-000000000000", domain.IncidentStatusClosed)
	assert.ErrorIs(t, err, ErrIncidentNotFound)

	_, err = s.UpdateIncidentStatus(context.Background(), "42", domain.IncidentStatusClosed)
	assert.ErrorIs(t, err, ErrIncidentNotFound)

	assert.Equal(t, 0, repo.updates)

	stored, err := s.GetIncident(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusOpen, stored.Status)
}

func TestService_UpdateIncidentStatus_StorageFailure(t *testing.T) {
	repo := newMockRepository()
	s := newTestService(repo, &mockEnricher{}, nil, nil)

	created, err := s.CreateIncident(context.Background(), validSubmission)
	require.NoError(t, err)

	repo.err = fmt.Errorf("lock incident: %w: timeout", ErrStorageUnavailable)
	_, err = s.UpdateIncidentStatus(context.Background(), created.ID, domain.IncidentStatusClosed)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}
