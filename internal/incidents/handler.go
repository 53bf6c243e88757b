package incidents

import (
	"context"
	"net/http"

	"github.com/erpops/incident-triage/internal/domain"
	"github.com/erpops/incident-triage/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// IncidentService is the set of incident operations served over HTTP.
type IncidentService interface {
	CreateIncident(ctx context.Context, sub domain.IncidentSubmission) (*domain.Incident, error)
	GetIncident(ctx context.Context, id string) (*domain.Incident, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]*domain.Incident, error)
	UpdateIncidentStatus(ctx context.Context, id string, status domain.IncidentStatus) (*domain.Incident, error)
}

// Handler handles HTTP requests for the incidents module.
type Handler struct {
	service   IncidentService
	validator *validator.Validate
}

// NewHandler creates a new incidents handler.
func NewHandler(service IncidentService) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// RegisterRoutes registers read and status routes. submit wraps the
// creation endpoint, e.g. with a rate limiter; nil leaves it unwrapped.
func (h *Handler) RegisterRoutes(r chi.Router, submit func(http.Handler) http.Handler) {
	r.Route("/incidents", func(r chi.Router) {
		if submit != nil {
			r.With(submit).Post("/", h.CreateIncident)
		} else {
			r.Post("/", h.CreateIncident)
		}
		r.Get("/", h.ListIncidents)
		r.Get("/{id}", h.GetIncident)
		r.Patch("/{id}/status", h.UpdateIncidentStatus)
	})
}

// CreateIncidentRequest represents the request body for submitting an incident.
type CreateIncidentRequest struct {
	Title        string `json:"title" validate:"required,min=5,max=255"`
	Description  string `json:"description" validate:"required,min=10"`
	ERPModule    string `json:"erp_module" validate:"required,oneof=AP AR GL INVENTORY HR PAYROLL"`
	Environment  string `json:"environment" validate:"required,oneof=PROD TEST"`
	// BusinessUnit must be present but may be empty.
	BusinessUnit *string `json:"business_unit" validate:"required,max=100"`
}

// ToDomain converts the request to a domain submission.
func (r *CreateIncidentRequest) ToDomain() domain.IncidentSubmission {
	var unit string
	if r.BusinessUnit != nil {
		unit = *r.BusinessUnit
	}
	return domain.IncidentSubmission{
		Title:        r.Title,
		Description:  r.Description,
		ERPModule:    domain.ERPModule(r.ERPModule),
		Environment:  domain.Environment(r.Environment),
		BusinessUnit: unit,
	}
}

// UpdateStatusRequest represents the request body for changing incident status.
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=OPEN IN_PROGRESS RESOLVED CLOSED"`
}

// CreateIncident handles POST /incidents request.
func (h *Handler) CreateIncident(w http.ResponseWriter, r *http.Request) {
	var req CreateIncidentRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	incident, err := h.service.CreateIncident(r.Context(), req.ToDomain())
	if err != nil {
		h.handleServiceError(r.Context(), w, err)
		return
	}

	httputil.Success(w, http.StatusCreated, incident)
}

// GetIncident handles GET /incidents/{id} request.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	incident, err := h.service.GetIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(r.Context(), w, err)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// ListIncidents handles GET /incidents request.
// Query parameters severity, erp_module and status filter by exact match.
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := IncidentFilter{}

	if v := query.Get("severity"); v != "" {
		severity := domain.Severity(v)
		filter.Severity = &severity
	}
	if v := query.Get("erp_module"); v != "" {
		module := domain.ERPModule(v)
		filter.ERPModule = &module
	}
	if v := query.Get("status"); v != "" {
		status := domain.IncidentStatus(v)
		filter.Status = &status
	}

	incidents, err := h.service.ListIncidents(r.Context(), filter)
	if err != nil {
		h.handleServiceError(r.Context(), w, err)
		return
	}

	httputil.Success(w, http.StatusOK, incidents)
}

// UpdateIncidentStatus handles PATCH /incidents/{id}/status request.
func (h *Handler) UpdateIncidentStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	incident, err := h.service.UpdateIncidentStatus(r.Context(), chi.URLParam(r, "id"), domain.IncidentStatus(req.Status))
	if err != nil {
		h.handleServiceError(r.Context(), w, err)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrIncidentNotFound, Status: http.StatusNotFound, Message: "incident not found"},
	{Error: ErrInvalidSubmission, Status: http.StatusBadRequest},
	{Error: ErrInvalidStatus, Status: http.StatusBadRequest},
	{Error: ErrInvalidFilter, Status: http.StatusBadRequest},
	{Error: ErrStorageUnavailable, Status: http.StatusServiceUnavailable, Message: "storage unavailable"},
}

func (h *Handler) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	httputil.HandleError(ctx, w, err, errorMappings)
}
