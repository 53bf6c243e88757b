// Package postgres provides PostgreSQL implementation of incidents repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erpops/incident-triage/internal/domain"
	"github.com/erpops/incident-triage/internal/incidents"
	"github.com/erpops/incident-triage/internal/pkg/ctxlog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const incidentColumns = `
	id, title, description, erp_module, environment, business_unit,
	severity, category, auto_summary, suggested_action, status,
	created_at, updated_at`

// Repository implements incidents.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateIncident inserts the incident in a single transaction.
func (r *Repository) CreateIncident(ctx context.Context, incident *domain.Incident) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return storageError("begin transaction", err)
	}
	defer rollback(ctx, tx)

	query := `
		INSERT INTO incidents (` + incidentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = tx.Exec(ctx, query,
		incident.ID,
		incident.Title,
		incident.Description,
		incident.ERPModule,
		incident.Environment,
		incident.BusinessUnit,
		incident.Severity,
		incident.Category,
		incident.AutoSummary,
		incident.SuggestedAction,
		incident.Status,
		incident.CreatedAt,
		incident.UpdatedAt,
	)
	if err != nil {
		return storageError("insert incident", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storageError("commit transaction", err)
	}
	return nil
}

// GetIncident retrieves an incident by ID.
func (r *Repository) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`

	incident, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, storageError("get incident", err)
	}
	return incident, nil
}

// ListIncidents retrieves incidents matching the filter, newest first.
func (r *Repository) ListIncidents(ctx context.Context, filter incidents.IncidentFilter) ([]*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	args := []any{}
	argNum := 1

	if filter.Severity != nil {
		query += fmt.Sprintf(" AND severity = $%d", argNum)
		args = append(args, *filter.Severity)
		argNum++
	}
	if filter.ERPModule != nil {
		query += fmt.Sprintf(" AND erp_module = $%d", argNum)
		args = append(args, *filter.ERPModule)
		argNum++
	}
	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, *filter.Status)
	}

	query += " ORDER BY created_at DESC, id"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storageError("list incidents", err)
	}
	defer rows.Close()

	result := make([]*domain.Incident, 0)
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, storageError("scan incident", err)
		}
		result = append(result, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterate incidents", err)
	}
	return result, nil
}

// UpdateIncidentStatus locks the row, then updates status and updated_at
// in the same transaction. updated_at always advances.
func (r *Repository) UpdateIncidentStatus(
	ctx context.Context,
	id string,
	status domain.IncidentStatus,
	at time.Time,
) (*domain.Incident, domain.IncidentStatus, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, "", storageError("begin transaction", err)
	}
	defer rollback(ctx, tx)

	var previous domain.IncidentStatus
	err = tx.QueryRow(ctx, `SELECT status FROM incidents WHERE id = $1 FOR UPDATE`, id).Scan(&previous)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", incidents.ErrIncidentNotFound
		}
		return nil, "", storageError("lock incident", err)
	}

	query := `
		UPDATE incidents
		SET status = $2,
		    updated_at = GREATEST($3, updated_at + INTERVAL '1 microsecond')
		WHERE id = $1
		RETURNING ` + incidentColumns

	incident, err := scanIncident(tx.QueryRow(ctx, query, id, status, at))
	if err != nil {
		return nil, "", storageError("update incident status", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, "", storageError("commit transaction", err)
	}
	return incident, previous, nil
}

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var incident domain.Incident
	err := row.Scan(
		&incident.ID,
		&incident.Title,
		&incident.Description,
		&incident.ERPModule,
		&incident.Environment,
		&incident.BusinessUnit,
		&incident.Severity,
		&incident.Category,
		&incident.AutoSummary,
		&incident.SuggestedAction,
		&incident.Status,
		&incident.CreatedAt,
		&incident.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	incident.CreatedAt = incident.CreatedAt.UTC()
	incident.UpdatedAt = incident.UpdatedAt.UTC()
	return &incident, nil
}

func rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		ctxlog.FromContext(ctx).Error("failed to rollback transaction", "error", err)
	}
}

func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, incidents.ErrStorageUnavailable, err)
}
