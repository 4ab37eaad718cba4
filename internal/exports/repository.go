package exports

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/pkg/apperr"
	"github.com/livepoll/backend/pkg/database"
)

// Repository handles export job persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an exports repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const exportColumns = `id, session_id, status, s3_key, error, created_at, updated_at`

func scanExport(row interface{ Scan(...interface{}) error }, e *models.Export) error {
	return row.Scan(&e.ID, &e.SessionID, &e.Status, &e.S3Key, &e.Error, &e.CreatedAt, &e.UpdatedAt)
}

// Create inserts a pending export for a session.
func (r *Repository) Create(ctx context.Context, sessionID uuid.UUID) (*models.Export, error) {
	const q = `INSERT INTO exports (session_id) VALUES ($1) RETURNING ` + exportColumns
	var e models.Export
	if err := scanExport(r.pool.QueryRow(ctx, q, sessionID), &e); err != nil {
		return nil, database.Wrap(err, "export", "create export")
	}
	return &e, nil
}

// GetByID returns an export by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Export, error) {
	const q = `SELECT ` + exportColumns + ` FROM exports WHERE id = $1`
	var e models.Export
	if err := scanExport(r.pool.QueryRow(ctx, q, id), &e); err != nil {
		return nil, database.Wrap(err, "export", "get export")
	}
	return &e, nil
}

// MarkRunning moves the export to running.
func (r *Repository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, models.ExportStatusRunning, "", "")
}

// MarkCompleted records the uploaded object key.
func (r *Repository) MarkCompleted(ctx context.Context, id uuid.UUID, key string) error {
	return r.setStatus(ctx, id, models.ExportStatusCompleted, key, "")
}

// MarkFailed records why the export gave up.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return r.setStatus(ctx, id, models.ExportStatusFailed, "", reason)
}

func (r *Repository) setStatus(ctx context.Context, id uuid.UUID, status, key, reason string) error {
	const q = `UPDATE exports SET status = $2, s3_key = $3, error = $4, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id, status, key, reason)
	if err != nil {
		return database.Wrap(err, "export", "update export")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("export")
	}
	return nil
}
