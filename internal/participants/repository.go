package participants

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/pkg/apperr"
	"github.com/livepoll/backend/pkg/database"
)

// Repository handles participant persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a participants repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a participant for a session.
func (r *Repository) Create(ctx context.Context, sessionID uuid.UUID, name string) (*models.Participant, error) {
	const q = `INSERT INTO participants (session_id, name) VALUES ($1, $2)
		RETURNING id, session_id, name, connection_id, joined_at`
	var p models.Participant
	err := r.pool.QueryRow(ctx, q, sessionID, name).Scan(&p.ID, &p.SessionID, &p.Name, &p.ConnectionID, &p.JoinedAt)
	if err != nil {
		return nil, database.Wrap(err, "participant", "create participant")
	}
	return &p, nil
}

// GetByID returns a participant by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	const q = `SELECT id, session_id, name, connection_id, joined_at FROM participants WHERE id = $1`
	var p models.Participant
	err := r.pool.QueryRow(ctx, q, id).Scan(&p.ID, &p.SessionID, &p.Name, &p.ConnectionID, &p.JoinedAt)
	if err != nil {
		return nil, database.Wrap(err, "participant", "get participant")
	}
	return &p, nil
}

// BindConnection records the live connection currently acting for the participant.
func (r *Repository) BindConnection(ctx context.Context, id uuid.UUID, connectionID string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE participants SET connection_id = $2 WHERE id = $1`, id, connectionID)
	if err != nil {
		return database.Wrap(err, "participant", "bind connection")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("participant")
	}
	return nil
}

// ClearConnection drops the participant's connection handle if connectionID still holds it. A handle
// already taken over by a newer connection is left alone. The row itself is kept.
func (r *Repository) ClearConnection(ctx context.Context, id uuid.UUID, connectionID string) error {
	_, err := r.pool.Exec(ctx, clearConnectionSQL, id, connectionID)
	return database.Wrap(err, "participant", "clear connection")
}

const clearConnectionSQL = `UPDATE participants SET connection_id = NULL WHERE id = $1 AND connection_id = $2`

// CountBySession returns every participant row ever created for the session.
func (r *Repository) CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM participants WHERE session_id = $1`, sessionID).Scan(&n); err != nil {
		return 0, database.Wrap(err, "participant", "count participants")
	}
	return n, nil
}
