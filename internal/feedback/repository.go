package feedback

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/pkg/database"
)

// Repository handles feedback persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a feedback repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a feedback row and fills its ID and CreatedAt.
func (r *Repository) Create(ctx context.Context, f *models.Feedback) error {
	const q = `INSERT INTO feedback (poll_id, session_id, participant_id, content, is_public)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, q, f.PollID, f.SessionID, f.ParticipantID, f.Content, f.IsPublic).
		Scan(&f.ID, &f.CreatedAt)
	return database.Wrap(err, "feedback", "create feedback")
}

// ListBySession returns the session's feedback, oldest first. publicOnly hides private rows.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID, publicOnly bool) ([]models.Feedback, error) {
	const q = `SELECT id, poll_id, session_id, participant_id, content, is_public, created_at
		FROM feedback WHERE session_id = $1 AND (is_public OR NOT $2) ORDER BY created_at, id`
	rows, err := r.pool.Query(ctx, q, sessionID, publicOnly)
	if err != nil {
		return nil, database.Wrap(err, "feedback", "list feedback")
	}
	defer rows.Close()

	list := []models.Feedback{}
	for rows.Next() {
		var f models.Feedback
		if err := rows.Scan(&f.ID, &f.PollID, &f.SessionID, &f.ParticipantID, &f.Content, &f.IsPublic, &f.CreatedAt); err != nil {
			return nil, database.Wrap(err, "feedback", "scan feedback")
		}
		list = append(list, f)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Wrap(err, "feedback", "list feedback")
	}
	return list, nil
}
