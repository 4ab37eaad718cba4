package polls

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/pkg/apperr"
	"github.com/livepoll/backend/pkg/database"
)

// Repository handles poll persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a polls repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const pollColumns = `id, session_id, type, question, options, order_index, created_at`

func scanPoll(row interface{ Scan(...interface{}) error }, p *models.Poll) error {
	var raw []byte
	if err := row.Scan(&p.ID, &p.SessionID, &p.Type, &p.Question, &raw, &p.OrderIndex, &p.CreatedAt); err != nil {
		return err
	}
	p.Options = []models.Option{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p.Options); err != nil {
			return fmt.Errorf("decode options: %w", err)
		}
	}
	return nil
}

// Create appends a slide to the end of its session. The order index is taken in the same statement so
// concurrent creates never reuse one; a collision surfaces as a unique violation and is retried once.
func (r *Repository) Create(ctx context.Context, p *models.Poll) error {
	options, err := json.Marshal(p.Options)
	if err != nil {
		return apperr.Store("encode options", err)
	}
	const q = `INSERT INTO polls (session_id, type, question, options, order_index)
		SELECT $1, $2, $3, $4::jsonb, COALESCE(MAX(order_index) + 1, 0) FROM polls WHERE session_id = $1
		RETURNING ` + pollColumns
	for attempt := 0; ; attempt++ {
		err = scanPoll(r.pool.QueryRow(ctx, q, p.SessionID, string(p.Type), p.Question, string(options)), p)
		if err == nil {
			return nil
		}
		if attempt > 0 || !database.IsUniqueViolation(err, "polls_session_id_order_index_key") {
			return database.Wrap(err, "poll", "create poll")
		}
	}
}

// GetByID returns a poll by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	const q = `SELECT ` + pollColumns + ` FROM polls WHERE id = $1`
	var p models.Poll
	if err := scanPoll(r.pool.QueryRow(ctx, q, id), &p); err != nil {
		return nil, database.Wrap(err, "poll", "get poll")
	}
	return &p, nil
}

// ListBySession returns the session's slides in presentation order.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Poll, error) {
	const q = `SELECT ` + pollColumns + ` FROM polls WHERE session_id = $1 ORDER BY order_index`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, database.Wrap(err, "poll", "list polls")
	}
	defer rows.Close()

	list := []models.Poll{}
	for rows.Next() {
		var p models.Poll
		if err := scanPoll(rows, &p); err != nil {
			return nil, database.Wrap(err, "poll", "scan poll")
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Wrap(err, "poll", "list polls")
	}
	return list, nil
}

// UpdateOptionVotes rewrites the stored option list with recomputed counters.
func (r *Repository) UpdateOptionVotes(ctx context.Context, id uuid.UUID, options []models.Option) error {
	raw, err := json.Marshal(options)
	if err != nil {
		return apperr.Store("encode options", err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE polls SET options = $2::jsonb WHERE id = $1`, id, string(raw))
	if err != nil {
		return database.Wrap(err, "poll", "update option votes")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("poll")
	}
	return nil
}
