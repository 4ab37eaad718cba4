package sessions

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/pkg/apperr"
	"github.com/livepoll/backend/pkg/database"
)

const (
	activeCodeIndex = "sessions_active_code_idx"
	maxCodeAttempts = 10
)

// Repository handles session persistence.
type Repository struct {
	pool    *pgxpool.Pool
	newCode func() string
}

// NewRepository creates a sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, newCode: GenerateCode}
}

// GenerateCode returns a random 6-digit join code, zero padded.
func GenerateCode() string {
	return fmt.Sprintf("%06d", rand.Intn(1000000))
}

const sessionColumns = `id, host_id, code, title, is_active, current_slide_index, created_at, ended_at`

func scanSession(row interface{ Scan(...interface{}) error }, s *models.Session) error {
	return row.Scan(&s.ID, &s.HostID, &s.Code, &s.Title, &s.IsActive, &s.CurrentSlideIndex, &s.CreatedAt, &s.EndedAt)
}

// Create inserts a session with a fresh join code. A code held by another active session is
// redrawn; codes of ended sessions may be reused.
func (r *Repository) Create(ctx context.Context, hostID uuid.UUID, title string) (*models.Session, error) {
	const q = `INSERT INTO sessions (host_id, code, title) VALUES ($1, $2, $3) RETURNING ` + sessionColumns
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		var s models.Session
		err := scanSession(r.pool.QueryRow(ctx, q, hostID, r.newCode(), title), &s)
		if err == nil {
			return &s, nil
		}
		if !database.IsUniqueViolation(err, activeCodeIndex) {
			return nil, database.Wrap(err, "session", "create session")
		}
	}
	return nil, apperr.Conflict("could not allocate a join code, try again")
}

// GetByID returns a session by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	var s models.Session
	if err := scanSession(r.pool.QueryRow(ctx, q, id), &s); err != nil {
		return nil, database.Wrap(err, "session", "get session")
	}
	return &s, nil
}

// GetActiveByCode resolves a join code to its live session.
func (r *Repository) GetActiveByCode(ctx context.Context, code string) (*models.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE code = $1 AND is_active`
	var s models.Session
	if err := scanSession(r.pool.QueryRow(ctx, q, code), &s); err != nil {
		return nil, database.Wrap(err, "session", "get session by code")
	}
	return &s, nil
}

// ListByHost returns the host's sessions, newest first.
func (r *Repository) ListByHost(ctx context.Context, hostID uuid.UUID) ([]models.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE host_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, hostID)
	if err != nil {
		return nil, database.Wrap(err, "session", "list sessions")
	}
	defer rows.Close()

	list := []models.Session{}
	for rows.Next() {
		var s models.Session
		if err := scanSession(rows, &s); err != nil {
			return nil, database.Wrap(err, "session", "scan session")
		}
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Wrap(err, "session", "list sessions")
	}
	return list, nil
}

// SetCurrentSlide moves the session's slide pointer. Range checking against the poll count is the caller's job.
func (r *Repository) SetCurrentSlide(ctx context.Context, id uuid.UUID, index int) error {
	const q = `UPDATE sessions SET current_slide_index = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id, index)
	if err != nil {
		return database.Wrap(err, "session", "set current slide")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("session")
	}
	return nil
}

// End marks the session inactive, releasing its join code. Ending twice keeps the first ended_at.
func (r *Repository) End(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE sessions SET is_active = FALSE, ended_at = COALESCE(ended_at, NOW()) WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return database.Wrap(err, "session", "end session")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("session")
	}
	return nil
}
