// Package responses is the ledger of participant answers, one row per (poll, participant).
package responses

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

// upsertSQL keeps one row per (poll, participant); the latest answer and timestamp win.
const upsertSQL = `INSERT INTO responses (poll_id, participant_id, answer) VALUES ($1, $2, $3::jsonb)
	ON CONFLICT (poll_id, participant_id) DO UPDATE SET answer = EXCLUDED.answer, submitted_at = NOW()
	RETURNING id, poll_id, participant_id, answer, submitted_at`

const listByPollSQL = `SELECT id, poll_id, participant_id, answer, submitted_at
	FROM responses WHERE poll_id = $1 ORDER BY submitted_at, id`

const countRespondentsSQL = `SELECT COUNT(DISTINCT r.participant_id) FROM responses r
	JOIN polls p ON p.id = r.poll_id WHERE p.session_id = $1`

// Repository handles response persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a responses repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanResponse(row interface{ Scan(...interface{}) error }, r *models.Response) error {
	var raw []byte
	if err := row.Scan(&r.ID, &r.PollID, &r.ParticipantID, &raw, &r.SubmittedAt); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, &r.Answer); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	return nil
}

// Upsert records the participant's answer. A resubmission overwrites the answer and timestamp of the
// existing row, keeping its id.
func (r *Repository) Upsert(ctx context.Context, pollID, participantID uuid.UUID, answer models.Answer) (*models.Response, error) {
	raw, err := json.Marshal(answer)
	if err != nil {
		return nil, apperr.Store("encode answer", err)
	}
	var resp models.Response
	if err := scanResponse(r.pool.QueryRow(ctx, upsertSQL, pollID, participantID, string(raw)), &resp); err != nil {
		return nil, database.Wrap(err, "response", "upsert response")
	}
	return &resp, nil
}

// ListByPoll returns the poll's responses in submission order.
func (r *Repository) ListByPoll(ctx context.Context, pollID uuid.UUID) ([]models.Response, error) {
	rows, err := r.pool.Query(ctx, listByPollSQL, pollID)
	if err != nil {
		return nil, database.Wrap(err, "response", "list responses")
	}
	defer rows.Close()

	list := []models.Response{}
	for rows.Next() {
		var resp models.Response
		if err := scanResponse(rows, &resp); err != nil {
			return nil, database.Wrap(err, "response", "scan response")
		}
		list = append(list, resp)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Wrap(err, "response", "list responses")
	}
	return list, nil
}

// CountBySession returns how many distinct participants answered at least one poll of the session.
func (r *Repository) CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countRespondentsSQL, sessionID).Scan(&n); err != nil {
		return 0, database.Wrap(err, "response", "count respondents")
	}
	return n, nil
}
