package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/pkg/apperr"
	"github.com/livepoll/backend/pkg/database"
)

// Repository handles host persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID returns a host by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Host, error) {
	const q = `SELECT id, email, password_hash, name, created_at FROM hosts WHERE id = $1`
	var h models.Host
	err := r.pool.QueryRow(ctx, q, id).Scan(&h.ID, &h.Email, &h.Password, &h.Name, &h.CreatedAt)
	if err != nil {
		return nil, database.Wrap(err, "host", "get host")
	}
	return &h, nil
}

// GetByEmail returns a host by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Host, error) {
	const q = `SELECT id, email, password_hash, name, created_at FROM hosts WHERE email = $1`
	var h models.Host
	err := r.pool.QueryRow(ctx, q, email).Scan(&h.ID, &h.Email, &h.Password, &h.Name, &h.CreatedAt)
	if err != nil {
		return nil, database.Wrap(err, "host", "get host by email")
	}
	return &h, nil
}

// Create inserts a new host.
func (r *Repository) Create(ctx context.Context, email, passwordHash, name string) (*models.Host, error) {
	const q = `INSERT INTO hosts (email, password_hash, name) VALUES ($1, $2, $3)
		RETURNING id, email, password_hash, name, created_at`
	var h models.Host
	err := r.pool.QueryRow(ctx, q, email, passwordHash, name).Scan(&h.ID, &h.Email, &h.Password, &h.Name, &h.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, "") {
			return nil, apperr.Conflict("email already registered")
		}
		return nil, database.Wrap(err, "host", "create host")
	}
	return &h, nil
}
