package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new operator and returns it.
func (r *Repository) Create(ctx context.Context, email, passwordHash, displayName, role string) (*Operator, error) {
	op := &Operator{Email: email, DisplayName: displayName, Role: role}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO operators (email, password_hash, display_name, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, email, passwordHash, displayName, role)
	if err := row.Scan(&op.ID); err != nil {
		return nil, err
	}
	return op, nil
}

// GetByEmail returns the operator and password hash for login. Returns nil if not found.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*Operator, string, error) {
	var op Operator
	var passwordHash string
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, display_name, role, password_hash
		FROM operators WHERE email = $1
	`, email)
	if err := row.Scan(&op.ID, &op.Email, &op.DisplayName, &op.Role, &passwordHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", nil
		}
		return nil, "", err
	}
	return &op, passwordHash, nil
}
