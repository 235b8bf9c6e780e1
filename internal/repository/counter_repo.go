package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Counter names.
const (
	CounterJars     = "jars"
	CounterAccounts = "accounts"
)

// CounterRepo hands out monotonically increasing record ids.
type CounterRepo struct {
	pool *pgxpool.Pool
}

func NewCounterRepo(pool *pgxpool.Pool) *CounterRepo {
	return &CounterRepo{pool: pool}
}

// Next atomically increments the named counter and returns the new value.
func (r *CounterRepo) Next(ctx context.Context, name string) (int64, error) {
	var value int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO counters (name, value) VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET value = counters.value + 1
		RETURNING value
	`, name).Scan(&value)
	return value, err
}
