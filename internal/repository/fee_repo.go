package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FeeRepo is the protocol-level fee accumulator: withdrawal fees credit it,
// the fee-withdrawal operation drains it.
type FeeRepo struct {
	pool *pgxpool.Pool
}

func NewFeeRepo(pool *pgxpool.Pool) *FeeRepo {
	return &FeeRepo{pool: pool}
}

// Balance returns the current fee bucket balance.
func (r *FeeRepo) Balance(ctx context.Context) (uint64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `SELECT balance FROM fee_bucket WHERE id = 1`).Scan(&balance)
	if err != nil {
		return 0, err
	}
	return uint64(balance), nil
}

// AddTx credits the bucket inside the caller's transaction.
func (r *FeeRepo) AddTx(ctx context.Context, tx pgx.Tx, amount uint64) error {
	_, err := tx.Exec(ctx, `UPDATE fee_bucket SET balance = balance + $1 WHERE id = 1`, int64(amount))
	return err
}

// DrainTx debits the whole bucket inside the caller's transaction and
// returns the amount taken. The row lock serializes concurrent drains; the
// second one sees zero.
func (r *FeeRepo) DrainTx(ctx context.Context, tx pgx.Tx) (uint64, error) {
	var balance int64
	if err := tx.QueryRow(ctx, `
		SELECT balance FROM fee_bucket WHERE id = 1 FOR UPDATE
	`).Scan(&balance); err != nil {
		return 0, err
	}
	if balance == 0 {
		return 0, nil
	}
	if _, err := tx.Exec(ctx, `UPDATE fee_bucket SET balance = 0 WHERE id = 1`); err != nil {
		return 0, err
	}
	return uint64(balance), nil
}
