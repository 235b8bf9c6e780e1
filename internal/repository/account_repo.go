package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jarledger/backend/internal/models"
	"github.com/jarledger/backend/internal/schema"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// AccountRepo stores versioned account records. The record column holds the
// tagged binary form; legacy tags are migrated transparently on read and the
// next save rewrites the row at the newest tag.
type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

func (r *AccountRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// GetForUpdate loads and row-locks the account inside the given transaction.
// The lock makes each external call on an account run to completion without
// interleaving with another call on the same account.
//
// An empty stub row is planted first so that two concurrent first calls on
// the same id contend on the row like every later call does; the loser of
// the insert race blocks until the winner commits and then sees its record.
// The stub only outlives the transaction if a Save replaces it.
func (r *AccountRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO vault_accounts (id, record) VALUES ($1, ''::bytea)
		ON CONFLICT (id) DO NOTHING
	`, id); err != nil {
		return nil, err
	}
	var record []byte
	err := tx.QueryRow(ctx, `
		SELECT record FROM vault_accounts WHERE id = $1 FOR UPDATE
	`, id).Scan(&record)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, ErrNotFound
	}
	return schema.DecodeAccount(record)
}

// Get loads the account without locking, for the query surface.
func (r *AccountRepo) Get(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var record []byte
	err := r.pool.QueryRow(ctx, `
		SELECT record FROM vault_accounts WHERE id = $1
	`, id).Scan(&record)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, ErrNotFound
	}
	return schema.DecodeAccount(record)
}

// Save upserts the account at the newest schema tag.
func (r *AccountRepo) Save(ctx context.Context, tx pgx.Tx, a *models.Account) error {
	record, err := schema.EncodeAccount(a)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO vault_accounts (id, record) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET record = EXCLUDED.record, updated_at = now()
	`, a.ID, record)
	return err
}
