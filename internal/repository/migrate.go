package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddl = `
CREATE TABLE IF NOT EXISTS vault_accounts (
	id         UUID PRIMARY KEY,
	record     BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS products (
	id         TEXT PRIMARY KEY,
	record     BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transfer_requests (
	id          UUID PRIMARY KEY,
	kind        TEXT NOT NULL,
	account_id  UUID NOT NULL,
	product_id  TEXT NOT NULL DEFAULT '',
	receiver    TEXT NOT NULL,
	amount      BIGINT NOT NULL,
	fee         BIGINT NOT NULL DEFAULT 0,
	memo        TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'pending',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS fee_bucket (
	id      INT PRIMARY KEY,
	balance BIGINT NOT NULL DEFAULT 0
);
INSERT INTO fee_bucket (id, balance) VALUES (1, 0) ON CONFLICT (id) DO NOTHING;

CREATE TABLE IF NOT EXISTS counters (
	name  TEXT PRIMARY KEY,
	value BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS operators (
	id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	display_name  TEXT NOT NULL,
	role          TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate applies the vault DDL. Statements are idempotent so startup can
// always run it.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, ddl)
	return err
}
