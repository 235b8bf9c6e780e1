package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Transfer request kinds.
const (
	TransferKindWithdraw      = "withdraw"
	TransferKindFeeWithdrawal = "fee_withdrawal"
)

// Transfer request statuses.
const (
	TransferPending = "pending"
	TransferDone    = "done"
	TransferFailed  = "failed"
)

// ErrAlreadyResolved is returned when a continuation tries to resolve a
// transfer request a second time.
var ErrAlreadyResolved = errors.New("transfer request already resolved")

// TransferRequest is the durable record connecting the initiating call of a
// fund-moving operation to its continuation. The initiating call creates it
// as pending inside its transaction; the continuation resolves it exactly
// once.
type TransferRequest struct {
	ID        uuid.UUID
	Kind      string
	AccountID uuid.UUID // zero for fee withdrawals
	ProductID string
	Receiver  string
	Amount    uint64 // net amount sent to the receiver
	Fee       uint64 // fee withheld for the fee bucket
	Memo      string
	Status    string
	CreatedAt time.Time
}

// TransferRepo stores transfer requests.
type TransferRepo struct {
	pool *pgxpool.Pool
}

func NewTransferRepo(pool *pgxpool.Pool) *TransferRepo {
	return &TransferRepo{pool: pool}
}

// CreateTx inserts a pending request inside the initiating transaction.
func (r *TransferRepo) CreateTx(ctx context.Context, tx pgx.Tx, req *TransferRequest) error {
	req.Status = TransferPending
	return tx.QueryRow(ctx, `
		INSERT INTO transfer_requests (id, kind, account_id, product_id, receiver, amount, fee, memo, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending')
		RETURNING created_at
	`, req.ID, req.Kind, req.AccountID, req.ProductID, req.Receiver, req.Amount, req.Fee, req.Memo).Scan(&req.CreatedAt)
}

// Get loads one request.
func (r *TransferRepo) Get(ctx context.Context, id uuid.UUID) (*TransferRequest, error) {
	var req TransferRequest
	err := r.pool.QueryRow(ctx, `
		SELECT id, kind, account_id, product_id, receiver, amount, fee, memo, status, created_at
		FROM transfer_requests WHERE id = $1
	`, id).Scan(&req.ID, &req.Kind, &req.AccountID, &req.ProductID, &req.Receiver,
		&req.Amount, &req.Fee, &req.Memo, &req.Status, &req.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// ResolveTx flips the request from pending to the terminal status inside the
// continuation's transaction. The conditional UPDATE guarantees exactly-once
// resolution: a second attempt sees zero affected rows.
func (r *TransferRepo) ResolveTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) (*TransferRequest, error) {
	var req TransferRequest
	err := tx.QueryRow(ctx, `
		UPDATE transfer_requests SET status = $2, resolved_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING id, kind, account_id, product_id, receiver, amount, fee, memo, status, created_at
	`, id, status).Scan(&req.ID, &req.Kind, &req.AccountID, &req.ProductID, &req.Receiver,
		&req.Amount, &req.Fee, &req.Memo, &req.Status, &req.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAlreadyResolved
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}
