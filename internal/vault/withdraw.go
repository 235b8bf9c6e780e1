package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jarledger/backend/internal/accrual"
	"github.com/jarledger/backend/internal/models"
	"github.com/jarledger/backend/internal/repository"
	"github.com/jarledger/backend/internal/transfer"
)

// WithdrawReceipt describes an initiated withdrawal. The transfer itself is
// asynchronous; RequestID identifies the continuation.
type WithdrawReceipt struct {
	RequestID uuid.UUID `json:"request_id"`
	Principal uint64    `json:"principal"`
	Net       uint64    `json:"net"`
	Fee       uint64    `json:"fee"`
}

// Withdraw releases the jar's whole principal, net of the product's
// withdrawal fee. It sets the pending-withdraw lock, records the durable
// transfer request, and enqueues the transfer in one transaction. The
// authoritative balance change happens in the continuation: on transfer
// success the principal is removed and the fee credited, on failure the
// withdrawal is treated as if it never happened. Either way the lock is
// released exactly once.
func (s *Service) Withdraw(ctx context.Context, accountID uuid.UUID, productID, receiver string, now models.Timestamp) (*WithdrawReceipt, error) {
	p, err := s.catalog.Get(ctx, productID)
	if err != nil {
		return nil, err
	}

	tx, err := s.accounts.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	acc, err := s.accounts.GetForUpdate(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	jar := acc.Jar(productID)
	if jar == nil {
		return nil, ErrNoJar
	}
	if jar.IsPendingWithdraw {
		return nil, ErrOperationInProgress
	}
	if p.Terms.Lockup > 0 {
		for _, d := range jar.Deposits {
			if now < d.MaturesAt(p.Terms.Lockup) {
				return nil, ErrNotMatured
			}
		}
	}
	principal := jar.Principal()
	if principal == 0 {
		return nil, ErrNothingToWithdraw
	}

	// Freeze interest accrued so far: the deposits are about to go away but
	// their earnings stay claimable.
	accrual.Refresh(jar, p, s.scoreFor(acc, p), acc.PenaltyFor(jar), now)

	fee := p.WithdrawalFee.Apply(principal)
	net := principal - fee
	jar.IsPendingWithdraw = true

	req := &repository.TransferRequest{
		ID:        uuid.New(),
		Kind:      repository.TransferKindWithdraw,
		AccountID: accountID,
		ProductID: productID,
		Receiver:  receiver,
		Amount:    net,
		Fee:       fee,
		Memo:      fmt.Sprintf("withdraw %s", productID),
	}
	if err := s.transfers.CreateTx(ctx, tx, req); err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, tx, transfer.JobArgs{
		RequestID: req.ID,
		Receiver:  receiver,
		Amount:    net,
		Memo:      req.Memo,
	}); err != nil {
		return nil, err
	}
	if err := s.accounts.Save(ctx, tx, acc); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.log.Info("withdraw initiated", "account", accountID, "product", productID, "net", net, "fee", fee, "request", req.ID)
	return &WithdrawReceipt{RequestID: req.ID, Principal: principal, Net: net, Fee: fee}, nil
}

// Restake rolls a matured fixed-term jar into a fresh deposit created now.
// Accrued interest is frozen first so the old term's earnings stay intact.
func (s *Service) Restake(ctx context.Context, accountID uuid.UUID, productID string, now models.Timestamp) error {
	p, err := s.catalog.Get(ctx, productID)
	if err != nil {
		return err
	}
	if p.Terms.Type != models.TermsFixed || !p.Terms.AllowsRestaking {
		return ErrRestakeNotAllowed
	}

	tx, err := s.accounts.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	acc, err := s.accounts.GetForUpdate(ctx, tx, accountID)
	if err != nil {
		return err
	}
	jar := acc.Jar(productID)
	if jar == nil {
		return ErrNoJar
	}
	if jar.IsPendingWithdraw {
		return ErrOperationInProgress
	}
	for _, d := range jar.Deposits {
		if now < d.MaturesAt(p.Terms.Lockup) {
			return ErrNotMatured
		}
	}
	principal := jar.Principal()
	if principal == 0 {
		return ErrNothingToWithdraw
	}

	accrual.Refresh(jar, p, nil, acc.PenaltyFor(jar), now)
	jar.Deposits = []models.Deposit{{CreatedAt: now, Principal: principal}}

	if err := s.accounts.Save(ctx, tx, acc); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// WithdrawFees drains the protocol fee bucket to the beneficiary through the
// same pending/transfer/continuation shape as a principal withdrawal. On
// transfer failure the continuation credits the amount back to the bucket.
func (s *Service) WithdrawFees(ctx context.Context, receiver string) (*WithdrawReceipt, error) {
	tx, err := s.accounts.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	amount, err := s.fees.DrainTx(ctx, tx)
	if err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, ErrNothingToWithdraw
	}

	req := &repository.TransferRequest{
		ID:       uuid.New(),
		Kind:     repository.TransferKindFeeWithdrawal,
		Receiver: receiver,
		Amount:   amount,
		Memo:     "fee withdrawal",
	}
	if err := s.transfers.CreateTx(ctx, tx, req); err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, tx, transfer.JobArgs{
		RequestID: req.ID,
		Receiver:  receiver,
		Amount:    amount,
		Memo:      req.Memo,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.log.Info("fee withdrawal initiated", "amount", amount, "request", req.ID)
	return &WithdrawReceipt{RequestID: req.ID, Principal: amount, Net: amount}, nil
}

// ResolveTransfer is the continuation the transfer worker invokes with the
// host-level outcome. Exactly one of the finalize/revert paths runs; a
// request that was already resolved is left alone so retries are harmless.
func (s *Service) ResolveTransfer(ctx context.Context, requestID uuid.UUID, ok bool, reason string) error {
	tx, err := s.accounts.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	status := repository.TransferDone
	if !ok {
		status = repository.TransferFailed
	}
	req, err := s.transfers.ResolveTx(ctx, tx, requestID, status)
	if errors.Is(err, repository.ErrAlreadyResolved) {
		return nil
	}
	if err != nil {
		return err
	}

	switch req.Kind {
	case repository.TransferKindWithdraw:
		acc, err := s.accounts.GetForUpdate(ctx, tx, req.AccountID)
		if err != nil {
			return err
		}
		jar := acc.Jar(req.ProductID)
		if jar == nil {
			return fmt.Errorf("transfer %s: %w", requestID, ErrNoJar)
		}
		if ok {
			jar.Deposits = nil
			if req.Fee > 0 {
				if err := s.fees.AddTx(ctx, tx, req.Fee); err != nil {
					return err
				}
			}
		}
		// The lock is released on both branches, but principal only moves
		// on success; a failed transfer leaves the jar as if the withdrawal
		// never happened.
		jar.IsPendingWithdraw = false
		if err := s.accounts.Save(ctx, tx, acc); err != nil {
			return err
		}
	case repository.TransferKindFeeWithdrawal:
		if !ok {
			if err := s.fees.AddTx(ctx, tx, req.Amount); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("transfer %s: unknown kind %q", requestID, req.Kind)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	if ok {
		s.log.Info("transfer finalized", "request", requestID, "kind", req.Kind, "amount", req.Amount)
	} else {
		s.log.Warn("transfer reverted", "request", requestID, "kind", req.Kind, "reason", reason)
	}
	return nil
}

func (s *Service) scoreFor(acc *models.Account, p *models.Product) *models.AccountScore {
	if p.IsScoreBased() {
		return &acc.Score
	}
	return nil
}
