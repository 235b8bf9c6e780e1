// Package vault is the claim/withdraw/penalty state machine over the
// account ledger. Every operation runs as one external call: it locks the
// account row, mutates the in-memory state, and persists it in the same
// transaction. Operations that move funds out split into an initiating call
// and a continuation resolved by the transfer worker.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jarledger/backend/internal/accrual"
	"github.com/jarledger/backend/internal/models"
	"github.com/jarledger/backend/internal/products"
	"github.com/jarledger/backend/internal/repository"
	"github.com/jarledger/backend/internal/ticket"
	"github.com/jarledger/backend/internal/transfer"
)

var (
	ErrOperationInProgress  = errors.New("another operation on the jar is in progress")
	ErrNotMatured           = errors.New("deposit is still locked")
	ErrTopUpNotAllowed      = errors.New("product does not allow top-ups")
	ErrRestakeNotAllowed    = errors.New("product does not allow restaking")
	ErrBelowMinStake        = errors.New("amount is below the product's minimum stake")
	ErrAboveMaxStake        = errors.New("resulting principal exceeds the product's maximum stake")
	ErrTimezoneRequired     = errors.New("first score-based deposit must carry a timezone")
	ErrTimezoneNotSet       = errors.New("account timezone has never been set")
	ErrPenaltyNotApplicable = errors.New("penalty is not applicable")
	ErrNothingToWithdraw    = errors.New("nothing to withdraw")
	ErrNoJar                = errors.New("account has no jar for the product")
)

// AccountStore is the persistence the state machine needs for accounts.
type AccountStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Account, error)
	Save(ctx context.Context, tx pgx.Tx, a *models.Account) error
}

// TransferStore records the durable pending-request rows connecting
// initiating calls to their continuations.
type TransferStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, req *repository.TransferRequest) error
	ResolveTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) (*repository.TransferRequest, error)
}

// FeeStore is the protocol fee accumulator.
type FeeStore interface {
	AddTx(ctx context.Context, tx pgx.Tx, amount uint64) error
	DrainTx(ctx context.Context, tx pgx.Tx) (uint64, error)
	Balance(ctx context.Context) (uint64, error)
}

// CounterStore hands out monotonically increasing record ids.
type CounterStore interface {
	Next(ctx context.Context, name string) (int64, error)
}

// EnqueueTransferFunc inserts a transfer job within the initiating
// transaction. Wired by main as a closure over river.Client.InsertTx.
type EnqueueTransferFunc func(ctx context.Context, tx pgx.Tx, args transfer.JobArgs) error

// Service is the vault state machine.
type Service struct {
	accounts  AccountStore
	catalog   *products.Service
	transfers TransferStore
	fees      FeeStore
	counters  CounterStore
	enqueue   EnqueueTransferFunc

	// contract is the vault's own identifier, bound into deposit tickets so
	// a ticket signed for one deployment cannot replay against another.
	contract string

	log *slog.Logger
}

func NewService(
	accounts AccountStore,
	catalog *products.Service,
	transfers TransferStore,
	fees FeeStore,
	counters CounterStore,
	enqueue EnqueueTransferFunc,
	contract string,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		accounts:  accounts,
		catalog:   catalog,
		transfers: transfers,
		fees:      fees,
		counters:  counters,
		enqueue:   enqueue,
		contract:  contract,
		log:       log,
	}
}

var _ transfer.Resolver = (*Service)(nil)

// DepositRequest carries one deposit and its ticket fields. Signature may be
// empty for unprotected products.
type DepositRequest struct {
	AccountID  uuid.UUID
	ProductID  string
	Amount     uint64
	ValidUntil models.Timestamp
	Nonce      uint32
	Signature  []byte

	// TimezoneOffsetMS initializes the account timezone on the first
	// score-bearing deposit; ignored when the timezone is already set.
	TimezoneOffsetMS *int64

	Now models.Timestamp
}

// Deposit verifies the ticket and adds principal to the product's jar,
// creating the jar (and the account) on first use. The account nonce
// increments on success, consuming the ticket.
func (s *Service) Deposit(ctx context.Context, req DepositRequest) error {
	p, err := s.catalog.Get(ctx, req.ProductID)
	if err != nil {
		return err
	}
	if !p.IsEnabled {
		return products.ErrDisabled
	}

	tx, err := s.accounts.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	acc, err := s.accounts.GetForUpdate(ctx, tx, req.AccountID)
	if errors.Is(err, repository.ErrNotFound) {
		acc = models.NewAccount(req.AccountID)
		if _, err := s.counters.Next(ctx, repository.CounterAccounts); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	tk := ticket.Ticket{
		Contract:   s.contract,
		Depositor:  req.AccountID,
		ProductID:  req.ProductID,
		Amount:     req.Amount,
		ValidUntil: req.ValidUntil,
		Nonce:      req.Nonce,
	}
	if err := ticket.Verify(tk, req.Signature, p.PublicKey, acc.Nonce, req.Now); err != nil {
		return err
	}

	jar := acc.Jar(req.ProductID)
	if jar != nil {
		if jar.IsPendingWithdraw {
			return ErrOperationInProgress
		}
		if len(jar.Deposits) > 0 && !p.Terms.AllowsTopUp {
			return ErrTopUpNotAllowed
		}
	}
	if req.Amount < p.Cap.Min {
		return ErrBelowMinStake
	}
	principal := uint64(0)
	if jar != nil {
		principal = jar.Principal()
	}
	if principal+req.Amount > p.Cap.Max {
		return ErrAboveMaxStake
	}

	if p.IsScoreBased() && !acc.Score.Timezone.Set {
		if req.TimezoneOffsetMS == nil {
			return ErrTimezoneRequired
		}
		acc.Score.Timezone = models.Timezone{OffsetMS: *req.TimezoneOffsetMS, Set: true}
		acc.Score.Updated = req.Now
	}

	if jar == nil {
		jar = acc.GetOrCreateJar(req.ProductID)
		if _, err := s.counters.Next(ctx, repository.CounterJars); err != nil {
			return err
		}
	}
	jar.Deposits = append(jar.Deposits, models.Deposit{CreatedAt: req.Now, Principal: req.Amount})
	acc.Nonce++

	if err := s.accounts.Save(ctx, tx, acc); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.log.Info("deposit", "account", req.AccountID, "product", req.ProductID, "amount", req.Amount)
	return nil
}

// ClaimedAmount is one jar's share of a detailed claim.
type ClaimedAmount struct {
	ProductID string `json:"product_id"`
	Amount    uint64 `json:"amount"`
}

// ClaimResult is the outcome of one claim call.
type ClaimResult struct {
	Total    uint64          `json:"total"`
	Detailed []ClaimedAmount `json:"detailed,omitempty"`
}

// Claim moves interest accrued up to now into the claimed balance of each
// named jar (all jars when productIDs is empty). Sub-token dust survives in
// each jar's claim remainder, so claiming often loses nothing against
// claiming once. A claim that finds nothing owed is a no-op, not an error.
func (s *Service) Claim(ctx context.Context, accountID uuid.UUID, productIDs []string, detailed bool, now models.Timestamp) (*ClaimResult, error) {
	tx, err := s.accounts.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	acc, err := s.accounts.GetForUpdate(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}

	ids := productIDs
	if len(ids) == 0 {
		for id := range acc.Jars {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}

	cache := s.catalog.NewCache()
	result := &ClaimResult{}
	for _, id := range ids {
		jar := acc.Jar(id)
		if jar == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoJar, id)
		}
		p, err := cache.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		var score *models.AccountScore
		if p.IsScoreBased() {
			if !acc.Score.Timezone.Set {
				return nil, ErrTimezoneNotSet
			}
			score = &acc.Score
		}
		accrual.Refresh(jar, p, score, acc.PenaltyFor(jar), now)
		owed := jar.Unclaimed()
		if owed == 0 {
			continue
		}
		jar.Claimed += owed
		result.Total += owed
		if detailed {
			result.Detailed = append(result.Detailed, ClaimedAmount{ProductID: id, Amount: owed})
		}
	}

	if err := s.accounts.Save(ctx, tx, acc); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	if result.Total > 0 {
		s.log.Info("claim", "account", accountID, "total", result.Total)
	}
	return result, nil
}
