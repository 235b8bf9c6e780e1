package vault

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/jarledger/backend/internal/accrual"
	"github.com/jarledger/backend/internal/models"
	"github.com/jarledger/backend/internal/repository"
)

// PenaltyUpdate names one account and the jars to toggle. An empty
// ProductIDs list toggles the account-level flag and refreshes every
// downgradable jar.
type PenaltyUpdate struct {
	AccountID  uuid.UUID `json:"account_id"`
	ProductIDs []string  `json:"product_ids,omitempty"`
}

// PenaltyOutcome reports one account's result within a batch.
type PenaltyOutcome struct {
	AccountID uuid.UUID `json:"account_id"`
	Err       error     `json:"-"`
}

// BatchSetPenalty flips the penalty flag for each account in the batch.
//
// Accounts resolve independently: each runs in its own transaction, is
// validated fully before any of its jars mutate, and a failure for one
// account neither blocks nor rolls back the others. The per-account
// validation rejects the account when any named product does not carry a
// downgradable APY.
//
// Toggling refreshes the affected jar caches first, freezing interest
// already earned at the old rate; the new effective rate applies from now
// onward.
func (s *Service) BatchSetPenalty(ctx context.Context, updates []PenaltyUpdate, value bool, now models.Timestamp) []PenaltyOutcome {
	cache := s.catalog.NewCache()
	out := make([]PenaltyOutcome, 0, len(updates))
	for _, u := range updates {
		err := s.setPenalty(ctx, cache, u, value, now)
		if err != nil {
			s.log.Warn("penalty not applied", "account", u.AccountID, "error", err)
		}
		out = append(out, PenaltyOutcome{AccountID: u.AccountID, Err: err})
	}
	return out
}

func (s *Service) setPenalty(ctx context.Context, cache productCache, u PenaltyUpdate, value bool, now models.Timestamp) error {
	tx, err := s.accounts.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	acc, err := s.accounts.GetForUpdate(ctx, tx, u.AccountID)
	if err != nil {
		return err
	}

	ids := u.ProductIDs
	accountLevel := len(ids) == 0
	if accountLevel {
		for id := range acc.Jars {
			ids = append(ids, id)
		}
	}

	// Validate everything before mutating anything within the account.
	affected := make([]string, 0, len(ids))
	for _, id := range ids {
		p, err := cache.Get(ctx, id)
		if err != nil {
			return err
		}
		if acc.Jar(id) == nil {
			return ErrNoJar
		}
		if p.APY.Type != models.APYDowngradable {
			if accountLevel {
				continue // account-level toggles skip non-downgradable jars
			}
			return ErrPenaltyNotApplicable
		}
		affected = append(affected, id)
	}

	for _, id := range affected {
		jar := acc.Jar(id)
		p, _ := cache.Get(ctx, id)
		accrual.Refresh(jar, p, nil, acc.PenaltyFor(jar), now)
		if !accountLevel {
			jar.IsPenaltyApplied = value
		}
	}
	if accountLevel {
		acc.IsPenaltyApplied = value
	}

	if err := s.accounts.Save(ctx, tx, acc); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// productCache abstracts the call-scoped catalog cache so batch helpers can
// share one across accounts.
type productCache interface {
	Get(ctx context.Context, id string) (*models.Product, error)
}

// ScoreUpdate is one oracle-recorded score observation.
type ScoreUpdate struct {
	AccountID uuid.UUID        `json:"account_id"`
	Score     models.Score     `json:"score"`
	UTC       models.Timestamp `json:"utc"`
}

// ScoreOutcome reports one account's result within a score batch.
type ScoreOutcome struct {
	AccountID uuid.UUID `json:"account_id"`
	Err       error     `json:"-"`
}

// RecordScores folds a batch of score observations into the accounts' score
// buffers. Like penalties, accounts resolve independently; an account whose
// timezone was never set fails on its own.
func (s *Service) RecordScores(ctx context.Context, updates []ScoreUpdate) []ScoreOutcome {
	grouped := make(map[uuid.UUID][]ScoreUpdate)
	var order []uuid.UUID
	for _, u := range updates {
		if _, ok := grouped[u.AccountID]; !ok {
			order = append(order, u.AccountID)
		}
		grouped[u.AccountID] = append(grouped[u.AccountID], u)
	}

	out := make([]ScoreOutcome, 0, len(order))
	for _, id := range order {
		err := s.recordAccountScores(ctx, id, grouped[id])
		if err != nil {
			s.log.Warn("score batch entry failed", "account", id, "error", err)
		}
		out = append(out, ScoreOutcome{AccountID: id, Err: err})
	}
	return out
}

func (s *Service) recordAccountScores(ctx context.Context, id uuid.UUID, updates []ScoreUpdate) error {
	tx, err := s.accounts.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	acc, err := s.accounts.GetForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}
	if !acc.Score.Timezone.Set {
		return ErrTimezoneNotSet
	}
	for _, u := range updates {
		acc.Score.Record(u.Score, u.UTC)
	}
	if err := s.accounts.Save(ctx, tx, acc); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// BulkJar describes one jar to create out of band (ops/migration tooling).
// TimezoneOffsetMS must accompany the first score-based jar of an account,
// like a ticketed deposit's timezone field.
type BulkJar struct {
	AccountID        uuid.UUID        `json:"account_id"`
	ProductID        string           `json:"product_id"`
	Principal        uint64           `json:"principal"`
	CreatedAt        models.Timestamp `json:"created_at"`
	TimezoneOffsetMS *int64           `json:"timezone_offset_ms,omitempty"`
}

// BulkOutcome reports one entry's result within a bulk create.
type BulkOutcome struct {
	AccountID uuid.UUID `json:"account_id"`
	ProductID string    `json:"product_id"`
	Err       error     `json:"-"`
}

// BulkCreateJars seeds jars directly, bypassing tickets. Manager-gated ops
// tooling for imports and test environments; cap, top-up and timezone rules
// still apply. Entries resolve independently, each in its own transaction,
// like the penalty and score batches.
func (s *Service) BulkCreateJars(ctx context.Context, entries []BulkJar) []BulkOutcome {
	cache := s.catalog.NewCache()
	out := make([]BulkOutcome, 0, len(entries))
	for _, entry := range entries {
		err := s.bulkCreateJar(ctx, cache, entry)
		if err != nil {
			s.log.Warn("bulk jar entry failed", "account", entry.AccountID, "product", entry.ProductID, "error", err)
		}
		out = append(out, BulkOutcome{AccountID: entry.AccountID, ProductID: entry.ProductID, Err: err})
	}
	return out
}

func (s *Service) bulkCreateJar(ctx context.Context, cache productCache, entry BulkJar) error {
	p, err := cache.Get(ctx, entry.ProductID)
	if err != nil {
		return err
	}
	if entry.Principal < p.Cap.Min {
		return ErrBelowMinStake
	}

	tx, err := s.accounts.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	acc, err := s.accounts.GetForUpdate(ctx, tx, entry.AccountID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		acc = models.NewAccount(entry.AccountID)
		if _, err := s.counters.Next(ctx, repository.CounterAccounts); err != nil {
			return err
		}
	}

	if p.IsScoreBased() && !acc.Score.Timezone.Set {
		if entry.TimezoneOffsetMS == nil {
			return ErrTimezoneRequired
		}
		acc.Score.Timezone = models.Timezone{OffsetMS: *entry.TimezoneOffsetMS, Set: true}
		acc.Score.Updated = entry.CreatedAt
	}

	jar := acc.Jar(entry.ProductID)
	if jar == nil {
		jar = acc.GetOrCreateJar(entry.ProductID)
		if _, err := s.counters.Next(ctx, repository.CounterJars); err != nil {
			return err
		}
	} else if len(jar.Deposits) > 0 && !p.Terms.AllowsTopUp {
		return ErrTopUpNotAllowed
	}
	if jar.Principal()+entry.Principal > p.Cap.Max {
		return ErrAboveMaxStake
	}
	jar.Deposits = append(jar.Deposits, models.Deposit{CreatedAt: entry.CreatedAt, Principal: entry.Principal})

	if err := s.accounts.Save(ctx, tx, acc); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
