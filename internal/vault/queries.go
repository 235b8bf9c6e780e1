package vault

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/jarledger/backend/internal/accrual"
	"github.com/jarledger/backend/internal/models"
)

// JarView is the query-surface projection of one jar.
type JarView struct {
	ProductID         string           `json:"product_id"`
	Principal         uint64           `json:"principal"`
	Deposits          []models.Deposit `json:"deposits"`
	Claimed           uint64           `json:"claimed"`
	IsPendingWithdraw bool             `json:"is_pending_withdraw"`
	IsPenaltyApplied  bool             `json:"is_penalty_applied"`
}

// GetJars returns the account's jars, ordered by product id.
func (s *Service) GetJars(ctx context.Context, accountID uuid.UUID) ([]JarView, error) {
	acc, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	out := make([]JarView, 0, len(acc.Jars))
	for id, jar := range acc.Jars {
		out = append(out, JarView{
			ProductID:         id,
			Principal:         jar.Principal(),
			Deposits:          jar.Deposits,
			Claimed:           jar.Claimed,
			IsPendingWithdraw: jar.IsPendingWithdraw,
			IsPenaltyApplied:  acc.PenaltyFor(jar),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// InterestView is the unclaimed interest of one jar as of the query time.
type InterestView struct {
	ProductID string `json:"product_id"`
	Amount    uint64 `json:"amount"`
}

// InterestResult aggregates unclaimed interest, optionally per product.
type InterestResult struct {
	Total    uint64         `json:"total"`
	Detailed []InterestView `json:"detailed,omitempty"`
}

// GetInterest previews the interest a claim at now would account, without
// mutating anything.
func (s *Service) GetInterest(ctx context.Context, accountID uuid.UUID, detailed bool, now models.Timestamp) (*InterestResult, error) {
	acc, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(acc.Jars))
	for id := range acc.Jars {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	cache := s.catalog.NewCache()
	result := &InterestResult{}
	for _, id := range ids {
		jar := acc.Jar(id)
		p, err := cache.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		total := accrual.Preview(jar, p, s.scoreFor(acc, p), acc.PenaltyFor(jar), now)
		unclaimed := uint64(0)
		if total > jar.Claimed {
			unclaimed = total - jar.Claimed
		}
		result.Total += unclaimed
		if detailed {
			result.Detailed = append(result.Detailed, InterestView{ProductID: id, Amount: unclaimed})
		}
	}
	return result, nil
}

// ClaimedBalance reports the cumulative claimed interest per jar and in
// total.
func (s *Service) ClaimedBalance(ctx context.Context, accountID uuid.UUID) (*InterestResult, error) {
	acc, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(acc.Jars))
	for id := range acc.Jars {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result := &InterestResult{}
	for _, id := range ids {
		jar := acc.Jar(id)
		result.Total += jar.Claimed
		result.Detailed = append(result.Detailed, InterestView{ProductID: id, Amount: jar.Claimed})
	}
	return result, nil
}

// ScoreView is the display projection of the account's score state. History
// survives claims; the accrual buffer does not.
type ScoreView struct {
	Timezone models.Timezone  `json:"timezone"`
	Updated  models.Timestamp `json:"updated"`
	Scores   [2]models.Score  `json:"scores"`
	History  [2]models.Score  `json:"history"`
}

// GetScore returns the account's score buffers for display.
func (s *Service) GetScore(ctx context.Context, accountID uuid.UUID) (*ScoreView, error) {
	acc, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &ScoreView{
		Timezone: acc.Score.Timezone,
		Updated:  acc.Score.Updated,
		Scores:   acc.Score.Scores,
		History:  acc.Score.ScoresHistory,
	}, nil
}

// FeeBalance reports the protocol fee bucket.
func (s *Service) FeeBalance(ctx context.Context) (uint64, error) {
	return s.fees.Balance(ctx)
}
