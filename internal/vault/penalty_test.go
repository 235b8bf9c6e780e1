package vault

import (
	"context"
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/jarledger/backend/internal/models"
	"github.com/jarledger/backend/internal/repository"
	"github.com/jarledger/backend/internal/ticket"
	"github.com/jarledger/backend/internal/udec"
)

func downgradableProduct(id string, pub ed25519.PublicKey, def, fallback udec.UDecimal) *models.Product {
	return &models.Product{
		ID:        id,
		Terms:     models.Terms{Type: models.TermsFlexible, AllowsTopUp: true},
		APY:       models.APY{Type: models.APYDowngradable, Default: def, Fallback: fallback},
		Cap:       models.Cap{Min: 1, Max: 1 << 62},
		PublicKey: pub,
		IsEnabled: true,
	}
}

func scoreProduct(id string, pub ed25519.PublicKey, scoreCap uint32, base udec.UDecimal) *models.Product {
	return &models.Product{
		ID: id,
		Terms: models.Terms{
			Type:        models.TermsScoreBased,
			AllowsTopUp: true,
			ScoreCap:    scoreCap,
			BaseAPY:     base,
		},
		APY:       models.APY{Type: models.APYConstant, Default: base},
		Cap:       models.Cap{Min: 1, Max: 1 << 62},
		PublicKey: pub,
		IsEnabled: true,
	}
}

// signedDeposit signs a ticket with the product key and deposits.
func signedDeposit(t *testing.T, e *env, priv ed25519.PrivateKey, accountID uuid.UUID, productID string, amount uint64, nonce uint32, now models.Timestamp, tzOffset *int64) {
	t.Helper()
	tk := ticket.Ticket{
		Contract:   testContract,
		Depositor:  accountID,
		ProductID:  productID,
		Amount:     amount,
		ValidUntil: now,
		Nonce:      nonce,
	}
	digest := tk.Digest()
	err := e.svc.Deposit(context.Background(), DepositRequest{
		AccountID:        accountID,
		ProductID:        productID,
		Amount:           amount,
		ValidUntil:       now,
		Nonce:            nonce,
		Signature:        ed25519.Sign(priv, digest[:]),
		TimezoneOffsetMS: tzOffset,
		Now:              now,
	})
	if err != nil {
		t.Fatalf("signed deposit: %v", err)
	}
}

func TestPenaltyFreezesOldRateInterest(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	e := newEnv(t, downgradableProduct("down", pub, udec.Percent(20), udec.Percent(10)))
	id := uuid.New()
	signedDeposit(t, e, priv, id, "down", 10_000_000_000, 0, 0, nil)

	half := models.MSPerYear / 2
	outcomes := e.svc.BatchSetPenalty(context.Background(), []PenaltyUpdate{
		{AccountID: id, ProductIDs: []string{"down"}},
	}, true, half)
	if len(outcomes) != 1 || outcomes[0].Err != nil {
		t.Fatalf("penalty not applied: %+v", outcomes)
	}

	res, err := e.svc.Claim(context.Background(), id, nil, false, models.MSPerYear)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	// Half a year at 20% then half a year at 10% on 1e10.
	if res.Total != 1_500_000_000 {
		t.Errorf("expected 1500000000, got %d", res.Total)
	}
}

func TestBatchPenaltyAccountsAreIndependent(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	e := newEnv(t,
		downgradableProduct("down", pub, udec.Percent(20), udec.Percent(10)),
		flexibleProduct("flex", udec.Percent(12)),
	)
	good := uuid.New()
	bad := uuid.New()
	signedDeposit(t, e, priv, good, "down", 1_000, 0, 0, nil)
	deposit(t, e, bad, "flex", 1_000, 0, 0)

	outcomes := e.svc.BatchSetPenalty(context.Background(), []PenaltyUpdate{
		{AccountID: bad, ProductIDs: []string{"flex"}},
		{AccountID: good, ProductIDs: []string{"down"}},
	}, true, 10)

	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	if !errors.Is(outcomes[0].Err, ErrPenaltyNotApplicable) {
		t.Errorf("constant-rate jar: expected %v, got %v", ErrPenaltyNotApplicable, outcomes[0].Err)
	}
	if outcomes[1].Err != nil {
		t.Errorf("valid entry must not be blocked by the failed one: %v", outcomes[1].Err)
	}

	acc := e.mustAccount(t, good)
	if !acc.Jar("down").IsPenaltyApplied {
		t.Error("penalty flag not set on the valid account")
	}
}

func TestAccountLevelPenaltySkipsConstantJars(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	e := newEnv(t,
		downgradableProduct("down", pub, udec.Percent(20), udec.Percent(10)),
		flexibleProduct("flex", udec.Percent(12)),
	)
	id := uuid.New()
	signedDeposit(t, e, priv, id, "down", 1_000, 0, 0, nil)
	deposit(t, e, id, "flex", 1_000, 1, 0)

	outcomes := e.svc.BatchSetPenalty(context.Background(), []PenaltyUpdate{
		{AccountID: id},
	}, true, 10)
	if outcomes[0].Err != nil {
		t.Fatalf("account-level toggle: %v", outcomes[0].Err)
	}

	acc := e.mustAccount(t, id)
	if !acc.IsPenaltyApplied {
		t.Error("account flag not set")
	}
	if acc.Jar("down").IsPenaltyApplied || acc.Jar("flex").IsPenaltyApplied {
		t.Error("account-level toggle must not touch jar flags")
	}
	if !acc.PenaltyFor(acc.Jar("down")) {
		t.Error("downgradable jar must see the account-level penalty")
	}
}

func TestRecordScoresRequiresTimezone(t *testing.T) {
	e := newEnv(t, flexibleProduct("flex", udec.Percent(12)))
	id := uuid.New()
	deposit(t, e, id, "flex", 1_000, 0, 0)

	outcomes := e.svc.RecordScores(context.Background(), []ScoreUpdate{
		{AccountID: id, Score: 5_000, UTC: 10},
	})
	if len(outcomes) != 1 || !errors.Is(outcomes[0].Err, ErrTimezoneNotSet) {
		t.Fatalf("expected %v, got %+v", ErrTimezoneNotSet, outcomes)
	}
}

func TestScoreDepositRecordClaim(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	e := newEnv(t, scoreProduct("score", pub, 50_000, udec.Percent(100)))
	id := uuid.New()

	// First score deposit must carry a timezone.
	tk := ticket.Ticket{Contract: testContract, Depositor: id, ProductID: "score", Amount: 100_000_000, ValidUntil: 10, Nonce: 0}
	digest := tk.Digest()
	err := e.svc.Deposit(context.Background(), DepositRequest{
		AccountID: id, ProductID: "score", Amount: 100_000_000,
		ValidUntil: 10, Nonce: 0, Signature: ed25519.Sign(priv, digest[:]), Now: 10,
	})
	if !errors.Is(err, ErrTimezoneRequired) {
		t.Fatalf("expected %v, got %v", ErrTimezoneRequired, err)
	}

	tz := int64(0)
	signedDeposit(t, e, priv, id, "score", 100_000_000, 0, 10, &tz)

	outcomes := e.svc.RecordScores(context.Background(), []ScoreUpdate{
		{AccountID: id, Score: 36_500, UTC: models.MSPerDay / 2},
	})
	if outcomes[0].Err != nil {
		t.Fatalf("record scores: %v", outcomes[0].Err)
	}

	res, err := e.svc.Claim(context.Background(), id, nil, false, models.MSPerDay)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	// 36500 score units = 36.5% APY; one day on 1e8 is exactly 1e5.
	if res.Total != 100_000 {
		t.Errorf("expected 100000, got %d", res.Total)
	}

	// The claim consumed the score buffer: claiming again earns nothing more
	// until the oracle records new scores.
	res, err = e.svc.Claim(context.Background(), id, nil, false, 2*models.MSPerDay)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if res.Total != 0 {
		t.Errorf("score buffer not consumed, second claim got %d", res.Total)
	}

	view, err := e.svc.GetScore(context.Background(), id)
	if err != nil {
		t.Fatalf("get score: %v", err)
	}
	if view.Scores != [2]models.Score{} {
		t.Errorf("score buffer should be zeroed, got %v", view.Scores)
	}
	if view.History == ([2]models.Score{}) {
		t.Error("score history should survive the claim")
	}
}

func TestBulkCreateJars(t *testing.T) {
	e := newEnv(t, flexibleProduct("flex", udec.Percent(12)))
	a := uuid.New()
	b := uuid.New()

	outcomes := e.svc.BulkCreateJars(context.Background(), []BulkJar{
		{AccountID: a, ProductID: "flex", Principal: 5_000, CreatedAt: 100},
		{AccountID: b, ProductID: "flex", Principal: 7_000, CreatedAt: 100},
	})
	for _, o := range outcomes {
		if o.Err != nil {
			t.Fatalf("bulk create %s/%s: %v", o.AccountID, o.ProductID, o.Err)
		}
	}

	if got := e.mustAccount(t, a).Jar("flex").Principal(); got != 5_000 {
		t.Errorf("account a principal: %d", got)
	}
	if got := e.mustAccount(t, b).Jar("flex").Principal(); got != 7_000 {
		t.Errorf("account b principal: %d", got)
	}

	p := flexibleProduct("strict", udec.Percent(12))
	p.Cap.Min = 1_000
	if err := e.catalog.Register(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	// Entries resolve independently: the bad entry fails on its own while
	// the later one still lands.
	c := uuid.New()
	outcomes = e.svc.BulkCreateJars(context.Background(), []BulkJar{
		{AccountID: a, ProductID: "strict", Principal: 10, CreatedAt: 100},
		{AccountID: c, ProductID: "flex", Principal: 3_000, CreatedAt: 100},
	})
	if !errors.Is(outcomes[0].Err, ErrBelowMinStake) {
		t.Errorf("expected %v, got %v", ErrBelowMinStake, outcomes[0].Err)
	}
	if outcomes[1].Err != nil {
		t.Errorf("entry after a failed one must still resolve: %v", outcomes[1].Err)
	}
	if got := e.mustAccount(t, c).Jar("flex").Principal(); got != 3_000 {
		t.Errorf("account c principal: %d", got)
	}
}

func TestBulkCreateScoreJarRequiresTimezone(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	e := newEnv(t, scoreProduct("score", pub, 20_000, udec.UDecimal{Significand: 20_000, Exponent: models.ScoreAPYExponent}))
	id := uuid.New()

	outcomes := e.svc.BulkCreateJars(context.Background(), []BulkJar{
		{AccountID: id, ProductID: "score", Principal: 5_000, CreatedAt: 100},
	})
	if !errors.Is(outcomes[0].Err, ErrTimezoneRequired) {
		t.Fatalf("expected %v, got %v", ErrTimezoneRequired, outcomes[0].Err)
	}
	if _, err := e.accounts.Get(context.Background(), id); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("rejected entry must not create the account, got %v", err)
	}

	offset := int64(0)
	outcomes = e.svc.BulkCreateJars(context.Background(), []BulkJar{
		{AccountID: id, ProductID: "score", Principal: 5_000, CreatedAt: 100, TimezoneOffsetMS: &offset},
	})
	if outcomes[0].Err != nil {
		t.Fatalf("bulk create with timezone: %v", outcomes[0].Err)
	}
	acc := e.mustAccount(t, id)
	if !acc.Score.Timezone.Set {
		t.Error("timezone not set on first score-based jar")
	}

	// The account stays claimable: an all-jar claim must not trip on an
	// unset timezone.
	if _, err := e.svc.Claim(context.Background(), id, nil, false, 200); err != nil {
		t.Fatalf("claim after bulk create: %v", err)
	}
}

func TestGetJarsSortedByProduct(t *testing.T) {
	e := newEnv(t,
		flexibleProduct("b", udec.Percent(10)),
		flexibleProduct("a", udec.Percent(10)),
	)
	id := uuid.New()
	deposit(t, e, id, "b", 100, 0, 0)
	deposit(t, e, id, "a", 200, 1, 0)

	jars, err := e.svc.GetJars(context.Background(), id)
	if err != nil {
		t.Fatalf("get jars: %v", err)
	}
	if len(jars) != 2 || jars[0].ProductID != "a" || jars[1].ProductID != "b" {
		t.Fatalf("expected jars sorted by product id, got %+v", jars)
	}
	if jars[0].Principal != 200 || jars[1].Principal != 100 {
		t.Errorf("principals wrong: %+v", jars)
	}
}
