package vault

import (
	"context"
	"crypto/ed25519"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jarledger/backend/internal/models"
	"github.com/jarledger/backend/internal/products"
	"github.com/jarledger/backend/internal/repository"
	"github.com/jarledger/backend/internal/schema"
	"github.com/jarledger/backend/internal/ticket"
	"github.com/jarledger/backend/internal/transfer"
	"github.com/jarledger/backend/internal/udec"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// fakeTx satisfies pgx.Tx for stores that never touch the database.
type fakeTx struct{ pgx.Tx }

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

// memAccounts stores accounts in their encoded record form, so every read
// hands out an independent copy and unsaved mutations never leak.
type memAccounts struct {
	byID map[uuid.UUID][]byte
}

func newMemAccounts() *memAccounts {
	return &memAccounts{byID: make(map[uuid.UUID][]byte)}
}

func (m *memAccounts) Begin(_ context.Context) (pgx.Tx, error) { return fakeTx{}, nil }

func (m *memAccounts) GetForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.Account, error) {
	return m.Get(ctx, id)
}

func (m *memAccounts) Get(_ context.Context, id uuid.UUID) (*models.Account, error) {
	raw, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return schema.DecodeAccount(raw)
}

func (m *memAccounts) Save(_ context.Context, _ pgx.Tx, a *models.Account) error {
	raw, err := schema.EncodeAccount(a)
	if err != nil {
		return err
	}
	m.byID[a.ID] = raw
	return nil
}

type memTransfers struct {
	byID map[uuid.UUID]*repository.TransferRequest
}

func newMemTransfers() *memTransfers {
	return &memTransfers{byID: make(map[uuid.UUID]*repository.TransferRequest)}
}

func (m *memTransfers) CreateTx(_ context.Context, _ pgx.Tx, req *repository.TransferRequest) error {
	req.Status = repository.TransferPending
	cp := *req
	m.byID[req.ID] = &cp
	return nil
}

func (m *memTransfers) ResolveTx(_ context.Context, _ pgx.Tx, id uuid.UUID, status string) (*repository.TransferRequest, error) {
	req, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if req.Status != repository.TransferPending {
		return nil, repository.ErrAlreadyResolved
	}
	req.Status = status
	cp := *req
	return &cp, nil
}

type memFees struct {
	balance uint64
}

func (m *memFees) AddTx(_ context.Context, _ pgx.Tx, amount uint64) error {
	m.balance += amount
	return nil
}

func (m *memFees) DrainTx(_ context.Context, _ pgx.Tx) (uint64, error) {
	b := m.balance
	m.balance = 0
	return b, nil
}

func (m *memFees) Balance(_ context.Context) (uint64, error) { return m.balance, nil }

type memCounters struct {
	values map[string]int64
}

func newMemCounters() *memCounters { return &memCounters{values: make(map[string]int64)} }

func (m *memCounters) Next(_ context.Context, name string) (int64, error) {
	m.values[name]++
	return m.values[name], nil
}

type memProductRepo struct {
	byID map[string]*models.Product
}

func (m *memProductRepo) Create(_ context.Context, p *models.Product) error {
	if _, ok := m.byID[p.ID]; ok {
		return repository.ErrDuplicateProduct
	}
	cp := *p
	m.byID[p.ID] = &cp
	return nil
}

func (m *memProductRepo) Get(_ context.Context, id string) (*models.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memProductRepo) List(_ context.Context) ([]*models.Product, error) {
	out := make([]*models.Product, 0, len(m.byID))
	for _, p := range m.byID {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memProductRepo) Save(_ context.Context, p *models.Product) error {
	cp := *p
	m.byID[p.ID] = &cp
	return nil
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

const testContract = "vault-test"

type env struct {
	accounts  *memAccounts
	transfers *memTransfers
	fees      *memFees
	counters  *memCounters
	catalog   *products.Service
	queued    []transfer.JobArgs
	svc       *Service
}

func newEnv(t *testing.T, prods ...*models.Product) *env {
	t.Helper()
	repo := &memProductRepo{byID: make(map[string]*models.Product)}
	e := &env{
		accounts:  newMemAccounts(),
		transfers: newMemTransfers(),
		fees:      &memFees{},
		counters:  newMemCounters(),
		catalog:   products.NewService(repo),
	}
	for _, p := range prods {
		if err := e.catalog.Register(context.Background(), p); err != nil {
			t.Fatalf("register product %s: %v", p.ID, err)
		}
	}
	enqueue := func(_ context.Context, _ pgx.Tx, args transfer.JobArgs) error {
		e.queued = append(e.queued, args)
		return nil
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e.svc = NewService(e.accounts, e.catalog, e.transfers, e.fees, e.counters, enqueue, testContract, log)
	return e
}

func (e *env) mustAccount(t *testing.T, id uuid.UUID) *models.Account {
	t.Helper()
	acc, err := e.accounts.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("load account: %v", err)
	}
	return acc
}

func flexibleProduct(id string, rate udec.UDecimal) *models.Product {
	return &models.Product{
		ID:        id,
		Terms:     models.Terms{Type: models.TermsFlexible, AllowsTopUp: true},
		APY:       models.APY{Type: models.APYConstant, Default: rate},
		Cap:       models.Cap{Min: 1, Max: 1 << 60},
		IsEnabled: true,
	}
}

func fixedProduct(id string, rate udec.UDecimal, lockup models.Duration) *models.Product {
	return &models.Product{
		ID:        id,
		Terms:     models.Terms{Type: models.TermsFixed, Lockup: lockup, AllowsRestaking: true},
		APY:       models.APY{Type: models.APYConstant, Default: rate},
		Cap:       models.Cap{Min: 1, Max: 1 << 60},
		IsEnabled: true,
	}
}

func deposit(t *testing.T, e *env, accountID uuid.UUID, productID string, amount uint64, nonce uint32, now models.Timestamp) {
	t.Helper()
	err := e.svc.Deposit(context.Background(), DepositRequest{
		AccountID:  accountID,
		ProductID:  productID,
		Amount:     amount,
		ValidUntil: now,
		Nonce:      nonce,
		Now:        now,
	})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Deposit
// ---------------------------------------------------------------------------

func TestDepositCreatesAccountAndJar(t *testing.T) {
	e := newEnv(t, flexibleProduct("flex", udec.Percent(12)))
	id := uuid.New()

	deposit(t, e, id, "flex", 1_000, 0, 10)

	acc := e.mustAccount(t, id)
	if acc.Nonce != 1 {
		t.Errorf("nonce should consume the ticket, got %d", acc.Nonce)
	}
	jar := acc.Jar("flex")
	if jar == nil || jar.Principal() != 1_000 {
		t.Fatalf("expected jar with principal 1000, got %+v", jar)
	}
	if e.counters.values[repository.CounterAccounts] != 1 || e.counters.values[repository.CounterJars] != 1 {
		t.Errorf("expected account and jar counters bumped, got %v", e.counters.values)
	}
}

func TestDepositTopUpAccumulates(t *testing.T) {
	e := newEnv(t, flexibleProduct("flex", udec.Percent(12)))
	id := uuid.New()

	deposit(t, e, id, "flex", 1_000, 0, 10)
	deposit(t, e, id, "flex", 500, 1, 20)

	acc := e.mustAccount(t, id)
	if got := acc.Jar("flex").Principal(); got != 1_500 {
		t.Errorf("expected principal 1500, got %d", got)
	}
	if len(acc.Jar("flex").Deposits) != 2 {
		t.Errorf("top-up must keep deposits separate, got %d", len(acc.Jar("flex").Deposits))
	}
}

func TestDepositTicketChecks(t *testing.T) {
	e := newEnv(t, flexibleProduct("flex", udec.Percent(12)))
	id := uuid.New()
	deposit(t, e, id, "flex", 1_000, 0, 10)

	cases := []struct {
		name string
		req  DepositRequest
		want error
	}{
		{
			name: "stale nonce",
			req:  DepositRequest{AccountID: id, ProductID: "flex", Amount: 100, ValidUntil: 100, Nonce: 0, Now: 50},
			want: ticket.ErrNonceMismatch,
		},
		{
			name: "expired",
			req:  DepositRequest{AccountID: id, ProductID: "flex", Amount: 100, ValidUntil: 40, Nonce: 1, Now: 50},
			want: ticket.ErrExpired,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := e.svc.Deposit(context.Background(), tc.req); !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}

	// Failed deposits must not consume the nonce.
	if acc := e.mustAccount(t, id); acc.Nonce != 1 {
		t.Errorf("nonce moved on failed deposit: %d", acc.Nonce)
	}
}

func TestDepositProtectedProduct(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	p := &models.Product{
		ID:    "down",
		Terms: models.Terms{Type: models.TermsFlexible, AllowsTopUp: true},
		APY: models.APY{
			Type:     models.APYDowngradable,
			Default:  udec.Percent(20),
			Fallback: udec.Percent(10),
		},
		Cap:       models.Cap{Min: 1, Max: 1 << 60},
		PublicKey: pub,
		IsEnabled: true,
	}
	e := newEnv(t, p)
	id := uuid.New()

	tk := ticket.Ticket{
		Contract:   testContract,
		Depositor:  id,
		ProductID:  "down",
		Amount:     1_000,
		ValidUntil: 100,
		Nonce:      0,
	}
	digest := tk.Digest()
	sig := ed25519.Sign(priv, digest[:])

	req := DepositRequest{
		AccountID:  id,
		ProductID:  "down",
		Amount:     1_000,
		ValidUntil: 100,
		Nonce:      0,
		Now:        50,
	}

	if err := e.svc.Deposit(context.Background(), req); !errors.Is(err, ticket.ErrMissingSignature) {
		t.Fatalf("unsigned deposit into protected product: expected %v, got %v", ticket.ErrMissingSignature, err)
	}

	req.Signature = append([]byte(nil), sig...)
	req.Signature[0] ^= 0xff
	if err := e.svc.Deposit(context.Background(), req); !errors.Is(err, ticket.ErrBadSignature) {
		t.Fatalf("tampered signature: expected %v, got %v", ticket.ErrBadSignature, err)
	}

	req.Signature = sig
	if err := e.svc.Deposit(context.Background(), req); err != nil {
		t.Fatalf("signed deposit: %v", err)
	}
}

func TestDepositCapAndTermRules(t *testing.T) {
	fixed := fixedProduct("fixed", udec.Percent(7), 30*models.MSPerDay)
	fixed.Cap = models.Cap{Min: 100, Max: 10_000}
	e := newEnv(t, fixed)
	id := uuid.New()

	err := e.svc.Deposit(context.Background(), DepositRequest{
		AccountID: id, ProductID: "fixed", Amount: 50, ValidUntil: 100, Nonce: 0, Now: 10,
	})
	if !errors.Is(err, ErrBelowMinStake) {
		t.Errorf("expected %v, got %v", ErrBelowMinStake, err)
	}

	deposit(t, e, id, "fixed", 9_000, 0, 10)

	err = e.svc.Deposit(context.Background(), DepositRequest{
		AccountID: id, ProductID: "fixed", Amount: 2_000, ValidUntil: 100, Nonce: 1, Now: 20,
	})
	if !errors.Is(err, ErrTopUpNotAllowed) {
		t.Errorf("fixed product without top-up: expected %v, got %v", ErrTopUpNotAllowed, err)
	}
}

func TestDepositAboveMaxStake(t *testing.T) {
	p := flexibleProduct("flex", udec.Percent(12))
	p.Cap = models.Cap{Min: 1, Max: 1_000}
	e := newEnv(t, p)
	id := uuid.New()

	deposit(t, e, id, "flex", 800, 0, 10)
	err := e.svc.Deposit(context.Background(), DepositRequest{
		AccountID: id, ProductID: "flex", Amount: 300, ValidUntil: 100, Nonce: 1, Now: 20,
	})
	if !errors.Is(err, ErrAboveMaxStake) {
		t.Errorf("expected %v, got %v", ErrAboveMaxStake, err)
	}
}

func TestDepositDisabledProduct(t *testing.T) {
	p := flexibleProduct("flex", udec.Percent(12))
	p.IsEnabled = false
	e := newEnv(t, p)

	err := e.svc.Deposit(context.Background(), DepositRequest{
		AccountID: uuid.New(), ProductID: "flex", Amount: 100, ValidUntil: 100, Nonce: 0, Now: 10,
	})
	if !errors.Is(err, products.ErrDisabled) {
		t.Errorf("expected %v, got %v", products.ErrDisabled, err)
	}
}

// ---------------------------------------------------------------------------
// Claim
// ---------------------------------------------------------------------------

func TestClaimOneYearFlexible(t *testing.T) {
	e := newEnv(t, flexibleProduct("flex", udec.Percent(12)))
	id := uuid.New()
	deposit(t, e, id, "flex", 100_000_000, 0, 0)

	year := models.MSPerYear
	res, err := e.svc.Claim(context.Background(), id, nil, false, year)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if res.Total != 12_000_000 {
		t.Errorf("12%% of 1e8 over a year: expected 12000000, got %d", res.Total)
	}

	acc := e.mustAccount(t, id)
	if got := acc.Jar("flex").Claimed; got != 12_000_000 {
		t.Errorf("claimed balance not recorded, got %d", got)
	}

	// Claiming again at the same instant finds nothing.
	res, err = e.svc.Claim(context.Background(), id, nil, false, year)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if res.Total != 0 {
		t.Errorf("second claim at same instant should be empty, got %d", res.Total)
	}
}

func TestClaimDetailed(t *testing.T) {
	e := newEnv(t,
		flexibleProduct("a", udec.Percent(10)),
		flexibleProduct("b", udec.Percent(20)),
	)
	id := uuid.New()
	deposit(t, e, id, "a", 100_000_000, 0, 0)
	deposit(t, e, id, "b", 100_000_000, 1, 0)

	res, err := e.svc.Claim(context.Background(), id, nil, true, models.MSPerYear)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(res.Detailed) != 2 {
		t.Fatalf("expected 2 detailed entries, got %d", len(res.Detailed))
	}
	// Default claim order is by product id.
	if res.Detailed[0].ProductID != "a" || res.Detailed[0].Amount != 10_000_000 {
		t.Errorf("entry a wrong: %+v", res.Detailed[0])
	}
	if res.Detailed[1].ProductID != "b" || res.Detailed[1].Amount != 20_000_000 {
		t.Errorf("entry b wrong: %+v", res.Detailed[1])
	}
	if res.Total != 30_000_000 {
		t.Errorf("total mismatch: %d", res.Total)
	}
}

func TestClaimUnknownJar(t *testing.T) {
	e := newEnv(t, flexibleProduct("flex", udec.Percent(12)))
	id := uuid.New()
	deposit(t, e, id, "flex", 1_000, 0, 0)

	if _, err := e.svc.Claim(context.Background(), id, []string{"nope"}, false, 10); !errors.Is(err, ErrNoJar) {
		t.Errorf("expected %v, got %v", ErrNoJar, err)
	}
}

func TestClaimMatchesInterestPreview(t *testing.T) {
	e := newEnv(t, flexibleProduct("flex", udec.Percent(7)))
	id := uuid.New()
	deposit(t, e, id, "flex", 123_456_789, 0, 0)

	now := 200 * models.MSPerDay
	preview, err := e.svc.GetInterest(context.Background(), id, false, now)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	res, err := e.svc.Claim(context.Background(), id, nil, false, now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if preview.Total != res.Total {
		t.Errorf("preview %d and claim %d disagree", preview.Total, res.Total)
	}

	claimed, err := e.svc.ClaimedBalance(context.Background(), id)
	if err != nil {
		t.Fatalf("claimed balance: %v", err)
	}
	if claimed.Total != res.Total {
		t.Errorf("claimed balance %d does not match claim %d", claimed.Total, res.Total)
	}
}
