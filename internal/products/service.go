// Package products is the catalog of registered yield products. Terms are
// immutable once registered; only the enabled flag and the authorization key
// can change afterwards, through dedicated admin operations.
package products

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/jarledger/backend/internal/models"
	"github.com/jarledger/backend/internal/udec"
)

var (
	ErrCapInverted        = errors.New("cap.min exceeds cap.max")
	ErrFeeExceedsMinStake = errors.New("withdrawal fee exceeds the minimum stakeable amount")
	ErrKeyRequired        = errors.New("protected product requires an authorization key")
	ErrEnabledUnchanged   = errors.New("enabled flag already has that value")
	ErrDisabled           = errors.New("product is disabled")
)

// maxAPYExponent keeps the accrual denominator (10^exp * ms_per_year) inside
// uint64.
const maxAPYExponent = 8

// Repo is the persistence the catalog needs.
type Repo interface {
	Create(ctx context.Context, p *models.Product) error
	Get(ctx context.Context, id string) (*models.Product, error)
	List(ctx context.Context) ([]*models.Product, error)
	Save(ctx context.Context, p *models.Product) error
}

// Service validates and serves the catalog.
type Service struct {
	repo Repo
}

func NewService(repo Repo) *Service {
	return &Service{repo: repo}
}

// Register validates and stores a new product. Nothing is mutated on
// failure.
func (s *Service) Register(ctx context.Context, p *models.Product) error {
	if err := validate(p); err != nil {
		return err
	}
	return s.repo.Create(ctx, p)
}

func validate(p *models.Product) error {
	if p.ID == "" {
		return errors.New("product id is empty")
	}
	if p.Cap.Min > p.Cap.Max {
		return ErrCapInverted
	}
	if p.IsProtected() && len(p.PublicKey) == 0 {
		return ErrKeyRequired
	}
	if len(p.PublicKey) != 0 && len(p.PublicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("authorization key must be %d bytes", ed25519.PublicKeySize)
	}
	if f := p.WithdrawalFee; f != nil {
		switch f.Type {
		case models.FeeFix:
			if f.Fix > p.Cap.Min {
				return ErrFeeExceedsMinStake
			}
		case models.FeePercent:
			// Bounded before Pow10, which only covers exponents that fit
			// a uint64.
			if f.Percent.Exponent > maxAPYExponent {
				return fmt.Errorf("fee exponent must be at most %d", maxAPYExponent)
			}
			if f.Percent.Significand >= udec.Pow10(f.Percent.Exponent) {
				return errors.New("percent fee must be below 100%")
			}
		default:
			return fmt.Errorf("unknown fee type %q", f.Type)
		}
	}
	switch p.Terms.Type {
	case models.TermsFixed:
		if p.Terms.Lockup <= 0 {
			return errors.New("fixed terms require a positive lockup")
		}
	case models.TermsFlexible:
	case models.TermsScoreBased:
		if p.Terms.BaseAPY.Exponent > models.ScoreAPYExponent {
			return fmt.Errorf("score product base APY exponent must be at most %d", models.ScoreAPYExponent)
		}
	default:
		return fmt.Errorf("unknown terms type %q", p.Terms.Type)
	}
	switch p.APY.Type {
	case models.APYConstant:
	case models.APYDowngradable:
		// The claim remainder is tracked in denominator units derived from
		// the APY exponent, so both rates must share it.
		if p.APY.Default.Exponent != p.APY.Fallback.Exponent {
			return errors.New("downgradable rates must share one exponent")
		}
	default:
		return fmt.Errorf("unknown apy type %q", p.APY.Type)
	}
	if p.APY.Default.Exponent > maxAPYExponent {
		return fmt.Errorf("apy exponent must be at most %d", maxAPYExponent)
	}
	return nil
}

// SetEnabled toggles the enabled flag. Setting the flag to its current value
// fails so a mistyped admin call is visible instead of silently absorbed.
func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) error {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.IsEnabled == enabled {
		return ErrEnabledUnchanged
	}
	p.IsEnabled = enabled
	return s.repo.Save(ctx, p)
}

// SetPublicKey rotates the product's authorization key. A protected product
// cannot drop its key.
func (s *Service) SetPublicKey(ctx context.Context, id string, key []byte) error {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.IsProtected() && len(key) == 0 {
		return ErrKeyRequired
	}
	if len(key) != 0 && len(key) != ed25519.PublicKeySize {
		return fmt.Errorf("authorization key must be %d bytes", ed25519.PublicKeySize)
	}
	p.PublicKey = key
	return s.repo.Save(ctx, p)
}

// Get returns one product.
func (s *Service) Get(ctx context.Context, id string) (*models.Product, error) {
	return s.repo.Get(ctx, id)
}

// List returns the whole catalog.
func (s *Service) List(ctx context.Context) ([]*models.Product, error) {
	return s.repo.List(ctx)
}

// Cache is a read-through product view scoped to one external call. Batch
// operations (score recording, batch penalty) look products up repeatedly;
// within one call products cannot change, so the first read is authoritative
// for the call's lifetime. Never hold a Cache across calls.
type Cache struct {
	svc  *Service
	byID map[string]*models.Product
}

// NewCache returns an empty call-scoped cache.
func (s *Service) NewCache() *Cache {
	return &Cache{svc: s, byID: make(map[string]*models.Product)}
}

// Get returns the product, reading through to the catalog on first use.
func (c *Cache) Get(ctx context.Context, id string) (*models.Product, error) {
	if p, ok := c.byID[id]; ok {
		return p, nil
	}
	p, err := c.svc.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.byID[id] = p
	return p, nil
}
