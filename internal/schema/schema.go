// Package schema encodes Account, Jar, and Product records for persistence.
//
// Every record is a single version-tag byte followed by a JSON payload.
// Decode accepts every tag ever produced and synthesizes the current
// in-memory shape; encode always writes the newest tag. Historical decode
// paths are never removed, even after the encoder stops producing them.
// An unknown tag is a decode error, never a silent coercion.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/jarledger/backend/internal/models"
)

// Version tags. Each record family numbers independently from 1.
const (
	TagAccountV1 byte = 1
	TagAccountV2 byte = 2

	TagJarV1 byte = 1
	TagJarV2 byte = 2

	TagProductV1 byte = 1
	TagProductV2 byte = 2
)

// ---------------------------------------------------------------------------
// Jar
// ---------------------------------------------------------------------------

// jarV1 is the legacy single-deposit jar: one principal with its creation
// time, no deposit list and no claim remainder.
type jarV1 struct {
	CreatedAt         models.Timestamp `json:"created_at"`
	Principal         uint64           `json:"principal"`
	Cache             *models.JarCache `json:"cache,omitempty"`
	Claimed           uint64           `json:"claimed"`
	IsPendingWithdraw bool             `json:"is_pending_withdraw"`
	IsPenaltyApplied  bool             `json:"is_penalty_applied"`
}

// EncodeJar writes the newest jar record.
func EncodeJar(j *models.Jar) ([]byte, error) {
	return encode(TagJarV2, j)
}

// DecodeJar reads any historical jar record into the current shape.
// A v1 record's principal becomes a single synthetic deposit; the claim
// remainder starts at zero.
func DecodeJar(raw []byte) (*models.Jar, error) {
	tag, payload, err := split(raw)
	if err != nil {
		return nil, fmt.Errorf("jar: %w", err)
	}
	switch tag {
	case TagJarV1:
		var old jarV1
		if err := json.Unmarshal(payload, &old); err != nil {
			return nil, fmt.Errorf("jar v1: %w", err)
		}
		j := &models.Jar{
			Cache:             old.Cache,
			Claimed:           old.Claimed,
			ClaimRemainder:    0,
			IsPendingWithdraw: old.IsPendingWithdraw,
			IsPenaltyApplied:  old.IsPenaltyApplied,
		}
		if old.Principal > 0 {
			j.Deposits = []models.Deposit{{CreatedAt: old.CreatedAt, Principal: old.Principal}}
		}
		return j, nil
	case TagJarV2:
		var j models.Jar
		if err := json.Unmarshal(payload, &j); err != nil {
			return nil, fmt.Errorf("jar v2: %w", err)
		}
		return &j, nil
	default:
		return nil, fmt.Errorf("jar: unknown version tag 0x%02x", tag)
	}
}

// ---------------------------------------------------------------------------
// Account
// ---------------------------------------------------------------------------

// accountV1 is the legacy account: inline single-deposit jars, no score
// buffer.
type accountV1 struct {
	ID    uuid.UUID `json:"id"`
	Nonce uint32    `json:"nonce"`
	Jars  []struct {
		ProductID string `json:"product_id"`
		jarV1
	} `json:"jars"`
	IsPenaltyApplied bool `json:"is_penalty_applied"`
}

// accountV2 is the current account. Jars are nested versioned jar records,
// JSON-carried as base64 bytes, so jar migrations apply uniformly whether a
// jar is read standalone or inside an account.
type accountV2 struct {
	ID               uuid.UUID           `json:"id"`
	Nonce            uint32              `json:"nonce"`
	Jars             map[string][]byte   `json:"jars"`
	Score            models.AccountScore `json:"score"`
	IsPenaltyApplied bool                `json:"is_penalty_applied"`
}

// EncodeAccount writes the newest account record.
func EncodeAccount(a *models.Account) ([]byte, error) {
	wire := accountV2{
		ID:               a.ID,
		Nonce:            a.Nonce,
		Jars:             make(map[string][]byte, len(a.Jars)),
		Score:            a.Score,
		IsPenaltyApplied: a.IsPenaltyApplied,
	}
	for id, j := range a.Jars {
		rec, err := EncodeJar(j)
		if err != nil {
			return nil, err
		}
		wire.Jars[id] = rec
	}
	return encode(TagAccountV2, wire)
}

// DecodeAccount reads any historical account record into the current shape.
// Decoding is idempotent: a record already at the newest tag round-trips
// unchanged.
func DecodeAccount(raw []byte) (*models.Account, error) {
	tag, payload, err := split(raw)
	if err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	switch tag {
	case TagAccountV1:
		var old accountV1
		if err := json.Unmarshal(payload, &old); err != nil {
			return nil, fmt.Errorf("account v1: %w", err)
		}
		a := models.NewAccount(old.ID)
		a.Nonce = old.Nonce
		a.IsPenaltyApplied = old.IsPenaltyApplied
		for _, oj := range old.Jars {
			jd := oj.jarV1
			j := &models.Jar{
				Cache:             jd.Cache,
				Claimed:           jd.Claimed,
				IsPendingWithdraw: jd.IsPendingWithdraw,
				IsPenaltyApplied:  jd.IsPenaltyApplied,
			}
			if jd.Principal > 0 {
				j.Deposits = []models.Deposit{{CreatedAt: jd.CreatedAt, Principal: jd.Principal}}
			}
			a.Jars[oj.ProductID] = j
		}
		return a, nil
	case TagAccountV2:
		var wire accountV2
		if err := json.Unmarshal(payload, &wire); err != nil {
			return nil, fmt.Errorf("account v2: %w", err)
		}
		a := models.NewAccount(wire.ID)
		a.Nonce = wire.Nonce
		a.Score = wire.Score
		a.IsPenaltyApplied = wire.IsPenaltyApplied
		for id, rec := range wire.Jars {
			j, err := DecodeJar(rec)
			if err != nil {
				return nil, fmt.Errorf("account jar %q: %w", id, err)
			}
			a.Jars[id] = j
		}
		return a, nil
	default:
		return nil, fmt.Errorf("account: unknown version tag 0x%02x", tag)
	}
}

// ---------------------------------------------------------------------------
// Product
// ---------------------------------------------------------------------------

// productV1 is the legacy product: fixed or flexible terms only, flat fee
// only, no score support.
type productV1 struct {
	ID              string          `json:"id"`
	IsFlexible      bool            `json:"is_flexible"`
	Lockup          models.Duration `json:"lockup"`
	AllowsTopUp     bool            `json:"allows_top_up"`
	AllowsRestaking bool            `json:"allows_restaking"`
	APY             models.APY      `json:"apy"`
	Cap             models.Cap      `json:"cap"`
	FeeFix          *uint64         `json:"fee_fix,omitempty"`
	PublicKey       []byte          `json:"public_key,omitempty"`
	IsEnabled       bool            `json:"is_enabled"`
}

// EncodeProduct writes the newest product record.
func EncodeProduct(p *models.Product) ([]byte, error) {
	return encode(TagProductV2, p)
}

// DecodeProduct reads any historical product record into the current shape.
func DecodeProduct(raw []byte) (*models.Product, error) {
	tag, payload, err := split(raw)
	if err != nil {
		return nil, fmt.Errorf("product: %w", err)
	}
	switch tag {
	case TagProductV1:
		var old productV1
		if err := json.Unmarshal(payload, &old); err != nil {
			return nil, fmt.Errorf("product v1: %w", err)
		}
		p := &models.Product{
			ID: old.ID,
			Terms: models.Terms{
				Type:            models.TermsFixed,
				Lockup:          old.Lockup,
				AllowsTopUp:     old.AllowsTopUp,
				AllowsRestaking: old.AllowsRestaking,
			},
			APY:       old.APY,
			Cap:       old.Cap,
			PublicKey: old.PublicKey,
			IsEnabled: old.IsEnabled,
		}
		if old.IsFlexible {
			p.Terms = models.Terms{Type: models.TermsFlexible, AllowsTopUp: true}
		}
		if old.FeeFix != nil {
			p.WithdrawalFee = &models.WithdrawalFee{Type: models.FeeFix, Fix: *old.FeeFix}
		}
		return p, nil
	case TagProductV2:
		var p models.Product
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("product v2: %w", err)
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("product: unknown version tag 0x%02x", tag)
	}
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func encode(tag byte, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(payload)+1)
	out = append(out, tag)
	return append(out, payload...), nil
}

func split(raw []byte) (byte, []byte, error) {
	if len(raw) < 2 {
		return 0, nil, fmt.Errorf("record too short (%d bytes)", len(raw))
	}
	return raw[0], raw[1:], nil
}
