package models

import (
	"github.com/jarledger/backend/internal/udec"
)

// Terms type discriminants.
const (
	TermsFixed      = "fixed"
	TermsFlexible   = "flexible"
	TermsScoreBased = "score_based"
)

// APY type discriminants.
const (
	APYConstant     = "constant"
	APYDowngradable = "downgradable"
)

// Withdrawal fee type discriminants.
const (
	FeeFix     = "fix"
	FeePercent = "percent"
)

// Timestamp is milliseconds since the Unix epoch.
type Timestamp = int64

// Duration is a span in milliseconds.
type Duration = int64

const (
	MSPerDay  Duration = 24 * 60 * 60 * 1000
	MSPerYear Duration = 365 * MSPerDay
)

// Terms describes how a product's deposits mature.
//
// Fixed deposits earn until created_at + Lockup and then stop. Flexible
// deposits earn indefinitely and have no lockup. Score-based deposits earn a
// daily yield derived from the account's recorded score, still subject to
// Lockup for withdrawal.
type Terms struct {
	Type            string        `json:"type"`
	Lockup          Duration      `json:"lockup,omitempty"`
	AllowsTopUp     bool          `json:"allows_top_up,omitempty"`
	AllowsRestaking bool          `json:"allows_restaking,omitempty"`
	ScoreCap        uint32        `json:"score_cap,omitempty"`
	BaseAPY         udec.UDecimal `json:"base_apy,omitzero"`
}

// APY is either a constant rate or a penalty-downgradable pair.
type APY struct {
	Type     string        `json:"type"`
	Default  udec.UDecimal `json:"default"`
	Fallback udec.UDecimal `json:"fallback,omitzero"`
}

// Effective resolves the rate for the given penalty state: a constant APY is
// itself, a downgradable APY falls back when the penalty is applied.
func (a APY) Effective(penaltyApplied bool) udec.UDecimal {
	if a.Type == APYDowngradable && penaltyApplied {
		return a.Fallback
	}
	return a.Default
}

// Cap bounds a single stake: each deposit must be at least Min and the jar's
// resulting principal at most Max.
type Cap struct {
	Min uint64 `json:"min"`
	Max uint64 `json:"max"`
}

// WithdrawalFee is charged when principal leaves the vault. A nil
// *WithdrawalFee means no fee.
type WithdrawalFee struct {
	Type    string        `json:"type"`
	Fix     uint64        `json:"fix,omitempty"`
	Percent udec.UDecimal `json:"percent,omitzero"`
}

// Apply returns the fee charged on the given principal. Percent fees
// floor-divide; the fee never exceeds the principal.
func (f *WithdrawalFee) Apply(principal uint64) uint64 {
	if f == nil {
		return 0
	}
	var fee uint64
	switch f.Type {
	case FeeFix:
		fee = f.Fix
	case FeePercent:
		fee = f.Percent.MulTrunc(principal)
	}
	if fee > principal {
		fee = principal
	}
	return fee
}

// Product is an immutable-once-registered set of yield terms. Only IsEnabled
// and PublicKey may change after registration, via dedicated admin
// operations; products are never deleted.
type Product struct {
	ID            string         `json:"id"`
	Terms         Terms          `json:"terms"`
	APY           APY            `json:"apy"`
	Cap           Cap            `json:"cap"`
	WithdrawalFee *WithdrawalFee `json:"withdrawal_fee,omitempty"`
	PublicKey     []byte         `json:"public_key,omitempty"`
	IsEnabled     bool           `json:"is_enabled"`
}

// IsProtected reports whether deposits into the product require a signed
// ticket. Score-based and penalty-downgradable products must be protected;
// registration enforces that they carry a public key.
func (p *Product) IsProtected() bool {
	return p.Terms.Type == TermsScoreBased || p.APY.Type == APYDowngradable
}

// IsScoreBased reports whether the product's yield is score-derived.
func (p *Product) IsScoreBased() bool { return p.Terms.Type == TermsScoreBased }

// Denominator returns the fixed accrual denominator for the product:
// 10^apy_exponent * ms_per_year. Claim remainders are tracked in these
// units, so the exponent is pinned at registration.
func (p *Product) Denominator() uint64 {
	return udec.Pow10(p.AccrualExponent()) * uint64(MSPerYear)
}

// AccrualExponent is the decimal exponent accrual numerators are scaled by.
// Score-based products always accrue at the score exponent.
func (p *Product) AccrualExponent() uint32 {
	if p.IsScoreBased() {
		return ScoreAPYExponent
	}
	return p.APY.Default.Exponent
}
