// Package accrual computes interest owed for a jar as of "now".
//
// All math is integer-exact. Per-deposit numerators are accumulated as
// apy_significand * principal * elapsed_ms in a big integer and divided once
// by the product's fixed denominator (10^apy_exponent * ms_per_year), so
// division happens last and truncates exactly once. The division remainder
// is surfaced so callers can fold it into the jar's claim remainder instead
// of dropping it.
package accrual

import (
	"math/big"

	"github.com/jarledger/backend/internal/models"
)

// Delta is the interest accrued since the jar's cache point.
type Delta struct {
	// Interest is the whole-token interest accrued since the cache point.
	Interest uint64
	// Remainder is the truncated numerator remainder, in Denom units.
	Remainder uint64
	// Denom is the product's accrual denominator.
	Denom uint64
}

// InterestDelta computes the interest accrued by the jar strictly after its
// cache point, up to now. When now equals the cache point the cached value
// already covers everything and the delta is zero with no recomputation.
//
// score may be nil for products that are not score-based.
func InterestDelta(jar *models.Jar, p *models.Product, score *models.AccountScore, penaltyApplied bool, now models.Timestamp) Delta {
	den := p.Denominator()
	if jar.Cache != nil && now <= jar.Cache.UpdatedAt {
		return Delta{Denom: den}
	}
	if p.IsScoreBased() {
		return scoreDelta(jar, p, score, den)
	}
	return termDelta(jar, p, penaltyApplied, now, den)
}

// termDelta handles fixed and flexible terms: per-deposit elapsed time at
// the effective APY. Fixed deposits stop earning at maturity even when not
// withdrawn.
func termDelta(jar *models.Jar, p *models.Product, penaltyApplied bool, now models.Timestamp, den uint64) Delta {
	apy := p.APY.Effective(penaltyApplied)
	cachedAt := jar.CachedAt()

	num := new(big.Int)
	tmp := new(big.Int)
	for _, d := range jar.Deposits {
		start := d.CreatedAt
		if cachedAt > start {
			start = cachedAt
		}
		end := now
		if p.Terms.Type == models.TermsFixed {
			if m := d.MaturesAt(p.Terms.Lockup); m < end {
				end = m
			}
		}
		if end <= start {
			continue
		}
		tmp.SetUint64(d.Principal)
		tmp.Mul(tmp, new(big.Int).SetInt64(end-start))
		tmp.Mul(tmp, new(big.Int).SetUint64(apy.Significand))
		num.Add(num, tmp)
	}
	return divide(num, den)
}

// scoreDelta handles score-based terms: each of the two buffered local days
// contributes one day's yield at the lesser of the score-derived APY
// (clamped to the score cap) and the product's base APY. The buffer is
// consumed when the jar's cache is refreshed, so contributions are counted
// exactly once.
func scoreDelta(jar *models.Jar, p *models.Product, score *models.AccountScore, den uint64) Delta {
	if score == nil {
		return Delta{Denom: den}
	}
	principal := jar.Principal()
	num := new(big.Int)
	tmp := new(big.Int)
	for _, s := range score.Scores {
		sig := scoreSignificand(s, p)
		if sig == 0 || principal == 0 {
			continue
		}
		tmp.SetUint64(principal)
		tmp.Mul(tmp, new(big.Int).SetUint64(sig))
		tmp.Mul(tmp, new(big.Int).SetInt64(models.MSPerDay))
		num.Add(num, tmp)
	}
	return divide(num, den)
}

// scoreSignificand converts one day's score to an APY significand at the
// score exponent: 1000 score units are one percent per year. The result is
// clamped to the product's score cap and to its base APY.
func scoreSignificand(s models.Score, p *models.Product) uint64 {
	if s > p.Terms.ScoreCap {
		s = p.Terms.ScoreCap
	}
	sig := uint64(s)
	if base := baseSignificand(p); sig > base {
		sig = base
	}
	return sig
}

// baseSignificand rescales the base APY to the score exponent. Registration
// guarantees the base exponent is at most the score exponent, so the
// rescaling is exact.
func baseSignificand(p *models.Product) uint64 {
	base := p.Terms.BaseAPY
	shift := models.ScoreAPYExponent - base.Exponent
	out := base.Significand
	for i := uint32(0); i < shift; i++ {
		out *= 10
	}
	return out
}

func divide(num *big.Int, den uint64) Delta {
	quo, rem := new(big.Int).QuoRem(num, new(big.Int).SetUint64(den), new(big.Int))
	return Delta{Interest: quo.Uint64(), Remainder: rem.Uint64(), Denom: den}
}

// Refresh folds the accrued delta into the jar's cache and claim remainder
// at time now, preserving every sub-token unit: the remainder accumulates in
// denominator units and carries into whole tokens as soon as it completes
// one. For score-based products the score buffer is consumed.
//
// After Refresh, the cache invariant holds: the true interest accrued up to
// now equals cache.Interest, up to the dust tracked in ClaimRemainder.
func Refresh(jar *models.Jar, p *models.Product, score *models.AccountScore, penaltyApplied bool, now models.Timestamp) {
	advanced := jar.Cache == nil || now > jar.Cache.UpdatedAt
	d := InterestDelta(jar, p, score, penaltyApplied, now)
	total := jar.CachedInterest() + d.Interest
	rem := jar.ClaimRemainder + d.Remainder
	if rem >= d.Denom {
		total += rem / d.Denom
		rem %= d.Denom
	}
	jar.ClaimRemainder = rem
	at := now
	if jar.Cache != nil && jar.Cache.UpdatedAt > at {
		at = jar.Cache.UpdatedAt
	}
	jar.Cache = &models.JarCache{UpdatedAt: at, Interest: total}
	// A refresh that short-circuited on the cache point never read the
	// buffer, so the recorded days stay for the next real refresh.
	if advanced && p.IsScoreBased() && score != nil {
		score.Reset()
	}
}

// Preview returns the total interest accrued up to now without mutating the
// jar: the cached value plus the delta, including the whole tokens the
// remainder fold would complete. This is exactly what a claim at now would
// account.
func Preview(jar *models.Jar, p *models.Product, score *models.AccountScore, penaltyApplied bool, now models.Timestamp) uint64 {
	d := InterestDelta(jar, p, score, penaltyApplied, now)
	total := jar.CachedInterest() + d.Interest
	if rem := jar.ClaimRemainder + d.Remainder; rem >= d.Denom {
		total += rem / d.Denom
	}
	return total
}
