package models

// Deposit is an immutable principal amount with its creation time. A jar
// accumulates deposits via top-ups; existing entries are never edited, only
// dropped as a whole when principal is withdrawn.
type Deposit struct {
	CreatedAt Timestamp `json:"created_at"`
	Principal uint64    `json:"principal"`
}

// MaturesAt returns the moment a fixed-term deposit stops earning.
func (d Deposit) MaturesAt(lockup Duration) Timestamp {
	return d.CreatedAt + lockup
}

// JarCache records the last point at which accrued interest was computed in
// full. The true interest accrued up to UpdatedAt always equals Interest;
// accrual queries after UpdatedAt compute only the delta, never replay the
// whole deposit history.
type JarCache struct {
	UpdatedAt Timestamp `json:"updated_at"`
	Interest  uint64    `json:"interest"`
}

// Jar holds one account's position in one product.
type Jar struct {
	Deposits []Deposit `json:"deposits"`
	Cache    *JarCache `json:"cache,omitempty"`

	// Claimed is the cumulative interest moved out of accrual by claims.
	Claimed uint64 `json:"claimed"`

	// ClaimRemainder is sub-token dust from the truncating claim division,
	// in units of the product's accrual denominator. It is folded into the
	// next claim's numerator so repeated small claims lose nothing versus a
	// single large one.
	ClaimRemainder uint64 `json:"claim_remainder"`

	IsPendingWithdraw bool `json:"is_pending_withdraw"`
	IsPenaltyApplied  bool `json:"is_penalty_applied"`
}

// Principal sums the jar's deposits.
func (j *Jar) Principal() uint64 {
	var total uint64
	for _, d := range j.Deposits {
		total += d.Principal
	}
	return total
}

// CachedInterest returns the cached cumulative interest, zero when the jar
// has never been computed.
func (j *Jar) CachedInterest() uint64 {
	if j.Cache == nil {
		return 0
	}
	return j.Cache.Interest
}

// CachedAt returns the cache point, or zero when the jar has no cache.
func (j *Jar) CachedAt() Timestamp {
	if j.Cache == nil {
		return 0
	}
	return j.Cache.UpdatedAt
}

// Unclaimed is the interest accounted in the cache but not yet claimed.
func (j *Jar) Unclaimed() uint64 {
	c := j.CachedInterest()
	if c <= j.Claimed {
		return 0
	}
	return c - j.Claimed
}
