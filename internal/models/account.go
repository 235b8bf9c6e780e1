package models

import (
	"github.com/google/uuid"
)

// Account is one depositor's full vault state: a jar per product, the score
// buffer, and the replay nonce.
type Account struct {
	ID    uuid.UUID `json:"id"`
	Nonce uint32    `json:"nonce"`

	// Jars is keyed by product id; an account holds at most one jar per
	// product.
	Jars map[string]*Jar `json:"jars"`

	Score AccountScore `json:"score"`

	// IsPenaltyApplied is the account-level penalty flag set by the oracle;
	// individual jars can additionally carry their own.
	IsPenaltyApplied bool `json:"is_penalty_applied"`
}

// NewAccount returns an empty account.
func NewAccount(id uuid.UUID) *Account {
	return &Account{ID: id, Jars: make(map[string]*Jar)}
}

// Jar returns the account's jar for the product, or nil.
func (a *Account) Jar(productID string) *Jar {
	return a.Jars[productID]
}

// GetOrCreateJar returns the jar for the product, creating an empty one.
func (a *Account) GetOrCreateJar(productID string) *Jar {
	if a.Jars == nil {
		a.Jars = make(map[string]*Jar)
	}
	j, ok := a.Jars[productID]
	if !ok {
		j = &Jar{}
		a.Jars[productID] = j
	}
	return j
}

// PenaltyFor resolves the effective penalty state for a jar: either the
// account-level oracle flag or the jar's own.
func (a *Account) PenaltyFor(j *Jar) bool {
	return a.IsPenaltyApplied || j.IsPenaltyApplied
}
