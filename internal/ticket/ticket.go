// Package ticket implements the signed deposit-ticket protocol. A ticket is
// a time-bounded, nonce-protected authorization to create a deposit under a
// protected product; the signing side is an external collaborator, this
// package only defines the canonical byte form and verifies signatures over
// its digest.
package ticket

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jarledger/backend/internal/models"
)

// Purpose is the fixed first field of every ticket, binding the signature to
// this protocol.
const Purpose = "jarledger.deposit"

var (
	ErrExpired          = errors.New("ticket expired")
	ErrNonceMismatch    = errors.New("ticket nonce does not match account nonce")
	ErrMissingSignature = errors.New("product requires a signed ticket")
	ErrBadSignature     = errors.New("ticket signature verification failed")
)

// Ticket is the message a depositor presents with a deposit into a protected
// product.
type Ticket struct {
	Contract   string           `json:"contract"`
	Depositor  uuid.UUID        `json:"depositor"`
	ProductID  string           `json:"product_id"`
	Amount     uint64           `json:"amount"`
	ValidUntil models.Timestamp `json:"valid_until"`
	Nonce      uint32           `json:"nonce"`
}

// CanonicalBytes renders the ticket in its canonical byte form: fields in
// declaration order, pipe-separated, prefixed with the protocol purpose.
// Signers and verifiers must agree on this form byte for byte.
func (t Ticket) CanonicalBytes() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s|%s|%d|%d|%d",
		Purpose, t.Contract, t.Depositor, t.ProductID, t.Amount, t.ValidUntil, t.Nonce)
	return []byte(b.String())
}

// Digest is the sha256 of the canonical byte form; signatures are made over
// the digest.
func (t Ticket) Digest() [32]byte {
	return sha256.Sum256(t.CanonicalBytes())
}

// Verify checks the ticket against the account state and the product's
// authorization key. A nil key means the product is unprotected and the
// signature is not consulted.
func Verify(t Ticket, sig []byte, key ed25519.PublicKey, accountNonce uint32, now models.Timestamp) error {
	if now > t.ValidUntil {
		return ErrExpired
	}
	if t.Nonce != accountNonce {
		return ErrNonceMismatch
	}
	if len(key) == 0 {
		return nil
	}
	if len(sig) == 0 {
		return ErrMissingSignature
	}
	digest := t.Digest()
	if !ed25519.Verify(key, digest[:], sig) {
		return ErrBadSignature
	}
	return nil
}
