package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jarledger/backend/internal/models"
	"github.com/jarledger/backend/internal/products"
	"github.com/jarledger/backend/internal/repository"
	"github.com/jarledger/backend/internal/ticket"
	"github.com/jarledger/backend/internal/vault"
)

// VaultHandler serves the /v1/accounts depositor surface.
type VaultHandler struct {
	Vault  *vault.Service
	Logger *slog.Logger
}

// --- POST /v1/accounts/{id}/deposits ---

type depositRequest struct {
	ProductID        string `json:"product_id"`
	Amount           uint64 `json:"amount"`
	ValidUntil       int64  `json:"valid_until"`
	Nonce            uint32 `json:"nonce"`
	Signature        []byte `json:"signature,omitempty"`
	TimezoneOffsetMS *int64 `json:"timezone_offset_ms,omitempty"`
}

// Deposit handles POST /v1/accounts/{id}/deposits.
func (h *VaultHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	accountID, ok := extractAccountID(r)
	if !ok {
		http.Error(w, `{"error":"invalid account id"}`, http.StatusBadRequest)
		return
	}

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.ProductID == "" {
		http.Error(w, `{"error":"product_id is required"}`, http.StatusBadRequest)
		return
	}
	if req.Amount == 0 {
		http.Error(w, `{"error":"amount must be > 0"}`, http.StatusBadRequest)
		return
	}

	err := h.Vault.Deposit(r.Context(), vault.DepositRequest{
		AccountID:        accountID,
		ProductID:        req.ProductID,
		Amount:           req.Amount,
		ValidUntil:       req.ValidUntil,
		Nonce:            req.Nonce,
		Signature:        req.Signature,
		TimezoneOffsetMS: req.TimezoneOffsetMS,
		Now:              nowMS(),
	})
	if err != nil {
		h.writeVaultError(w, "deposit", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- POST /v1/accounts/{id}/claims ---

type claimRequest struct {
	ProductIDs []string `json:"product_ids,omitempty"`
	Detailed   bool     `json:"detailed,omitempty"`
}

// Claim handles POST /v1/accounts/{id}/claims.
func (h *VaultHandler) Claim(w http.ResponseWriter, r *http.Request) {
	accountID, ok := extractAccountID(r)
	if !ok {
		http.Error(w, `{"error":"invalid account id"}`, http.StatusBadRequest)
		return
	}

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	res, err := h.Vault.Claim(r.Context(), accountID, req.ProductIDs, req.Detailed, nowMS())
	if err != nil {
		h.writeVaultError(w, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- POST /v1/accounts/{id}/withdrawals ---

type withdrawRequest struct {
	ProductID string `json:"product_id"`
	Receiver  string `json:"receiver"`
}

// Withdraw handles POST /v1/accounts/{id}/withdrawals. The transfer itself
// completes asynchronously; 202 means the jar is locked and the transfer is
// queued.
func (h *VaultHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	accountID, ok := extractAccountID(r)
	if !ok {
		http.Error(w, `{"error":"invalid account id"}`, http.StatusBadRequest)
		return
	}

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.ProductID == "" || req.Receiver == "" {
		http.Error(w, `{"error":"product_id and receiver are required"}`, http.StatusBadRequest)
		return
	}

	receipt, err := h.Vault.Withdraw(r.Context(), accountID, req.ProductID, req.Receiver, nowMS())
	if err != nil {
		h.writeVaultError(w, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

// --- POST /v1/accounts/{id}/restake ---

type restakeRequest struct {
	ProductID string `json:"product_id"`
}

// Restake handles POST /v1/accounts/{id}/restake.
func (h *VaultHandler) Restake(w http.ResponseWriter, r *http.Request) {
	accountID, ok := extractAccountID(r)
	if !ok {
		http.Error(w, `{"error":"invalid account id"}`, http.StatusBadRequest)
		return
	}

	var req restakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.ProductID == "" {
		http.Error(w, `{"error":"product_id is required"}`, http.StatusBadRequest)
		return
	}

	if err := h.Vault.Restake(r.Context(), accountID, req.ProductID, nowMS()); err != nil {
		h.writeVaultError(w, "restake", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- GET /v1/accounts/{id}/jars ---

func (h *VaultHandler) GetJars(w http.ResponseWriter, r *http.Request) {
	accountID, ok := extractAccountID(r)
	if !ok {
		http.Error(w, `{"error":"invalid account id"}`, http.StatusBadRequest)
		return
	}
	jars, err := h.Vault.GetJars(r.Context(), accountID)
	if err != nil {
		h.writeVaultError(w, "get jars", err)
		return
	}
	writeJSON(w, http.StatusOK, jars)
}

// --- GET /v1/accounts/{id}/interest ---

func (h *VaultHandler) GetInterest(w http.ResponseWriter, r *http.Request) {
	accountID, ok := extractAccountID(r)
	if !ok {
		http.Error(w, `{"error":"invalid account id"}`, http.StatusBadRequest)
		return
	}
	detailed := r.URL.Query().Get("detailed") == "true"
	res, err := h.Vault.GetInterest(r.Context(), accountID, detailed, nowMS())
	if err != nil {
		h.writeVaultError(w, "get interest", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- GET /v1/accounts/{id}/claimed ---

func (h *VaultHandler) GetClaimed(w http.ResponseWriter, r *http.Request) {
	accountID, ok := extractAccountID(r)
	if !ok {
		http.Error(w, `{"error":"invalid account id"}`, http.StatusBadRequest)
		return
	}
	res, err := h.Vault.ClaimedBalance(r.Context(), accountID)
	if err != nil {
		h.writeVaultError(w, "get claimed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- GET /v1/accounts/{id}/score ---

func (h *VaultHandler) GetScore(w http.ResponseWriter, r *http.Request) {
	accountID, ok := extractAccountID(r)
	if !ok {
		http.Error(w, `{"error":"invalid account id"}`, http.StatusBadRequest)
		return
	}
	res, err := h.Vault.GetScore(r.Context(), accountID)
	if err != nil {
		h.writeVaultError(w, "get score", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- helpers ---

// writeVaultError maps service sentinels to HTTP statuses. Anything
// unmapped is a 500 and gets logged.
func (h *VaultHandler) writeVaultError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, ticket.ErrNonceMismatch):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, ticket.ErrExpired),
		errors.Is(err, ticket.ErrMissingSignature),
		errors.Is(err, ticket.ErrBadSignature):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, vault.ErrOperationInProgress):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, products.ErrDisabled),
		errors.Is(err, vault.ErrNotMatured),
		errors.Is(err, vault.ErrTopUpNotAllowed),
		errors.Is(err, vault.ErrRestakeNotAllowed),
		errors.Is(err, vault.ErrBelowMinStake),
		errors.Is(err, vault.ErrAboveMaxStake),
		errors.Is(err, vault.ErrTimezoneRequired),
		errors.Is(err, vault.ErrNothingToWithdraw),
		errors.Is(err, vault.ErrNoJar):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	default:
		h.Logger.Error(op+" failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// extractAccountID parses the account UUID from the URL path. Supports
// paths like /v1/accounts/{id}/jars.
func extractAccountID(r *http.Request) (uuid.UUID, bool) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/accounts/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 0 {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func nowMS() models.Timestamp {
	return time.Now().UnixMilli()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
