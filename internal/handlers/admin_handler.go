package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jarledger/backend/internal/models"
	"github.com/jarledger/backend/internal/products"
	"github.com/jarledger/backend/internal/repository"
	"github.com/jarledger/backend/internal/vault"
)

// AdminHandler serves the operator surface: product administration,
// penalty and score feeds, bulk jar tooling, and the protocol fee bucket.
type AdminHandler struct {
	Catalog *products.Service
	Vault   *vault.Service
	Logger  *slog.Logger
}

// --- POST /v1/admin/products ---

// RegisterProduct handles POST /v1/admin/products. The body is the full
// product document; terms, rates, caps and the key are immutable after this.
func (h *AdminHandler) RegisterProduct(w http.ResponseWriter, r *http.Request) {
	var p models.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if err := h.Catalog.Register(r.Context(), &p); err != nil {
		if errors.Is(err, repository.ErrDuplicateProduct) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		// Everything else Register returns is a validation failure.
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, &p)
}

// --- GET /v1/products ---

// ListProducts handles GET /v1/products (public, no auth).
func (h *AdminHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	list, err := h.Catalog.List(r.Context())
	if err != nil {
		h.Logger.Error("list products", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// --- POST /v1/admin/products/{id}/enabled ---

type setEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// SetProductEnabled handles POST /v1/admin/products/{id}/enabled.
func (h *AdminHandler) SetProductEnabled(w http.ResponseWriter, r *http.Request) {
	id, ok := extractProductID(r)
	if !ok {
		http.Error(w, `{"error":"invalid product id"}`, http.StatusBadRequest)
		return
	}
	var req setEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if err := h.Catalog.SetEnabled(r.Context(), id, req.Enabled); err != nil {
		h.writeAdminError(w, "set enabled", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- POST /v1/admin/products/{id}/key ---

type setKeyRequest struct {
	PublicKey []byte `json:"public_key"`
}

// SetProductKey handles POST /v1/admin/products/{id}/key, rotating the
// product authorization key.
func (h *AdminHandler) SetProductKey(w http.ResponseWriter, r *http.Request) {
	id, ok := extractProductID(r)
	if !ok {
		http.Error(w, `{"error":"invalid product id"}`, http.StatusBadRequest)
		return
	}
	var req setKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if err := h.Catalog.SetPublicKey(r.Context(), id, req.PublicKey); err != nil {
		h.writeAdminError(w, "set key", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- POST /v1/admin/penalties ---

type penaltyBatchRequest struct {
	Updates []vault.PenaltyUpdate `json:"updates"`
	Value   bool                  `json:"value"`
}

type batchEntryResponse struct {
	AccountID string `json:"account_id"`
	ProductID string `json:"product_id,omitempty"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// BatchSetPenalty handles POST /v1/admin/penalties. Entries resolve
// independently; the response reports each account's outcome.
func (h *AdminHandler) BatchSetPenalty(w http.ResponseWriter, r *http.Request) {
	var req penaltyBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	outcomes := h.Vault.BatchSetPenalty(r.Context(), req.Updates, req.Value, nowMS())
	out := make([]batchEntryResponse, 0, len(outcomes))
	for _, o := range outcomes {
		e := batchEntryResponse{AccountID: o.AccountID.String(), OK: o.Err == nil}
		if o.Err != nil {
			e.Error = o.Err.Error()
		}
		out = append(out, e)
	}
	writeJSON(w, http.StatusOK, out)
}

// --- POST /v1/admin/scores ---

type scoreBatchRequest struct {
	Updates []vault.ScoreUpdate `json:"updates"`
}

// RecordScores handles POST /v1/admin/scores, the oracle score feed.
func (h *AdminHandler) RecordScores(w http.ResponseWriter, r *http.Request) {
	var req scoreBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	outcomes := h.Vault.RecordScores(r.Context(), req.Updates)
	out := make([]batchEntryResponse, 0, len(outcomes))
	for _, o := range outcomes {
		e := batchEntryResponse{AccountID: o.AccountID.String(), OK: o.Err == nil}
		if o.Err != nil {
			e.Error = o.Err.Error()
		}
		out = append(out, e)
	}
	writeJSON(w, http.StatusOK, out)
}

// --- POST /v1/admin/jars ---

type bulkJarsRequest struct {
	Jars []vault.BulkJar `json:"jars"`
}

// BulkCreateJars handles POST /v1/admin/jars, ops tooling for imports.
// Entries resolve independently; the response reports each entry's outcome.
func (h *AdminHandler) BulkCreateJars(w http.ResponseWriter, r *http.Request) {
	var req bulkJarsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	outcomes := h.Vault.BulkCreateJars(r.Context(), req.Jars)
	out := make([]batchEntryResponse, 0, len(outcomes))
	for _, o := range outcomes {
		e := batchEntryResponse{AccountID: o.AccountID.String(), ProductID: o.ProductID, OK: o.Err == nil}
		if o.Err != nil {
			e.Error = o.Err.Error()
		}
		out = append(out, e)
	}
	writeJSON(w, http.StatusOK, out)
}

// --- POST /v1/admin/fees/withdrawals ---

type feeWithdrawRequest struct {
	Receiver string `json:"receiver"`
}

// WithdrawFees handles POST /v1/admin/fees/withdrawals. Drains the fee
// bucket into an async transfer; a failed transfer credits the bucket back.
func (h *AdminHandler) WithdrawFees(w http.ResponseWriter, r *http.Request) {
	var req feeWithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Receiver == "" {
		http.Error(w, `{"error":"receiver is required"}`, http.StatusBadRequest)
		return
	}
	receipt, err := h.Vault.WithdrawFees(r.Context(), req.Receiver)
	if err != nil {
		h.writeAdminError(w, "withdraw fees", err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

// --- GET /v1/admin/fees ---

type feeBalanceResponse struct {
	Balance uint64 `json:"balance"`
}

// GetFeeBalance handles GET /v1/admin/fees.
func (h *AdminHandler) GetFeeBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.Vault.FeeBalance(r.Context())
	if err != nil {
		h.writeAdminError(w, "fee balance", err)
		return
	}
	writeJSON(w, http.StatusOK, feeBalanceResponse{Balance: balance})
}

// --- helpers ---

func (h *AdminHandler) writeAdminError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, products.ErrEnabledUnchanged),
		errors.Is(err, products.ErrKeyRequired),
		errors.Is(err, vault.ErrNothingToWithdraw),
		errors.Is(err, vault.ErrTopUpNotAllowed),
		errors.Is(err, vault.ErrBelowMinStake),
		errors.Is(err, vault.ErrAboveMaxStake),
		errors.Is(err, vault.ErrOperationInProgress):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	default:
		h.Logger.Error(op+" failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// extractProductID parses the product id from the URL path. Supports paths
// like /v1/admin/products/{id}/enabled and /v1/admin/products/{id}/key.
func extractProductID(r *http.Request) (string, bool) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/admin/products/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "", false
	}
	return parts[0], true
}
