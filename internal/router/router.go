package router

import (
	"net/http"
	"strings"

	"github.com/jarledger/backend/internal/auth"
	"github.com/jarledger/backend/internal/handlers"
	"github.com/jarledger/backend/internal/middleware"
)

// New returns an http.Handler serving the API under /v1.
//
// The depositor surface under /v1/accounts is open: deposits carry their own
// ticket authorization and queries are public. The operator
// surface under /v1/admin requires a JWT; score and penalty feeds accept the
// oracle role, everything else is manager-only.
func New(authHandler *auth.Handler, vaultHandler *handlers.VaultHandler, adminHandler *handlers.AdminHandler, validator middleware.TokenValidator) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/auth/register", authHandler.Register)
	mux.HandleFunc("/v1/auth/login", authHandler.Login)

	mux.HandleFunc("/v1/products", methodGET(adminHandler.ListProducts))

	mux.HandleFunc("/v1/accounts/", accountsHandler(vaultHandler))

	operator := middleware.OperatorAuth(validator)
	manager := func(h http.HandlerFunc) http.Handler {
		return operator(middleware.RequireRole(auth.RoleManager)(h))
	}
	feed := func(h http.HandlerFunc) http.Handler {
		return operator(middleware.RequireRole(auth.RoleManager, auth.RoleOracle)(h))
	}

	mux.Handle("/v1/admin/products", manager(methodPOST(adminHandler.RegisterProduct)))
	mux.Handle("/v1/admin/products/", manager(adminProductsHandler(adminHandler)))
	mux.Handle("/v1/admin/penalties", feed(methodPOST(adminHandler.BatchSetPenalty)))
	mux.Handle("/v1/admin/scores", feed(methodPOST(adminHandler.RecordScores)))
	mux.Handle("/v1/admin/jars", manager(methodPOST(adminHandler.BulkCreateJars)))
	mux.Handle("/v1/admin/fees", manager(methodGET(adminHandler.GetFeeBalance)))
	mux.Handle("/v1/admin/fees/withdrawals", manager(methodPOST(adminHandler.WithdrawFees)))

	return mux
}

// accountsHandler routes /v1/accounts/{id}/<resource>.
func accountsHandler(h *handlers.VaultHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/v1/accounts/")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 {
			http.NotFound(w, r)
			return
		}
		switch parts[1] {
		case "deposits":
			methodPOST(h.Deposit)(w, r)
		case "claims":
			methodPOST(h.Claim)(w, r)
		case "withdrawals":
			methodPOST(h.Withdraw)(w, r)
		case "restake":
			methodPOST(h.Restake)(w, r)
		case "jars":
			methodGET(h.GetJars)(w, r)
		case "interest":
			methodGET(h.GetInterest)(w, r)
		case "claimed":
			methodGET(h.GetClaimed)(w, r)
		case "score":
			methodGET(h.GetScore)(w, r)
		default:
			http.NotFound(w, r)
		}
	}
}

// adminProductsHandler routes /v1/admin/products/{id}/<action>.
func adminProductsHandler(h *handlers.AdminHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/v1/admin/products/")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 {
			http.NotFound(w, r)
			return
		}
		switch parts[1] {
		case "enabled":
			methodPOST(h.SetProductEnabled)(w, r)
		case "key":
			methodPOST(h.SetProductKey)(w, r)
		default:
			http.NotFound(w, r)
		}
	}
}

func methodGET(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func methodPOST(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
