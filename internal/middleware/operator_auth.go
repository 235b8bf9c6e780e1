package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const (
	ctxOperatorIDKey   contextKey = "operator_id"
	ctxOperatorRoleKey contextKey = "operator_role"
)

// TokenValidator verifies a bearer token and returns the operator
// identity it carries.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (uuid.UUID, string, error)
}

// OperatorAuth authenticates requests via the Bearer JWT and sets the
// operator's id and role into request context.
func OperatorAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}

			id, role, err := validator.ValidateToken(r.Context(), raw)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ctxOperatorIDKey, id)
			ctx = context.WithValue(ctx, ctxOperatorRoleKey, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole gates a handler on the authenticated operator's role.
// It must run inside OperatorAuth.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := OperatorRoleFromCtx(r.Context())
			for _, allowed := range roles {
				if role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, `{"error":"insufficient role"}`, http.StatusForbidden)
		})
	}
}

// OperatorIDFromCtx returns the authenticated operator's id, or uuid.Nil.
func OperatorIDFromCtx(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ctxOperatorIDKey).(uuid.UUID)
	return id
}

// OperatorRoleFromCtx returns the authenticated operator's role, or "".
func OperatorRoleFromCtx(ctx context.Context) string {
	role, _ := ctx.Value(ctxOperatorRoleKey).(string)
	return role
}

// WithOperator returns a context carrying the given operator identity.
func WithOperator(ctx context.Context, id uuid.UUID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxOperatorIDKey, id)
	return context.WithValue(ctx, ctxOperatorRoleKey, role)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
