package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/telecare-labs/callbridge/internal/models"
	"github.com/telecare-labs/callbridge/internal/registry"
)

type contextKey string

const identityContextKey contextKey = "identity"

// AuthMiddleware resolves bearer tokens to a caller identity. Every
// gateway operation receives an explicit (role, userId) pair from here;
// there is no ambient session state.
type AuthMiddleware struct {
	registry *registry.Registry
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(reg *registry.Registry) *AuthMiddleware {
	return &AuthMiddleware{registry: reg}
}

// RequireAuth verifies the Authorization bearer token and injects the
// resolved identity into the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			authError(w, "missing authorization header")
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			authError(w, "authorization must be a bearer token")
			return
		}

		ident, err := m.registry.Authenticate(r.Context(), token)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "auth lookup failed"})
			return
		}
		if ident == nil {
			authError(w, "unknown token")
			return
		}

		ctx := context.WithValue(r.Context(), identityContextKey, ident)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func authError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "message": message})
}

// IdentityFromContext retrieves the authenticated identity from the
// request context.
func IdentityFromContext(ctx context.Context) *models.Identity {
	ident, ok := ctx.Value(identityContextKey).(*models.Identity)
	if !ok {
		return nil
	}
	return ident
}
