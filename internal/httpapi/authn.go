package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"civicai.org/internal/audit"
	"civicai.org/internal/auth"
	"civicai.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// authenticated resolves the bearer token into an identity or answers 401.
func (a *API) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			unauthorized(w, r, err.Error())
			return
		}

		id, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, context.Canceled):
				// client went away; nothing useful to send
			case errors.Is(err, auth.ErrUnauthenticated):
				unauthorized(w, r, "invalid or expired credential")
			default:
				obs.Error("authentication_error", err, map[string]any{
					"request_id": RequestIDFromContext(r.Context()),
				})
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), id)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireGuard answers 401 without an identity and 403 when g denies.
func RequireGuard(g auth.Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, _ := auth.IdentityFromContext(r.Context())
			if err := auth.Authorize(id, g); err != nil {
				if errors.Is(err, auth.ErrForbidden) {
					_ = audit.LogEvent(r.Context(), audit.EventAccessDenied, map[string]any{
						"guard":  g.Name,
						"method": r.Method,
						"path":   r.URL.Path,
					})
				}
				handleError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireOwnerOrAdmin guards a route on the account id in URL parameter param.
// The guard runs before any lookup, so callers without rights learn nothing about the target.
func requireOwnerOrAdmin(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			guard := auth.RequireOwnerOrAdmin(chi.URLParam(r, param))
			RequireGuard(guard)(next).ServeHTTP(w, r)
		})
	}
}

func currentIdentity(r *http.Request) *auth.Identity {
	id, _ := auth.IdentityFromContext(r.Context())
	return id
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
