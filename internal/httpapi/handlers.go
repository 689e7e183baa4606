package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"civicai.org/internal/auth"
	"civicai.org/internal/obs"
)

const (
	serviceName         = "civicai-api"
	defaultMaxBodyBytes = 1 << 20
)

// ReadyProbe checks dependencies before the API reports ready.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options configures New.
type Options struct {
	Auth     *auth.Service
	Accounts *auth.Accounts
	Ready    ReadyProbe
	Version  string

	CORSOrigins   []string
	RatePerMinute int
	RateBurst     int
	MaxBodyBytes  int64
}

// API is the HTTP layer.
type API struct {
	auth       *auth.Service
	accounts   *auth.Accounts
	readyProbe ReadyProbe
	version    string

	corsOrigins []string
	ratePerMin  int
	rateBurst   int
	maxBody     int64
}

func New(opts Options) (*API, error) {
	if opts.Auth == nil || opts.Accounts == nil {
		return nil, errors.New("httpapi: auth service and accounts are required")
	}
	a := &API{
		auth:        opts.Auth,
		accounts:    opts.Accounts,
		readyProbe:  opts.Ready,
		version:     opts.Version,
		corsOrigins: opts.CORSOrigins,
		ratePerMin:  opts.RatePerMinute,
		rateBurst:   opts.RateBurst,
		maxBody:     opts.MaxBodyBytes,
	}
	if a.maxBody <= 0 {
		a.maxBody = defaultMaxBodyBytes
	}
	if a.rateBurst <= 0 {
		a.rateBurst = a.ratePerMin
	}
	return a, nil
}

// Handler builds the router wrapped in metrics instrumentation.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		RequestID,
		LoggingJSON,
		SecurityHeaders,
		CORS(a.corsOrigins),
		func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.maxBody) },
		func(next http.Handler) http.Handler { return RateLimit(next, a.rateBurst, a.ratePerMin) },
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", a.handleRegister)
			r.Post("/login", a.handleLogin)
			r.Post("/admin/login", a.handleAdminLogin)
			r.Post("/firebase", a.handleFirebaseLogin)
			r.With(a.authenticated, RequireGuard(auth.RequireActive)).Get("/me", a.handleMe)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.authenticated)

			r.Route("/users", func(r chi.Router) {
				r.With(RequireGuard(auth.RequireActive)).Get("/me", a.handleMe)
				r.With(RequireGuard(auth.RequireActive)).Put("/me", a.handleUpdateMe)
				r.With(RequireGuard(auth.RequireActive)).Delete("/me", a.handleDeactivateMe)
				r.With(RequireGuard(auth.RequireActive)).Get("/{username}", a.handleUserByUsername)
				r.With(requireOwnerOrAdmin("id")).Put("/{id}/profile", a.handleUpdateProfile)
			})

			r.With(RequireGuard(auth.RequireVerifiedAuthorityOrAdmin)).Get("/authority/whoami", a.handleAuthorityWhoAmI)

			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireGuard(auth.RequireAdmin))
				r.Get("/users", a.handleAdminListUsers)
				r.Get("/users/{id}", a.handleAdminGetUser)
				r.Put("/users/{id}/role", a.handleAdminUpdateRole)
				r.Post("/users/{id}/toggle-active", a.handleAdminToggleActive)
				r.Get("/authorities/pending", a.handleAdminPendingAuthorities)
				r.Post("/authorities/{id}/verify", a.handleAdminVerifyAuthority)
			})
		})
	})

	return obs.Instrument(r)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
