// Package app wires configuration into the stores and services shared by the binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"civicai.org/internal/auth"
	"civicai.org/internal/config"
	"civicai.org/internal/federation"
	"civicai.org/internal/obs"
	"civicai.org/internal/store/pg"
)

// App holds the constructed services. Close releases the database handle.
type App struct {
	Store    auth.UserStore
	DB       *sql.DB
	Sessions *auth.Sessions
	Service  *auth.Service
	Accounts *auth.Accounts

	closeFn func() error
}

// Build opens the user store named by cfg and assembles the auth services around it.
// Without a DSN the process runs on the in-memory store.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{closeFn: func() error { return nil }}

	if cfg.DatabaseURL != "" {
		st, err := pg.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		if err := st.Ping(ctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("ping db: %w", err)
		}
		a.Store, a.DB, a.closeFn = st, st.DB(), st.Close
	} else {
		obs.Info("memory_store_selected", map[string]any{"reason": "CIVIC_PG_DSN not set"})
		a.Store = auth.NewMemoryStore()
	}

	sessions, err := auth.NewSessions(cfg.SessionSecret, auth.WithSessionTTL(cfg.SessionTTL))
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Sessions = sessions

	vopts := []auth.VerifierOption{auth.WithFederatedTimeout(cfg.Firebase.Timeout)}
	if cfg.Firebase.Enabled() {
		fb, err := federation.NewFirebase(federation.FirebaseConfig{
			ProjectID: cfg.Firebase.ProjectID,
			Issuer:    cfg.Firebase.Issuer,
			Timeout:   cfg.Firebase.Timeout,
		})
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		vopts = append(vopts, auth.WithFederatedVerifier(fb))
		obs.Info("federated_verifier_enabled", map[string]any{"project_id": cfg.Firebase.ProjectID})
	}
	verifier, err := auth.NewVerifier(sessions, vopts...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	if a.Service, err = auth.NewService(a.Store, sessions, verifier); err != nil {
		_ = a.Close()
		return nil, err
	}
	if a.Accounts, err = auth.NewAccounts(a.Store); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) Close() error { return a.closeFn() }
