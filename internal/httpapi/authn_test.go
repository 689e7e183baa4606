package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"civicai.org/internal/auth"
)

func guarded(g auth.Guard) http.Handler {
	return RequireGuard(g)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func withIdentity(req *http.Request, role auth.Role, active bool) *http.Request {
	id := &auth.Identity{
		User:   &auth.User{ID: "user-1", Role: role, IsActive: active},
		Claims: auth.Claims{Scheme: auth.SchemeLocal, SubjectID: "user-1", Role: role},
	}
	return req.WithContext(auth.ContextWithIdentity(req.Context(), id))
}

func TestRequireGuardAllowsMatchingRole(t *testing.T) {
	req := withIdentity(httptest.NewRequest(http.MethodGet, "/admin", nil), auth.RoleAdmin, true)
	rr := httptest.NewRecorder()
	guarded(auth.RequireAdmin).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireGuardRejectsMissingRole(t *testing.T) {
	req := withIdentity(httptest.NewRequest(http.MethodGet, "/admin", nil), auth.RoleCitizen, true)
	rr := httptest.NewRecorder()
	guarded(auth.RequireAdmin).ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); !strings.Contains(got, "insufficient_scope") {
		t.Fatalf("expected insufficient_scope challenge, got %q", got)
	}
}

func TestRequireGuardRejectsInactiveAdmin(t *testing.T) {
	req := withIdentity(httptest.NewRequest(http.MethodGet, "/admin", nil), auth.RoleAdmin, false)
	rr := httptest.NewRecorder()
	guarded(auth.RequireAdmin).ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestRequireGuardRejectsMissingIdentity(t *testing.T) {
	rr := httptest.NewRecorder()
	guarded(auth.RequireActive).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got != realm {
		t.Fatalf("unexpected challenge %q", got)
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer   abc  ", "abc", true},
		{"", "", false},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("%q: got %q, %v", tc.header, got, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%q: expected error", tc.header)
		}
	}
}

func newAuthnAPI(t *testing.T) *API {
	t.Helper()
	sessions, err := auth.NewSessions(testSecret)
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}
	provider := &stubProvider{identities: map[string]auth.FederatedIdentity{}}
	verifier, err := auth.NewVerifier(sessions, auth.WithFederatedVerifier(provider))
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	store := auth.NewMemoryStore()
	svc, err := auth.NewService(store, sessions, verifier)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	accounts, _ := auth.NewAccounts(store)
	api, err := New(Options{Auth: svc, Accounts: accounts, Version: "test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return api
}

func TestAuthenticatedExpiredDeadlineIs401(t *testing.T) {
	api := newAuthnAPI(t)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil).WithContext(ctx)
	req.Header.Set(authHeader, bearer+"provider-token")
	rr := httptest.NewRecorder()

	reached := false
	api.authenticated(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { reached = true })).ServeHTTP(rr, req)

	if reached || rr.Code != http.StatusUnauthorized {
		t.Fatalf("reached=%v code=%d", reached, rr.Code)
	}
}

func TestAuthenticatedCanceledRequestWritesNothing(t *testing.T) {
	api := newAuthnAPI(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil).WithContext(ctx)
	req.Header.Set(authHeader, bearer+"provider-token")
	rr := httptest.NewRecorder()

	api.authenticated(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})).ServeHTTP(rr, req)

	if rr.Body.Len() != 0 || rr.Code == http.StatusInternalServerError || rr.Code == http.StatusTeapot {
		t.Fatalf("code=%d body=%q", rr.Code, rr.Body.String())
	}
}
