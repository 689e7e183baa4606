package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func federatedClaims(uid, email string) Claims {
	return Claims{Scheme: SchemeFederated, FederatedID: uid, Email: email, EmailVerified: true, Name: "Grace Hopper"}
}

func seedUser(t *testing.T, store UserStore, email, username string, role Role) *User {
	t.Helper()
	u := &User{
		Email:    email,
		Username: username,
		FullName: "Seeded User",
		Role:     role,
		IsActive: true,
	}
	if err := store.Insert(context.Background(), u); err != nil {
		t.Fatalf("Insert %s: %v", email, err)
	}
	return u
}

func TestResolverLoadIsReadOnly(t *testing.T) {
	store := NewMemoryStore()
	r, err := NewResolver(store)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	_, err = r.Load(context.Background(), federatedClaims("fb-1", "grace@example.org"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	page, err := store.List(context.Background(), UserFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 0 {
		t.Fatalf("Load created %d users", page.Total)
	}
}

func TestResolverLoadMatchesFederatedByEmail(t *testing.T) {
	store := NewMemoryStore()
	u := seedUser(t, store, "grace@example.org", "grace", RoleCitizen)
	r, _ := NewResolver(store)

	id, err := r.Load(context.Background(), federatedClaims("fb-1", "grace@example.org"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if id.ID() != u.ID {
		t.Fatalf("loaded %s, want %s", id.ID(), u.ID)
	}
	stored, _ := store.FindByID(context.Background(), u.ID)
	if stored.FederatedID != "" {
		t.Fatal("Load must not link the federated id")
	}
}

func TestResolverLoadRefusesEmailLinkedToAnotherProviderID(t *testing.T) {
	store := NewMemoryStore()
	victim := &User{
		Email: "victim@example.org", Username: "victim", FullName: "Linked Admin",
		FederatedID: "uid-a", Role: RoleAdmin, IsActive: true,
	}
	if err := store.Insert(context.Background(), victim); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	r, _ := NewResolver(store)

	if _, err := r.Load(context.Background(), federatedClaims("uid-b", "victim@example.org")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a second provider id, got %v", err)
	}
	id, err := r.Load(context.Background(), federatedClaims("uid-a", "other@example.org"))
	if err != nil || id.ID() != victim.ID {
		t.Fatalf("linked provider id must still load: id=%v err=%v", id, err)
	}
}

func TestResolverLoadIgnoresUnverifiedEmail(t *testing.T) {
	store := NewMemoryStore()
	seedUser(t, store, "grace@example.org", "grace", RoleCitizen)
	r, _ := NewResolver(store)

	claims := federatedClaims("fb-1", "grace@example.org")
	claims.EmailVerified = false
	if _, err := r.Load(context.Background(), claims); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolverLoadRejectsUntaggedClaims(t *testing.T) {
	r, _ := NewResolver(NewMemoryStore())
	if _, err := r.Load(context.Background(), Claims{SubjectID: "user-1"}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestResolveOrLinkCreatesCitizen(t *testing.T) {
	store := NewMemoryStore()
	r, _ := NewResolver(store)

	id, created, err := r.ResolveOrLinkFederatedIdentity(context.Background(),
		federatedClaims("fb-1", "grace@example.org"), FederatedProfile{})
	if err != nil {
		t.Fatalf("ResolveOrLink: %v", err)
	}
	if !created {
		t.Fatal("expected a new account")
	}
	u := id.User
	if u.Role != RoleCitizen || !u.IsActive || !u.IsVerified {
		t.Fatalf("unexpected new account %+v", u)
	}
	if u.Username != "grace" || u.FullName != "Grace Hopper" || u.FederatedID != "fb-1" {
		t.Fatalf("unexpected new account %+v", u)
	}
	if u.Profile.PreferredLanguage != defaultLanguage {
		t.Fatalf("language = %q", u.Profile.PreferredLanguage)
	}
}

func TestResolveOrLinkIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	r, _ := NewResolver(store)
	claims := federatedClaims("fb-1", "grace@example.org")

	first, created, err := r.ResolveOrLinkFederatedIdentity(context.Background(), claims, FederatedProfile{})
	if err != nil || !created {
		t.Fatalf("first call: created=%v err=%v", created, err)
	}
	second, created, err := r.ResolveOrLinkFederatedIdentity(context.Background(), claims, FederatedProfile{})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if created {
		t.Fatal("second call must not create")
	}
	if first.ID() != second.ID() {
		t.Fatalf("ids differ: %s vs %s", first.ID(), second.ID())
	}
}

func TestResolveOrLinkLinksExistingEmail(t *testing.T) {
	store := NewMemoryStore()
	existing := seedUser(t, store, "grace@example.org", "grace", RoleAuthority)
	r, _ := NewResolver(store)

	id, created, err := r.ResolveOrLinkFederatedIdentity(context.Background(),
		federatedClaims("fb-1", "Grace@Example.org"), FederatedProfile{})
	if err != nil {
		t.Fatalf("ResolveOrLink: %v", err)
	}
	if created || id.ID() != existing.ID {
		t.Fatalf("expected link to %s, got %s created=%v", existing.ID, id.ID(), created)
	}
	if id.User.Role != RoleAuthority {
		t.Fatalf("linking must keep the stored role, got %s", id.User.Role)
	}
	stored, _ := store.FindByFederatedID(context.Background(), "fb-1")
	if stored.ID != existing.ID {
		t.Fatal("federated id not persisted")
	}
}

func TestResolveOrLinkRejectsSecondProviderIdentity(t *testing.T) {
	store := NewMemoryStore()
	r, _ := NewResolver(store)
	if _, _, err := r.ResolveOrLinkFederatedIdentity(context.Background(),
		federatedClaims("fb-1", "grace@example.org"), FederatedProfile{}); err != nil {
		t.Fatalf("first link: %v", err)
	}
	_, _, err := r.ResolveOrLinkFederatedIdentity(context.Background(),
		federatedClaims("fb-2", "grace@example.org"), FederatedProfile{})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestResolveOrLinkUnverifiedEmailNeverLinks(t *testing.T) {
	store := NewMemoryStore()
	existing := seedUser(t, store, "grace@example.org", "grace", RoleAdmin)
	r, _ := NewResolver(store)

	claims := federatedClaims("fb-1", "grace@example.org")
	claims.EmailVerified = false
	if _, _, err := r.ResolveOrLinkFederatedIdentity(context.Background(), claims, FederatedProfile{}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	stored, _ := store.FindByID(context.Background(), existing.ID)
	if stored.FederatedID != "" {
		t.Fatalf("unverified email linked the account to %q", stored.FederatedID)
	}
}

func TestResolveOrLinkUnverifiedEmailCreatesOnce(t *testing.T) {
	store := NewMemoryStore()
	r, _ := NewResolver(store)
	claims := federatedClaims("fb-1", "fresh@example.org")
	claims.EmailVerified = false

	first, created, err := r.ResolveOrLinkFederatedIdentity(context.Background(), claims, FederatedProfile{})
	if err != nil || !created {
		t.Fatalf("first call: created=%v err=%v", created, err)
	}
	if first.User.IsVerified || first.User.FederatedID != "fb-1" {
		t.Fatalf("unexpected account %+v", first.User)
	}
	second, created, err := r.ResolveOrLinkFederatedIdentity(context.Background(), claims, FederatedProfile{})
	if err != nil || created || second.ID() != first.ID() {
		t.Fatalf("second call: created=%v err=%v", created, err)
	}
}

func TestResolveOrLinkPicksFreeUsername(t *testing.T) {
	store := NewMemoryStore()
	seedUser(t, store, "someone@example.org", "grace", RoleCitizen)
	seedUser(t, store, "someone2@example.org", "grace1", RoleCitizen)
	r, _ := NewResolver(store)

	id, _, err := r.ResolveOrLinkFederatedIdentity(context.Background(),
		federatedClaims("fb-1", "grace@example.org"), FederatedProfile{})
	if err != nil {
		t.Fatalf("ResolveOrLink: %v", err)
	}
	if id.User.Username != "grace2" {
		t.Fatalf("username = %q", id.User.Username)
	}
}

func TestResolveOrLinkRequiresEmail(t *testing.T) {
	r, _ := NewResolver(NewMemoryStore())
	_, _, err := r.ResolveOrLinkFederatedIdentity(context.Background(), federatedClaims("fb-1", ""), FederatedProfile{})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestConcurrentFederatedLoginsCreateOneUser(t *testing.T) {
	store := NewMemoryStore()
	r, _ := NewResolver(store)
	claims := federatedClaims("fb-race", "race@example.org")

	const n = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[string]struct{}{}
		created int
		errs    []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			id, c, err := r.ResolveOrLinkFederatedIdentity(context.Background(), claims, FederatedProfile{})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			ids[id.ID()] = struct{}{}
			if c {
				created++
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("errors: %v", errs)
	}
	if len(ids) != 1 || created != 1 {
		t.Fatalf("got %d distinct users, %d creations", len(ids), created)
	}
	page, _ := store.List(context.Background(), UserFilter{})
	if page.Total != 1 {
		t.Fatalf("store holds %d users", page.Total)
	}
}

// A local session keeps the role it was issued with until it expires, even after
// the stored role changes.
func TestStaleRoleSnapshotUntilExpiry(t *testing.T) {
	c := newClock()
	store := NewMemoryStore()
	admin := seedUser(t, store, "boss@example.org", "boss", RoleAdmin)
	s := newTestSessions(t, c)
	v, _ := NewVerifier(s)
	r, _ := NewResolver(store)

	tok, err := s.Issue(admin.ID, admin.Email, admin.Role, time.Time{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	demoted, _ := store.FindByID(context.Background(), admin.ID)
	demoted.Role = RoleCitizen
	if err := store.Save(context.Background(), demoted); err != nil {
		t.Fatalf("Save: %v", err)
	}

	res, err := v.Resolve(context.Background(), tok.Value)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	id, err := r.Load(context.Background(), res.Claims)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if id.User.Role != RoleCitizen {
		t.Fatalf("stored role = %s", id.User.Role)
	}
	if err := Authorize(id, RequireAdmin); err != nil {
		t.Fatalf("snapshot role should still pass RequireAdmin: %v", err)
	}

	fresh, err := s.Issue(admin.ID, admin.Email, id.User.Role, time.Time{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	res, _ = v.Resolve(context.Background(), fresh.Value)
	id, _ = r.Load(context.Background(), res.Claims)
	if err := Authorize(id, RequireAdmin); !errors.Is(err, ErrForbidden) {
		t.Fatalf("new session must carry the new role, got %v", err)
	}

	c.Advance(DefaultSessionTTL + time.Minute)
	if _, err := v.Resolve(context.Background(), tok.Value); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expired snapshot must be rejected, got %v", err)
	}
}

func TestUsernameBase(t *testing.T) {
	cases := []struct{ requested, email, want string }{
		{"", "grace.hopper@example.org", "gracehopper"},
		{"Grace_H", "x@example.org", "grace_h"},
		{"", "a@example.org", "a__"},
		{"", fmt.Sprintf("%s@example.org", "abcdefghijklmnopqrstuvwxyz0123456789"), "abcdefghijklmnopqrstuvwxyz0"},
	}
	for _, tc := range cases {
		if got := usernameBase(tc.requested, tc.email); got != tc.want {
			t.Fatalf("usernameBase(%q, %q) = %q, want %q", tc.requested, tc.email, got, tc.want)
		}
	}
}
