package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func newAccounts(t *testing.T) (*Accounts, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	a, err := NewAccounts(store)
	if err != nil {
		t.Fatalf("NewAccounts: %v", err)
	}
	return a, store
}

func TestUpdateProfile(t *testing.T) {
	a, store := newAccounts(t)
	u := seedUser(t, store, "ada@example.org", "ada", RoleCitizen)

	got, err := a.UpdateProfile(context.Background(), u.ID, ProfileUpdate{
		FullName:          strPtr("  Ada King  "),
		Bio:               strPtr("Counting engines"),
		PreferredLanguage: strPtr("TA"),
	})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if got.FullName != "Ada King" || got.Profile.Bio != "Counting engines" || got.Profile.PreferredLanguage != "ta" {
		t.Fatalf("unexpected profile %+v", got)
	}
	stored, _ := store.FindByID(context.Background(), u.ID)
	if stored.FullName != "Ada King" {
		t.Fatal("update not persisted")
	}

	if _, err := a.UpdateProfile(context.Background(), u.ID, ProfileUpdate{Bio: strPtr(strings.Repeat("x", maxBioLen+1))}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("long bio: %v", err)
	}
	if _, err := a.UpdateProfile(context.Background(), "missing", ProfileUpdate{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing user: %v", err)
	}
}

func TestDeactivateAndToggle(t *testing.T) {
	a, store := newAccounts(t)
	u := seedUser(t, store, "ada@example.org", "ada", RoleCitizen)

	got, err := a.Deactivate(context.Background(), u.ID)
	if err != nil || got.IsActive {
		t.Fatalf("Deactivate: active=%v err=%v", got != nil && got.IsActive, err)
	}
	if _, err := store.FindByID(context.Background(), u.ID); err != nil {
		t.Fatalf("record must survive deactivation: %v", err)
	}
	got, err = a.ToggleActive(context.Background(), u.ID)
	if err != nil || !got.IsActive {
		t.Fatalf("ToggleActive: %v", err)
	}
}

func TestUpdateRole(t *testing.T) {
	a, store := newAccounts(t)
	u := seedUser(t, store, "officer@example.org", "officer", RoleCitizen)

	got, err := a.UpdateRole(context.Background(), u.ID, RoleChange{
		Role:          "authority",
		AuthorityType: "police",
		Department:    " Traffic ",
		Jurisdiction:  "Chennai",
	})
	if err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}
	if got.Role != RoleAuthority || got.AuthorityType != AuthorityPolice || got.AuthorityDepartment != "Traffic" {
		t.Fatalf("unexpected user %+v", got)
	}
	if got.AuthorityVerified {
		t.Fatal("new authority must start unverified")
	}

	if _, err := a.VerifyAuthority(context.Background(), u.ID, true); err != nil {
		t.Fatalf("VerifyAuthority: %v", err)
	}
	got, err = a.UpdateRole(context.Background(), u.ID, RoleChange{Role: "authority", AuthorityType: "police"})
	if err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}
	if !got.AuthorityVerified {
		t.Fatal("re-assigning authority must keep verification")
	}

	got, err = a.UpdateRole(context.Background(), u.ID, RoleChange{Role: "admin"})
	if err != nil || got.Role != RoleAdmin {
		t.Fatalf("promote to admin: %v", err)
	}

	for _, bad := range []RoleChange{{Role: "root"}, {Role: "authority", AuthorityType: "army"}} {
		if _, err := a.UpdateRole(context.Background(), u.ID, bad); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%+v: expected ErrInvalidInput, got %v", bad, err)
		}
	}
}

func TestVerifyAuthorityRequiresAuthority(t *testing.T) {
	a, store := newAccounts(t)
	u := seedUser(t, store, "ada@example.org", "ada", RoleCitizen)
	if _, err := a.VerifyAuthority(context.Background(), u.ID, true); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestListUsersAndPendingAuthorities(t *testing.T) {
	a, store := newAccounts(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, tc := range []struct {
		email, username string
		role            Role
		verified        bool
		active          bool
	}{
		{"c1@example.org", "c1", RoleCitizen, false, true},
		{"c2@example.org", "c2", RoleCitizen, false, false},
		{"p1@example.org", "p1", RoleAuthority, false, true},
		{"p2@example.org", "p2", RoleAuthority, true, true},
		{"a1@example.org", "a1", RoleAdmin, false, true},
	} {
		u := &User{
			Email: tc.email, Username: tc.username, FullName: "Listed User",
			Role: tc.role, AuthorityVerified: tc.verified, IsActive: tc.active,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := store.Insert(context.Background(), u); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	all, err := a.ListUsers(context.Background(), UserFilter{PageSize: 2})
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if all.Total != 5 || len(all.Users) != 2 || all.Users[0].Username != "a1" {
		t.Fatalf("unexpected page total=%d len=%d", all.Total, len(all.Users))
	}
	last, _ := a.ListUsers(context.Background(), UserFilter{Page: 3, PageSize: 2})
	if len(last.Users) != 1 || last.Users[0].Username != "c1" {
		t.Fatalf("last page = %+v", last.Users)
	}

	citizen := RoleCitizen
	inactive := false
	filtered, _ := a.ListUsers(context.Background(), UserFilter{Role: &citizen, Active: &inactive})
	if filtered.Total != 1 || filtered.Users[0].Username != "c2" {
		t.Fatalf("filtered = %+v", filtered.Users)
	}

	pending, err := a.PendingAuthorities(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("PendingAuthorities: %v", err)
	}
	if pending.Total != 1 || pending.Users[0].Username != "p1" {
		t.Fatalf("pending = %+v", pending.Users)
	}
}

func TestSeedAdmin(t *testing.T) {
	a, _ := newAccounts(t)
	u, err := a.SeedAdmin(context.Background(), "Root@Example.org", "root", "Root Admin", "Sup3rsecret")
	if err != nil {
		t.Fatalf("SeedAdmin: %v", err)
	}
	if u.Role != RoleAdmin || !u.IsActive || u.PasswordHash == "" || u.Email != "root@example.org" {
		t.Fatalf("unexpected admin %+v", u)
	}
	if _, err := a.SeedAdmin(context.Background(), "root@example.org", "root2", "Root Admin", "Sup3rsecret"); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate admin email: %v", err)
	}
	if _, err := a.SeedAdmin(context.Background(), "x@example.org", "xroot", "Root Admin", "weak"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("weak password: %v", err)
	}
}

func TestProfileUpdateKeepsConcurrentDeactivation(t *testing.T) {
	store := NewMemoryStore()
	u := seedUser(t, store, "ada@example.org", "ada", RoleCitizen)
	admin, _ := NewAccounts(store)
	racing := &racingStore{MemoryStore: store, before: func() {
		if _, err := admin.Deactivate(context.Background(), u.ID); err != nil {
			t.Errorf("Deactivate: %v", err)
		}
	}}
	a, _ := NewAccounts(racing)

	got, err := a.UpdateProfile(context.Background(), u.ID, ProfileUpdate{Bio: strPtr("Counting engines")})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	stored, _ := store.FindByID(context.Background(), u.ID)
	if got.IsActive || stored.IsActive {
		t.Fatal("profile update reactivated a deactivated account")
	}
	if stored.Profile.Bio != "Counting engines" {
		t.Fatalf("bio = %q", stored.Profile.Bio)
	}
}

func TestVerifyAuthorityRefusalLeavesRecordUntouched(t *testing.T) {
	a, store := newAccounts(t)
	u := seedUser(t, store, "ada@example.org", "ada", RoleCitizen)
	before, _ := store.FindByID(context.Background(), u.ID)

	if _, err := a.VerifyAuthority(context.Background(), u.ID, true); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	after, _ := store.FindByID(context.Background(), u.ID)
	if after.AuthorityVerified || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatal("refused verification wrote the record")
	}
}
