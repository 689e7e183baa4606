package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"civicai.org/internal/app"
	"civicai.org/internal/auth"
	"civicai.org/internal/config"
)

func memoryApp(t *testing.T) *app.App {
	t.Helper()
	a, err := app.Build(context.Background(), &config.Config{
		SessionSecret: "0123456789abcdef0123456789abcdef",
		SessionTTL:    time.Hour,
		Firebase:      config.FirebaseConfig{Timeout: time.Second},
		MaxBodyBytes:  1 << 20,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return a
}

func runCmd(t *testing.T, a *app.App, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(func(context.Context) (*app.App, error) { return a, nil })
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestAdminCreateSeedsAdmin(t *testing.T) {
	a := memoryApp(t)
	out, err := runCmd(t, a, "admin", "create",
		"--email", "root@civic.example", "--username", "root", "--full-name", "Root Admin",
		"--password", "Sup3rsecret")
	if err != nil {
		t.Fatalf("admin create: %v (%s)", err, out)
	}
	u, err := a.Store.FindByEmail(context.Background(), "root@civic.example")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if u.Role != auth.RoleAdmin {
		t.Fatalf("role = %s", u.Role)
	}
	if !strings.Contains(out, "created admin root") {
		t.Fatalf("output = %q", out)
	}
}

func TestAdminCreateRequiresPassword(t *testing.T) {
	t.Setenv("CIVIC_ADMIN_PASSWORD", "")
	_, err := runCmd(t, memoryApp(t), "admin", "create",
		"--email", "root@civic.example", "--username", "root", "--full-name", "Root Admin")
	if err == nil {
		t.Fatal("expected error without password")
	}
}

func TestUsersPromoteAndTokenIssue(t *testing.T) {
	a := memoryApp(t)
	res, err := a.Service.Register(context.Background(), auth.RegisterInput{
		Email:    "officer@civic.example",
		Password: "Passw0rdOK",
		Username: "officer",
		FullName: "Road Officer",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	out, err := runCmd(t, a, "users", "promote", "officer@civic.example",
		"--role", "authority", "--authority-type", "transport", "--department", "Roads")
	if err != nil {
		t.Fatalf("promote: %v (%s)", err, out)
	}
	u, err := a.Accounts.GetUser(context.Background(), res.User.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Role != auth.RoleAuthority || u.AuthorityDepartment != "Roads" {
		t.Fatalf("unexpected user after promote: %+v", u)
	}

	out, err = runCmd(t, a, "token", "issue", res.User.ID)
	if err != nil {
		t.Fatalf("token issue: %v", err)
	}
	token := strings.SplitN(out, "\n", 2)[0]
	id, err := a.Service.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate issued token: %v", err)
	}
	if id.Role() != auth.RoleAuthority {
		t.Fatalf("token role = %s", id.Role())
	}
}

func TestTokenIssueUnknownUser(t *testing.T) {
	_, err := runCmd(t, memoryApp(t), "token", "issue", "01J00000000000000000000000")
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
