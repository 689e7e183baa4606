package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Service wires session issuance, credential verification and identity resolution into
// the login and registration flows.
type Service struct {
	store    UserStore
	sessions *Sessions
	verifier *Verifier
	resolver *Resolver
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock sets the time source used for issuance and last-login stamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) error {
		if now == nil {
			return errors.New("auth: clock is nil")
		}
		s.now = now
		return nil
	}
}

func NewService(store UserStore, sessions *Sessions, verifier *Verifier, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: user store is required")
	}
	if sessions == nil || verifier == nil {
		return nil, errors.New("auth: sessions and verifier are required")
	}
	resolver, err := NewResolver(store)
	if err != nil {
		return nil, err
	}
	s := &Service{
		store:    store,
		sessions: sessions,
		verifier: verifier,
		resolver: resolver,
		now:      time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Resolver exposes the identity resolver used by the service.
func (s *Service) Resolver() *Resolver { return s.resolver }

// AuthResult is returned by every flow that hands out a session.
type AuthResult struct {
	Token   Token
	User    *User
	Created bool
}

// RegisterInput is the self-service sign-up payload. It has no role: sign-up always
// produces a citizen.
type RegisterInput struct {
	Email             string
	Password          string
	Username          string
	FullName          string
	PreferredLanguage string
}

// Register creates a citizen account with a password and returns a session for it.
func (s *Service) Register(ctx context.Context, in RegisterInput) (AuthResult, error) {
	email, err := validateEmail(in.Email)
	if err != nil {
		return AuthResult{}, err
	}
	if err := CheckPasswordPolicy(in.Password); err != nil {
		return AuthResult{}, err
	}
	username, err := validateUsername(in.Username)
	if err != nil {
		return AuthResult{}, err
	}
	fullName, err := validateFullName(in.FullName)
	if err != nil {
		return AuthResult{}, err
	}
	lang, err := validateLanguage(in.PreferredLanguage)
	if err != nil {
		return AuthResult{}, err
	}

	if _, err := s.store.FindByEmail(ctx, email); err == nil {
		return AuthResult{}, fmt.Errorf("%w: email already registered", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return AuthResult{}, err
	}
	if _, err := s.store.FindByUsername(ctx, username); err == nil {
		return AuthResult{}, fmt.Errorf("%w: username already taken", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return AuthResult{}, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return AuthResult{}, err
	}
	now := s.now().UTC()
	u := &User{
		Email:        email,
		Username:     username,
		FullName:     fullName,
		PasswordHash: hash,
		Role:         RoleCitizen,
		Profile:      Profile{PreferredLanguage: lang},
		IsActive:     true,
		CreatedAt:    now,
		LastLoginAt:  &now,
	}
	if err := s.store.Insert(ctx, u); err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			return AuthResult{}, fmt.Errorf("%w: username already taken", ErrConflict)
		}
		if errors.Is(err, ErrConflict) {
			return AuthResult{}, fmt.Errorf("%w: email already registered", ErrConflict)
		}
		return AuthResult{}, err
	}
	return s.session(u, true)
}

// Login authenticates with email and password.
func (s *Service) Login(ctx context.Context, email, password string) (AuthResult, error) {
	u, err := s.checkPassword(ctx, email, password)
	if err != nil {
		return AuthResult{}, err
	}
	if err := s.touchLogin(ctx, u); err != nil {
		return AuthResult{}, err
	}
	return s.session(u, false)
}

// AdminLogin is Login restricted to admin accounts. Valid credentials for a non-admin
// account yield ErrForbidden.
func (s *Service) AdminLogin(ctx context.Context, email, password string) (AuthResult, error) {
	u, err := s.checkPassword(ctx, email, password)
	if err != nil {
		return AuthResult{}, err
	}
	if u.Role != RoleAdmin {
		return AuthResult{}, fmt.Errorf("%w: admin only", ErrForbidden)
	}
	if err := s.touchLogin(ctx, u); err != nil {
		return AuthResult{}, err
	}
	return s.session(u, false)
}

// FederatedLogin verifies a provider token, links or creates the account and returns a
// local session for it.
func (s *Service) FederatedLogin(ctx context.Context, idToken string, hint FederatedProfile) (AuthResult, error) {
	res, err := s.verifier.ResolveFederated(ctx, idToken)
	if err != nil {
		return AuthResult{}, err
	}
	id, created, err := s.resolver.ResolveOrLinkFederatedIdentity(ctx, res.Claims, hint)
	if err != nil {
		return AuthResult{}, err
	}
	u := id.User
	if !u.IsActive {
		return AuthResult{}, fmt.Errorf("%w: account is deactivated", ErrUnauthenticated)
	}
	if err := s.touchLogin(ctx, u); err != nil {
		return AuthResult{}, err
	}
	return s.session(u, created)
}

// IssueFor mints a session for an existing account using its stored role.
func (s *Service) IssueFor(ctx context.Context, userID string) (AuthResult, error) {
	u, err := s.store.FindByID(ctx, strings.TrimSpace(userID))
	if err != nil {
		return AuthResult{}, err
	}
	return s.session(u, false)
}

// Authenticate resolves a bearer token to a loaded identity. Tokens that verify but
// belong to no stored account are ErrUnauthenticated.
func (s *Service) Authenticate(ctx context.Context, token string) (*Identity, error) {
	res, err := s.verifier.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	id, err := s.resolver.Load(ctx, res.Claims)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: no account for credential", ErrUnauthenticated)
		}
		return nil, err
	}
	return id, nil
}

func (s *Service) checkPassword(ctx context.Context, email, password string) (*User, error) {
	u, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: invalid email or password", ErrUnauthenticated)
		}
		return nil, err
	}
	if u.PasswordHash == "" || VerifyPassword(u.PasswordHash, password) != nil {
		return nil, fmt.Errorf("%w: invalid email or password", ErrUnauthenticated)
	}
	if !u.IsActive {
		return nil, fmt.Errorf("%w: account is deactivated", ErrUnauthenticated)
	}
	return u, nil
}

func (s *Service) touchLogin(ctx context.Context, u *User) error {
	now := s.now().UTC()
	if err := s.store.TouchLogin(ctx, u.ID, now); err != nil {
		return err
	}
	u.LastLoginAt = &now
	return nil
}

func (s *Service) session(u *User, created bool) (AuthResult, error) {
	tok, err := s.sessions.Issue(u.ID, u.Email, u.Role, s.now())
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{Token: tok, User: u, Created: created}, nil
}
