package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const maxUsernameAttempts = 50

// Identity is a loaded account together with the claims that led to it.
type Identity struct {
	User   *User
	Claims Claims
}

// ID returns the account id.
func (i *Identity) ID() string {
	if i == nil || i.User == nil {
		return ""
	}
	return i.User.ID
}

// Role is the role used for authorization. Local sessions keep the role they were issued
// with until expiry; federated credentials use the stored role.
func (i *Identity) Role() Role {
	if i == nil || i.User == nil {
		return ""
	}
	if i.Claims.Scheme == SchemeLocal && i.Claims.Role != "" {
		return i.Claims.Role
	}
	return i.User.Role
}

// IsActive always reflects the stored record.
func (i *Identity) IsActive() bool {
	return i != nil && i.User != nil && i.User.IsActive
}

func (i *Identity) IsAdmin() bool { return i.Role() == RoleAdmin }

func (i *Identity) IsAuthorityOrAdmin() bool {
	r := i.Role()
	return r == RoleAuthority || r == RoleAdmin
}

// IsVerifiedAuthority reports an authority account an admin has verified.
func (i *Identity) IsVerifiedAuthority() bool {
	return i.Role() == RoleAuthority && i.User.AuthorityVerified
}

// FederatedProfile carries optional hints used when a federated login creates an account.
type FederatedProfile struct {
	Username string
	FullName string
}

// Resolver maps claims onto stored accounts.
type Resolver struct {
	store UserStore
}

func NewResolver(store UserStore) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("auth: user store is required")
	}
	return &Resolver{store: store}, nil
}

// Load finds the account behind claims without writing anything. Federated claims are
// matched by federated id, then by a provider-verified email on an account that has no
// federated id yet. ErrNotFound means no account the claims may act as.
func (r *Resolver) Load(ctx context.Context, claims Claims) (*Identity, error) {
	var (
		u   *User
		err error
	)
	switch claims.Scheme {
	case SchemeLocal:
		u, err = r.store.FindByID(ctx, claims.SubjectID)
	case SchemeFederated:
		u, err = r.store.FindByFederatedID(ctx, claims.FederatedID)
		if errors.Is(err, ErrNotFound) && claims.Email != "" && claims.EmailVerified {
			u, err = r.store.FindByEmail(ctx, claims.Email)
			if err == nil && u.FederatedID != "" && u.FederatedID != claims.FederatedID {
				u, err = nil, ErrNotFound
			}
		}
	default:
		return nil, fmt.Errorf("%w: unresolved claims", ErrUnauthenticated)
	}
	if err != nil {
		return nil, err
	}
	return &Identity{User: u, Claims: claims}, nil
}

// ResolveOrLinkFederatedIdentity returns the account for federated claims, linking an
// account with the same email or creating a citizen account when none exists. The store
// performs the link-or-create atomically; repeating the call is idempotent.
// Without a provider-verified email the call never links: it returns the account already
// carrying the federated id or creates one, and an existing account with that email is
// ErrConflict.
func (r *Resolver) ResolveOrLinkFederatedIdentity(ctx context.Context, claims Claims, hint FederatedProfile) (*Identity, bool, error) {
	if claims.Scheme != SchemeFederated || claims.FederatedID == "" {
		return nil, false, fmt.Errorf("%w: federated claims required", ErrInvalidInput)
	}
	email := normalizeEmail(claims.Email)
	if email == "" {
		return nil, false, fmt.Errorf("%w: federated identity has no email", ErrInvalidInput)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "auth.resolve_or_link")
	defer span.End()

	fullName := strings.TrimSpace(hint.FullName)
	if fullName == "" {
		fullName = claims.Name
	}
	if fullName == "" {
		fullName = strings.SplitN(email, "@", 2)[0]
	}
	base := usernameBase(hint.Username, email)

	for attempt := 0; attempt < maxUsernameAttempts; attempt++ {
		username := base
		if attempt > 0 {
			username = base + strconv.Itoa(attempt)
		}
		candidate := &User{
			Email:       email,
			Username:    username,
			FullName:    fullName,
			FederatedID: claims.FederatedID,
			Role:        RoleCitizen,
			Profile:     Profile{PreferredLanguage: defaultLanguage},
			IsActive:    true,
			IsVerified:  claims.EmailVerified,
		}
		var (
			u       *User
			created bool
			err     error
		)
		if claims.EmailVerified {
			u, created, err = r.store.LinkOrCreateFederated(ctx, candidate)
		} else {
			u, created, err = r.createUnlinked(ctx, candidate)
		}
		if errors.Is(err, ErrUsernameTaken) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		span.SetAttributes(attribute.Bool("auth.created", created))
		return &Identity{User: u, Claims: claims}, created, nil
	}
	return nil, false, fmt.Errorf("%w: could not allocate a username for %s", ErrConflict, base)
}

// createUnlinked is the create-only path for claims whose email the provider has not
// verified.
func (r *Resolver) createUnlinked(ctx context.Context, candidate *User) (*User, bool, error) {
	u, err := r.store.FindByFederatedID(ctx, candidate.FederatedID)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	err = r.store.Insert(ctx, candidate)
	if err == nil {
		return candidate, true, nil
	}
	if errors.Is(err, ErrConflict) {
		// a concurrent login for the same federated id may have won the insert
		if u, ferr := r.store.FindByFederatedID(ctx, candidate.FederatedID); ferr == nil {
			return u, false, nil
		}
		return nil, false, fmt.Errorf("%w: email is registered and not verified by the provider", ErrConflict)
	}
	return nil, false, err
}

var usernameStrip = regexp.MustCompile(`[^a-z0-9_]`)

func usernameBase(requested, email string) string {
	base := strings.ToLower(strings.TrimSpace(requested))
	if base == "" {
		base = strings.ToLower(strings.SplitN(email, "@", 2)[0])
	}
	base = usernameStrip.ReplaceAllString(base, "")
	if len(base) > maxUsernameLen-3 {
		base = base[:maxUsernameLen-3]
	}
	for len(base) < minUsernameLen {
		base += "_"
	}
	return base
}
