package auth

import (
	"fmt"
	"strings"

	"civicai.org/internal/obs"
)

// Decision is the result of a guard. Reason is set on denial.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Reason: reason} }

// Guard is a pure authorization predicate over an already resolved identity.
type Guard struct {
	Name  string
	check func(*Identity) Decision
}

// Check evaluates the guard.
func (g Guard) Check(id *Identity) Decision {
	if g.check == nil {
		return deny("guard not configured")
	}
	return g.check(id)
}

// All allows only when every guard allows. The first denial wins.
func All(guards ...Guard) Guard {
	names := make([]string, 0, len(guards))
	for _, g := range guards {
		names = append(names, g.Name)
	}
	return Guard{
		Name: strings.Join(names, "+"),
		check: func(id *Identity) Decision {
			for _, g := range guards {
				if d := g.Check(id); !d.Allowed {
					return d
				}
			}
			return allow()
		},
	}
}

// RequireActive denies deactivated accounts regardless of role.
var RequireActive = Guard{
	Name: "active",
	check: func(id *Identity) Decision {
		if !id.IsActive() {
			return deny("account is deactivated")
		}
		return allow()
	},
}

func roleGuard(name string, ok func(*Identity) bool, reason string) Guard {
	return All(RequireActive, Guard{
		Name: name,
		check: func(id *Identity) Decision {
			if !ok(id) {
				return deny(reason)
			}
			return allow()
		},
	})
}

var (
	// RequireAdmin allows active admins.
	RequireAdmin = roleGuard("admin", (*Identity).IsAdmin, "admin role required")
	// RequireAuthorityOrAdmin allows active authorities and admins.
	RequireAuthorityOrAdmin = roleGuard("authority_or_admin", (*Identity).IsAuthorityOrAdmin, "authority or admin role required")
	// RequireVerifiedAuthorityOrAdmin additionally requires authority accounts to be verified.
	RequireVerifiedAuthorityOrAdmin = roleGuard("verified_authority_or_admin", func(id *Identity) bool {
		return id.IsAdmin() || id.IsVerifiedAuthority()
	}, "verified authority or admin role required")
)

// RequireOwnerOrAdmin allows the owner of a resource or an active admin.
func RequireOwnerOrAdmin(ownerID string) Guard {
	return roleGuard("owner_or_admin", func(id *Identity) bool {
		return (ownerID != "" && id.ID() == ownerID) || id.IsAdmin()
	}, "not the owner of this resource")
}

// Authorize applies g to id. A nil identity is ErrUnauthenticated; a denial wraps ErrForbidden.
func Authorize(id *Identity, g Guard) error {
	if id == nil || id.User == nil {
		return ErrUnauthenticated
	}
	d := g.Check(id)
	if d.Allowed {
		return nil
	}
	obs.ObserveGuardDenial(g.Name)
	return fmt.Errorf("%w: %s", ErrForbidden, d.Reason)
}
