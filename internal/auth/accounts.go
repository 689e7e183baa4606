package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ProfileUpdate carries self-service profile changes. Nil fields are left untouched.
type ProfileUpdate struct {
	FullName          *string
	Phone             *string
	Bio               *string
	AvatarURL         *string
	PreferredLanguage *string
	Location          *string
}

// RoleChange is an admin-issued role assignment. Authority fields apply only when Role is
// authority.
type RoleChange struct {
	Role          string
	AuthorityType string
	Department    string
	Jurisdiction  string
}

// Accounts implements profile and admin account management on top of a UserStore.
// Callers are expected to have applied the matching guard.
type Accounts struct {
	store UserStore
}

func NewAccounts(store UserStore) (*Accounts, error) {
	if store == nil {
		return nil, errors.New("auth: user store is required")
	}
	return &Accounts{store: store}, nil
}

func (a *Accounts) Profile(ctx context.Context, id string) (*User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return a.store.FindByID(ctx, id)
}

func (a *Accounts) ByUsername(ctx context.Context, username string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	return a.store.FindByUsername(ctx, username)
}

func (a *Accounts) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (*User, error) {
	var (
		fullName, bio, lang string
		err                 error
	)
	if upd.FullName != nil {
		if fullName, err = validateFullName(*upd.FullName); err != nil {
			return nil, err
		}
	}
	if upd.Bio != nil {
		bio = strings.TrimSpace(*upd.Bio)
		if utf8.RuneCountInString(bio) > maxBioLen {
			return nil, fmt.Errorf("%w: bio must be at most %d characters", ErrInvalidInput, maxBioLen)
		}
	}
	if upd.PreferredLanguage != nil {
		if lang, err = validateLanguage(*upd.PreferredLanguage); err != nil {
			return nil, err
		}
	}
	return a.update(ctx, id, func(u *User) error {
		if upd.FullName != nil {
			u.FullName = fullName
		}
		if upd.Phone != nil {
			u.Profile.Phone = strings.TrimSpace(*upd.Phone)
		}
		if upd.Bio != nil {
			u.Profile.Bio = bio
		}
		if upd.AvatarURL != nil {
			u.Profile.AvatarURL = strings.TrimSpace(*upd.AvatarURL)
		}
		if upd.PreferredLanguage != nil {
			u.Profile.PreferredLanguage = lang
		}
		if upd.Location != nil {
			u.Profile.Location = strings.TrimSpace(*upd.Location)
		}
		return nil
	})
}

// Deactivate soft-deletes an account. Records are never removed.
func (a *Accounts) Deactivate(ctx context.Context, id string) (*User, error) {
	return a.update(ctx, id, func(u *User) error {
		u.IsActive = false
		return nil
	})
}

// update runs mutate against the freshest copy of the record inside the store's atomic
// update, so fields this call does not touch keep their current values.
func (a *Accounts) update(ctx context.Context, id string, mutate func(*User) error) (*User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return a.store.Update(ctx, id, mutate)
}

func (a *Accounts) ListUsers(ctx context.Context, filter UserFilter) (UserPage, error) {
	return a.store.List(ctx, filter.Normalize())
}

func (a *Accounts) GetUser(ctx context.Context, id string) (*User, error) {
	return a.Profile(ctx, id)
}

// UpdateRole assigns a new role. This and seeding are the only ways to create an admin.
func (a *Accounts) UpdateRole(ctx context.Context, id string, change RoleChange) (*User, error) {
	role, err := ParseRole(change.Role)
	if err != nil {
		return nil, err
	}
	authType, err := ParseAuthorityType(change.AuthorityType)
	if err != nil {
		return nil, err
	}
	return a.update(ctx, id, func(u *User) error {
		if role == RoleAuthority {
			if u.Role != RoleAuthority {
				u.AuthorityVerified = false
			}
			u.AuthorityType = authType
			u.AuthorityDepartment = strings.TrimSpace(change.Department)
			u.AuthorityJurisdiction = strings.TrimSpace(change.Jurisdiction)
		}
		u.Role = role
		return nil
	})
}

// ToggleActive flips the activation flag.
func (a *Accounts) ToggleActive(ctx context.Context, id string) (*User, error) {
	return a.update(ctx, id, func(u *User) error {
		u.IsActive = !u.IsActive
		return nil
	})
}

// PendingAuthorities lists authority accounts awaiting verification.
func (a *Accounts) PendingAuthorities(ctx context.Context, page, pageSize int) (UserPage, error) {
	return a.store.List(ctx, UserFilter{PendingAuthority: true, Page: page, PageSize: pageSize}.Normalize())
}

// VerifyAuthority sets the verification flag on an authority account.
func (a *Accounts) VerifyAuthority(ctx context.Context, id string, verified bool) (*User, error) {
	return a.update(ctx, id, func(u *User) error {
		if u.Role != RoleAuthority {
			return fmt.Errorf("%w: user is not an authority", ErrInvalidInput)
		}
		u.AuthorityVerified = verified
		return nil
	})
}

// SeedAdmin creates an admin account directly. It backs operator tooling and is not
// reachable from any HTTP route.
func (a *Accounts) SeedAdmin(ctx context.Context, email, username, fullName, password string) (*User, error) {
	email, err := validateEmail(email)
	if err != nil {
		return nil, err
	}
	username, err = validateUsername(username)
	if err != nil {
		return nil, err
	}
	fullName, err = validateFullName(fullName)
	if err != nil {
		return nil, err
	}
	if err := CheckPasswordPolicy(password); err != nil {
		return nil, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &User{
		Email:        email,
		Username:     username,
		FullName:     fullName,
		PasswordHash: hash,
		Role:         RoleAdmin,
		Profile:      Profile{PreferredLanguage: defaultLanguage},
		IsActive:     true,
		IsVerified:   true,
	}
	if err := a.store.Insert(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}
