package auth

import (
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleCitizen   Role = "citizen"
	RoleAuthority Role = "authority"
	RoleAdmin     Role = "admin"
)

// ParseRole normalizes s into a known role.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleCitizen, RoleAuthority, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
}

// AuthorityType classifies authority accounts.
type AuthorityType string

const (
	AuthorityPolice       AuthorityType = "police"
	AuthorityMunicipality AuthorityType = "municipality"
	AuthorityElectricity  AuthorityType = "electricity"
	AuthorityWater        AuthorityType = "water"
	AuthorityHealth       AuthorityType = "health"
	AuthorityEducation    AuthorityType = "education"
	AuthorityTransport    AuthorityType = "transport"
	AuthorityOther        AuthorityType = "other"
)

var authorityTypes = map[AuthorityType]struct{}{
	AuthorityPolice: {}, AuthorityMunicipality: {}, AuthorityElectricity: {}, AuthorityWater: {},
	AuthorityHealth: {}, AuthorityEducation: {}, AuthorityTransport: {}, AuthorityOther: {},
}

// ParseAuthorityType validates s against the known authority types. Empty input is allowed.
func ParseAuthorityType(s string) (AuthorityType, error) {
	t := AuthorityType(strings.ToLower(strings.TrimSpace(s)))
	if t == "" {
		return "", nil
	}
	if _, ok := authorityTypes[t]; !ok {
		return "", fmt.Errorf("%w: unknown authority type %q", ErrInvalidInput, s)
	}
	return t, nil
}

// Profile holds optional self-managed details.
type Profile struct {
	Phone             string `json:"phone,omitempty"`
	Bio               string `json:"bio,omitempty"`
	AvatarURL         string `json:"avatar_url,omitempty"`
	PreferredLanguage string `json:"preferred_language"`
	Location          string `json:"location,omitempty"`
}

// User is the canonical identity record.
type User struct {
	ID           string
	Email        string
	Username     string
	FullName     string
	FederatedID  string
	PasswordHash string
	Role         Role
	Profile      Profile

	AuthorityType         AuthorityType
	AuthorityVerified     bool
	AuthorityDepartment   string
	AuthorityJurisdiction string

	// Followers and Following are stored as given; duplicates are not filtered by the store.
	Followers []string
	Following []string

	IsActive    bool
	IsVerified  bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastLoginAt *time.Time
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Followers = append([]string(nil), u.Followers...)
	c.Following = append([]string(nil), u.Following...)
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}

// UserFilter narrows List results. Nil pointers mean "any".
type UserFilter struct {
	Role             *Role
	Active           *bool
	PendingAuthority bool
	Page             int
	PageSize         int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Normalize clamps paging to page >= 1 and 1..100 rows, defaulting to 20.
func (f UserFilter) Normalize() UserFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
	return f
}

// Offset is the number of rows skipped before the current page.
func (f UserFilter) Offset() int { return (f.Page - 1) * f.PageSize }

// UserPage is one page of List results.
type UserPage struct {
	Users    []*User
	Total    int
	Page     int
	PageSize int
}
