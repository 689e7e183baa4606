package auth

import (
	"context"
	"time"
)

// UserStore persists identity records. Lookups return ErrNotFound when nothing matches.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByFederatedID(ctx context.Context, federatedID string) (*User, error)

	// Insert stores a new record. Duplicate email returns ErrConflict, duplicate
	// username ErrUsernameTaken.
	Insert(ctx context.Context, u *User) error
	// Save overwrites the mutable fields of an existing record.
	Save(ctx context.Context, u *User) error
	// Update applies mutate to the current record and stores the result atomically, so
	// concurrent updates to one account never overwrite each other's fields. An error from
	// mutate aborts the update and is returned unchanged.
	Update(ctx context.Context, id string, mutate func(*User) error) (*User, error)
	// TouchLogin sets only last_login_at.
	TouchLogin(ctx context.Context, id string, at time.Time) error

	// LinkOrCreateFederated atomically attaches candidate.FederatedID to the record with
	// the same federated id or email, or inserts candidate when neither exists.
	// An email already linked to a different federated id returns ErrConflict.
	LinkOrCreateFederated(ctx context.Context, candidate *User) (u *User, created bool, err error)

	List(ctx context.Context, filter UserFilter) (UserPage, error)
}
