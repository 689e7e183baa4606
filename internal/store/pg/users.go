package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"civicai.org/internal/auth"
	"civicai.org/internal/ids"
)

var _ auth.UserStore = (*Store)(nil)

const userColumns = `id, email, username, full_name, federated_id, password_hash, role, profile,
	authority_type, authority_verified, authority_department, authority_jurisdiction,
	followers, following, is_active, is_verified, created_at, updated_at, last_login_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner, extra ...any) (*auth.User, error) {
	var (
		u                                   auth.User
		federatedID, passwordHash, authType sql.NullString
		department, jurisdiction            sql.NullString
		role                                string
		profile, followers, following       []byte
		lastLogin                           sql.NullTime
	)
	dest := []any{
		&u.ID, &u.Email, &u.Username, &u.FullName, &federatedID, &passwordHash, &role, &profile,
		&authType, &u.AuthorityVerified, &department, &jurisdiction,
		&followers, &following, &u.IsActive, &u.IsVerified, &u.CreatedAt, &u.UpdatedAt, &lastLogin,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	u.FederatedID = federatedID.String
	u.PasswordHash = passwordHash.String
	u.Role = auth.Role(role)
	u.AuthorityType = auth.AuthorityType(authType.String)
	u.AuthorityDepartment = department.String
	u.AuthorityJurisdiction = jurisdiction.String
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	if len(profile) > 0 {
		if err := json.Unmarshal(profile, &u.Profile); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
	}
	if len(followers) > 0 {
		if err := json.Unmarshal(followers, &u.Followers); err != nil {
			return nil, fmt.Errorf("decode followers: %w", err)
		}
	}
	if len(following) > 0 {
		if err := json.Unmarshal(following, &u.Following); err != nil {
			return nil, fmt.Errorf("decode following: %w", err)
		}
	}
	return &u, nil
}

func (s *Store) findOne(ctx context.Context, where string, arg any) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where `+where+` = $1`, arg)
	return scanUser(row)
}

func (s *Store) FindByID(ctx context.Context, id string) (*auth.User, error) {
	return s.findOne(ctx, "id", id)
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.findOne(ctx, "email", strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	return s.findOne(ctx, "username", strings.ToLower(strings.TrimSpace(username)))
}

func (s *Store) FindByFederatedID(ctx context.Context, federatedID string) (*auth.User, error) {
	if federatedID == "" {
		return nil, auth.ErrNotFound
	}
	return s.findOne(ctx, "federated_id", federatedID)
}

type userPayload struct {
	profile, followers, following []byte
}

func encodeUser(u *auth.User) (userPayload, error) {
	var (
		p   userPayload
		err error
	)
	if p.profile, err = json.Marshal(u.Profile); err != nil {
		return p, err
	}
	followers, following := u.Followers, u.Following
	if followers == nil {
		followers = []string{}
	}
	if following == nil {
		following = []string{}
	}
	if p.followers, err = json.Marshal(followers); err != nil {
		return p, err
	}
	if p.following, err = json.Marshal(following); err != nil {
		return p, err
	}
	return p, nil
}

func (s *Store) Insert(ctx context.Context, u *auth.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.Username = strings.ToLower(strings.TrimSpace(u.Username))
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.UpdatedAt = u.CreatedAt
	payload, err := encodeUser(u)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into users (`+userColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		u.ID, u.Email, u.Username, u.FullName, nullIfEmpty(u.FederatedID), nullIfEmpty(u.PasswordHash),
		string(u.Role), payload.profile,
		nullIfEmpty(string(u.AuthorityType)), u.AuthorityVerified,
		nullIfEmpty(u.AuthorityDepartment), nullIfEmpty(u.AuthorityJurisdiction),
		payload.followers, payload.following, u.IsActive, u.IsVerified,
		u.CreatedAt, u.UpdatedAt, u.LastLoginAt,
	)
	return mapUniqueViolation(err)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) Save(ctx context.Context, u *auth.User) error {
	return save(ctx, s.db, u)
}

// Update locks the row with select ... for update, applies mutate to what it read and
// writes the result in the same transaction.
func (s *Store) Update(ctx context.Context, id string, mutate func(*auth.User) error) (*auth.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	u, err := scanUser(tx.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1 for update`, id))
	if err != nil {
		return nil, err
	}
	if err := mutate(u); err != nil {
		return nil, err
	}
	u.ID = id
	if err := save(ctx, tx, u); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) TouchLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update users set last_login_at = $2 where id = $1`, id, at.UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func save(ctx context.Context, db execer, u *auth.User) error {
	u.UpdatedAt = time.Now().UTC()
	payload, err := encodeUser(u)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `
		update users set
			email = $2, username = $3, full_name = $4, federated_id = $5, password_hash = $6,
			role = $7, profile = $8, authority_type = $9, authority_verified = $10,
			authority_department = $11, authority_jurisdiction = $12,
			followers = $13, following = $14, is_active = $15, is_verified = $16,
			updated_at = $17, last_login_at = $18
		where id = $1`,
		u.ID, strings.ToLower(strings.TrimSpace(u.Email)), strings.ToLower(strings.TrimSpace(u.Username)),
		u.FullName, nullIfEmpty(u.FederatedID), nullIfEmpty(u.PasswordHash),
		string(u.Role), payload.profile,
		nullIfEmpty(string(u.AuthorityType)), u.AuthorityVerified,
		nullIfEmpty(u.AuthorityDepartment), nullIfEmpty(u.AuthorityJurisdiction),
		payload.followers, payload.following, u.IsActive, u.IsVerified,
		u.UpdatedAt, u.LastLoginAt,
	)
	if err != nil {
		return mapUniqueViolation(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// LinkOrCreateFederated runs a single conditional upsert keyed on email. The federated id is
// only written when the row has none, so two concurrent logins for one email converge on
// one record.
func (s *Store) LinkOrCreateFederated(ctx context.Context, c *auth.User) (*auth.User, bool, error) {
	if c == nil || c.FederatedID == "" {
		return nil, false, auth.ErrInvalidInput
	}
	u, err := s.FindByFederatedID(ctx, c.FederatedID)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, auth.ErrNotFound) {
		return nil, false, err
	}

	if c.ID == "" {
		c.ID = ids.New()
	}
	now := time.Now().UTC()
	payload, err := encodeUser(c)
	if err != nil {
		return nil, false, err
	}
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, email, username, full_name, federated_id, role, profile,
			followers, following, is_active, is_verified, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, '[]', '[]', true, $8, $9, $9)
		on conflict (email) do update
			set federated_id = coalesce(users.federated_id, excluded.federated_id),
				updated_at = case when users.federated_id is null then excluded.updated_at else users.updated_at end
		returning `+userColumns+`, (xmax = 0) as inserted`,
		c.ID, strings.ToLower(strings.TrimSpace(c.Email)), strings.ToLower(strings.TrimSpace(c.Username)),
		c.FullName, c.FederatedID, string(c.Role), payload.profile, c.IsVerified, now,
	)
	var inserted bool
	u, err = scanUser(row, &inserted)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation &&
			pgErr.ConstraintName == constraintUsersFederated {
			// lost a race on the same federated id under a different email
			u, ferr := s.FindByFederatedID(ctx, c.FederatedID)
			if ferr != nil {
				return nil, false, ferr
			}
			return u, false, nil
		}
		return nil, false, mapUniqueViolation(err)
	}
	if u.FederatedID != c.FederatedID {
		return nil, false, auth.ErrConflict
	}
	return u, inserted, nil
}

func (s *Store) List(ctx context.Context, f auth.UserFilter) (auth.UserPage, error) {
	f = f.Normalize()

	var (
		where []string
		args  []any
	)
	if f.Role != nil {
		args = append(args, string(*f.Role))
		where = append(where, fmt.Sprintf("role = $%d", len(args)))
	}
	if f.Active != nil {
		args = append(args, *f.Active)
		where = append(where, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if f.PendingAuthority {
		where = append(where, "role = 'authority' and not authority_verified")
	}
	clause := ""
	if len(where) > 0 {
		clause = " where " + strings.Join(where, " and ")
	}

	page := auth.UserPage{Page: f.Page, PageSize: f.PageSize}
	if err := s.db.QueryRowContext(ctx, `select count(*) from users`+clause, args...).Scan(&page.Total); err != nil {
		return auth.UserPage{}, err
	}

	args = append(args, f.PageSize, f.Offset())
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users`+clause+
			fmt.Sprintf(` order by created_at desc, id desc limit $%d offset $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return auth.UserPage{}, err
	}
	defer rows.Close()
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return auth.UserPage{}, err
		}
		page.Users = append(page.Users, u)
	}
	return page, rows.Err()
}

func mapUniqueViolation(err error) error {
	if err == nil {
		return nil
	}
	pgErr, ok := maybePgError(err)
	if !ok || pgErr.Code != pgErrUniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case constraintUsersUsername:
		return auth.ErrUsernameTaken
	case constraintUsersEmail, constraintUsersFederated:
		return auth.ErrConflict
	default:
		return fmt.Errorf("%w: %s", auth.ErrConflict, pgErr.ConstraintName)
	}
}
