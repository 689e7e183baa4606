package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"civicai.org/internal/ids"
)

var _ UserStore = (*MemoryStore)(nil)

// MemoryStore implements UserStore with in-process concurrency safety.
// Used for tests and for running the API without a database.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]*User
	byEmail     map[string]string
	byUsername  map[string]string
	byFederated map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*User),
		byEmail:     make(map[string]string),
		byUsername:  make(map[string]string),
		byFederated: make(map[string]string),
	}
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(s.users[id])
}

func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(s.users[s.byEmail[normalizeEmail(email)]])
}

func (s *MemoryStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(s.users[s.byUsername[normalizeUsername(username)]])
}

func (s *MemoryStore) FindByFederatedID(ctx context.Context, federatedID string) (*User, error) {
	if federatedID == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(s.users[s.byFederated[federatedID]])
}

func (s *MemoryStore) lookup(u *User) (*User, error) {
	if u == nil {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (s *MemoryStore) Insert(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(u)
}

func (s *MemoryStore) insertLocked(u *User) error {
	email := normalizeEmail(u.Email)
	username := normalizeUsername(u.Username)
	if _, ok := s.byEmail[email]; ok {
		return ErrConflict
	}
	if _, ok := s.byUsername[username]; ok {
		return ErrUsernameTaken
	}
	if u.FederatedID != "" {
		if _, ok := s.byFederated[u.FederatedID]; ok {
			return ErrConflict
		}
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = u.CreatedAt
	u.Email = email
	u.Username = username

	stored := u.Clone()
	s.users[stored.ID] = stored
	s.byEmail[email] = stored.ID
	s.byUsername[username] = stored.ID
	if stored.FederatedID != "" {
		s.byFederated[stored.FederatedID] = stored.ID
	}
	return nil
}

func (s *MemoryStore) Save(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(u)
}

func (s *MemoryStore) Update(ctx context.Context, id string, mutate func(*User) error) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	u := cur.Clone()
	if err := mutate(u); err != nil {
		return nil, err
	}
	u.ID = id
	if err := s.saveLocked(u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *MemoryStore) TouchLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	cur.LastLoginAt = &at
	return nil
}

func (s *MemoryStore) saveLocked(u *User) error {
	cur, ok := s.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	email := normalizeEmail(u.Email)
	username := normalizeUsername(u.Username)
	if id, ok := s.byEmail[email]; ok && id != u.ID {
		return ErrConflict
	}
	if id, ok := s.byUsername[username]; ok && id != u.ID {
		return ErrUsernameTaken
	}
	if u.FederatedID != "" {
		if id, ok := s.byFederated[u.FederatedID]; ok && id != u.ID {
			return ErrConflict
		}
	}

	delete(s.byEmail, cur.Email)
	delete(s.byUsername, cur.Username)
	if cur.FederatedID != "" {
		delete(s.byFederated, cur.FederatedID)
	}

	u.Email = email
	u.Username = username
	u.CreatedAt = cur.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	stored := u.Clone()
	s.users[u.ID] = stored
	s.byEmail[email] = u.ID
	s.byUsername[username] = u.ID
	if stored.FederatedID != "" {
		s.byFederated[stored.FederatedID] = u.ID
	}
	return nil
}

func (s *MemoryStore) LinkOrCreateFederated(ctx context.Context, candidate *User) (*User, bool, error) {
	if candidate == nil || candidate.FederatedID == "" {
		return nil, false, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byFederated[candidate.FederatedID]; ok {
		return s.users[id].Clone(), false, nil
	}
	if id, ok := s.byEmail[normalizeEmail(candidate.Email)]; ok {
		u := s.users[id]
		if u.FederatedID != "" {
			return nil, false, ErrConflict
		}
		u.FederatedID = candidate.FederatedID
		u.UpdatedAt = time.Now().UTC()
		s.byFederated[u.FederatedID] = u.ID
		return u.Clone(), false, nil
	}

	u := candidate.Clone()
	if err := s.insertLocked(u); err != nil {
		return nil, false, err
	}
	return u, true, nil
}

func (s *MemoryStore) List(ctx context.Context, filter UserFilter) (UserPage, error) {
	filter = filter.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*User
	for _, u := range s.users {
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		if filter.Active != nil && u.IsActive != *filter.Active {
			continue
		}
		if filter.PendingAuthority && (u.Role != RoleAuthority || u.AuthorityVerified) {
			continue
		}
		matched = append(matched, u)
	}
	// newest first
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := UserPage{Total: len(matched), Page: filter.Page, PageSize: filter.PageSize}
	start := filter.Offset()
	if start >= len(matched) {
		return page, nil
	}
	end := start + filter.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	for _, u := range matched[start:end] {
		page.Users = append(page.Users, u.Clone())
	}
	return page, nil
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
