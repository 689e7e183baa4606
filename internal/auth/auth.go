package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultSessionTTL is how long a locally issued session stays valid.
	DefaultSessionTTL = 24 * time.Hour

	minSecretLen = 32
	clockSkew    = 5 * time.Second
)

// Scheme tags which credential produced a Claims value.
type Scheme int

const (
	SchemeLocal Scheme = iota + 1
	SchemeFederated
)

func (s Scheme) String() string {
	switch s {
	case SchemeLocal:
		return "local"
	case SchemeFederated:
		return "federated"
	default:
		return "none"
	}
}

// Claims are identity facts extracted from a verified credential.
// Local claims carry the role snapshotted at issuance; federated claims never carry a role.
type Claims struct {
	Scheme    Scheme
	SubjectID string
	Email     string
	Role      Role

	// Federated only.
	FederatedID   string
	Name          string
	EmailVerified bool

	// Local only.
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Token is a signed local session credential.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

type sessionClaims struct {
	Email string `json:"email"`
	Role  Role   `json:"role"`
	jwt.RegisteredClaims
}

// Sessions issues and parses HS256 session tokens signed with one shared secret.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// SessionOption configures Sessions.
type SessionOption func(*Sessions) error

// WithSessionTTL overrides DefaultSessionTTL.
func WithSessionTTL(ttl time.Duration) SessionOption {
	return func(s *Sessions) error {
		if ttl <= 0 {
			return errors.New("auth: session ttl must be positive")
		}
		s.ttl = ttl
		return nil
	}
}

// WithSessionClock sets the time source. Used by tests.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *Sessions) error {
		if now != nil {
			s.now = now
		}
		return nil
	}
}

// NewSessions builds a session issuer/parser around secret.
func NewSessions(secret string, opts ...SessionOption) (*Sessions, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("auth: session secret must be at least %d bytes", minSecretLen)
	}
	s := &Sessions{
		secret: []byte(secret),
		ttl:    DefaultSessionTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	return s, nil
}

// TTL reports the configured session lifetime.
func (s *Sessions) TTL() time.Duration { return s.ttl }

// Issue signs a token carrying sub, email and role with an expiry ttl after issuedAt.
// A zero issuedAt means now.
func (s *Sessions) Issue(subjectID, email string, role Role, issuedAt time.Time) (Token, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return Token{}, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	if _, err := ParseRole(string(role)); err != nil {
		return Token{}, err
	}
	if issuedAt.IsZero() {
		issuedAt = s.now()
	}
	issuedAt = issuedAt.UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(s.ttl)

	claims := sessionClaims{
		Email: strings.TrimSpace(email),
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Value: signed, ExpiresAt: expiresAt}, nil
}

// Parse validates token as a local session. It never returns an error: the outcome tag
// says whether the token was valid, expired or otherwise unusable.
func (s *Sessions) Parse(token string) (Claims, LocalOutcome) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, LocalInvalid
	}
	parsed, err := s.parser.ParseWithClaims(token, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, LocalExpired
		}
		return Claims{}, LocalInvalid
	}
	sc, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid {
		return Claims{}, LocalInvalid
	}
	if strings.TrimSpace(sc.Subject) == "" || sc.IssuedAt == nil {
		return Claims{}, LocalInvalid
	}
	role, err := ParseRole(string(sc.Role))
	if err != nil {
		return Claims{}, LocalInvalid
	}
	return Claims{
		Scheme:    SchemeLocal,
		SubjectID: sc.Subject,
		Email:     sc.Email,
		Role:      role,
		IssuedAt:  sc.IssuedAt.Time,
		ExpiresAt: sc.ExpiresAt.Time,
	}, LocalValid
}
