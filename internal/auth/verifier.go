package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"civicai.org/internal/obs"
)

const (
	// DefaultFederatedTimeout bounds a single federated verification call.
	DefaultFederatedTimeout = 5 * time.Second

	tracerName = "civicai.org/internal/auth"
)

// LocalOutcome tags the result of trying a bearer token as a local session.
type LocalOutcome int

const (
	LocalSkipped LocalOutcome = iota
	LocalValid
	LocalExpired
	LocalInvalid
)

func (o LocalOutcome) String() string {
	switch o {
	case LocalValid:
		return "valid"
	case LocalExpired:
		return "expired"
	case LocalInvalid:
		return "invalid"
	default:
		return "skipped"
	}
}

// FederatedOutcome tags the result of trying a bearer token with the federated provider.
type FederatedOutcome int

const (
	FederatedSkipped FederatedOutcome = iota
	FederatedValid
	FederatedRejected
	FederatedUnavailable
	FederatedNotConfigured
)

func (o FederatedOutcome) String() string {
	switch o {
	case FederatedValid:
		return "valid"
	case FederatedRejected:
		return "rejected"
	case FederatedUnavailable:
		return "unavailable"
	case FederatedNotConfigured:
		return "not_configured"
	default:
		return "skipped"
	}
}

// FederatedIdentity is what an external provider asserts about a verified token.
type FederatedIdentity struct {
	UID           string
	Email         string
	EmailVerified bool
	Name          string
}

// FederatedVerifier checks tokens issued by an external identity provider.
// Timeouts and transport failures should wrap ErrProviderUnavailable.
type FederatedVerifier interface {
	Verify(ctx context.Context, token string) (FederatedIdentity, error)
}

// Resolution records both attempts so the fallthrough is observable.
type Resolution struct {
	Claims    Claims
	Local     LocalOutcome
	Federated FederatedOutcome
}

// Resolved reports whether either scheme produced claims.
func (r Resolution) Resolved() bool {
	return r.Local == LocalValid || r.Federated == FederatedValid
}

// Verifier resolves bearer tokens: local session first, federated provider second.
type Verifier struct {
	sessions  *Sessions
	federated FederatedVerifier
	timeout   time.Duration
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithFederatedVerifier enables the federated fallback.
func WithFederatedVerifier(fv FederatedVerifier) VerifierOption {
	return func(v *Verifier) { v.federated = fv }
}

// WithFederatedTimeout bounds each provider call. Non-positive values keep the default.
func WithFederatedTimeout(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

func NewVerifier(sessions *Sessions, opts ...VerifierOption) (*Verifier, error) {
	if sessions == nil {
		return nil, errors.New("auth: sessions are required")
	}
	v := &Verifier{sessions: sessions, timeout: DefaultFederatedTimeout}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Resolve turns a bearer token into claims. When neither scheme accepts the token the
// returned error wraps ErrUnauthenticated; the Resolution still reports both outcomes.
// A done ctx stops the chain before the federated step and the error wraps both
// ErrUnauthenticated and ctx.Err().
func (v *Verifier) Resolve(ctx context.Context, token string) (Resolution, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "auth.resolve")
	defer span.End()

	res := Resolution{}
	claims, local := v.sessions.Parse(token)
	res.Local = local
	if local == LocalValid {
		res.Claims = claims
		v.record(span, res)
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		v.record(span, res)
		return res, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	res.Claims, res.Federated = v.verifyFederated(ctx, token)
	v.record(span, res)
	if res.Federated == FederatedValid {
		return res, nil
	}
	return res, fmt.Errorf("%w: local %s, federated %s", ErrUnauthenticated, res.Local, res.Federated)
}

// ResolveFederated only consults the federated provider. Used by the federated login flow,
// which must not accept local sessions as proof of a provider identity.
func (v *Verifier) ResolveFederated(ctx context.Context, token string) (Resolution, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "auth.resolve_federated")
	defer span.End()

	res := Resolution{}
	res.Claims, res.Federated = v.verifyFederated(ctx, token)
	v.record(span, res)
	if res.Federated == FederatedValid {
		return res, nil
	}
	return res, fmt.Errorf("%w: federated %s", ErrUnauthenticated, res.Federated)
}

func (v *Verifier) verifyFederated(ctx context.Context, token string) (Claims, FederatedOutcome) {
	if v.federated == nil {
		return Claims{}, FederatedNotConfigured
	}
	if strings.TrimSpace(token) == "" {
		return Claims{}, FederatedRejected
	}

	vctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	ident, err := v.federated.Verify(vctx, token)
	if err != nil {
		if errors.Is(err, ErrProviderUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			return Claims{}, FederatedUnavailable
		}
		return Claims{}, FederatedRejected
	}
	uid := strings.TrimSpace(ident.UID)
	if uid == "" {
		return Claims{}, FederatedRejected
	}
	return Claims{
		Scheme:      SchemeFederated,
		FederatedID:   uid,
		Email:         normalizeEmail(ident.Email),
		EmailVerified: ident.EmailVerified,
		Name:          strings.TrimSpace(ident.Name),
	}, FederatedValid
}

func (v *Verifier) record(span trace.Span, res Resolution) {
	obs.ObserveResolution(res.Local.String(), res.Federated.String())
	span.SetAttributes(
		attribute.String("auth.local", res.Local.String()),
		attribute.String("auth.federated", res.Federated.String()),
	)
	if !res.Resolved() {
		span.SetStatus(codes.Error, "unauthenticated")
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
