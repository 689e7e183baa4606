// Package federation verifies identity tokens issued by external providers.
package federation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/xenitab/go-oidc-middleware/oidctoken"
	"github.com/xenitab/go-oidc-middleware/options"

	"civicai.org/internal/auth"
)

const firebaseIssuerPrefix = "https://securetoken.google.com/"

var _ auth.FederatedVerifier = (*Firebase)(nil)

// FirebaseConfig selects the Firebase project whose ID tokens are accepted.
type FirebaseConfig struct {
	ProjectID string
	// Issuer overrides the issuer derived from ProjectID. Used against emulators and tests.
	Issuer string
	// Timeout bounds discovery and JWKS fetches.
	Timeout time.Duration
}

// Firebase verifies Firebase ID tokens through OIDC discovery and the project's JWKS.
type Firebase struct {
	handler *oidctoken.TokenHandler[map[string]any]
}

// NewFirebase builds a verifier. Keys are fetched on first use, so construction never
// touches the network.
func NewFirebase(cfg FirebaseConfig) (*Firebase, error) {
	project := strings.TrimSpace(cfg.ProjectID)
	if project == "" {
		return nil, errors.New("federation: firebase project id is required")
	}
	issuer := strings.TrimRight(strings.TrimSpace(cfg.Issuer), "/")
	if issuer == "" {
		issuer = firebaseIssuerPrefix + project
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = auth.DefaultFederatedTimeout
	}

	handler, err := oidctoken.New[map[string]any](nil,
		options.WithIssuer(issuer),
		options.WithRequiredAudience(project),
		options.WithLazyLoadJwks(true),
		options.WithHttpClient(&http.Client{Timeout: timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("federation: initialize token handler: %w", err)
	}
	return &Firebase{handler: handler}, nil
}

// Verify validates token and returns the provider-asserted identity.
func (f *Firebase) Verify(ctx context.Context, token string) (auth.FederatedIdentity, error) {
	claims, err := f.handler.ParseToken(ctx, strings.TrimSpace(token))
	if err != nil {
		if isUnavailable(ctx, err) {
			return auth.FederatedIdentity{}, fmt.Errorf("%w: %v", auth.ErrProviderUnavailable, err)
		}
		return auth.FederatedIdentity{}, fmt.Errorf("%w: %v", auth.ErrInvalidToken, err)
	}

	uid := stringClaim(claims, "user_id")
	if uid == "" {
		uid = stringClaim(claims, "sub")
	}
	if uid == "" {
		return auth.FederatedIdentity{}, fmt.Errorf("%w: token has no subject", auth.ErrInvalidToken)
	}
	verified, _ := claims["email_verified"].(bool)
	return auth.FederatedIdentity{
		UID:           uid,
		Email:         stringClaim(claims, "email"),
		EmailVerified: verified,
		Name:          stringClaim(claims, "name"),
	}, nil
}

func stringClaim(claims map[string]any, key string) string {
	v, _ := claims[key].(string)
	return strings.TrimSpace(v)
}

func isUnavailable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
