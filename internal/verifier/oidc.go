// Package verifier validates CI identity tokens against a trusted issuer's
// public key set and decodes their claims.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/mitchellh/mapstructure"

	"github.com/envbroker/envbroker/internal/core"
)

// Typed verification failures. Each maps to a distinct, stable outward
// reason; callers must not infer partial trust from any of them.
var (
	ErrKeySourceUnreachable = errors.New("authentication timeout: can't reach the issuer")
	ErrAudienceMismatch     = errors.New("authentication failed: unexpected audience claim")
	ErrTokenExpired         = errors.New("authentication failed: expired token")
	ErrVerificationFailed   = errors.New("authentication failed: invalid token")
)

// jwksPathSuffix is where GitLab publishes its signing keys, relative to the
// issuer URL (discovered via /.well-known/openid-configuration -> jwks_uri).
const jwksPathSuffix = "/oauth/discovery/keys"

// DefaultKeyFetchTimeout bounds the remote key set fetch. A slow or
// unreachable key provider fails the request instead of hanging it.
const DefaultKeyFetchTimeout = 3 * time.Second

// TrustConfig holds the trust parameters for token verification.
// IssuerURL and Audience are both required; absence of either is a
// configuration error, distinct from a verification failure.
type TrustConfig struct {
	IssuerURL string
	Audience  string

	// JWKSURL overrides the key set endpoint. Derived from IssuerURL if empty.
	JWKSURL string

	// Timeout bounds the key fetch. Defaults to DefaultKeyFetchTimeout.
	Timeout time.Duration
}

var _ core.Verifier = (*OIDCVerifier)(nil)

// OIDCVerifier verifies tokens against a remote JWKS endpoint.
// The key set is cached by the underlying remote key set between requests.
type OIDCVerifier struct {
	issuerURL string
	verifier  *oidc.IDTokenVerifier
	timeout   time.Duration
}

func NewOIDC(ctx context.Context, cfg TrustConfig) (*OIDCVerifier, error) {
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("oidc verifier: missing issuer URL")
	}
	if cfg.Audience == "" {
		return nil, fmt.Errorf("oidc verifier: missing expected audience")
	}

	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		jwksURL = strings.TrimSuffix(cfg.IssuerURL, "/") + jwksPathSuffix
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultKeyFetchTimeout
	}

	keySet := oidc.NewRemoteKeySet(ctx, jwksURL)
	idVerifier := oidc.NewVerifier(cfg.IssuerURL, keySet, &oidc.Config{
		ClientID: cfg.Audience,
	})

	return &OIDCVerifier{
		issuerURL: cfg.IssuerURL,
		verifier:  idVerifier,
		timeout:   timeout,
	}, nil
}

func (v *OIDCVerifier) Name() string {
	return v.issuerURL
}

// Verify checks signature, issuer, audience and expiry, and decodes the
// claims only if all checks pass. It performs no retries; a failure is
// terminal for the request.
func (v *OIDCVerifier) Verify(ctx context.Context, token string) (*core.VerifiedClaims, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return nil, classify(err)
	}

	var raw map[string]any
	if err := idToken.Claims(&raw); err != nil {
		return nil, fmt.Errorf("%w: extracting claims: %v", ErrVerificationFailed, err)
	}

	claims, err := decodeClaims(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	claims.Issuer = idToken.Issuer
	claims.Audience = idToken.Audience
	claims.Subject = idToken.Subject
	claims.ExpiresAt = idToken.Expiry
	return claims, nil
}

// decodeClaims maps the raw claim set onto VerifiedClaims. Decoding is weakly
// typed because GitLab encodes project_id as a string while other issuers use
// a number; both end up as the raw string form.
func decodeClaims(raw map[string]any) (*core.VerifiedClaims, error) {
	var target struct {
		ProjectID string `mapstructure:"project_id"`
		Ref       string `mapstructure:"ref"`
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &target,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("building claims decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("decoding claims: %w", err)
	}
	return &core.VerifiedClaims{
		ProjectID: target.ProjectID,
		BranchRef: target.Ref,
	}, nil
}

// classify maps a go-oidc verification error onto the typed failure taxonomy.
// Anything not recognized falls through to the generic verification failure.
func classify(err error) error {
	var expired *oidc.TokenExpiredError
	switch {
	case errors.As(err, &expired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case isTimeout(err):
		return fmt.Errorf("%w: %v", ErrKeySourceUnreachable, err)
	case strings.Contains(err.Error(), "expected audience"):
		return fmt.Errorf("%w: %v", ErrAudienceMismatch, err)
	default:
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// go-oidc formats some key set fetch errors without wrapping
	return strings.Contains(err.Error(), context.DeadlineExceeded.Error())
}
