package core

import "context"

// Verifier is responsible for verifying upstream identity tokens.
// Implementations: OIDC Verifier (remote key set), Static Verifier (tests, dev).
type Verifier interface {
	// Name returns the identifier of this verifier (as used in config and logs).
	Name() string

	// Verify takes a raw token string, validates signature, issuer, audience
	// and expiry, and returns the decoded claims.
	Verify(ctx context.Context, token string) (*VerifiedClaims, error)
}

// SecretSource resolves a requested scope to a secret bundle.
// Implementations: filesystem resolver.
type SecretSource interface {
	// Check verifies that the backing storage for the scope exists,
	// without reading any bundle content.
	Check(scope RequestScope) error

	// Resolve reads the secret bundle for the scope.
	Resolve(scope RequestScope) (SecretBundle, error)
}
