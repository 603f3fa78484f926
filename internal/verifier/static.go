package verifier

import (
	"context"
	"fmt"

	"github.com/envbroker/envbroker/internal/core"
)

var _ core.Verifier = (*StaticVerifier)(nil)

// StaticVerifier maps fixed token strings to claims. It performs no
// cryptographic checks and exists for tests and local development only.
type StaticVerifier struct {
	name     string
	tokenMap map[string]*core.VerifiedClaims
}

func NewStatic(name string, tokenMap map[string]*core.VerifiedClaims) *StaticVerifier {
	if tokenMap == nil {
		// an empty map always fails verification
		tokenMap = make(map[string]*core.VerifiedClaims)
	}
	return &StaticVerifier{name: name, tokenMap: tokenMap}
}

func (s *StaticVerifier) Name() string {
	return s.name
}

func (s *StaticVerifier) Verify(_ context.Context, token string) (*core.VerifiedClaims, error) {
	claims, ok := s.tokenMap[token]
	if !ok {
		return nil, fmt.Errorf("%w: unknown static token", ErrVerificationFailed)
	}
	return claims, nil
}
