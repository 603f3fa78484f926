package verifier

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/envbroker/envbroker/internal/core"
)

const (
	testIssuer   = "https://git.example.com"
	testAudience = "https://git.example.com"
)

var testSigningKey = mustGenerateKey()

func mustGenerateKey() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return key
}

// mintToken signs an RS256 token with the test key. The key is never
// published to any JWKS endpoint, so signature verification can only be
// reached, not passed; that is enough to exercise the claim checks and the
// key fetch that run around it.
func mintToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(testSigningKey)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func baseClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":        testIssuer,
		"aud":        testAudience,
		"exp":        time.Now().Add(time.Hour).Unix(),
		"iat":        time.Now().Unix(),
		"sub":        "project_path:group/app:ref_type:branch:ref:main",
		"project_id": "42",
		"ref":        "main",
	}
}

func TestNewOIDC_ConfigErrors(t *testing.T) {
	ctx := context.Background()

	if _, err := NewOIDC(ctx, TrustConfig{Audience: testAudience}); err == nil {
		t.Error("NewOIDC() without issuer URL expected error")
	}
	if _, err := NewOIDC(ctx, TrustConfig{IssuerURL: testIssuer}); err == nil {
		t.Error("NewOIDC() without audience expected error")
	}
}

func newTestVerifier(t *testing.T, jwksURL string, timeout time.Duration) *OIDCVerifier {
	t.Helper()
	v, err := NewOIDC(context.Background(), TrustConfig{
		IssuerURL: testIssuer,
		Audience:  testAudience,
		JWKSURL:   jwksURL,
		Timeout:   timeout,
	})
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestVerify_ClaimChecks(t *testing.T) {
	// go-oidc checks issuer, audience and expiry before touching the key
	// set, so these cases need no reachable JWKS endpoint at all.
	v := newTestVerifier(t, "http://127.0.0.1:1/keys", time.Second)

	t.Run("expired token", func(t *testing.T) {
		claims := baseClaims()
		claims["exp"] = time.Now().Add(-time.Hour).Unix()
		_, err := v.Verify(context.Background(), mintToken(t, claims))
		if !errors.Is(err, ErrTokenExpired) {
			t.Errorf("Verify() error = %v, want ErrTokenExpired", err)
		}
	})

	t.Run("audience mismatch", func(t *testing.T) {
		claims := baseClaims()
		claims["aud"] = "https://somewhere-else.example.com"
		_, err := v.Verify(context.Background(), mintToken(t, claims))
		if !errors.Is(err, ErrAudienceMismatch) {
			t.Errorf("Verify() error = %v, want ErrAudienceMismatch", err)
		}
	})

	t.Run("wrong issuer is a generic verification failure", func(t *testing.T) {
		claims := baseClaims()
		claims["iss"] = "https://evil.example.com"
		_, err := v.Verify(context.Background(), mintToken(t, claims))
		if !errors.Is(err, ErrVerificationFailed) {
			t.Errorf("Verify() error = %v, want ErrVerificationFailed", err)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := v.Verify(context.Background(), "not-a-jwt")
		if !errors.Is(err, ErrVerificationFailed) {
			t.Errorf("Verify() error = %v, want ErrVerificationFailed", err)
		}
	})
}

func TestVerify_KeySourceTimeout(t *testing.T) {
	// a key provider that never answers within the verifier's budget
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer slow.Close()

	v := newTestVerifier(t, slow.URL+"/keys", 50*time.Millisecond)

	start := time.Now()
	_, err := v.Verify(context.Background(), mintToken(t, baseClaims()))
	elapsed := time.Since(start)

	if !errors.Is(err, ErrKeySourceUnreachable) {
		t.Errorf("Verify() error = %v, want ErrKeySourceUnreachable", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Verify() took %v, the key fetch timeout did not bound the request", elapsed)
	}
}

func TestDecodeClaims(t *testing.T) {
	tests := []struct {
		name          string
		raw           map[string]any
		wantProjectID string
		wantBranchRef string
	}{
		{
			name:          "string project id",
			raw:           map[string]any{"project_id": "42", "ref": "main"},
			wantProjectID: "42",
			wantBranchRef: "main",
		},
		{
			name:          "numeric project id",
			raw:           map[string]any{"project_id": float64(42)},
			wantProjectID: "42",
		},
		{
			name: "missing claims stay empty",
			raw:  map[string]any{"sub": "whatever"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := decodeClaims(tt.raw)
			if err != nil {
				t.Fatalf("decodeClaims() error = %v", err)
			}
			if claims.ProjectID != tt.wantProjectID {
				t.Errorf("project id = %q, want %q", claims.ProjectID, tt.wantProjectID)
			}
			if claims.BranchRef != tt.wantBranchRef {
				t.Errorf("branch ref = %q, want %q", claims.BranchRef, tt.wantBranchRef)
			}
		})
	}
}

func TestStaticVerifier(t *testing.T) {
	v := NewStatic("static", map[string]*core.VerifiedClaims{
		"good": {ProjectID: "42"},
	})

	if v.Name() != "static" {
		t.Errorf("Name() = %q", v.Name())
	}

	claims, err := v.Verify(context.Background(), "good")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.ProjectID != "42" {
		t.Errorf("project id = %q, want 42", claims.ProjectID)
	}

	if _, err := v.Verify(context.Background(), "bad"); !errors.Is(err, ErrVerificationFailed) {
		t.Errorf("Verify() error = %v, want ErrVerificationFailed", err)
	}

	if _, err := NewStatic("empty", nil).Verify(context.Background(), "anything"); err == nil {
		t.Error("empty static verifier must fail all tokens")
	}
}

func TestPeekIssuer(t *testing.T) {
	token := mintToken(t, baseClaims())
	iss, err := PeekIssuer(token)
	if err != nil {
		t.Fatalf("PeekIssuer() error = %v", err)
	}
	if iss != testIssuer {
		t.Errorf("PeekIssuer() = %q, want %q", iss, testIssuer)
	}

	if _, err := PeekIssuer("not-a-jwt"); err == nil {
		t.Error("PeekIssuer() expected error for malformed token")
	}

	noIss := baseClaims()
	delete(noIss, "iss")
	if _, err := PeekIssuer(mintToken(t, noIss)); err == nil {
		t.Error("PeekIssuer() expected error for token without 'iss'")
	}
}
