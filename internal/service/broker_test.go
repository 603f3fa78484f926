package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/envbroker/envbroker/internal/audit"
	"github.com/envbroker/envbroker/internal/config"
	"github.com/envbroker/envbroker/internal/core"
	"github.com/envbroker/envbroker/internal/secrets"
	"github.com/envbroker/envbroker/internal/verifier"
)

const (
	testAPIToken = "sekrit-api-token"
	testIssuer   = "https://git.example.com"
	testIDToken  = "test-id-token"
)

func testClaims(projectID, branchRef string) *core.VerifiedClaims {
	return &core.VerifiedClaims{
		Issuer:    testIssuer,
		Audience:  []string{"https://git.example.com"},
		ProjectID: projectID,
		BranchRef: branchRef,
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

// countingVerifier fails the invariant that no verification happens once an
// earlier step rejected the request.
type countingVerifier struct {
	inner core.Verifier
	calls int
}

func (c *countingVerifier) Name() string { return c.inner.Name() }

func (c *countingVerifier) Verify(ctx context.Context, token string) (*core.VerifiedClaims, error) {
	c.calls++
	return c.inner.Verify(ctx, token)
}

func writeBundle(t *testing.T, root, content string, elem ...string) {
	t.Helper()
	dir := filepath.Join(append([]string{root}, elem...)...)
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "secrets.json"), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func testConfig(root string) *config.Config {
	cfg := config.Default()
	cfg.IssuerURL = testIssuer
	cfg.ExpectedAudience = "https://git.example.com"
	cfg.APIToken = testAPIToken
	cfg.SecretsRoot = root
	return cfg
}

func fetchReq(callerKey, body string) FetchRequest {
	return FetchRequest{
		CallerKey:  callerKey,
		RawBody:    []byte(body),
		RemoteAddr: "203.0.113.7:54321",
	}
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var httpErr HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error %v does not carry an HTTP status", err)
	}
	return httpErr.StatusCode
}

func TestBroker_Success(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, `{"DB_PASS":"it's a \"test\"\nvalue"}`, "42")

	auditor := audit.NewInMemoryAuditor()
	v := verifier.NewStatic("static", map[string]*core.VerifiedClaims{
		testIDToken: testClaims("42", "main"),
	})
	b := NewBroker(testConfig(root), v, secrets.NewResolver(root), auditor)

	resp, err := b.FetchSecrets(context.Background(),
		fetchReq(testAPIToken, fmt.Sprintf(`{"id_token":%q,"project_id":"42"}`, testIDToken)))
	if err != nil {
		t.Fatalf("FetchSecrets() error = %v", err)
	}

	want := `export DB_PASS='it\'s a "test"\nvalue'`
	if resp.Script != want {
		t.Errorf("script mismatch.\nGot:  %q\nWant: %q", resp.Script, want)
	}
	if resp.Claims == nil || resp.Claims.ProjectID != "42" {
		t.Errorf("unexpected claims in response: %+v", resp.Claims)
	}

	entries, err := auditor.GetRecent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one audit entry, got %d", len(entries))
	}
	entry := entries[0]
	if !entry.Granted {
		t.Errorf("audit entry not granted: %+v", entry)
	}
	if entry.ProjectID != "42" || entry.SecretCount != 1 {
		t.Errorf("audit entry scope mismatch: %+v", entry)
	}
	if entry.Claims == nil || entry.Claims.Issuer != testIssuer {
		t.Errorf("audit entry missing verified claims: %+v", entry)
	}
	if entry.TokenFingerprint == "" || strings.Contains(entry.TokenFingerprint, testIDToken) {
		t.Errorf("audit entry must carry a non-reversible token fingerprint, got %q", entry.TokenFingerprint)
	}
}

func TestBroker_NumericProjectID(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, `{"KEY":"v"}`, "42")

	v := verifier.NewStatic("static", map[string]*core.VerifiedClaims{
		testIDToken: testClaims("042", ""), // issuer formats the id differently
	})
	b := NewBroker(testConfig(root), v, secrets.NewResolver(root), nil)

	// unquoted number in the payload
	resp, err := b.FetchSecrets(context.Background(),
		fetchReq(testAPIToken, fmt.Sprintf(`{"id_token":%q,"project_id":42}`, testIDToken)))
	if err != nil {
		t.Fatalf("FetchSecrets() error = %v", err)
	}
	if resp.Scope.ProjectID != "42" {
		t.Errorf("scope project id = %q, want 42", resp.Scope.ProjectID)
	}
}

func TestBroker_Rejections(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, `{"KEY":"v"}`, "42")
	writeBundle(t, root, `{"KEY":"branch"}`, "42", "main")
	writeBundle(t, root, `{"broken":`, "66")
	if err := os.MkdirAll(filepath.Join(root, "77"), 0700); err != nil {
		t.Fatal(err)
	}

	goodBody := fmt.Sprintf(`{"id_token":%q,"project_id":"42"}`, testIDToken)

	tests := []struct {
		name        string
		cfg         *config.Config
		claims      *core.VerifiedClaims
		verifyErr   error
		req         FetchRequest
		wantStatus  int
		wantMessage string
		wantReason  core.DenyReason
	}{
		{
			name:        "empty body",
			req:         fetchReq(testAPIToken, "  "),
			wantStatus:  http.StatusBadRequest,
			wantMessage: "empty payload",
		},
		{
			name: "missing configuration",
			cfg: func() *config.Config {
				c := testConfig(root)
				c.ExpectedAudience = ""
				return c
			}(),
			req:         fetchReq(testAPIToken, goodBody),
			wantStatus:  http.StatusBadRequest,
			wantMessage: "missing required configuration",
		},
		{
			name:        "invalid caller key",
			req:         fetchReq("wrong-token", goodBody),
			wantStatus:  http.StatusUnauthorized,
			wantMessage: "invalid API token",
		},
		{
			name:        "unknown payload field",
			req:         fetchReq(testAPIToken, `{"id_token":"x","project_id":"42","extra":true}`),
			wantStatus:  http.StatusBadRequest,
			wantMessage: "invalid request payload",
		},
		{
			name:        "missing id_token",
			req:         fetchReq(testAPIToken, `{"project_id":"42"}`),
			wantStatus:  http.StatusBadRequest,
			wantMessage: "missing id_token or project_id",
		},
		{
			name:        "missing project_id",
			req:         fetchReq(testAPIToken, `{"id_token":"x"}`),
			wantStatus:  http.StatusBadRequest,
			wantMessage: "missing id_token or project_id",
		},
		{
			name:        "path escape in project id",
			req:         fetchReq(testAPIToken, fmt.Sprintf(`{"id_token":%q,"project_id":"../42"}`, testIDToken)),
			wantStatus:  http.StatusBadRequest,
			wantMessage: "invalid scope",
		},
		{
			name:        "project storage missing",
			req:         fetchReq(testAPIToken, fmt.Sprintf(`{"id_token":%q,"project_id":"999"}`, testIDToken)),
			wantStatus:  http.StatusNotFound,
			wantMessage: "project secrets not found",
		},
		{
			name:        "branch storage missing",
			req:         fetchReq(testAPIToken, fmt.Sprintf(`{"id_token":%q,"project_id":"42","branch_ref":"dev"}`, testIDToken)),
			wantStatus:  http.StatusNotFound,
			wantMessage: "branch secrets not found",
		},
		{
			name:        "expired token",
			verifyErr:   fmt.Errorf("%w: exp check failed", verifier.ErrTokenExpired),
			req:         fetchReq(testAPIToken, goodBody),
			wantStatus:  http.StatusUnauthorized,
			wantMessage: "expired token",
		},
		{
			name:        "issuer unreachable",
			verifyErr:   fmt.Errorf("%w: context deadline exceeded", verifier.ErrKeySourceUnreachable),
			req:         fetchReq(testAPIToken, goodBody),
			wantStatus:  http.StatusUnauthorized,
			wantMessage: "can't reach the issuer",
		},
		{
			name:        "audience mismatch",
			verifyErr:   fmt.Errorf("%w: got [other]", verifier.ErrAudienceMismatch),
			req:         fetchReq(testAPIToken, goodBody),
			wantStatus:  http.StatusUnauthorized,
			wantMessage: "unexpected audience claim",
		},
		{
			name:        "project claim missing",
			claims:      testClaims("", ""),
			req:         fetchReq(testAPIToken, goodBody),
			wantStatus:  http.StatusUnauthorized,
			wantMessage: "project id missing in claims",
			wantReason:  core.DenyProjectClaimMissing,
		},
		{
			name:        "project mismatch",
			claims:      testClaims("43", ""),
			req:         fetchReq(testAPIToken, goodBody),
			wantStatus:  http.StatusUnauthorized,
			wantMessage: "project id mismatch",
			wantReason:  core.DenyProjectMismatch,
		},
		{
			name:        "branch mismatch",
			claims:      testClaims("42", "dev"),
			req:         fetchReq(testAPIToken, fmt.Sprintf(`{"id_token":%q,"project_id":"42","branch_ref":"main"}`, testIDToken)),
			wantStatus:  http.StatusUnauthorized,
			wantMessage: "branch ref mismatch",
			wantReason:  core.DenyBranchMismatch,
		},
		{
			name:        "bundle file missing",
			claims:      testClaims("77", ""),
			req:         fetchReq(testAPIToken, fmt.Sprintf(`{"id_token":%q,"project_id":"77"}`, testIDToken)),
			wantStatus:  http.StatusNotFound,
			wantMessage: "secret bundle not found",
		},
		{
			name:        "malformed bundle leaks no detail",
			claims:      testClaims("66", ""),
			req:         fetchReq(testAPIToken, fmt.Sprintf(`{"id_token":%q,"project_id":"66"}`, testIDToken)),
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			if cfg == nil {
				cfg = testConfig(root)
			}

			var v core.Verifier
			switch {
			case tt.verifyErr != nil:
				v = failingVerifier{err: tt.verifyErr}
			case tt.claims != nil:
				v = verifier.NewStatic("static", map[string]*core.VerifiedClaims{testIDToken: tt.claims})
			default:
				v = verifier.NewStatic("static", map[string]*core.VerifiedClaims{testIDToken: testClaims("42", "main")})
			}

			auditor := audit.NewInMemoryAuditor()
			b := NewBroker(cfg, v, secrets.NewResolver(root), auditor)

			_, err := b.FetchSecrets(context.Background(), tt.req)
			if err == nil {
				t.Fatal("FetchSecrets() expected error")
			}
			if got := statusOf(t, err); got != tt.wantStatus {
				t.Errorf("status = %d, want %d (err: %v)", got, tt.wantStatus, err)
			}
			if !strings.Contains(err.Error(), tt.wantMessage) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantMessage)
			}
			if strings.Contains(err.Error(), "parsing secret bundle") {
				t.Errorf("internal detail leaked to caller: %q", err.Error())
			}

			entries, auditErr := auditor.GetRecent(10)
			if auditErr != nil {
				t.Fatal(auditErr)
			}
			if len(entries) != 1 {
				t.Fatalf("expected exactly one audit entry, got %d", len(entries))
			}
			if entries[0].Granted {
				t.Errorf("rejected request must not audit as granted: %+v", entries[0])
			}
			if entries[0].Reason != tt.wantReason {
				t.Errorf("audit reason = %q, want %q", entries[0].Reason, tt.wantReason)
			}
		})
	}
}

type failingVerifier struct{ err error }

func (f failingVerifier) Name() string { return "failing" }

func (f failingVerifier) Verify(context.Context, string) (*core.VerifiedClaims, error) {
	return nil, f.err
}

func TestBroker_NoVerificationBeforeStorageCheck(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, `{"KEY":"v"}`, "42")

	counting := &countingVerifier{inner: verifier.NewStatic("static", map[string]*core.VerifiedClaims{
		testIDToken: testClaims("42", ""),
	})}
	b := NewBroker(testConfig(root), counting, secrets.NewResolver(root), nil)

	// missing project: rejected by the existence check, token never verified
	_, err := b.FetchSecrets(context.Background(),
		fetchReq(testAPIToken, fmt.Sprintf(`{"id_token":%q,"project_id":"999"}`, testIDToken)))
	if err == nil {
		t.Fatal("expected not-found error")
	}
	if counting.calls != 0 {
		t.Errorf("verifier called %d times for a request rejected before verification", counting.calls)
	}

	// happy path verifies exactly once
	if _, err := b.FetchSecrets(context.Background(),
		fetchReq(testAPIToken, fmt.Sprintf(`{"id_token":%q,"project_id":"42"}`, testIDToken))); err != nil {
		t.Fatalf("FetchSecrets() error = %v", err)
	}
	if counting.calls != 1 {
		t.Errorf("verifier called %d times, want 1", counting.calls)
	}
}
