package core

import "time"

// RequestScope identifies which secret bundle a caller asks for.
// ProjectID is required; an empty BranchRef requests the project-level bundle.
type RequestScope struct {
	ProjectID string `json:"project_id"`
	BranchRef string `json:"branch_ref,omitempty"`
}

// VerifiedClaims is the decoded payload of a CI identity token.
// It is only ever produced by a Verifier after signature, issuer,
// audience and expiry checks have passed.
type VerifiedClaims struct {
	// Issuer is the 'iss' claim of the verified token.
	Issuer string `json:"issuer"`

	// Audience is the 'aud' claim of the verified token.
	Audience []string `json:"audience"`

	// Subject is the 'sub' claim (e.g. "project_path:group/app:ref_type:branch:ref:main").
	Subject string `json:"subject,omitempty"`

	// ProjectID is the raw 'project_id' claim. Formatting may differ from the
	// requested scope (string vs. number), so comparison must be numeric.
	ProjectID string `json:"project_id"`

	// BranchRef is the 'ref' claim. Empty if the token carries no ref.
	BranchRef string `json:"branch_ref,omitempty"`

	// ExpiresAt is the 'exp' claim.
	ExpiresAt time.Time `json:"expires_at"`
}

// SecretBundle is a flat mapping of secret names to values, loaded read-only
// from the secrets store. It is never mutated by the broker.
type SecretBundle map[string]string

// DenyReason is a stable identifier for why a scope authorization was rejected.
type DenyReason string

const (
	DenyProjectClaimMissing DenyReason = "project_claim_missing"
	DenyProjectMismatch     DenyReason = "project_mismatch"
	DenyBranchMismatch      DenyReason = "branch_mismatch"
)

// Decision is the outcome of comparing verified claims against a requested scope.
type Decision struct {
	Allowed bool       `json:"allowed"`
	Reason  DenyReason `json:"reason,omitempty"`
}

func Allow() Decision {
	return Decision{Allowed: true}
}

func Deny(reason DenyReason) Decision {
	return Decision{Allowed: false, Reason: reason}
}
