package core

import "time"

type AuditEntry struct {
	// ID is the unique request ID (X-Correlation-ID)
	ID string `json:"id"`

	// Time is the timestamp of the event
	Time time.Time `json:"time"`

	// Action describing what happened (e.g. "secrets.fetch")
	Action string `json:"action"`

	// RemoteAddr is the caller's network address, kept for forensic review.
	RemoteAddr string `json:"remote_addr,omitempty"`

	// Requested scope
	ProjectID string `json:"project_id,omitempty"`
	BranchRef string `json:"branch_ref,omitempty"`

	// Claims are the verified token claims, set once verification succeeded.
	Claims *VerifiedClaims `json:"claims,omitempty"`

	// TokenFingerprint is a non-reversible fingerprint of the presented token.
	TokenFingerprint string `json:"token_fingerprint,omitempty"`

	// Decision details
	Granted bool       `json:"granted"`
	Reason  DenyReason `json:"reason,omitempty"`
	Error   string     `json:"error,omitempty"`

	// SecretCount is the number of secrets returned. Values are never audited.
	SecretCount int `json:"secret_count,omitempty"`
}

type Auditor interface {
	Log(entry AuditEntry) error
	GetRecent(limit int) ([]AuditEntry, error)
	Find(filter func(entry AuditEntry) bool, limit int) ([]AuditEntry, error)
	Close() error
}
