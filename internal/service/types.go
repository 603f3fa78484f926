package service

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/envbroker/envbroker/internal/core"
)

// FetchRequest carries everything the broker needs for one pass through the
// request state machine. RawBody and Header are kept for forensic logging;
// a malformed or unauthenticated request may be adversarial.
type FetchRequest struct {
	// CallerKey is the static shared secret presented by the caller
	// (the 'apitk' query parameter).
	CallerKey string

	// RawBody is the unparsed JSON request body.
	RawBody []byte

	// RemoteAddr is the caller's network address.
	RemoteAddr string

	// Header is the caller's request headers.
	Header http.Header
}

// FetchResponse is the successful outcome of a secrets fetch.
type FetchResponse struct {
	// Script is the newline-joined sequence of shell export statements.
	Script string

	// Scope is the resolved request scope.
	Scope core.RequestScope

	// Claims are the verified token claims, returned for auditing by callers.
	Claims *core.VerifiedClaims
}

// fetchPayload is the JSON request body of a secrets fetch.
type fetchPayload struct {
	IDToken   string     `json:"id_token"`
	ProjectID flexString `json:"project_id"`
	BranchRef string     `json:"branch_ref"`
}

// flexString accepts both JSON strings and numbers. CI templates commonly
// interpolate the project id unquoted, so "42" and 42 must both work.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*s = flexString(n.String())
	return nil
}
