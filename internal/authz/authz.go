// Package authz decides whether verified token claims authorize a requested
// project/branch scope. It is a pure decision function with no side effects.
package authz

import (
	"strconv"
	"strings"

	"github.com/envbroker/envbroker/internal/core"
)

// Authorize compares the claims against the requested scope.
// Rules are evaluated in order; the first failing rule wins:
//
//  1. the claims must carry a project id,
//  2. the project ids must be numerically equal (caller and issuer may
//     format the same id differently, e.g. "42" vs. 42),
//  3. if the scope names a branch, the claims must carry the same branch.
//
// A scope without a branch ref leaves the branch unconstrained: project-level
// secrets apply to any job of the project.
func Authorize(claims *core.VerifiedClaims, scope core.RequestScope) core.Decision {
	if claims.ProjectID == "" {
		return core.Deny(core.DenyProjectClaimMissing)
	}
	if !numericEqual(claims.ProjectID, scope.ProjectID) {
		return core.Deny(core.DenyProjectMismatch)
	}
	if scope.BranchRef != "" {
		if claims.BranchRef == "" || claims.BranchRef != scope.BranchRef {
			return core.Deny(core.DenyBranchMismatch)
		}
	}
	return core.Allow()
}

// numericEqual reports whether two project id encodings denote the same
// number. Anything that does not parse as an integer is never equal, so a
// garbage claim can not accidentally match a garbage request.
func numericEqual(a, b string) bool {
	av, err := strconv.ParseInt(strings.TrimSpace(a), 10, 64)
	if err != nil {
		return false
	}
	bv, err := strconv.ParseInt(strings.TrimSpace(b), 10, 64)
	if err != nil {
		return false
	}
	return av == bv
}
