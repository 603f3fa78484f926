package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/envbroker/envbroker/internal/core"
)

// ErrInvalidScope marks scope inputs that must never reach path composition.
var ErrInvalidScope = errors.New("invalid scope")

// ValidateScope checks that the scope components are safe to use as path
// segments below the secrets root. The resolved location must always stay a
// strict sub-path of the root, so separators and parent references in the
// project id are rejected outright. Branch refs may contain slashes
// (e.g. "feature/login"), but no segment may be empty or a parent reference.
func ValidateScope(scope core.RequestScope) error {
	if scope.ProjectID == "" {
		return fmt.Errorf("%w: project id is required", ErrInvalidScope)
	}
	if err := validateSegment(scope.ProjectID); err != nil {
		return fmt.Errorf("%w: project id: %v", ErrInvalidScope, err)
	}
	if scope.BranchRef != "" {
		for _, segment := range strings.Split(scope.BranchRef, "/") {
			if segment == "" {
				return fmt.Errorf("%w: branch ref contains an empty path segment", ErrInvalidScope)
			}
			if err := validateSegment(segment); err != nil {
				return fmt.Errorf("%w: branch ref: %v", ErrInvalidScope, err)
			}
		}
	}
	return nil
}

func validateSegment(s string) error {
	switch s {
	case ".", "..":
		return fmt.Errorf("path reference %q is not allowed", s)
	}
	if strings.ContainsAny(s, "/\\\x00") {
		return fmt.Errorf("%q contains a path separator", s)
	}
	return nil
}
