// Package secrets resolves a requested scope to a secret bundle stored on
// the local filesystem. The store layout is maintained externally:
//
//	<root>/<project-id>/secrets.json
//	<root>/<project-id>/<branch-ref>/secrets.json
//
// The resolver only reads; it never creates, rotates or deletes secrets.
package secrets

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/envbroker/envbroker/internal/core"
	"github.com/envbroker/envbroker/internal/validation"
)

const bundleFileName = "secrets.json"

var (
	ErrStoreUnavailable = errors.New("secrets store not found")
	ErrProjectNotFound  = errors.New("project secrets not found")
	ErrBranchNotFound   = errors.New("branch secrets not found")
	ErrBundleMissing    = errors.New("secret bundle not found")
)

var _ core.SecretSource = (*Resolver)(nil)

// Resolver reads secret bundles from a directory tree rooted at a single
// configured path. It does not re-check authorization; the orchestrator
// guarantees the scope was matched against verified claims before any bundle
// content is returned to a caller.
type Resolver struct {
	root string
}

func NewResolver(root string) *Resolver {
	return &Resolver{root: root}
}

// Check verifies that the storage locations backing the scope exist. It reads
// no file content, so it is safe to call before trust in the caller is
// established. Failures carry only a generic not-found signal.
func (r *Resolver) Check(scope core.RequestScope) error {
	_, err := r.locate(scope)
	return err
}

// Resolve reads and parses the secret bundle for the scope. A missing bundle
// file maps to ErrBundleMissing; an unreadable or malformed bundle is an
// internal error, not a client error.
func (r *Resolver) Resolve(scope core.RequestScope) (core.SecretBundle, error) {
	dir, err := r.locate(scope)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, bundleFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrBundleMissing
		}
		return nil, fmt.Errorf("reading secret bundle: %w", err)
	}

	var bundle core.SecretBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("parsing secret bundle: %w", err)
	}
	return bundle, nil
}

// locate composes the bundle directory for the scope and checks existence
// level by level, so a missing project and a missing branch are reported
// distinctly. Composition uses only the two scope fields, both validated to
// be free of path escapes.
func (r *Resolver) locate(scope core.RequestScope) (string, error) {
	if err := validation.ValidateScope(scope); err != nil {
		return "", err
	}

	if !dirExists(r.root) {
		return "", ErrStoreUnavailable
	}

	dir := filepath.Join(r.root, scope.ProjectID)
	if !dirExists(dir) {
		return "", ErrProjectNotFound
	}

	if scope.BranchRef != "" {
		dir = filepath.Join(dir, filepath.FromSlash(scope.BranchRef))
		if !dirExists(dir) {
			return "", ErrBranchNotFound
		}
	}
	return dir, nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
