// Package export serializes secret bundles into shell-evaluable export
// statements. Values are wrapped in single quotes; the escaping must
// guarantee that no value can terminate the quoting context early.
package export

import (
	"fmt"
	"sort"
	"strings"

	"github.com/envbroker/envbroker/internal/core"
)

// newlineSentinel masks pre-existing literal backslash-n sequences so they
// cannot be confused with real newlines during escaping. It contains a NUL
// byte, which cannot appear in a JSON-decoded secret value.
const newlineSentinel = "\x00envbroker:escaped-newline\x00"

// Serialize renders the bundle as one `export KEY='value'` statement per
// secret, joined by newlines. Keys are emitted in sorted order so the output
// is deterministic. Key names are assumed to be safe shell identifiers; that
// is a contract with whoever populates the secrets store, not checked here.
func Serialize(bundle core.SecretBundle) string {
	keys := make([]string, 0, len(bundle))
	for k := range bundle {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, "export "+k+"='"+escapeValue(bundle[k])+"'")
	}
	return strings.Join(lines, "\n")
}

// escapeValue makes a value safe inside a single-quoted shell string.
//
// Single-quoted strings treat backslash literally, so escaping real newlines
// as `\n` alone would be ambiguous with secret values that already contain a
// literal two-character `\n`. Those are masked first and restored as a
// doubled escape, keeping the two cases distinct through a round trip.
func escapeValue(v string) string {
	v = strings.ReplaceAll(v, `'`, `\'`)
	v = strings.ReplaceAll(v, `\n`, newlineSentinel)
	v = strings.ReplaceAll(v, "\n", `\n`)
	v = strings.ReplaceAll(v, newlineSentinel, `\\n`)
	return v
}

// unescapeValue is the inverse of escapeValue for well-formed output.
func unescapeValue(v string) string {
	v = strings.ReplaceAll(v, `\\n`, newlineSentinel)
	v = strings.ReplaceAll(v, `\n`, "\n")
	v = strings.ReplaceAll(v, newlineSentinel, `\n`)
	v = strings.ReplaceAll(v, `\'`, `'`)
	return v
}

// Parse decodes a script produced by Serialize back into a bundle.
// It exists for clients consuming the broker response programmatically
// and for round-trip verification.
func Parse(script string) (core.SecretBundle, error) {
	bundle := make(core.SecretBundle)
	if script == "" {
		return bundle, nil
	}
	for i, line := range strings.Split(script, "\n") {
		rest, ok := strings.CutPrefix(line, "export ")
		if !ok {
			return nil, fmt.Errorf("line %d: missing export prefix", i+1)
		}
		key, quoted, ok := strings.Cut(rest, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: missing assignment", i+1)
		}
		if len(quoted) < 2 || quoted[0] != '\'' || quoted[len(quoted)-1] != '\'' {
			return nil, fmt.Errorf("line %d: value not single-quoted", i+1)
		}
		bundle[key] = unescapeValue(quoted[1 : len(quoted)-1])
	}
	return bundle, nil
}
