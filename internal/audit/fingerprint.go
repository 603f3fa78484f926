package audit

import (
	"crypto/sha256"
	"encoding/base64"
)

// Fingerprint returns a non-reversible identifier for a presented token, so
// audit entries can be correlated to a token without ever storing it.
func Fingerprint(token string) string {
	hash := sha256.Sum256([]byte(token))
	return base64.StdEncoding.EncodeToString(hash[:])
}
