package alert

import (
	"crypto/md5"
	"encoding/hex"
)

// Fingerprint returns a stable hex digest of an alert body. It is used
// only for equality comparison by the dedup gate, never for security.
func Fingerprint(body string) string {
	sum := md5.Sum([]byte(body))
	return hex.EncodeToString(sum[:])
}
