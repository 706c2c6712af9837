// Package hashx computes content fingerprints. A fingerprint is the hex
// SHA-256 digest of the raw bytes; it serves both as the deduplication key
// and as the integrity check for reassembled chunked uploads.
package hashx

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns the hex-encoded SHA-256 digest of data.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
