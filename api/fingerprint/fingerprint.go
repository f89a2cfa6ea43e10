package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var ErrEmptyPayload = errors.New("payload is empty")

// Digest returns the hex-encoded SHA-256 digest of data. The digest is the
// deduplication key for uploaded recordings, so it must be stable across runs.
func Digest(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyPayload
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Prefix returns the short digest prefix embedded in temp object keys.
func Prefix(digest string) string {
	if len(digest) < 8 {
		return digest
	}
	return digest[:8]
}
