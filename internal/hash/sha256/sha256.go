// Package sha256 provides the SHA-256 fingerprints used for snapshot identity.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hasher implements monitor.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a lowercase hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	return Sum(data), nil
}

// Sum returns the hex digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SumFields digests parts joined by sep. Used for synthetic item ids and
// composite content hashes.
func SumFields(sep string, parts ...string) string {
	return Sum([]byte(strings.Join(parts, sep)))
}
