// Package sha256 digests artifact bodies for notification events, so
// consumers can skip bodies they have already parsed.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements artifact.Hasher.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex SHA-256 of body. It never fails.
func (*Hasher) Hash(body []byte) (string, error) {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}
