// Package blake3 provides BLAKE3 hashing utilities.
package blake3

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Hasher implements pipeline.Hasher using unkeyed BLAKE3-256.
type Hasher struct{}

// New returns a BLAKE3 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
