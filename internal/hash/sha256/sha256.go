// Package sha256 derives fixed-width hex digests used as dataset keys.
package sha256

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Size is the length of a hex digest produced by Hasher.
const Size = sha256.Size * 2

// Hasher implements dataset.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of the parts. Each part is prefixed with its
// big-endian uint64 length, so moving bytes between parts changes the digest.
func (h *Hasher) Hash(parts ...[]byte) (string, error) {
	sum := sha256.New()
	var size [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(size[:], uint64(len(p)))
		sum.Write(size[:]) //nolint:errcheck // hash.Hash writes never fail
		sum.Write(p)       //nolint:errcheck // hash.Hash writes never fail
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}
