// Package sha256 derives stable object names for cached responses.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
)

// Hasher implements favicon.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ObjectName maps a cache key to "<prefix>/<aa>/<digest>.json". The two-character
// fan-out directory keeps any single directory small.
func (h *Hasher) ObjectName(prefix, key string) string {
	digest, _ := h.Hash([]byte(key))
	return path.Join(prefix, digest[:2], digest+".json")
}
