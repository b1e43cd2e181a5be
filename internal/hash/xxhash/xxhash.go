// Package xxhash provides a fast non-cryptographic content hasher.
package xxhash

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Hasher implements crawler.Hasher with xxhash64.
type Hasher struct{}

// New returns an xxhash hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (Hasher) Hash(data []byte) (string, error) {
	return strconv.FormatUint(xxhash.Sum64(data), 16), nil
}
