package csmt

import "golang.org/x/crypto/blake2b"

// blake2bHasher is an alternate Hasher, supplementing the default blake3
// one the way the original implementation's multi-hasher module offered a
// choice of digest functions.
type blake2bHasher struct{}

// NewBlake2bHasher returns a Hasher backed by BLAKE2b-256.
func NewBlake2bHasher() Hasher { return blake2bHasher{} }

func (blake2bHasher) Name() string { return "blake2b-256" }

func (blake2bHasher) Sum(parts ...[]byte) Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// New256 with a nil key cannot fail; a non-nil error here would
		// indicate the standard library's own contract was broken.
		panic(err)
	}
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}
