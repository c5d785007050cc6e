package csmt

import "encoding/hex"

// HashSize is the width of every node hash and root, regardless of which
// Hasher produced it. All Hasher implementations in this module (blake3,
// blake2b-256, sha256) are 32-byte digests.
const HashSize = 32

// Hash is a content hash: a node hash, a Data hash, or a tree root.
type Hash [HashSize]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// MarshalText renders h as hex, so a Hash embedded in JSON (the debug
// console's root history) or YAML reads the same as its String form
// instead of a raw byte array.
func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

// IsZero reports whether h is the zero value, used as the sentinel for
// "no root" / "no child".
func (h Hash) IsZero() bool { return h == Hash{} }

// HashFromBytes validates raw against HashSize and copies it into a Hash.
func HashFromBytes(raw []byte) (Hash, error) {
	var h Hash
	if len(raw) != HashSize {
		return h, wrapf(ErrRootLengthMismatch, "got %d bytes, want %d", len(raw), HashSize)
	}
	copy(h[:], raw)
	return h, nil
}

// Hasher is the pluggable content-hash function the tree is built over.
// blake3Hasher, blake2bHasher, and sha256Hasher are the implementations
// this module ships.
type Hasher interface {
	// Sum hashes the concatenation of parts into a single digest.
	Sum(parts ...[]byte) Hash
	// Name identifies the algorithm.
	Name() string
}

// Domain tags distinguish the three node variants from one another in the
// hash pre-image, so a Branch, Leaf, and Data node that happen to share a
// byte layout can never collide.
var (
	tagBranch = []byte("b")
	tagLeaf   = []byte("l")
	tagData   = []byte("d")
)

func dataHash(h Hasher, key Key, width int, value []byte) Hash {
	return h.Sum(tagData, key.Bytes(width), value)
}

func leafHash(h Hasher, key Key, width int, data Hash) Hash {
	return h.Sum(tagLeaf, key.Bytes(width), data[:])
}

func branchHash(h Hasher, splitIndex uint32, zero, one Hash) Hash {
	var be [4]byte
	be[0] = byte(splitIndex >> 24)
	be[1] = byte(splitIndex >> 16)
	be[2] = byte(splitIndex >> 8)
	be[3] = byte(splitIndex)
	return h.Sum(tagBranch, be[:], zero[:], one[:])
}
