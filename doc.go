// Package csmt implements a persistent, content-addressed, sparse binary
// Merkle tree with branch-path compression.
//
// The tree stores a versioned mapping from fixed-width keys to
// caller-defined values. Every batch of mutations produces a new immutable
// root; multiple roots coexist in the same backing store and share every
// unchanged subtree, so historical versions cost nothing beyond their own
// deltas. The tree also produces and verifies logarithmic-size Merkle
// inclusion proofs against any known root.
//
// Hashing, value serialization, and the backing key-value store are all
// pluggable (see [Hasher], [Serializer], and [Store]). The blake3, blake2b,
// and sha256 Hasher implementations live alongside the tree itself to avoid
// an import cycle with the package's default hasher; Store implementations
// live in the storage subpackages.
package csmt
