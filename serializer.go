package csmt

// Serializer converts a caller's value type to and from the bytes stored
// inside a Data node. Decode must be the exact inverse of Encode for every
// value Encode can produce; the insert engine relies on that round trip to
// recompute Data hashes identically across processes and versions.
type Serializer[V any] interface {
	Encode(v V) ([]byte, error)
	Decode(b []byte) (V, error)
}

// RawSerializer is the identity Serializer for values that are already
// byte slices — the common case for a content-addressed store, and the
// default a Tree uses when no Serializer is supplied.
type RawSerializer struct{}

func (RawSerializer) Encode(v []byte) ([]byte, error) { return v, nil }
func (RawSerializer) Decode(b []byte) ([]byte, error) { return b, nil }
