package csmt

import (
	"encoding/binary"
	"fmt"
)

// Variant identifies which of the four node shapes a Node stores.
type Variant uint8

const (
	VariantBranch Variant = iota
	VariantLeaf
	VariantData
	// VariantPhantom marks a reserved, uninhabited slot some store
	// backends use as a tombstone. The tree never dereferences one; it
	// exists only so a backend's on-disk format has a way to mark "this
	// hash slot is deliberately empty" without deleting the row.
	VariantPhantom
)

func (v Variant) String() string {
	switch v {
	case VariantBranch:
		return "branch"
	case VariantLeaf:
		return "leaf"
	case VariantData:
		return "data"
	case VariantPhantom:
		return "phantom"
	default:
		return fmt.Sprintf("variant(%d)", v)
	}
}

// Branch is an internal node compressing every bit position between its
// parent's split and its own into a single edge. SplitIndex is the bit
// position examined to choose Zero or One. Count is the number of Leaf
// descendants, maintained incrementally by the insert engine. Key
// is the minimum key among its descendants, an accelerator the descent
// engine uses to verify skipped bits without extra store round trips.
//
// Count and Key are both pure functions of a Branch's descendants, so
// neither participates in the content hash; only SplitIndex, Zero, and One
// do.
type Branch struct {
	SplitIndex uint32
	Zero       Hash
	One        Hash
	Count      uint64
	Key        Key
}

// Leaf pairs a key with the hash of its Data node.
type Leaf struct {
	Key  Key
	Data Hash
}

// Data holds a value's serialized bytes. Two Data nodes with the same key
// and the same bytes hash identically and share storage; a different key
// over identical bytes hashes differently, since the key participates in
// the Data pre-image.
type Data struct {
	Value []byte
}

// Node is a single content-addressed tree node plus the out-of-band
// reference count the store maintains alongside it. The refcount is never
// part of the hash pre-image: two nodes with identical structural content
// always hash identically regardless of how many parents point to them.
type Node struct {
	Variant Variant
	Branch  Branch
	Leaf    Leaf
	Data    Data
	refs    uint64
}

// NewBranch constructs a Branch node with refcount 1.
func NewBranch(splitIndex uint32, zero, one Hash, count uint64, key Key) *Node {
	return &Node{Variant: VariantBranch, Branch: Branch{splitIndex, zero, one, count, key}, refs: 1}
}

// NewLeaf constructs a Leaf node with refcount 1.
func NewLeaf(key Key, data Hash) *Node {
	return &Node{Variant: VariantLeaf, Leaf: Leaf{key, data}, refs: 1}
}

// NewData constructs a Data node with refcount 1.
func NewData(value []byte) *Node {
	return &Node{Variant: VariantData, Data: Data{Value: append([]byte(nil), value...)}, refs: 1}
}

// Refs returns the node's current reference count.
func (n *Node) Refs() uint64 { return n.refs }

// SetRefs overwrites the reference count directly, used when staging a
// brand-new node.
func (n *Node) SetRefs(v uint64) { n.refs = v }

// IncrementRefs bumps the reference count by one, saturating at the
// maximum uint64 rather than wrapping.
func (n *Node) IncrementRefs() {
	if n.refs != ^uint64(0) {
		n.refs++
	}
}

// DecrementRefs lowers the reference count by one, saturating at zero, and
// returns the new count.
func (n *Node) DecrementRefs() uint64 {
	if n.refs > 0 {
		n.refs--
	}
	return n.refs
}

// clone returns a shallow copy safe to mutate independently of n.
func (n *Node) clone() *Node {
	c := *n
	if n.Variant == VariantData {
		c.Data.Value = append([]byte(nil), n.Data.Value...)
	}
	return &c
}

// children returns the hashes of n's immediate children in traversal
// order (Zero then One for a Branch, Data for a Leaf), or nil for Data and
// Phantom nodes.
func (n *Node) children() []Hash {
	switch n.Variant {
	case VariantBranch:
		return []Hash{n.Branch.Zero, n.Branch.One}
	case VariantLeaf:
		return []Hash{n.Leaf.Data}
	default:
		return nil
	}
}

// EncodeStoredNode serializes n's structural fields for a storage backend
// to persist. The refcount is not included: the sqlite and DynamoDB stores
// keep it in their own column or attribute alongside the encoded body, so
// it can be updated without re-serializing the node.
func EncodeStoredNode(n *Node) []byte { return encodeNode(n) }

// DecodeStoredNode is the inverse of EncodeStoredNode, pairing the decoded
// structural fields with a refcount the backend read from its own side
// channel.
func DecodeStoredNode(body []byte, refs uint64) (*Node, error) {
	n, err := decodeNode(body)
	if err != nil {
		return nil, err
	}
	n.SetRefs(refs)
	return n, nil
}

// encodeNode serializes n into the store's on-disk representation. The
// layout is a one-byte variant tag followed by fixed- or length-prefixed
// fields; it is internal to this module, not a pluggable Serializer
// concern, since node shapes are fixed by the node model itself.
func encodeNode(n *Node) []byte {
	switch n.Variant {
	case VariantBranch:
		buf := make([]byte, 1+4+HashSize+HashSize+8+MaxKeySize)
		buf[0] = byte(VariantBranch)
		binary.BigEndian.PutUint32(buf[1:5], n.Branch.SplitIndex)
		copy(buf[5:5+HashSize], n.Branch.Zero[:])
		copy(buf[5+HashSize:5+2*HashSize], n.Branch.One[:])
		binary.BigEndian.PutUint64(buf[5+2*HashSize:13+2*HashSize], n.Branch.Count)
		copy(buf[13+2*HashSize:], n.Branch.Key[:])
		return buf
	case VariantLeaf:
		buf := make([]byte, 1+MaxKeySize+HashSize)
		buf[0] = byte(VariantLeaf)
		copy(buf[1:1+MaxKeySize], n.Leaf.Key[:])
		copy(buf[1+MaxKeySize:], n.Leaf.Data[:])
		return buf
	case VariantData:
		buf := make([]byte, 1+4+len(n.Data.Value))
		buf[0] = byte(VariantData)
		binary.BigEndian.PutUint32(buf[1:5], uint32(len(n.Data.Value)))
		copy(buf[5:], n.Data.Value)
		return buf
	default:
		return []byte{byte(VariantPhantom)}
	}
}

func decodeNode(buf []byte) (*Node, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("%w: empty node encoding", ErrStoreCorrupt)
	}
	switch Variant(buf[0]) {
	case VariantBranch:
		want := 1 + 4 + HashSize + HashSize + 8 + MaxKeySize
		if len(buf) != want {
			return nil, fmt.Errorf("%w: branch encoding is %d bytes, want %d", ErrStoreCorrupt, len(buf), want)
		}
		n := &Node{Variant: VariantBranch}
		n.Branch.SplitIndex = binary.BigEndian.Uint32(buf[1:5])
		copy(n.Branch.Zero[:], buf[5:5+HashSize])
		copy(n.Branch.One[:], buf[5+HashSize:5+2*HashSize])
		n.Branch.Count = binary.BigEndian.Uint64(buf[5+2*HashSize : 13+2*HashSize])
		copy(n.Branch.Key[:], buf[13+2*HashSize:])
		return n, nil
	case VariantLeaf:
		want := 1 + MaxKeySize + HashSize
		if len(buf) != want {
			return nil, fmt.Errorf("%w: leaf encoding is %d bytes, want %d", ErrStoreCorrupt, len(buf), want)
		}
		n := &Node{Variant: VariantLeaf}
		copy(n.Leaf.Key[:], buf[1:1+MaxKeySize])
		copy(n.Leaf.Data[:], buf[1+MaxKeySize:])
		return n, nil
	case VariantData:
		if len(buf) < 5 {
			return nil, fmt.Errorf("%w: data encoding too short", ErrStoreCorrupt)
		}
		n := len32(buf[1:5])
		if len(buf) != 5+n {
			return nil, fmt.Errorf("%w: data encoding is %d bytes, want %d", ErrStoreCorrupt, len(buf), 5+n)
		}
		return NewData(buf[5:]), nil
	case VariantPhantom:
		return &Node{Variant: VariantPhantom}, nil
	default:
		return nil, fmt.Errorf("%w: unknown variant tag %d", ErrStoreCorrupt, buf[0])
	}
}

func len32(b []byte) int { return int(binary.BigEndian.Uint32(b)) }
