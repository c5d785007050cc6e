package csmt

import "context"

// NodeStore is the content-addressed half of the backing store: get, put,
// and remove individual nodes by hash, plus a commit point. Get returns a
// nil Node and a nil error for a hash the store has simply never seen —
// that is not an error condition by itself; it becomes ErrStoreCorrupt
// only when an engine expected that hash to resolve (a child pointer
// inside an already-loaded node, for instance).
//
// Reads are not required to observe writes made earlier in the same
// uncommitted batch; every engine in this package is written to work
// correctly either way, tracking its own in-flight writes rather than
// relying on store-level read-your-writes.
type NodeStore interface {
	GetNode(ctx context.Context, h Hash) (*Node, error)
	PutNode(ctx context.Context, h Hash, n *Node) error
	RemoveNode(ctx context.Context, h Hash) error

	// BatchCommit flushes any writes coalesced since the last commit.
	// Implementations that write through immediately may make this a
	// no-op, but every mutating Tree operation calls it exactly once at
	// the end, so a batching backend has a well-defined durability point.
	BatchCommit(ctx context.Context) error
}

// RootRegistry tracks, independent of any single node's refcount, how many
// live references an external caller holds to a given root hash. Insert
// only ever increments: the root it returns gains one reference, and
// whatever root the caller started from keeps whatever references it
// already had (Insert never spends the caller's reference to it, since
// the caller may still be holding onto it elsewhere). Remove is the only
// operation that ever decrements, releasing exactly the one reference the
// caller is relinquishing by calling it.
type RootRegistry interface {
	RootRefs(ctx context.Context, root Hash) (uint64, error)
	SetRootRefs(ctx context.Context, root Hash, count uint64) error
}

// Store is the full pluggable backend a Tree is opened against. Concrete
// implementations live under the storage subpackage: storage/memstore (a
// reference in-memory map), storage/sqlite (crawshaw.io/sqlite-backed),
// and storage/ddbstore (DynamoDB-backed).
type Store interface {
	NodeStore
	RootRegistry

	// Decompose surrenders the backend-specific handle underneath this
	// Store (a *sqlitex.Pool, a DynamoDB client, the raw map), for callers
	// that need to manage its lifecycle directly, e.g. to Close it.
	Decompose() any
}
