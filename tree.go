package csmt

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Tree is the public handle to a persistent sparse binary Merkle tree over
// values of type V. It holds no mutable state of its own beyond its
// dependencies (store, hasher, serializer, logger); every operation takes
// the root it applies to and returns the root it produced, so a single
// Tree safely serves any number of concurrent root lineages (see the
// concurrency notes on Insert).
type Tree[V any] struct {
	store      Store
	hasher     Hasher
	serializer Serializer[V]
	keyWidth   int
	log        *slog.Logger
}

// Option configures a Tree at construction.
type Option[V any] func(*Tree[V])

// WithHasher overrides the default hasher (blake3).
func WithHasher[V any](h Hasher) Option[V] {
	return func(t *Tree[V]) { t.hasher = h }
}

// WithSerializer overrides the default value serializer.
func WithSerializer[V any](s Serializer[V]) Option[V] {
	return func(t *Tree[V]) { t.serializer = s }
}

// WithLogger sets the logger the tree reports through. A nil logger is
// replaced by slog.Default().
func WithLogger[V any](l *slog.Logger) Option[V] {
	return func(t *Tree[V]) { t.log = l }
}

// New opens a Tree of the given key width (in bytes, 1..=MaxKeySize) over
// an already-constructed Store. Use New[[]byte](store, 32) for raw-byte
// values, or supply WithSerializer for a structured V.
func New[V any](store Store, keyWidth int, opts ...Option[V]) (*Tree[V], error) {
	if keyWidth < 1 || keyWidth > MaxKeySize {
		return nil, fmt.Errorf("csmt: key width %d out of range [1,%d]", keyWidth, MaxKeySize)
	}
	t := &Tree[V]{store: store, keyWidth: keyWidth}
	for _, opt := range opts {
		opt(t)
	}
	if t.hasher == nil {
		t.hasher = defaultHasher()
	}
	if t.log == nil {
		t.log = slog.Default()
	}
	if t.serializer == nil {
		var zero Serializer[V]
		if rs, ok := any(RawSerializer{}).(Serializer[V]); ok {
			zero = rs
		} else {
			return nil, fmt.Errorf("csmt: no Serializer supplied for value type and no default exists for it")
		}
		t.serializer = zero
	}
	return t, nil
}

// KeyWidth reports the tree's configured key width in bytes.
func (t *Tree[V]) KeyWidth() int { return t.keyWidth }

// Hasher returns the tree's configured Hasher.
func (t *Tree[V]) Hasher() Hasher { return t.hasher }

// Decompose surrenders the backing store's handle, per Store.Decompose.
func (t *Tree[V]) Decompose() any { return t.store.Decompose() }

func (t *Tree[V]) key(raw []byte) (Key, error) { return NewKey(raw, t.keyWidth) }

// Insert applies a batch of (key, value) pairs on top of previousRoot (the
// zero Hash for an empty tree) and returns the new root. Keys must all be
// exactly KeyWidth() bytes; duplicate keys within the same call resolve
// last-write-wins in slice order. The batch commits to the store exactly
// once, after every key has been spliced in.
//
// Insert only ever adds one root-registry reference: the batch's final
// root, once, after every key has been spliced in. The intermediate root
// each earlier key's splice produces is a purely internal stepping stone
// on the way to that final root — never returned, never registered — so
// a multi-key batch does not leave stray registry entries behind for
// roots the caller never sees. Insert never spends previousRoot's
// reference either; previousRoot stays exactly as valid and as removable
// as it was before the call. Callers done with it must call Remove
// themselves.
//
// Concurrent Insert calls against the *same* previousRoot are not
// serialized by the tree; callers mutating one lineage from multiple
// goroutines must serialize those calls themselves. Calls against
// different, already-diverged roots need no coordination.
func (t *Tree[V]) Insert(ctx context.Context, previousRoot Hash, keys [][]byte, values []V) (Hash, error) {
	if len(keys) != len(values) {
		return Hash{}, fmt.Errorf("csmt: %d keys but %d values", len(keys), len(values))
	}
	ws := &writeSet{store: t.store, ctx: ctx, applied: map[Hash]*Node{}}
	root := previousRoot
	for i, raw := range keys {
		k, err := t.key(raw)
		if err != nil {
			return Hash{}, err
		}
		encoded, err := t.serializer.Encode(values[i])
		if err != nil {
			return Hash{}, fmt.Errorf("%w: %s", ErrSerializationFailed, err)
		}
		newRoot, err := insertOne(t.hasher, t.keyWidth, ws, root, k, encoded)
		if err != nil {
			return Hash{}, err
		}
		root = newRoot
	}
	// Every per-key splice above ran through finishInsert untouched by the
	// root registry; only the batch's final root is ever caller-visible,
	// so it is the only one registered, and only once, here.
	if root != previousRoot {
		refs, err := t.store.RootRefs(ctx, root)
		if err != nil {
			return Hash{}, fmt.Errorf("csmt: reading root registry: %w", wrapStoreErr(err))
		}
		if err := t.store.SetRootRefs(ctx, root, refs+1); err != nil {
			return Hash{}, fmt.Errorf("csmt: updating root registry: %w", wrapStoreErr(err))
		}
	}
	if err := t.store.BatchCommit(ctx); err != nil {
		return Hash{}, fmt.Errorf("csmt: committing batch: %w", wrapStoreErr(err))
	}
	t.log.DebugContext(ctx, "insert", "keys", len(keys), "previous_root", previousRoot, "root", root)
	return root, nil
}

// InsertOne is the single-key convenience form of Insert.
func (t *Tree[V]) InsertOne(ctx context.Context, previousRoot Hash, key []byte, value V) (Hash, error) {
	return t.Insert(ctx, previousRoot, [][]byte{key}, []V{value})
}

// Get resolves a batch of keys against root, returning a map from each
// present key (as its raw bytes, suitable for re-use as a map index via
// string conversion by the caller if desired) to its decoded value. Keys
// absent from the tree are simply omitted; Get never returns
// ErrKeyNotFound — that is reserved for the single-key GetOne and for
// proof generation, where "not found" is the caller's one possible
// outcome rather than one row among many.
func (t *Tree[V]) Get(ctx context.Context, root Hash, keys [][]byte) (map[string]V, error) {
	batch := make([]Key, len(keys))
	for i, raw := range keys {
		k, err := t.key(raw)
		if err != nil {
			return nil, err
		}
		batch[i] = k
	}
	hits, err := descendBatch(ctx, t.store, root, t.keyWidth, batch)
	if err != nil {
		return nil, err
	}
	out := make(map[string]V, len(hits))
	for k, dh := range hits {
		node, err := t.store.GetNode(ctx, dh)
		if err != nil {
			return nil, fmt.Errorf("csmt: loading data %s: %w", dh, wrapStoreErr(err))
		}
		if node == nil || node.Variant != VariantData {
			return nil, fmt.Errorf("%w: leaf data %s missing or wrong variant", ErrStoreCorrupt, dh)
		}
		v, err := t.serializer.Decode(node.Data.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrSerializationFailed, err)
		}
		out[string(k.Bytes(t.keyWidth))] = v
	}
	return out, nil
}

// GetOne resolves a single key, returning ErrKeyNotFound if it is absent.
func (t *Tree[V]) GetOne(ctx context.Context, root Hash, key []byte) (V, error) {
	var zero V
	res, err := t.Get(ctx, root, [][]byte{key})
	if err != nil {
		return zero, err
	}
	v, ok := res[string(key)]
	if !ok {
		return zero, fmt.Errorf("%w: %x", ErrKeyNotFound, key)
	}
	return v, nil
}

// Remove relinquishes the caller's reference to root. If no other
// reference remains, every node reachable only through root is garbage
// collected. Remove never invalidates data reachable from a root that is
// still referenced elsewhere, since refcounts — not a liveness scan — are
// what removal acts on.
func (t *Tree[V]) Remove(ctx context.Context, root Hash) error {
	if err := removeRoot(ctx, t.store, root); err != nil {
		return err
	}
	t.log.DebugContext(ctx, "remove", "root", root)
	return nil
}

// GenerateInclusionProof produces a Proof that key is present under root
// with its currently stored value, along with that value.
func (t *Tree[V]) GenerateInclusionProof(ctx context.Context, root Hash, key []byte) (V, Proof, error) {
	var zero V
	k, err := t.key(key)
	if err != nil {
		return zero, Proof{}, err
	}
	dh, proof, err := generateInclusionProof(ctx, t.store, root, k)
	if err != nil {
		return zero, Proof{}, err
	}
	node, err := t.store.GetNode(ctx, dh)
	if err != nil {
		return zero, Proof{}, fmt.Errorf("csmt: loading data %s: %w", dh, wrapStoreErr(err))
	}
	if node == nil || node.Variant != VariantData {
		return zero, Proof{}, fmt.Errorf("%w: leaf data %s missing or wrong variant", ErrStoreCorrupt, dh)
	}
	v, err := t.serializer.Decode(node.Data.Value)
	if err != nil {
		return zero, Proof{}, fmt.Errorf("%w: %s", ErrSerializationFailed, err)
	}
	return v, proof, nil
}

// VerifyInclusionProof checks proof against the tree's own hasher and key
// width; see the package-level VerifyInclusionProof for the
// store-independent form.
func (t *Tree[V]) VerifyInclusionProof(root Hash, key []byte, value V, proof Proof) error {
	encoded, err := t.serializer.Encode(value)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrSerializationFailed, err)
	}
	return VerifyInclusionProof(t.hasher, t.keyWidth, root, key, encoded, proof)
}

// sortedKeys returns a copy of keys in byte order, a stable order for
// presenting Get results; the core engines do not call it and never rely
// on map iteration order for anything observable.
func sortedKeys(keys [][]byte) [][]byte {
	out := append([][]byte(nil), keys...)
	sort.Slice(out, func(i, j int) bool { return string(out[i]) < string(out[j]) })
	return out
}
