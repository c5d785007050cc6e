package csmt

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/csmt-go/csmt/storage/memstore"
)

func TestInsertOrderIndependent(t *testing.T) {
	ctx := context.Background()
	keyWidth := 20
	n := 500

	keys, values := randomEntries(rand.NewPCG(1, 1), keyWidth, n)

	forward, err := newMemTree(t, keyWidth)
	if err != nil {
		t.Fatal(err)
	}
	forwardRoot, err := forward.Insert(ctx, Hash{}, keys, values)
	if err != nil {
		t.Fatalf("forward insert: %v", err)
	}
	if err := validateTree(ctx, forward, forwardRoot, keyWidth); err != nil {
		t.Fatalf("forward tree invalid: %v", err)
	}

	reverse, err := newMemTree(t, keyWidth)
	if err != nil {
		t.Fatal(err)
	}
	rKeys, rValues := reverseEntries(keys, values)
	reverseRoot, err := reverse.Insert(ctx, Hash{}, rKeys, rValues)
	if err != nil {
		t.Fatalf("reverse insert: %v", err)
	}
	if reverseRoot != forwardRoot {
		t.Fatalf("reverse-order insert produced a different root: got %s, want %s", reverseRoot, forwardRoot)
	}

	shuffled, err := newMemTree(t, keyWidth)
	if err != nil {
		t.Fatal(err)
	}
	perm := rand.New(rand.NewPCG(2, 2)).Perm(n)
	sKeys := make([][]byte, n)
	sValues := make([][]byte, n)
	for i, p := range perm {
		sKeys[i] = keys[p]
		sValues[i] = values[p]
	}
	shuffledRoot, err := shuffled.Insert(ctx, Hash{}, sKeys, sValues)
	if err != nil {
		t.Fatalf("shuffled insert: %v", err)
	}
	if shuffledRoot != forwardRoot {
		t.Fatalf("shuffled-order insert produced a different root: got %s, want %s", shuffledRoot, forwardRoot)
	}
}

func TestInsertIdenticalContentIsNoOp(t *testing.T) {
	ctx := context.Background()
	keyWidth := 16
	tree, err := newMemTree(t, keyWidth)
	if err != nil {
		t.Fatal(err)
	}
	store := tree.store.(*memstore.Store)

	keys, values := randomEntries(rand.NewPCG(3, 3), keyWidth, 64)
	root, err := tree.Insert(ctx, Hash{}, keys, values)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	nodesAfterFirst := store.Len()

	again, err := tree.Insert(ctx, root, keys, values)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if again != root {
		t.Fatalf("re-inserting identical content changed the root: got %s, want %s", again, root)
	}
	if got := store.Len(); got != nodesAfterFirst {
		t.Fatalf("re-inserting identical content changed node count: got %d, want %d", got, nodesAfterFirst)
	}
}

func TestGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	keyWidth := 24
	tree, err := newMemTree(t, keyWidth)
	if err != nil {
		t.Fatal(err)
	}

	keys, values := randomEntries(rand.NewPCG(4, 4), keyWidth, 200)
	root, err := tree.Insert(ctx, Hash{}, keys, values)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := tree.Get(ctx, root, keys)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != len(keys) {
		t.Fatalf("got %d results, want %d", len(got), len(keys))
	}
	for i, k := range keys {
		v, ok := got[string(k)]
		if !ok {
			t.Fatalf("key %x missing from Get result", k)
		}
		if string(v) != string(values[i]) {
			t.Fatalf("key %x: got value %x, want %x", k, v, values[i])
		}
	}

	missing := make([]byte, keyWidth)
	for i := range missing {
		missing[i] = 0xAA
	}
	absent, err := tree.Get(ctx, root, [][]byte{missing})
	if err != nil {
		t.Fatalf("get absent key: %v", err)
	}
	if len(absent) != 0 {
		t.Fatalf("expected no hits for an absent key, got %d", len(absent))
	}

	if _, err := tree.GetOne(ctx, root, missing); err == nil {
		t.Fatal("GetOne on an absent key should fail")
	}
}

// TestGetAgainstUnresolvableRootIsStoreCorrupt exercises spec.md §8
// scenario 1 through the public API: Get against a root the store never
// produced must surface ErrStoreCorrupt, not silently report zero hits.
// Get against the zero-hash "no tree yet" sentinel, by contrast, is a
// legitimate empty tree and must not error.
func TestGetAgainstUnresolvableRootIsStoreCorrupt(t *testing.T) {
	ctx := context.Background()
	keyWidth := 8
	tree, err := newMemTree(t, keyWidth)
	if err != nil {
		t.Fatal(err)
	}

	key := make([]byte, keyWidth)
	if got, err := tree.Get(ctx, Hash{}, [][]byte{key}); err != nil || len(got) != 0 {
		t.Fatalf("get against the empty-tree sentinel: got (%v, %v), want (empty map, nil)", got, err)
	}

	garbage := Hash{9, 9, 9}
	if _, err := tree.Get(ctx, garbage, [][]byte{key}); !errors.Is(err, ErrStoreCorrupt) {
		t.Fatalf("get against an unresolvable root: got %v, want ErrStoreCorrupt", err)
	}
}

func TestInclusionProofRoundTrip(t *testing.T) {
	ctx := context.Background()
	keyWidth := 20
	tree, err := newMemTree(t, keyWidth)
	if err != nil {
		t.Fatal(err)
	}

	keys, values := randomEntries(rand.NewPCG(5, 5), keyWidth, 100)
	root, err := tree.Insert(ctx, Hash{}, keys, values)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	for i := 0; i < len(keys); i += 7 {
		value, proof, err := tree.GenerateInclusionProof(ctx, root, keys[i])
		if err != nil {
			t.Fatalf("generate proof for key %x: %v", keys[i], err)
		}
		if string(value) != string(values[i]) {
			t.Fatalf("proof returned wrong value for key %x", keys[i])
		}
		if err := tree.VerifyInclusionProof(root, keys[i], value, proof); err != nil {
			t.Fatalf("verify proof for key %x: %v", keys[i], err)
		}

		// A proof for the wrong value must fail.
		tampered := append([]byte(nil), value...)
		tampered[0] ^= 0xFF
		if err := tree.VerifyInclusionProof(root, keys[i], tampered, proof); err == nil {
			t.Fatalf("verify proof accepted a tampered value for key %x", keys[i])
		}
	}
}

func TestRemoveGarbageCollectsUnreferencedNodes(t *testing.T) {
	ctx := context.Background()
	keyWidth := 16
	tree, err := newMemTree(t, keyWidth)
	if err != nil {
		t.Fatal(err)
	}
	store := tree.store.(*memstore.Store)

	keys, values := randomEntries(rand.NewPCG(6, 6), keyWidth, 300)
	root, err := tree.Insert(ctx, Hash{}, keys, values)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if store.Len() == 0 {
		t.Fatal("expected nodes to exist after insert")
	}

	if err := tree.Remove(ctx, root); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := store.Len(); got != 0 {
		t.Fatalf("expected all nodes to be collected, %d remain", got)
	}
}

// TestInsertBatchRegistersOnlyFinalRoot guards against a batch Insert
// leaking a root-registry entry for every intermediate per-key splice: a
// multi-key Insert must register exactly one root (the one it returns),
// not one per key.
func TestInsertBatchRegistersOnlyFinalRoot(t *testing.T) {
	ctx := context.Background()
	keyWidth := 16
	tree, err := newMemTree(t, keyWidth)
	if err != nil {
		t.Fatal(err)
	}
	store := tree.store.(*memstore.Store)

	keys, values := randomEntries(rand.NewPCG(9, 9), keyWidth, 300)
	root, err := tree.Insert(ctx, Hash{}, keys, values)
	if err != nil {
		t.Fatal(err)
	}
	if got := store.RootCount(); got != 1 {
		t.Fatalf("root registry entries after a 300-key batch insert: got %d, want 1", got)
	}
	refs, err := store.RootRefs(ctx, root)
	if err != nil {
		t.Fatal(err)
	}
	if refs != 1 {
		t.Fatalf("returned root's refcount: got %d, want 1", refs)
	}

	if err := tree.Remove(ctx, root); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := store.Len(); got != 0 {
		t.Fatalf("expected all nodes to be collected, %d remain", got)
	}
	if got := store.RootCount(); got != 0 {
		t.Fatalf("expected no root registry entries left, %d remain", got)
	}
}

func TestRemoveSharedSubtreeSurvives(t *testing.T) {
	ctx := context.Background()
	keyWidth := 16
	tree, err := newMemTree(t, keyWidth)
	if err != nil {
		t.Fatal(err)
	}
	store := tree.store.(*memstore.Store)

	keys, values := randomEntries(rand.NewPCG(7, 7), keyWidth, 100)
	base, err := tree.Insert(ctx, Hash{}, keys, values)
	if err != nil {
		t.Fatalf("insert base: %v", err)
	}

	extraKey, extraValue := randomEntries(rand.NewPCG(8, 8), keyWidth, 1)
	derived, err := tree.InsertOne(ctx, base, extraKey[0], extraValue[0])
	if err != nil {
		t.Fatalf("insert derived: %v", err)
	}

	if err := tree.Remove(ctx, derived); err != nil {
		t.Fatalf("remove derived: %v", err)
	}
	// base's subtree is entirely shared by derived; removing derived alone
	// must leave every key still reachable under base.
	got, err := tree.Get(ctx, base, keys)
	if err != nil {
		t.Fatalf("get after removing derived root: %v", err)
	}
	if len(got) != len(keys) {
		t.Fatalf("base tree lost entries after removing a derived root: got %d, want %d", len(got), len(keys))
	}

	if err := tree.Remove(ctx, base); err != nil {
		t.Fatalf("remove base: %v", err)
	}
	if got := store.Len(); got != 0 {
		t.Fatalf("expected all nodes collected once every root is released, %d remain", got)
	}
}

func newMemTree(t *testing.T, keyWidth int) (*Tree[[]byte], error) {
	t.Helper()
	return New[[]byte](memstore.New(), keyWidth)
}

func randomEntries(src rand.Source, keyWidth, n int) (keys, values [][]byte) {
	r := rand.New(src)
	seen := make(map[string]bool, n)
	keys = make([][]byte, 0, n)
	values = make([][]byte, 0, n)
	for len(keys) < n {
		k := make([]byte, keyWidth)
		for i := range k {
			k[i] = byte(r.IntN(256))
		}
		if seen[string(k)] {
			continue
		}
		seen[string(k)] = true
		v := make([]byte, keyWidth)
		for i := range v {
			v[i] = byte(r.IntN(256))
		}
		keys = append(keys, k)
		values = append(values, v)
	}
	return keys, values
}

func reverseEntries(keys, values [][]byte) ([][]byte, [][]byte) {
	n := len(keys)
	rk := make([][]byte, n)
	rv := make([][]byte, n)
	for i := 0; i < n; i++ {
		rk[i] = keys[n-1-i]
		rv[i] = values[n-1-i]
	}
	return rk, rv
}

// validateTree walks every node reachable from root and checks that each
// Branch's stored Count and Key match what its children actually contain,
// and that every node's hash is consistent with its own content — the same
// shape of invariant check mpt/tree_test.go's Validate applies to its own
// node model, adapted to this package's content-addressed one.
func validateTree(ctx context.Context, tree *Tree[[]byte], root Hash, keyWidth int) error {
	if root.IsZero() {
		return nil
	}
	_, _, err := walkAndValidate(ctx, tree, root, keyWidth)
	return err
}

func walkAndValidate(ctx context.Context, tree *Tree[[]byte], h Hash, keyWidth int) (count uint64, minimum Key, err error) {
	node, err := tree.store.GetNode(ctx, h)
	if err != nil {
		return 0, Key{}, err
	}
	if node == nil {
		return 0, Key{}, wrapf(ErrStoreCorrupt, "validate: missing node %s", h)
	}
	switch node.Variant {
	case VariantLeaf:
		return 1, node.Leaf.Key, nil
	case VariantBranch:
		b := node.Branch
		zeroCount, zeroMin, err := walkAndValidate(ctx, tree, b.Zero, keyWidth)
		if err != nil {
			return 0, Key{}, err
		}
		oneCount, oneMin, err := walkAndValidate(ctx, tree, b.One, keyWidth)
		if err != nil {
			return 0, Key{}, err
		}
		wantCount := zeroCount + oneCount
		if b.Count != wantCount {
			return 0, Key{}, wrapf(ErrStoreCorrupt, "branch %s: Count is %d, want %d", h, b.Count, wantCount)
		}
		wantKey := minKey(zeroMin, oneMin)
		if b.Key != wantKey {
			return 0, Key{}, wrapf(ErrStoreCorrupt, "branch %s: Key is %x, want %x", h, b.Key, wantKey)
		}
		wantHash := branchHash(tree.hasher, b.SplitIndex, b.Zero, b.One)
		if wantHash != h {
			return 0, Key{}, wrapf(ErrStoreCorrupt, "branch %s: content hash does not match its own key", h)
		}
		return wantCount, wantKey, nil
	default:
		return 0, Key{}, wrapf(ErrStoreCorrupt, "validate: unexpected %s node at %s", node.Variant, h)
	}
}
