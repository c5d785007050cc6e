package csmt

import (
	"context"
	"fmt"
)

// writeSet stages node writes for a single Insert call across all of its
// keys. Lookups check the stage before falling back to the real store, so
// a later key in the same batch sees an earlier key's new nodes even
// though nothing has been committed yet; a key whose result turns out to
// be a content-identical no-op can have its own staged writes discarded
// without ever reaching the store.
type writeSet struct {
	store Store
	ctx   context.Context
	// applied holds writes already decided and pushed to store for this
	// Insert call.
	applied map[Hash]*Node
}

func (w *writeSet) get(h Hash, stage map[Hash]*Node) (*Node, error) {
	if stage != nil {
		if n, ok := stage[h]; ok {
			return n, nil
		}
	}
	if n, ok := w.applied[h]; ok {
		return n, nil
	}
	n, err := w.store.GetNode(w.ctx, h)
	if err != nil {
		return nil, fmt.Errorf("csmt: loading node %s: %w", h, wrapStoreErr(err))
	}
	return n, nil
}

// putOrBump stages h->build() with refcount 1 if h is unseen, or stages an
// incremented clone of whatever already exists (in the stage, in applied,
// or in the store).
func (w *writeSet) putOrBump(h Hash, stage map[Hash]*Node, build func() *Node) error {
	existing, err := w.get(h, stage)
	if err != nil {
		return err
	}
	if existing != nil {
		bumped := existing.clone()
		bumped.IncrementRefs()
		stage[h] = bumped
		return nil
	}
	n := build()
	n.SetRefs(1)
	stage[h] = n
	return nil
}

// bumpRef stages an incremented clone of the node at h, which must already
// exist.
func (w *writeSet) bumpRef(h Hash, stage map[Hash]*Node) error {
	n, err := w.get(h, stage)
	if err != nil {
		return err
	}
	if n == nil {
		return fmt.Errorf("%w: cannot bump refcount of missing node %s", ErrStoreCorrupt, h)
	}
	bumped := n.clone()
	bumped.IncrementRefs()
	stage[h] = bumped
	return nil
}

func (w *writeSet) commitStage(stage map[Hash]*Node) error {
	for h, n := range stage {
		if err := w.store.PutNode(w.ctx, h, n); err != nil {
			return fmt.Errorf("csmt: writing node %s: %w", h, wrapStoreErr(err))
		}
		w.applied[h] = n
	}
	return nil
}

// spineEntry is one Branch walked past during classify, recorded so insert
// can rebuild it with one child replaced.
type spineEntry struct {
	hash    Hash
	branch  Branch
	tookOne bool // which child the key being inserted descends through
}

// insertOne performs a single (key, value-bytes) copy-on-write splice
// against root (the zero Hash meaning an empty tree), returning the new
// root. It does not call store.BatchCommit; the caller batches that across
// every key in an Insert call.
//
// Multi-key batches are implemented as a sequence of these single-key
// splices sharing one writeSet, rather than one multi-key minimal-bit-trie
// merge pass: by content addressing the two strategies are observably
// identical, and the
// sequential form is far simpler to get right. Each step still reads and
// writes through the shared writeSet, so same-batch keys see each other's
// new nodes without relying on the store's own read-after-write behavior.
func insertOne(h Hasher, keyWidth int, ws *writeSet, root Hash, key Key, value []byte) (Hash, error) {
	stage := make(map[Hash]*Node)

	if root.IsZero() {
		leafH, err := buildLeaf(h, keyWidth, ws, stage, key, value)
		if err != nil {
			return Hash{}, err
		}
		return finishInsert(ws, stage, root, leafH)
	}

	// Phase A: classify. Walk from root until we either find an existing
	// Leaf with the same key (value update) or diverge from the existing
	// tree (new key).
	var spine []spineEntry
	current := root
	depth := int32(-1)
	maxBit := uint32(keyWidth * 8)

	for {
		node, err := ws.get(current, nil)
		if err != nil {
			return Hash{}, err
		}
		if node == nil {
			return Hash{}, fmt.Errorf("%w: missing node %s", ErrStoreCorrupt, current)
		}

		switch node.Variant {
		case VariantLeaf:
			if node.Leaf.Key == key {
				// Update in place: same key, new (or identical) value.
				newRoot, err := spliceUpdate(h, keyWidth, ws, stage, spine, key, value)
				if err != nil {
					return Hash{}, err
				}
				return finishInsert(ws, stage, root, newRoot)
			}
			from := uint32(0)
			if depth >= 0 {
				from = uint32(depth + 1)
			}
			m := firstDifferingBit(key, node.Leaf.Key, from, maxBit)
			newRoot, err := spliceNewBranch(h, keyWidth, ws, stage, spine, m, current, node.Leaf.Key, value, key)
			if err != nil {
				return Hash{}, err
			}
			return finishInsert(ws, stage, root, newRoot)

		case VariantBranch:
			b := node.Branch
			from := uint32(0)
			if depth >= 0 {
				from = uint32(depth + 1)
			}
			m := firstDifferingBit(key, b.Key, from, b.SplitIndex)
			if m < b.SplitIndex {
				newRoot, err := spliceNewBranch(h, keyWidth, ws, stage, spine, m, current, b.Key, value, key)
				if err != nil {
					return Hash{}, err
				}
				return finishInsert(ws, stage, root, newRoot)
			}
			tookOne := key.Bit(b.SplitIndex) == 1
			spine = append(spine, spineEntry{hash: current, branch: b, tookOne: tookOne})
			if tookOne {
				current = b.One
			} else {
				current = b.Zero
			}
			depth = int32(b.SplitIndex)

		default:
			return Hash{}, fmt.Errorf("%w: unexpected %s node mid-descent at %s", ErrStoreCorrupt, node.Variant, current)
		}
	}
}

func buildLeaf(h Hasher, keyWidth int, ws *writeSet, stage map[Hash]*Node, key Key, value []byte) (Hash, error) {
	dh := dataHash(h, key, keyWidth, value)
	if err := ws.putOrBump(dh, stage, func() *Node { return NewData(value) }); err != nil {
		return Hash{}, err
	}
	lh := leafHash(h, key, keyWidth, dh)
	if err := ws.putOrBump(lh, stage, func() *Node { return NewLeaf(key, dh) }); err != nil {
		return Hash{}, err
	}
	return lh, nil
}

// spliceUpdate rebuilds the spine above a Leaf whose key matches the
// inserted key: the leaf (and its Data) are rebuilt for the new value, and
// every ancestor Branch is rebuilt with the same Count and Key (no key was
// added or removed, only a value changed).
func spliceUpdate(h Hasher, keyWidth int, ws *writeSet, stage map[Hash]*Node, spine []spineEntry, key Key, value []byte) (Hash, error) {
	childHash, err := buildLeaf(h, keyWidth, ws, stage, key, value)
	if err != nil {
		return Hash{}, err
	}
	for i := len(spine) - 1; i >= 0; i-- {
		e := spine[i]
		var zero, one Hash
		if e.tookOne {
			zero, one = e.branch.Zero, e.branch.One
			one = childHash
			if err := ws.bumpRef(zero, stage); err != nil {
				return Hash{}, err
			}
		} else {
			zero, one = e.branch.Zero, e.branch.One
			zero = childHash
			if err := ws.bumpRef(one, stage); err != nil {
				return Hash{}, err
			}
		}
		bh := branchHash(h, e.branch.SplitIndex, zero, one)
		newBranch := e.branch
		newBranch.Zero, newBranch.One = zero, one
		if err := ws.putOrBump(bh, stage, func() *Node {
			return NewBranch(newBranch.SplitIndex, newBranch.Zero, newBranch.One, newBranch.Count, newBranch.Key)
		}); err != nil {
			return Hash{}, err
		}
		childHash = bh
	}
	return childHash, nil
}

// spliceNewBranch introduces a brand-new key that diverges from existingHash
// (a Leaf or Branch) at bit splitBit, then rebuilds every ancestor Branch on
// the spine with Count+1 and Key = min(old key, new key).
func spliceNewBranch(h Hasher, keyWidth int, ws *writeSet, stage map[Hash]*Node, spine []spineEntry, splitBit uint32, existingHash Hash, existingRepKey Key, value []byte, key Key) (Hash, error) {
	existingNode, err := ws.get(existingHash, stage)
	if err != nil {
		return Hash{}, err
	}
	if existingNode == nil {
		return Hash{}, fmt.Errorf("%w: missing node %s", ErrStoreCorrupt, existingHash)
	}
	var existingCount uint64 = 1
	if existingNode.Variant == VariantBranch {
		existingCount = existingNode.Branch.Count
	}

	leafH, err := buildLeaf(h, keyWidth, ws, stage, key, value)
	if err != nil {
		return Hash{}, err
	}
	if err := ws.bumpRef(existingHash, stage); err != nil {
		return Hash{}, err
	}

	newKeyIsOne := key.Bit(splitBit) == 1
	var zero, one Hash
	if newKeyIsOne {
		zero, one = existingHash, leafH
	} else {
		zero, one = leafH, existingHash
	}
	repKey := minKey(key, existingRepKey)
	bh := branchHash(h, splitBit, zero, one)
	count := existingCount + 1
	if err := ws.putOrBump(bh, stage, func() *Node { return NewBranch(splitBit, zero, one, count, repKey) }); err != nil {
		return Hash{}, err
	}
	childHash := bh

	for i := len(spine) - 1; i >= 0; i-- {
		e := spine[i]
		var z, o Hash
		if e.tookOne {
			z, o = e.branch.Zero, childHash
			if err := ws.bumpRef(z, stage); err != nil {
				return Hash{}, err
			}
		} else {
			z, o = childHash, e.branch.One
			if err := ws.bumpRef(o, stage); err != nil {
				return Hash{}, err
			}
		}
		rep := minKey(repKey, e.branch.Key)
		cnt := e.branch.Count + 1
		nbh := branchHash(h, e.branch.SplitIndex, z, o)
		si, zz, oo, cc, rr := e.branch.SplitIndex, z, o, cnt, rep
		if err := ws.putOrBump(nbh, stage, func() *Node { return NewBranch(si, zz, oo, cc, rr) }); err != nil {
			return Hash{}, err
		}
		childHash = nbh
		repKey = rep
	}
	return childHash, nil
}

// finishInsert compares the newly computed root against the root this
// splice started from. If they are identical — re-inserting content that
// already produces the same tree — every staged write is discarded and the
// operation is a true no-op: no refcount anywhere changes. Otherwise the
// stage is committed.
//
// finishInsert never touches the root-registry, on either root. A single
// Insert call runs this once per key in its batch, and every intermediate
// per-key root except the very last is a purely internal splice point —
// never returned to the caller, never a valid argument to Get or Remove —
// so registering it would leave a registry entry with no code path that
// ever decrements it, permanently pinning that key's nodes even after a
// later key's splice absorbs them into the batch's real result. Only the
// batch's final root is caller-visible; Tree.Insert registers exactly that
// one root, exactly once, after the whole batch has been spliced in.
//
// The old root's registry entry is also left alone here, and everywhere
// else in this package. Insert only ever adds a reference (the new root's
// final one, registered by the caller as described above); it never
// spends the caller's reference to previousRoot, because the caller may
// still be holding onto that root elsewhere (spec's "historical versions
// coexist" model) and it is still a valid argument to a later Get,
// GenerateInclusionProof, or Remove. Relinquishing a root is exclusively
// Remove's job, which performs the matching node-level
// decrement-and-maybe-GC cascade; if Insert also decremented here, a
// superseded root's registry entry could reach zero before Remove ever
// runs against it, and the later explicit Remove call would see refs==0
// and return immediately without freeing root's own exclusive subtree — a
// leak of exactly the nodes removal exists to collect. Callers chaining
// Insert calls who are done with previousRoot must call
// Remove(ctx, previousRoot) themselves to release it.
func finishInsert(ws *writeSet, stage map[Hash]*Node, oldRoot, newRoot Hash) (Hash, error) {
	if oldRoot == newRoot {
		return newRoot, nil
	}
	if err := ws.commitStage(stage); err != nil {
		return Hash{}, err
	}
	return newRoot, nil
}
