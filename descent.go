package csmt

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// descendFanout bounds how many Branch subtrees a single batch descent
// fetches from the store concurrently. Mirrors the fixed concurrency limit
// tlogclient.go's tile fetcher applies to its own errgroup.
const descendFanout = 16

// descendBatch walks root once for every key in keys (which need not be
// sorted or deduplicated on entry), honoring each Branch's split index and
// verifying the bits it skips against that Branch's representative key. It
// returns, for every key present at root, the hash of its Data node; keys
// absent from the tree are simply omitted from the result map.
//
// Once a Branch splits a batch into a zero-side and a one-side sub-range,
// the two sides have disjoint hashes and never interact again, so both
// legs are fetched and descended concurrently through an errgroup, the way
// tlogclient.go fans out concurrent tile fetches.
func descendBatch(ctx context.Context, store NodeStore, root Hash, keyWidth int, keys []Key) (map[Key]Hash, error) {
	hits := make(map[Key]Hash, len(keys))
	if len(keys) == 0 {
		return hits, nil
	}

	if root.IsZero() {
		return hits, nil
	}

	sorted := append([]Key(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	rootNode, err := store.GetNode(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("csmt: loading root %s: %w", root, wrapStoreErr(err))
	}
	if rootNode == nil {
		return nil, fmt.Errorf("%w: missing root %s", ErrStoreCorrupt, root)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(descendFanout)

	var descend func(node *Node, lo, hi int) error
	fetchAndDescend := func(h Hash, lo, hi int) error {
		if lo >= hi {
			return nil
		}
		child, err := store.GetNode(gctx, h)
		if err != nil {
			return fmt.Errorf("csmt: loading node %s: %w", h, wrapStoreErr(err))
		}
		if child == nil {
			return fmt.Errorf("%w: missing node %s referenced from root %s", ErrStoreCorrupt, h, root)
		}
		return descend(child, lo, hi)
	}

	descend = func(node *Node, lo, hi int) error {
		switch node.Variant {
		case VariantLeaf:
			for i := lo; i < hi; i++ {
				if sorted[i] == node.Leaf.Key {
					mu.Lock()
					hits[sorted[i]] = node.Leaf.Data
					mu.Unlock()
				}
			}
			return nil

		case VariantBranch:
			b := node.Branch
			// Keys in [lo,hi) already agree on every bit before this
			// branch's parent split. Within a sorted batch that
			// prefix-equality class is contiguous, so the subset that
			// additionally matches b.Key's bits up to SplitIndex is
			// itself one contiguous sub-range, found by binary search
			// rather than a linear scan.
			lo2 := lo + sort.Search(hi-lo, func(i int) bool {
				return comparePrefix(sorted[lo+i], b.Key, b.SplitIndex) >= 0
			})
			hi2 := lo + sort.Search(hi-lo, func(i int) bool {
				return comparePrefix(sorted[lo+i], b.Key, b.SplitIndex) > 0
			})
			if lo2 >= hi2 {
				return nil // every key in range disagrees with this subtree before SplitIndex: all misses
			}
			mid := lo2 + sort.Search(hi2-lo2, func(i int) bool {
				return sorted[lo2+i].Bit(b.SplitIndex) == 1
			})

			if lo2 < mid && mid < hi2 {
				// TryGo rather than Go: this runs inside group goroutines,
				// and a blocking Go with every slot held by a spawner would
				// deadlock. When no slot is free the zero leg runs inline.
				if !g.TryGo(func() error { return fetchAndDescend(b.Zero, lo2, mid) }) {
					if err := fetchAndDescend(b.Zero, lo2, mid); err != nil {
						return err
					}
				}
				return fetchAndDescend(b.One, mid, hi2)
			}
			if lo2 < mid {
				return fetchAndDescend(b.Zero, lo2, mid)
			}
			return fetchAndDescend(b.One, mid, hi2)

		default:
			return fmt.Errorf("%w: unexpected %s node mid-descent", ErrStoreCorrupt, node.Variant)
		}
	}

	if err := descend(rootNode, 0, len(sorted)); err != nil {
		g.Wait()
		return nil, err
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return hits, nil
}

// proofStep is one Branch traversed on the root-to-leaf path to a single
// key, in descent order (root first).
type proofStep struct {
	splitIndex uint32
	siblingTop Hash // the hash of the child NOT taken
	tookOne    bool
}

// descendSingle walks root for exactly one key, returning the Data hash if
// present, the ordered (root-to-leaf) list of branches crossed, and
// whether the key was found.
func descendSingle(ctx context.Context, store NodeStore, root Hash, key Key) (dataHash Hash, steps []proofStep, found bool, err error) {
	current := root
	for {
		node, gerr := store.GetNode(ctx, current)
		if gerr != nil {
			return Hash{}, nil, false, fmt.Errorf("csmt: loading node %s: %w", current, wrapStoreErr(gerr))
		}
		if node == nil {
			return Hash{}, nil, false, fmt.Errorf("%w: missing node %s", ErrStoreCorrupt, current)
		}
		switch node.Variant {
		case VariantLeaf:
			if node.Leaf.Key == key {
				return node.Leaf.Data, steps, true, nil
			}
			return Hash{}, nil, false, nil
		case VariantBranch:
			b := node.Branch
			if comparePrefix(key, b.Key, b.SplitIndex) != 0 {
				// key diverges from this whole subtree before SplitIndex.
				return Hash{}, nil, false, nil
			}
			tookOne := key.Bit(b.SplitIndex) == 1
			var sibling Hash
			if tookOne {
				sibling, current = b.Zero, b.One
			} else {
				sibling, current = b.One, b.Zero
			}
			steps = append(steps, proofStep{splitIndex: b.SplitIndex, siblingTop: sibling, tookOne: tookOne})
		default:
			return Hash{}, nil, false, fmt.Errorf("%w: unexpected %s node mid-descent at %s", ErrStoreCorrupt, node.Variant, current)
		}
	}
}
