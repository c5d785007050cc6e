package csmt

import (
	"context"
	"fmt"
)

// removeRoot decrements root's entry in the root-registry and, if that
// drops it to zero, decrements the root node's refcount, deleting any node
// whose count reaches zero and decrementing its children in turn; a node
// still referenced elsewhere stops the walk below it. Traversal is iterative over an explicit worklist rather
// than recursive, so a deep or wide tree cannot overflow the call stack.
//
// All reads and writes for one call go through a local cache rather than
// the store directly, so a node visited twice in the same pass (shared by
// two parents both being deleted) sees its own prior decrement regardless
// of whether the store itself makes uncommitted writes visible to reads.
func removeRoot(ctx context.Context, store Store, root Hash) error {
	if root.IsZero() {
		return nil
	}
	refs, err := store.RootRefs(ctx, root)
	if err != nil {
		return fmt.Errorf("csmt: reading root registry: %w", wrapStoreErr(err))
	}
	if refs == 0 {
		return nil
	}
	refs--
	if err := store.SetRootRefs(ctx, root, refs); err != nil {
		return fmt.Errorf("csmt: updating root registry: %w", wrapStoreErr(err))
	}
	if refs > 0 {
		return store.BatchCommit(ctx)
	}

	cache := map[Hash]*Node{}
	deleted := map[Hash]bool{}
	get := func(h Hash) (*Node, error) {
		if n, ok := cache[h]; ok {
			return n, nil
		}
		n, err := store.GetNode(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("csmt: loading node %s: %w", h, wrapStoreErr(err))
		}
		if n != nil {
			cache[h] = n
		}
		return n, nil
	}

	worklist := []Hash{root}
	for len(worklist) > 0 {
		h := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		node, err := get(h)
		if err != nil {
			return err
		}
		if node == nil {
			return fmt.Errorf("%w: missing node %s during removal", ErrStoreCorrupt, h)
		}

		remaining := node.DecrementRefs()
		cache[h] = node
		if remaining > 0 {
			continue
		}

		deleted[h] = true
		for _, child := range node.children() {
			if !child.IsZero() {
				worklist = append(worklist, child)
			}
		}
	}

	for h, node := range cache {
		if deleted[h] {
			if err := store.RemoveNode(ctx, h); err != nil {
				return fmt.Errorf("csmt: removing node %s: %w", h, wrapStoreErr(err))
			}
			continue
		}
		if err := store.PutNode(ctx, h, node); err != nil {
			return fmt.Errorf("csmt: writing node %s: %w", h, wrapStoreErr(err))
		}
	}
	return store.BatchCommit(ctx)
}
