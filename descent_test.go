package csmt

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/csmt-go/csmt/storage/memstore"
)

func TestDescendBatchEmptyTree(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	keys := []Key{{1}, {2}}
	hits, err := descendBatch(ctx, store, Hash{}, 20, keys)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits against an empty tree, got %d", len(hits))
	}
}

func TestDescendBatchNoKeys(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	hits, err := descendBatch(ctx, store, Hash{}, 20, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Fatal("expected an empty result for an empty key batch")
	}
}

func TestDescendBatchZeroRootIsEmptyNotCorrupt(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	hits, err := descendBatch(ctx, store, Hash{}, 20, []Key{{1}})
	if err != nil {
		t.Fatalf("the zero root is the documented empty-tree sentinel, want no error: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits against an empty tree, got %d", len(hits))
	}
}

func TestDescendBatchUnresolvableRootIsCorrupt(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	garbage := Hash{1, 2, 3}
	_, err := descendBatch(ctx, store, garbage, 20, []Key{{1}})
	if !errors.Is(err, ErrStoreCorrupt) {
		t.Fatalf("expected ErrStoreCorrupt for a root the store has never seen, got %v", err)
	}
}

func TestDescendBatchDuplicateKeysInBatch(t *testing.T) {
	ctx := context.Background()
	keyWidth := 16
	tree, err := New[[]byte](memstore.New(), keyWidth)
	if err != nil {
		t.Fatal(err)
	}
	keys, values := randomEntries(rand.NewPCG(11, 11), keyWidth, 50)
	root, err := tree.Insert(ctx, Hash{}, keys, values)
	if err != nil {
		t.Fatal(err)
	}

	duplicated := append(append([][]byte{}, keys[0], keys[0]), keys[1])
	hits, err := tree.Get(ctx, root, duplicated)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 distinct keys resolved, got %d", len(hits))
	}
}
