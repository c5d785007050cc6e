// Package memstore is the reference in-memory Store implementation: a pair
// of plain maps behind a mutex, with no persistence across process
// restarts. It exists for tests and for embedding a small tree directly in
// a process's memory.
package memstore

import (
	"context"
	"sync"

	"github.com/csmt-go/csmt"
)

type Store struct {
	mu    sync.Mutex
	nodes map[csmt.Hash]*csmt.Node
	roots map[csmt.Hash]uint64
}

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{
		nodes: make(map[csmt.Hash]*csmt.Node),
		roots: make(map[csmt.Hash]uint64),
	}
}

func (s *Store) GetNode(ctx context.Context, h csmt.Hash) (*csmt.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[h]
	if !ok {
		return nil, nil
	}
	return n, nil
}

func (s *Store) PutNode(ctx context.Context, h csmt.Hash, n *csmt.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[h] = n
	return nil
}

func (s *Store) RemoveNode(ctx context.Context, h csmt.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, h)
	return nil
}

func (s *Store) BatchCommit(ctx context.Context) error {
	return nil
}

func (s *Store) RootRefs(ctx context.Context, root csmt.Hash) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roots[root], nil
}

func (s *Store) SetRootRefs(ctx context.Context, root csmt.Hash, count uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if count == 0 {
		delete(s.roots, root)
		return nil
	}
	s.roots[root] = count
	return nil
}

// Decompose returns the backing node map, mostly useful for tests that
// want to assert on exactly what is or isn't present after a GC pass.
func (s *Store) Decompose() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes
}

// Len reports the number of distinct nodes currently stored, a convenience
// for tests checking that removal actually reclaimed space.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// RootCount reports the number of distinct root hashes currently
// registered with a nonzero reference count, a convenience for tests
// checking that a batch Insert registers exactly the roots it should.
func (s *Store) RootCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.roots)
}
