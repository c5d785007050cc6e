// Package sqlite is a crawshaw.io/sqlite-backed Store, for a tree that
// needs to persist across process restarts without a network dependency.
// Schema and query shape follow mpt/mptsqlite's embedded-SQL, pooled-
// connection style; PRAGMA handling follows internal/witness.OpenDB.
package sqlite

import (
	"context"
	"embed"
	"fmt"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/csmt-go/csmt"
)

//go:embed *.sql
var queries embed.FS

func mustQuery(name string) string {
	b, err := queries.ReadFile(name)
	if err != nil {
		panic(err)
	}
	return string(b)
}

var (
	loadNodeSQL   = mustQuery("load_node.sql")
	upsertNodeSQL = mustQuery("upsert_node.sql")
	deleteNodeSQL = mustQuery("delete_node.sql")
	loadRootSQL   = mustQuery("load_root.sql")
	upsertRootSQL = mustQuery("upsert_root.sql")
	deleteRootSQL = mustQuery("delete_root.sql")
)

// Store is a Store backed by a pooled crawshaw.io/sqlite connection.
type Store struct {
	pool *sqlitex.Pool

	nodeHits   prometheus.Counter
	nodeMisses prometheus.Counter
	nodeWrites prometheus.Counter
}

// Open opens or creates the database at dbPath and ensures its schema
// exists. reg receives the store's hit/miss/write counters; with a nil reg
// the counters are created but not registered anywhere.
func Open(dbPath string, reg prometheus.Registerer) (*Store, error) {
	pool, err := sqlitex.Open(dbPath, 0, 10)
	if err != nil {
		return nil, fmt.Errorf("csmt/storage/sqlite: opening %s: %w", dbPath, err)
	}

	conn := pool.Get(context.Background())
	if conn == nil {
		pool.Close()
		return nil, fmt.Errorf("csmt/storage/sqlite: no connection available to initialize schema")
	}
	defer pool.Put(conn)

	if err := sqlitex.ExecScript(conn, `
		PRAGMA strict_types = ON;
		PRAGMA foreign_keys = ON;
	`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("csmt/storage/sqlite: setting pragmas: %w", err)
	}
	if err := sqlitex.ExecScript(conn, mustQuery("create.sql")); err != nil {
		pool.Close()
		return nil, fmt.Errorf("csmt/storage/sqlite: creating schema: %w", err)
	}

	factory := promauto.With(reg)
	return &Store{
		pool: pool,
		nodeHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "csmt_sqlite_node_hits_total",
			Help: "Node reads resolved from the sqlite store.",
		}),
		nodeMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "csmt_sqlite_node_misses_total",
			Help: "Node reads for a hash the sqlite store has never seen.",
		}),
		nodeWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "csmt_sqlite_node_writes_total",
			Help: "Node writes (new or refcount-updated) to the sqlite store.",
		}),
	}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

func (s *Store) GetNode(ctx context.Context, h csmt.Hash) (*csmt.Node, error) {
	conn := s.pool.Get(ctx)
	if conn == nil {
		return nil, fmt.Errorf("%w: no connection available", csmt.ErrStoreBackendFailed)
	}
	defer s.pool.Put(conn)

	var node *csmt.Node
	err := sqlitex.Exec(conn, loadNodeSQL, func(stmt *sqlite.Stmt) error {
		body := make([]byte, stmt.ColumnLen(0))
		stmt.ColumnBytes(0, body)
		refs := stmt.ColumnInt64(1)
		n, err := csmt.DecodeStoredNode(body, uint64(refs))
		if err != nil {
			return err
		}
		node = n
		return nil
	}, h[:])
	if err != nil {
		return nil, fmt.Errorf("csmt/storage/sqlite: loading node %s: %w", h, err)
	}
	if node == nil {
		s.nodeMisses.Inc()
	} else {
		s.nodeHits.Inc()
	}
	return node, nil
}

func (s *Store) PutNode(ctx context.Context, h csmt.Hash, n *csmt.Node) error {
	conn := s.pool.Get(ctx)
	if conn == nil {
		return fmt.Errorf("%w: no connection available", csmt.ErrStoreBackendFailed)
	}
	defer s.pool.Put(conn)

	body := csmt.EncodeStoredNode(n)
	if err := sqlitex.Exec(conn, upsertNodeSQL, nil, h[:], body, int64(n.Refs())); err != nil {
		return fmt.Errorf("csmt/storage/sqlite: writing node %s: %w", h, err)
	}
	s.nodeWrites.Inc()
	return nil
}

func (s *Store) RemoveNode(ctx context.Context, h csmt.Hash) error {
	conn := s.pool.Get(ctx)
	if conn == nil {
		return fmt.Errorf("%w: no connection available", csmt.ErrStoreBackendFailed)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Exec(conn, deleteNodeSQL, nil, h[:]); err != nil {
		return fmt.Errorf("csmt/storage/sqlite: removing node %s: %w", h, err)
	}
	return nil
}

// BatchCommit is a no-op: every PutNode/RemoveNode call above writes
// through immediately inside its own implicit transaction.
func (s *Store) BatchCommit(ctx context.Context) error { return nil }

func (s *Store) RootRefs(ctx context.Context, root csmt.Hash) (uint64, error) {
	conn := s.pool.Get(ctx)
	if conn == nil {
		return 0, fmt.Errorf("%w: no connection available", csmt.ErrStoreBackendFailed)
	}
	defer s.pool.Put(conn)

	var refs int64
	err := sqlitex.Exec(conn, loadRootSQL, func(stmt *sqlite.Stmt) error {
		refs = stmt.ColumnInt64(0)
		return nil
	}, root[:])
	if err != nil {
		return 0, fmt.Errorf("csmt/storage/sqlite: loading root %s: %w", root, err)
	}
	return uint64(refs), nil
}

func (s *Store) SetRootRefs(ctx context.Context, root csmt.Hash, count uint64) error {
	conn := s.pool.Get(ctx)
	if conn == nil {
		return fmt.Errorf("%w: no connection available", csmt.ErrStoreBackendFailed)
	}
	defer s.pool.Put(conn)

	if count == 0 {
		if err := sqlitex.Exec(conn, deleteRootSQL, nil, root[:]); err != nil {
			return fmt.Errorf("csmt/storage/sqlite: clearing root %s: %w", root, err)
		}
		return nil
	}
	if err := sqlitex.Exec(conn, upsertRootSQL, nil, root[:], int64(count)); err != nil {
		return fmt.Errorf("csmt/storage/sqlite: writing root %s: %w", root, err)
	}
	return nil
}

// Decompose returns the backing connection pool.
func (s *Store) Decompose() any { return s.pool }
