// Command treebench drives repeated batch inserts against a csmt tree and
// reports timing, mirroring the shape of the Rust insert_benchmark tool
// this package's model was distilled from, plus a live log console in the
// style of litebastion and litewitness's own debug endpoints.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"time"

	"crawshaw.io/sqlite/sqlitex"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/csmt-go/csmt"
	"github.com/csmt-go/csmt/internal/logconsole"
	"github.com/csmt-go/csmt/storage/memstore"
	"github.com/csmt-go/csmt/storage/sqlite"
)

var (
	configFlag  = flag.String("config", "", "path to a YAML config file")
	keyWidth    = flag.Int("keywidth", 0, "key width in bytes")
	batchSize   = flag.Int("batch", 0, "keys inserted per iteration")
	iterations  = flag.Int("iterations", 0, "number of insert batches to run")
	seedFlag    = flag.Uint64("seed", 0, "PRNG seed")
	backendFlag = flag.String("backend", "", "store backend: memstore or sqlite")
	sqlitePath  = flag.String("sqlite", "", "sqlite database path, when -backend=sqlite")
	listenFlag  = flag.String("listen", "", "address to serve /debug/logs on")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig(*configFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	applyFlagOverrides(&cfg)

	console := logconsole.New(nil)
	log := slog.New(logconsole.MultiHandler(console, slog.NewTextHandler(os.Stderr, nil)))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	s := &http.Server{Addr: cfg.Listen, Handler: console}
	go func() {
		log.Info("serving debug logs", "addr", cfg.Listen)
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("debug log server exited", "err", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		s.Shutdown(shutdownCtx)
	}()

	if err := run(ctx, cfg, log, console); err != nil {
		log.Error("benchmark failed", "err", err)
		os.Exit(1)
	}
}

func applyFlagOverrides(cfg *config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "keywidth":
			cfg.KeyWidth = *keyWidth
		case "batch":
			cfg.BatchSize = *batchSize
		case "iterations":
			cfg.Iterations = *iterations
		case "seed":
			cfg.Seed = *seedFlag
		case "backend":
			cfg.Backend = *backendFlag
		case "sqlite":
			cfg.SQLitePath = *sqlitePath
		case "listen":
			cfg.Listen = *listenFlag
		}
	})
}

func openStore(cfg config) (csmt.Store, func(), error) {
	switch cfg.Backend {
	case "", "memstore":
		return memstore.New(), func() {}, nil
	case "sqlite":
		st, err := sqlite.Open(cfg.SQLitePath, prometheus.DefaultRegisterer)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return st, func() { st.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func run(ctx context.Context, cfg config, log *slog.Logger, console *logconsole.Handler) error {
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	tree, err := csmt.New[[]byte](store, cfg.KeyWidth, csmt.WithLogger[[]byte](log))
	if err != nil {
		return fmt.Errorf("opening tree: %w", err)
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))
	root := csmt.Hash{}
	start := time.Now()

	for i := 0; i < cfg.Iterations; i++ {
		select {
		case <-ctx.Done():
			log.Info("interrupted", "iteration", i)
			return nil
		default:
		}

		keys, values := prepareInserts(cfg.KeyWidth, cfg.BatchSize, rng)
		iterStart := time.Now()
		root, err = tree.Insert(ctx, root, keys, values)
		if err != nil {
			return fmt.Errorf("iteration %d: %w", i, err)
		}
		console.RecordRoot(root, len(keys), iterStart)
		log.Debug("iteration complete", "iteration", i, "root", root, "elapsed", time.Since(iterStart))
	}

	log.Info("benchmark complete",
		"iterations", cfg.Iterations,
		"batch_size", cfg.BatchSize,
		"elapsed", time.Since(start),
		"root", root)

	if cfg.Backend == "sqlite" {
		logStoreSize(ctx, store, log)
	}
	return nil
}

func prepareInserts(keyWidth, n int, rng *rand.Rand) ([][]byte, [][]byte) {
	keys := make([][]byte, n)
	values := make([][]byte, n)
	for i := 0; i < n; i++ {
		k := make([]byte, keyWidth)
		for j := range k {
			k[j] = byte(rng.IntN(256))
		}
		v := make([]byte, keyWidth)
		for j := range v {
			v[j] = byte(rng.IntN(256))
		}
		keys[i] = k
		values[i] = v
	}
	sortPaired(keys, values)
	return keys, values
}

// sortPaired sorts keys in place (carrying values along) the same way the
// Rust benchmark sorts its key batch before handing it to the tree.
func sortPaired(keys, values [][]byte) {
	sort.Sort(&pairedKeys{keys, values})
}

type pairedKeys struct {
	keys, values [][]byte
}

func (p *pairedKeys) Len() int           { return len(p.keys) }
func (p *pairedKeys) Less(i, j int) bool { return bytes.Compare(p.keys[i], p.keys[j]) < 0 }
func (p *pairedKeys) Swap(i, j int) {
	p.keys[i], p.keys[j] = p.keys[j], p.keys[i]
	p.values[i], p.values[j] = p.values[j], p.values[i]
}

func logStoreSize(ctx context.Context, store csmt.Store, log *slog.Logger) {
	pool, ok := store.Decompose().(*sqlitex.Pool)
	if !ok {
		return
	}
	conn := pool.Get(ctx)
	if conn == nil {
		return
	}
	defer pool.Put(conn)
	log.Debug("sqlite store open", "conn", conn)
}
