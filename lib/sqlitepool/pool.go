// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens zombiezen SQLite connection pools with the
// pragmas spooltag's local stores expect and applies a schema script
// to every connection as it is first used.
//
// Connections are not safe for concurrent use: each goroutine takes
// its own with [Pool.Take] and returns it with [Pool.Put].
package sqlitepool

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// MemoryPath opens a private in-memory database. Each Open gets its
// own database, shared by the pool's connections and discarded when
// the pool closes.
const MemoryPath = ":memory:"

var memoryDatabases atomic.Uint64

// memoryURI names a fresh shared-cache in-memory database. sqlitex
// refuses ":memory:" for pools because every connection would see a
// different database.
func memoryURI() string {
	return fmt.Sprintf("file:spooltag-memory-%d?mode=memory&cache=shared", memoryDatabases.Add(1))
}

// DefaultPoolSize is used when Config.PoolSize is not positive. Scan
// journals see one writer and an occasional reader.
const DefaultPoolSize = 2

// Config holds the parameters for opening a pool.
type Config struct {
	// Path is the database file, created if missing, or MemoryPath.
	Path string

	// PoolSize is the number of connections. Zero selects
	// DefaultPoolSize.
	PoolSize int

	// Schema is executed on every new connection after the pragmas.
	// It must be idempotent (CREATE ... IF NOT EXISTS).
	Schema string

	// Logger receives open and close messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// Pool wraps sqlitex.Pool.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA temp_store=MEMORY",
}

// Open creates the pool. Connections are initialized lazily on first
// Take, so schema errors surface there.
func Open(config Config) (*Pool, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("sqlitepool: Path is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poolSize := config.PoolSize
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	target := config.Path
	if config.Path == MemoryPath {
		target = memoryURI()
	}

	inner, err := sqlitex.NewPool(target, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn, config.Path, config.Schema)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", config.Path, err)
	}

	logger.Debug("sqlite pool opened", "path", config.Path, "pool_size", poolSize)
	return &Pool{inner: inner, logger: logger, path: config.Path}, nil
}

// Take borrows a connection, blocking until one is free or ctx is
// done. Return it with Put.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool. Put(nil) is a no-op.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Close waits for borrowed connections and closes them all.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.logger.Error("sqlite pool close error", "path", p.path, "error", err)
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	p.logger.Debug("sqlite pool closed", "path", p.path)
	return nil
}

func prepareConnection(conn *sqlite.Conn, path, schema string) error {
	for _, pragma := range pragmas {
		// In-memory databases report journal_mode=memory and ignore WAL.
		if path == MemoryPath && pragma == pragmas[0] {
			continue
		}
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
		}
	}
	if schema != "" {
		if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
			return fmt.Errorf("sqlitepool: applying schema: %w", err)
		}
	}
	return nil
}
