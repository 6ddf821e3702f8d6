// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package scanlog keeps a local SQLite journal of tag reads, writes,
// and offline decodes. Each entry stores the decoded record as a CBOR
// blob next to the columns used for lookup.
package scanlog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/spooltag/lib/clock"
	"github.com/bureau-foundation/spooltag/lib/codec"
	"github.com/bureau-foundation/spooltag/lib/spool"
	"github.com/bureau-foundation/spooltag/lib/sqlitepool"
)

// Operation names what produced an entry.
type Operation string

const (
	OperationRead   Operation = "read"
	OperationWrite  Operation = "write"
	OperationDecode Operation = "decode"
)

// Entry is one journal row.
type Entry struct {
	ID        int64     `json:"id"`
	Time      time.Time `json:"time"`
	Operation Operation `json:"operation"`

	// Source is a reader name or file path.
	Source string `json:"source,omitempty"`
	UID    []byte `json:"uid,omitempty"`

	Format      string `json:"format,omitempty"`
	Confidence  string `json:"confidence,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Corrections int    `json:"corrections"`

	// Record is nil when the operation failed.
	Record *spool.Record `json:"record,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// Config configures Open.
type Config struct {
	// Path is the database file, or sqlitepool.MemoryPath.
	Path string

	// Clock stamps entries appended without a Time. Nil selects
	// clock.Real().
	Clock clock.Clock

	Logger *slog.Logger
}

const schema = `
	CREATE TABLE IF NOT EXISTS scans (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		scanned_at  INTEGER NOT NULL,
		operation   TEXT NOT NULL,
		source      TEXT NOT NULL DEFAULT '',
		uid         BLOB,
		format      TEXT NOT NULL DEFAULT '',
		confidence  TEXT NOT NULL DEFAULT '',
		fingerprint TEXT NOT NULL DEFAULT '',
		corrections INTEGER NOT NULL DEFAULT 0,
		record      BLOB,
		error       TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_scans_time ON scans(scanned_at);
	CREATE INDEX IF NOT EXISTS idx_scans_fingerprint ON scans(fingerprint, scanned_at);
`

const selectColumns = `SELECT id, scanned_at, operation, source, uid, format,
	confidence, fingerprint, corrections, record, error FROM scans`

// Log is an open journal. It is safe for concurrent use.
type Log struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// Open opens or creates the journal at config.Path.
func Open(config Config) (*Log, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   config.Path,
		Schema: schema,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("scanlog: %w", err)
	}
	return &Log{pool: pool, clock: clk, logger: logger}, nil
}

// Close closes the journal.
func (l *Log) Close() error {
	return l.pool.Close()
}

// Append stores entry and returns its ID. A zero Time is replaced by
// the log's clock.
func (l *Log) Append(ctx context.Context, entry Entry) (int64, error) {
	if entry.Operation == "" {
		return 0, fmt.Errorf("scanlog: entry has no operation")
	}
	if entry.Time.IsZero() {
		entry.Time = l.clock.Now()
	}

	var recordBlob any
	if entry.Record != nil {
		data, err := codec.Marshal(entry.Record)
		if err != nil {
			return 0, fmt.Errorf("scanlog: encoding record: %w", err)
		}
		recordBlob = data
	}
	var uid any
	if len(entry.UID) > 0 {
		uid = entry.UID
	}

	conn, err := l.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("scanlog: append: %w", err)
	}
	defer l.pool.Put(conn)

	err = sqlitex.Execute(conn, `INSERT INTO scans
		(scanned_at, operation, source, uid, format, confidence, fingerprint, corrections, record, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			entry.Time.UnixNano(),
			string(entry.Operation),
			entry.Source,
			uid,
			entry.Format,
			entry.Confidence,
			entry.Fingerprint,
			entry.Corrections,
			recordBlob,
			entry.Error,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("scanlog: insert: %w", err)
	}
	id := conn.LastInsertRowID()
	l.logger.Debug("scan journaled", "id", id, "operation", string(entry.Operation), "fingerprint", entry.Fingerprint)
	return id, nil
}

// Recent returns up to limit entries, newest first. A limit of zero or
// less returns every entry.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	return l.query(ctx, selectColumns+` ORDER BY scanned_at DESC, id DESC LIMIT ?`, limit)
}

// ByFingerprint returns every entry for one record content, oldest
// first. The fingerprint is spool.Record.Fingerprint.
func (l *Log) ByFingerprint(ctx context.Context, fingerprint string) ([]Entry, error) {
	return l.query(ctx, selectColumns+` WHERE fingerprint = ? ORDER BY scanned_at, id`, fingerprint)
}

// Count returns the number of entries.
func (l *Log) Count(ctx context.Context) (int, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("scanlog: count: %w", err)
	}
	defer l.pool.Put(conn)

	count, err := sqlitex.ResultInt(conn.Prep("SELECT count(*) FROM scans"))
	if err != nil {
		return 0, fmt.Errorf("scanlog: count: %w", err)
	}
	return count, nil
}

func (l *Log) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanlog: query: %w", err)
	}
	defer l.pool.Put(conn)

	var entries []Entry
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entry, err := scanEntry(stmt)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("scanlog: query: %w", err)
	}
	return entries, nil
}

func scanEntry(stmt *sqlite.Stmt) (Entry, error) {
	// Columns: id(0), scanned_at(1), operation(2), source(3), uid(4),
	// format(5), confidence(6), fingerprint(7), corrections(8),
	// record(9), error(10)
	entry := Entry{
		ID:          stmt.ColumnInt64(0),
		Time:        time.Unix(0, stmt.ColumnInt64(1)),
		Operation:   Operation(stmt.ColumnText(2)),
		Source:      stmt.ColumnText(3),
		Format:      stmt.ColumnText(5),
		Confidence:  stmt.ColumnText(6),
		Fingerprint: stmt.ColumnText(7),
		Corrections: stmt.ColumnInt(8),
		Error:       stmt.ColumnText(10),
	}
	if !stmt.ColumnIsNull(4) {
		entry.UID = make([]byte, stmt.ColumnLen(4))
		stmt.ColumnBytes(4, entry.UID)
	}
	if !stmt.ColumnIsNull(9) {
		blob := make([]byte, stmt.ColumnLen(9))
		stmt.ColumnBytes(9, blob)
		var record spool.Record
		if err := codec.Unmarshal(blob, &record); err != nil {
			return entry, fmt.Errorf("decoding record for entry %d: %w", entry.ID, err)
		}
		entry.Record = &record
	}
	return entry, nil
}
