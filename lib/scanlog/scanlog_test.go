// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package scanlog

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/spooltag/lib/clock"
	"github.com/bureau-foundation/spooltag/lib/spool"
	"github.com/bureau-foundation/spooltag/lib/sqlitepool"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestLog(t *testing.T) (*Log, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(epoch)
	log, err := Open(Config{Path: filepath.Join(t.TempDir(), "scans.db"), Clock: fake})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := log.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return log, fake
}

func testRecord(name string) *spool.Record {
	record := spool.Default()
	record.Name = name
	record.Serial = "SN-" + name
	record.ManufactureDate = 1700000000
	return &record
}

func TestAppendAndRecent(t *testing.T) {
	log, fake := openTestLog(t)
	ctx := context.Background()

	first, err := log.Append(ctx, Entry{
		Operation:   OperationRead,
		Source:      "memory",
		UID:         []byte{0x04, 0xA1, 0xB2},
		Format:      "image",
		Confidence:  "high",
		Fingerprint: "aaaa",
		Record:      testRecord("first"),
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	fake.Advance(time.Minute)
	second, err := log.Append(ctx, Entry{
		Operation: OperationDecode,
		Source:    "tag.bin",
		Error:     "decoding tag payload: payload too short",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if second <= first {
		t.Errorf("IDs not increasing: %d then %d", first, second)
	}

	entries, err := log.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Recent returned %d entries, want 2", len(entries))
	}

	newest, oldest := entries[0], entries[1]
	if newest.ID != second || newest.Record != nil || newest.Error == "" {
		t.Errorf("newest = %+v, want failed decode entry", newest)
	}
	if !newest.Time.Equal(epoch.Add(time.Minute)) {
		t.Errorf("newest.Time = %v, want %v", newest.Time, epoch.Add(time.Minute))
	}
	if newest.UID != nil {
		t.Errorf("newest.UID = %x, want nil", newest.UID)
	}

	if oldest.ID != first || oldest.Operation != OperationRead {
		t.Errorf("oldest = %+v", oldest)
	}
	if !bytes.Equal(oldest.UID, []byte{0x04, 0xA1, 0xB2}) {
		t.Errorf("oldest.UID = %x", oldest.UID)
	}
	if oldest.Record == nil || *oldest.Record != *testRecord("first") {
		t.Errorf("oldest.Record = %+v, want %+v", oldest.Record, testRecord("first"))
	}
	if !oldest.Time.Equal(epoch) {
		t.Errorf("oldest.Time = %v, want %v", oldest.Time, epoch)
	}
}

func TestRecentLimit(t *testing.T) {
	log, fake := openTestLog(t)
	ctx := context.Background()
	for range 5 {
		if _, err := log.Append(ctx, Entry{Operation: OperationRead}); err != nil {
			t.Fatalf("Append: %v", err)
		}
		fake.Advance(time.Second)
	}

	limited, err := log.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(limited) != 3 {
		t.Errorf("Recent(3) returned %d entries", len(limited))
	}
	all, err := log.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("Recent(0) returned %d entries, want 5", len(all))
	}
	count, err := log.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 5 {
		t.Errorf("Count = %d, want 5", count)
	}
}

func TestByFingerprint(t *testing.T) {
	log, fake := openTestLog(t)
	ctx := context.Background()
	for _, fingerprint := range []string{"one", "two", "one"} {
		if _, err := log.Append(ctx, Entry{Operation: OperationWrite, Fingerprint: fingerprint}); err != nil {
			t.Fatalf("Append: %v", err)
		}
		fake.Advance(time.Second)
	}

	entries, err := log.ByFingerprint(ctx, "one")
	if err != nil {
		t.Fatalf("ByFingerprint: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ByFingerprint returned %d entries, want 2", len(entries))
	}
	if !entries[0].Time.Before(entries[1].Time) {
		t.Errorf("entries not oldest first: %v, %v", entries[0].Time, entries[1].Time)
	}

	none, err := log.ByFingerprint(ctx, "missing")
	if err != nil {
		t.Fatalf("ByFingerprint: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("ByFingerprint(missing) returned %d entries", len(none))
	}
}

func TestInMemoryLog(t *testing.T) {
	log, err := Open(Config{Path: sqlitepool.MemoryPath, Clock: clock.Fake(epoch)})
	if err != nil {
		t.Fatalf("Open in-memory journal: %v", err)
	}
	defer log.Close()

	ctx := context.Background()
	if _, err := log.Append(ctx, Entry{Operation: OperationDecode, Record: testRecord("memory")}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	entries, err := log.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Record == nil || entries[0].Record.Name != "memory" {
		t.Errorf("entries = %+v, want the one appended record", entries)
	}
}

func TestAppendRequiresOperation(t *testing.T) {
	log, _ := openTestLog(t)
	if _, err := log.Append(context.Background(), Entry{}); err == nil {
		t.Fatal("Append accepted an entry without an operation")
	}
}

func TestAppendKeepsExplicitTime(t *testing.T) {
	log, _ := openTestLog(t)
	ctx := context.Background()
	explicit := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
	if _, err := log.Append(ctx, Entry{Operation: OperationRead, Time: explicit}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	entries, err := log.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if !entries[0].Time.Equal(explicit) {
		t.Errorf("Time = %v, want %v", entries[0].Time, explicit)
	}
}

func TestConcurrentAppend(t *testing.T) {
	log, _ := openTestLog(t)
	ctx := context.Background()

	const writers = 8
	var waitGroup sync.WaitGroup
	errs := make(chan error, writers)
	for range writers {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			if _, err := log.Append(ctx, Entry{Operation: OperationRead, Record: testRecord("concurrent")}); err != nil {
				errs <- err
			}
		}()
	}
	waitGroup.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	count, err := log.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != writers {
		t.Errorf("Count = %d, want %d", count, writers)
	}
}
