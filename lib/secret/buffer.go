// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds masking key material in memory that lives
// outside the Go heap.
//
// Buffer allocates its bytes via mmap(MAP_ANONYMOUS), asks the kernel
// to keep them out of swap (mlock) and out of core dumps
// (MADV_DONTDUMP), and zeroes them on Close. Locking is best-effort:
// unprivileged processes often run with a small RLIMIT_MEMLOCK, and a
// tag key is not worth refusing to start over. [Buffer.Locked] reports
// whether the lock took.
package secret

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer holds key bytes in an anonymous mapping. A Buffer must not be
// copied after creation. After Close, Bytes panics.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	length int
	locked bool
	closed bool
}

// New allocates a zero-filled buffer of size bytes. The caller must
// call Close when the key is no longer needed.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap failed: %w", err)
	}

	locked := unix.Mlock(data) == nil

	// MADV_DONTDUMP is missing on some kernels; the mapping is still
	// usable without it.
	_ = unix.Madvise(data, unix.MADV_DONTDUMP)

	return &Buffer{
		data:   data,
		length: size,
		locked: locked,
	}, nil
}

// NewFromBytes copies source into a new buffer and zeroes source, so
// the caller's slice no longer holds the key.
func NewFromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("secret: cannot create buffer from empty source")
	}

	buffer, err := New(len(source))
	if err != nil {
		return nil, err
	}
	copy(buffer.data, source)
	Zero(source)
	return buffer, nil
}

// Bytes returns the key bytes. The slice points into the mapping and
// must not be retained past Close. Panics if the buffer is closed.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		panic("secret: read from closed buffer")
	}
	return b.data[:b.length]
}

// Len returns the size of the key material.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.length
}

// Locked reports whether the mapping is pinned in RAM.
func (b *Buffer) Locked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.locked
}

// Close zeroes the buffer, then unlocks and unmaps it. Close is
// idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	Zero(b.data)

	var firstError error
	if b.locked {
		if err := unix.Munlock(b.data); err != nil {
			firstError = fmt.Errorf("secret: munlock failed: %w", err)
		}
	}
	if err := unix.Munmap(b.data); err != nil && firstError == nil {
		firstError = fmt.Errorf("secret: munmap failed: %w", err)
	}

	b.data = nil
	return firstError
}

// Zero overwrites data with zeros.
func Zero(data []byte) {
	clear(data)
}
