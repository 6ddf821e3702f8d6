// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tagdevice

import (
	"bytes"
	"context"
	"fmt"
	"sync"
)

// simulatedRecord is the structured payload a simulated reader
// returns, framed by bytes that are not a tag header.
const simulatedRecord = `{"name":"Bambu PLA","type":"PLA","color":"#FF0000","manufacturer":"Bambulab","density":1.24,"diameter":1.75,"nozzle_temp":210,"bed_temp":60,"remaining_length":240,"remaining_weight":1000}`

// Simulated returns the payload a simulated reader produces: a 4-byte
// preamble, a structured spool description, and a 4-byte trailer.
func Simulated() []byte {
	payload := make([]byte, 0, 8+len(simulatedRecord))
	payload = append(payload, 0x01, 0x02, 0x03, 0x04)
	payload = append(payload, simulatedRecord...)
	return append(payload, 0xFF, 0xFE, 0xFD, 0xFC)
}

// SimulatedUID is the UID reported by NewSimulated.
var SimulatedUID = []byte{0x04, 0x53, 0x49, 0x4D, 0x55, 0x4C, 0x41}

// Memory is an in-process Transport holding one tag's memory. It is
// used for simulation and tests, and is safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	present  bool
	data     []byte
	uid      []byte
	capacity int
	reads    int
}

// NewMemory returns an empty field. capacity bounds writes; zero means
// unbounded.
func NewMemory(capacity int) *Memory {
	return &Memory{capacity: capacity}
}

// NewSimulated returns a field holding the Simulated payload.
func NewSimulated() *Memory {
	memory := NewMemory(0)
	memory.Place(SimulatedUID, Simulated())
	return memory
}

// Place puts a tag with the given UID and contents in the field.
func (m *Memory) Place(uid, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.present = true
	m.uid = bytes.Clone(uid)
	m.data = bytes.Clone(data)
}

// Remove empties the field.
func (m *Memory) Remove() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.present = false
	m.uid = nil
	m.data = nil
}

// Contents returns a copy of the tag memory, or nil if the field is
// empty.
func (m *Memory) Contents() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.present {
		return nil
	}
	return bytes.Clone(m.data)
}

// Reads counts ReadRaw calls, including those that found no tag.
func (m *Memory) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

func (m *Memory) ReadRaw(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if !m.present {
		return nil, ErrNoTag
	}
	return bytes.Clone(m.data), nil
}

func (m *Memory) WriteRaw(ctx context.Context, image []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.present {
		return ErrNoTag
	}
	if m.capacity > 0 && len(image) > m.capacity {
		return fmt.Errorf("tagdevice: image is %d bytes, tag holds %d", len(image), m.capacity)
	}
	m.data = bytes.Clone(image)
	return nil
}

func (m *Memory) UID(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.present {
		return nil, ErrNoTag
	}
	return bytes.Clone(m.uid), nil
}
