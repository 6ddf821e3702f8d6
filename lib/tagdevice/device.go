// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tagdevice connects the payload decoder and tag codec to a
// reader. A [Transport] moves raw bytes; a [Device] turns them into
// records, journals each operation, and verifies writes by reading the
// tag back.
package tagdevice

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/spooltag/lib/clock"
	"github.com/bureau-foundation/spooltag/lib/payload"
	"github.com/bureau-foundation/spooltag/lib/scanlog"
	"github.com/bureau-foundation/spooltag/lib/spool"
	"github.com/bureau-foundation/spooltag/lib/tagcodec"
)

// ErrNoTag is returned by a Transport when no tag is in the field.
var ErrNoTag = errors.New("tagdevice: no tag in field")

// ErrVerifyFailed is returned by Write when the bytes read back differ
// from the bytes written.
var ErrVerifyFailed = errors.New("tagdevice: read-back does not match written image")

// DefaultPollInterval is how long Scan waits between attempts when no
// tag is present.
const DefaultPollInterval = 250 * time.Millisecond

// Transport moves raw tag memory. Implementations return ErrNoTag
// (possibly wrapped) when the field is empty.
type Transport interface {
	ReadRaw(ctx context.Context) ([]byte, error)
	WriteRaw(ctx context.Context, image []byte) error
}

// UIDReader is implemented by transports that can report the UID of
// the tag in the field.
type UIDReader interface {
	UID(ctx context.Context) ([]byte, error)
}

// Journal records device operations. *scanlog.Log implements it.
type Journal interface {
	Append(ctx context.Context, entry scanlog.Entry) (int64, error)
}

// Config configures a Device.
type Config struct {
	// Name identifies the reader in journal entries.
	Name string

	Transport Transport
	Codec     *tagcodec.Codec

	// Journal is optional.
	Journal Journal

	// PollInterval is the wait between Scan attempts. Zero selects
	// DefaultPollInterval.
	PollInterval time.Duration

	// Clock drives Scan's waits. Nil selects clock.Real().
	Clock clock.Clock

	Logger *slog.Logger
}

// Device reads and programs tags through one transport. Calls are
// serialized by the caller; a Device does not lock the transport.
type Device struct {
	name         string
	transport    Transport
	codec        *tagcodec.Codec
	decoder      *payload.Decoder
	journal      Journal
	pollInterval time.Duration
	clock        clock.Clock
	logger       *slog.Logger
}

// New validates config and returns a Device.
func New(config Config) (*Device, error) {
	if config.Transport == nil {
		return nil, errors.New("tagdevice: Transport is required")
	}
	if config.Codec == nil {
		return nil, errors.New("tagdevice: Codec is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	pollInterval := config.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	name := config.Name
	if name == "" {
		name = "reader"
	}
	logger = logger.With("reader", name)
	return &Device{
		name:         name,
		transport:    config.Transport,
		codec:        config.Codec,
		decoder:      payload.NewDecoder(config.Codec, logger),
		journal:      config.Journal,
		pollInterval: pollInterval,
		clock:        clk,
		logger:       logger,
	}, nil
}

// Read decodes the tag currently in the field. It returns ErrNoTag if
// the field is empty. Short payloads carrying embedded structured data
// are accepted, as the decoder accepts them.
func (d *Device) Read(ctx context.Context) (*payload.Result, error) {
	raw, err := d.transport.ReadRaw(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoTag) {
			d.journalFailure(ctx, scanlog.OperationRead, nil, err)
		}
		return nil, err
	}
	uid := d.uid(ctx)

	result, err := d.decoder.DecodeDetailed(payload.Bytes(raw))
	if err != nil {
		d.journalFailure(ctx, scanlog.OperationRead, uid, err)
		return nil, err
	}
	d.logger.Info("tag read",
		"uid", hex.EncodeToString(uid),
		"format", result.Format.String(),
		"name", result.Record.Name,
		"type", string(result.Record.Type),
	)
	d.journalResult(ctx, scanlog.OperationRead, uid, result.Record, result.Format.String(), confidenceOf(result.Tag), len(result.Corrections))
	return result, nil
}

// Scan waits for a tag to enter the field and reads it. It polls the
// transport every PollInterval until a read succeeds, a non-ErrNoTag
// error occurs, or ctx is done.
func (d *Device) Scan(ctx context.Context) (*payload.Result, error) {
	for {
		result, err := d.Read(ctx)
		if !errors.Is(err, ErrNoTag) {
			return result, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-d.clock.After(d.pollInterval):
		}
	}
}

// Write encodes record, writes the image, and reads it back to verify.
// The returned Packed.Record is what the tag now stores.
func (d *Device) Write(ctx context.Context, record spool.Record) (*tagcodec.Packed, error) {
	packed, err := d.codec.Pack(record, 0)
	if err != nil {
		return nil, err
	}
	uid := d.uid(ctx)

	if err := d.transport.WriteRaw(ctx, packed.Image); err != nil {
		d.journalFailure(ctx, scanlog.OperationWrite, uid, err)
		return nil, fmt.Errorf("tagdevice: writing tag: %w", err)
	}
	readBack, err := d.transport.ReadRaw(ctx)
	if err != nil {
		d.journalFailure(ctx, scanlog.OperationWrite, uid, err)
		return nil, fmt.Errorf("tagdevice: reading back tag: %w", err)
	}
	if len(readBack) < len(packed.Image) || !bytes.Equal(readBack[:len(packed.Image)], packed.Image) {
		d.journalFailure(ctx, scanlog.OperationWrite, uid, ErrVerifyFailed)
		return nil, ErrVerifyFailed
	}

	d.logger.Info("tag programmed",
		"uid", hex.EncodeToString(uid),
		"name", packed.Record.Name,
		"type", string(packed.Record.Type),
		"corrections", len(packed.Corrections),
	)
	d.journalResult(ctx, scanlog.OperationWrite, uid, packed.Record, "image", tagcodec.High.String(), len(packed.Corrections))
	return packed, nil
}

func (d *Device) uid(ctx context.Context) []byte {
	reader, ok := d.transport.(UIDReader)
	if !ok {
		return nil
	}
	uid, err := reader.UID(ctx)
	if err != nil {
		d.logger.Debug("tag UID unavailable", "error", err)
		return nil
	}
	return uid
}

func confidenceOf(decoded *tagcodec.Decoded) string {
	if decoded == nil {
		return ""
	}
	return decoded.Integrity.Confidence().String()
}

func (d *Device) journalResult(ctx context.Context, operation scanlog.Operation, uid []byte, record spool.Record, format, confidence string, corrections int) {
	if d.journal == nil {
		return
	}
	fingerprint, err := record.Fingerprint()
	if err != nil {
		d.logger.Warn("fingerprinting record failed", "error", err)
	}
	d.append(ctx, scanlog.Entry{
		Operation:   operation,
		Source:      d.name,
		UID:         uid,
		Format:      format,
		Confidence:  confidence,
		Fingerprint: fingerprint,
		Corrections: corrections,
		Record:      &record,
	})
}

func (d *Device) journalFailure(ctx context.Context, operation scanlog.Operation, uid []byte, cause error) {
	if d.journal == nil {
		return
	}
	d.append(ctx, scanlog.Entry{
		Operation: operation,
		Source:    d.name,
		UID:       uid,
		Error:     cause.Error(),
	})
}

// append never fails the device operation; a journal outage is logged.
func (d *Device) append(ctx context.Context, entry scanlog.Entry) {
	if _, err := d.journal.Append(ctx, entry); err != nil {
		d.logger.Warn("journaling scan failed", "operation", string(entry.Operation), "error", err)
	}
}
