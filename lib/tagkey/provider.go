// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tagkey supplies the key stream used to mask and unmask the
// data sections of a tag image.
//
// Masking is a byte-wise XOR with a cyclic expansion of the key. It
// makes tag contents reproducible for anyone holding the key and
// opaque to casual inspection; it is not encryption and offers no
// confidentiality against an adversary.
//
// Key material comes from configuration. When none is configured a
// [Provider] falls back to [DevelopmentKey], logs a warning, and
// reports [Provider.Fallback] so callers can refuse it in production.
package tagkey

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/hkdf"

	"github.com/bureau-foundation/spooltag/lib/secret"
)

// DevelopmentKey is the well-known fallback key used when no key is
// configured. Tags written with it are readable by every build of this
// software; it must never be relied on outside development.
const DevelopmentKey = "spooltag-development-key/NOT-FOR-PRODUCTION"

// DerivedKeySize is the length of a per-tag key produced by
// [Provider.DeriveForUID].
const DerivedKeySize = 16

// uidInfo is the HKDF context string for per-tag derivation.
var uidInfo = []byte("RFID-A\x00")

// ErrNoKey is returned by [Resolve] when no key material is supplied
// and the development fallback is disallowed.
var ErrNoKey = errors.New("tagkey: no masking key configured and development fallback is disabled")

// Options controls how key material is resolved.
type Options struct {
	// AllowFallback permits [DevelopmentKey] when material is empty.
	AllowFallback bool

	// Source describes where the material came from ("env
	// SPOOLTAG_MASK_KEY", "file /etc/spooltag/key"). Logged, never
	// interpreted.
	Source string

	// Logger receives the fallback warning and the resolution
	// summary. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// Provider holds resolved key material. It is immutable after
// construction and safe for concurrent use until Close.
type Provider struct {
	key         *secret.Buffer
	fallback    bool
	fingerprint string
}

// Resolve builds a Provider from raw key material. The material is
// copied into a [secret.Buffer] and then zeroed in place. Empty
// material selects [DevelopmentKey] when options.AllowFallback is set
// and returns [ErrNoKey] otherwise.
func Resolve(material []byte, options Options) (*Provider, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	fallback := len(material) == 0
	if fallback {
		if !options.AllowFallback {
			return nil, ErrNoKey
		}
		material = []byte(DevelopmentKey)
	}

	provider, err := newProvider(material, fallback)
	if err != nil {
		return nil, err
	}

	if fallback {
		logger.Warn("no masking key configured, using development key",
			"key_id", provider.fingerprint,
			"source", options.Source,
		)
	} else {
		logger.Debug("masking key loaded",
			"key_id", provider.fingerprint,
			"source", options.Source,
			"locked", provider.key.Locked(),
		)
	}
	return provider, nil
}

func newProvider(material []byte, fallback bool) (*Provider, error) {
	digest := blake3.Sum256(material)
	buffer, err := secret.NewFromBytes(material)
	if err != nil {
		return nil, fmt.Errorf("tagkey: storing key: %w", err)
	}
	return &Provider{
		key:         buffer,
		fallback:    fallback,
		fingerprint: hex.EncodeToString(digest[:8]),
	}, nil
}

// ParseHex decodes hex key text as found in an environment variable or
// key file. Whitespace, ":" and "-" separators, and a "0x" prefix are
// ignored.
func ParseHex(text string) ([]byte, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(strings.TrimPrefix(cleaned, "0x"), "0X")
	cleaned = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ':', '-':
			return -1
		}
		return r
	}, cleaned)
	if cleaned == "" {
		return nil, fmt.Errorf("tagkey: empty key")
	}
	key, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("tagkey: key is not hex: %w", err)
	}
	return key, nil
}

// Fallback reports whether the provider is using [DevelopmentKey].
func (p *Provider) Fallback() bool { return p.fallback }

// Fingerprint returns a short BLAKE3-based identifier for the key,
// suitable for logs. It does not reveal the key.
func (p *Provider) Fingerprint() string { return p.fingerprint }

// Len returns the key length in bytes.
func (p *Provider) Len() int { return p.key.Len() }

// Locked reports whether the key bytes are pinned in RAM.
func (p *Provider) Locked() bool { return p.key.Locked() }

// Keystream returns the first n bytes of the key stream: the key
// repeated cyclically. The result is a pure function of the key and n.
func (p *Provider) Keystream(n int) []byte {
	if n <= 0 {
		return nil
	}
	key := p.key.Bytes()
	stream := make([]byte, n)
	for index := range stream {
		stream[index] = key[index%len(key)]
	}
	return stream
}

// Apply XORs data in place with the key stream starting at absolute
// offset. Applying it twice with the same offset restores data.
func (p *Provider) Apply(data []byte, offset int) {
	key := p.key.Bytes()
	for index := range data {
		data[index] ^= key[(offset+index)%len(key)]
	}
}

// DeriveForUID derives a per-tag key from this key and a tag UID with
// HKDF-SHA256 (UID as salt). The derived provider inherits the
// fallback flag and must be closed separately.
func (p *Provider) DeriveForUID(uid []byte) (*Provider, error) {
	if len(uid) == 0 {
		return nil, fmt.Errorf("tagkey: empty tag UID")
	}
	reader := hkdf.New(sha256.New, p.key.Bytes(), uid, uidInfo)
	derived := make([]byte, DerivedKeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		return nil, fmt.Errorf("tagkey: deriving key: %w", err)
	}
	return newProvider(derived, p.fallback)
}

// Close releases the key material. The provider must not be used
// afterwards.
func (p *Provider) Close() error {
	return p.key.Close()
}

// Lazy resolves a Provider at most once, on first use, and hands the
// same result to every caller.
type Lazy struct {
	get func() (*Provider, error)
}

// NewLazy wraps resolve so it runs at most once.
func NewLazy(resolve func() (*Provider, error)) *Lazy {
	return &Lazy{get: sync.OnceValues(resolve)}
}

// Get returns the resolved provider, resolving it on the first call.
func (l *Lazy) Get() (*Provider, error) {
	return l.get()
}
