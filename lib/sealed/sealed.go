// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed stores the tag masking key encrypted at rest with age.
// A sealed key file holds base64 age ciphertext addressed to one or
// more X25519 recipients; opening it needs a matching identity.
//
// Identities and opened keys live in *secret.Buffer values, so they
// stay out of the Go heap and are zeroed on Close.
package sealed

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"

	"github.com/bureau-foundation/spooltag/lib/secret"
)

// Identity is an age X25519 keypair.
type Identity struct {
	// Private holds the AGE-SECRET-KEY-1... string.
	Private *secret.Buffer
	// Recipient is the public age1... string.
	Recipient string
}

// Close zeroes and releases the private key. Idempotent.
func (i *Identity) Close() error {
	if i.Private != nil {
		return i.Private.Close()
	}
	return nil
}

// GenerateIdentity creates a new X25519 identity.
func GenerateIdentity() (*Identity, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("sealed: generating identity: %w", err)
	}
	// The string form stays on the heap until collected; the buffer is
	// the copy callers hold.
	private, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("sealed: protecting identity: %w", err)
	}
	return &Identity{Private: private, Recipient: identity.Recipient().String()}, nil
}

// Seal encrypts plaintext to every recipient and returns base64 text
// terminated by a newline.
func Seal(plaintext []byte, recipients []string) ([]byte, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("sealed: at least one recipient is required")
	}
	parsed := make([]age.Recipient, 0, len(recipients))
	for _, recipient := range recipients {
		value, err := age.ParseX25519Recipient(strings.TrimSpace(recipient))
		if err != nil {
			return nil, fmt.Errorf("sealed: parsing recipient %q: %w", recipient, err)
		}
		parsed = append(parsed, value)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, parsed...)
	if err != nil {
		return nil, fmt.Errorf("sealed: creating encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("sealed: encrypting: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("sealed: finalizing: %w", err)
	}

	encoded := base64.StdEncoding.AppendEncode(nil, ciphertext.Bytes())
	return append(encoded, '\n'), nil
}

// Open decrypts sealed text with identity, which holds identity file
// text: one or more AGE-SECRET-KEY-1... lines, with "#" comments
// allowed. identity is borrowed, not closed.
func Open(sealedText []byte, identity *secret.Buffer) (*secret.Buffer, error) {
	parsed, err := age.ParseIdentities(bytes.NewReader(identity.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("sealed: parsing identity: %w", err)
	}
	ciphertext, err := base64.StdEncoding.AppendDecode(nil, bytes.TrimSpace(sealedText))
	if err != nil {
		return nil, fmt.Errorf("sealed: decoding base64: %w", err)
	}
	reader, err := age.Decrypt(bytes.NewReader(ciphertext), parsed...)
	if err != nil {
		return nil, fmt.Errorf("sealed: decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("sealed: reading plaintext: %w", err)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("sealed: sealed key is empty")
	}
	buffer, err := secret.NewFromBytes(plaintext)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("sealed: protecting plaintext: %w", err)
	}
	return buffer, nil
}

// ParseRecipient checks that recipient is an age X25519 public key.
func ParseRecipient(recipient string) error {
	if _, err := age.ParseX25519Recipient(strings.TrimSpace(recipient)); err != nil {
		return fmt.Errorf("sealed: invalid recipient: %w", err)
	}
	return nil
}
