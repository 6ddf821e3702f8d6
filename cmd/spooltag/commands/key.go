// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/spooltag/cmd/spooltag/cli"
	"github.com/bureau-foundation/spooltag/lib/sealed"
	"github.com/bureau-foundation/spooltag/lib/secret"
)

func (s *streams) keyCommand() *cli.Command {
	return &cli.Command{
		Name:    "key",
		Summary: "Inspect, derive, and seal the masking key",
		Description: `Manage the key that masks tag data sections.

The key is configured in the key section of the configuration file:
an environment variable (default SPOOLTAG_MASK_KEY), a key file, or an
age-sealed key file opened with an identity file. Without any of them,
development configurations fall back to a built-in key and log a
warning. Masking is obfuscation, not encryption: the key keeps casual
readers from seeing the data, nothing more.`,
		Subcommands: []*cli.Command{
			s.keyStatusCommand(),
			s.keyDeriveCommand(),
			s.keyKeygenCommand(),
			s.keySealCommand(),
		},
	}
}

type keyStatusParams struct {
	globalParams
	cli.JSONOutput
}

type keyStatus struct {
	KeyID       string `json:"key_id"`
	Source      string `json:"source"`
	Bytes       int    `json:"bytes"`
	Locked      bool   `json:"locked"`
	Fallback    bool   `json:"fallback"`
	Environment string `json:"environment"`
}

func (s *streams) keyStatusCommand() *cli.Command {
	var params keyStatusParams
	return &cli.Command{
		Name:    "status",
		Summary: "Show which key is configured",
		Description: `Resolve the configured masking key and show its fingerprint and
source. The key itself is never printed.`,
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("status", &params) },
		Run: func(args []string) error {
			if len(args) > 0 {
				return cli.Validation("key status takes no arguments")
			}
			current, err := s.open(params.globalParams, "key/status")
			if err != nil {
				return err
			}
			defer current.Close()

			provider, err := current.key.Get()
			if err != nil {
				return err
			}
			status := keyStatus{
				KeyID:       provider.Fingerprint(),
				Source:      current.keySource,
				Bytes:       provider.Len(),
				Locked:      provider.Locked(),
				Fallback:    provider.Fallback(),
				Environment: string(current.config.Environment),
			}
			if done, err := params.EmitJSON(s.stdout, status); done {
				return err
			}
			fmt.Fprintf(s.stdout, "key id:      %s\n", status.KeyID)
			fmt.Fprintf(s.stdout, "source:      %s\n", status.Source)
			fmt.Fprintf(s.stdout, "length:      %d bytes\n", status.Bytes)
			fmt.Fprintf(s.stdout, "locked:      %t\n", status.Locked)
			fmt.Fprintf(s.stdout, "environment: %s\n", status.Environment)
			if status.Fallback {
				fmt.Fprintf(s.stdout, "\nThe development key is in use. Tags written with it are readable by\nanyone with this tool; configure key.env, key.file, or key.sealed_file.\n")
			}
			return nil
		},
	}
}

type keyDeriveParams struct {
	globalParams
	cli.JSONOutput
	UID    string `json:"uid"    flag:"uid"    desc:"tag UID in hex (required)"`
	Reveal bool   `json:"reveal" flag:"reveal" desc:"print the derived key bytes in hex"`
}

type derivedKey struct {
	UID    string `json:"uid"`
	KeyID  string `json:"key_id"`
	Parent string `json:"parent_key_id"`
	Key    string `json:"key,omitempty"`
}

func (s *streams) keyDeriveCommand() *cli.Command {
	var params keyDeriveParams
	return &cli.Command{
		Name:    "derive",
		Summary: "Derive the per-tag key for a UID",
		Description: `Derive the key used for one tag from the configured key and the tag
UID (HKDF-SHA256 with the UID as salt). The same derivation is used by
decode, encode, and inspect when --uid is given.`,
		Examples: []cli.Example{
			{Description: "Show the derived key id", Command: "spooltag key derive --uid 04:A2:2B:1C:5E:80"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("derive", &params) },
		Run: func(args []string) error {
			if len(args) > 0 {
				return cli.Validation("key derive takes no arguments")
			}
			if params.UID == "" {
				return cli.Validation("--uid is required")
			}
			uid, err := parseUID(params.UID)
			if err != nil {
				return err
			}
			current, err := s.open(params.globalParams, "key/derive")
			if err != nil {
				return err
			}
			defer current.Close()

			provider, err := current.key.Get()
			if err != nil {
				return err
			}
			derived, err := provider.DeriveForUID(uid)
			if err != nil {
				return cli.Validation("%w", err)
			}
			defer derived.Close()

			result := derivedKey{
				UID:    hex.EncodeToString(uid),
				KeyID:  derived.Fingerprint(),
				Parent: provider.Fingerprint(),
			}
			if params.Reveal {
				stream := derived.Keystream(derived.Len())
				result.Key = hex.EncodeToString(stream)
				secret.Zero(stream)
			}
			if done, err := params.EmitJSON(s.stdout, result); done {
				return err
			}
			fmt.Fprintf(s.stdout, "uid:    %s\nkey id: %s (from %s)\n", result.UID, result.KeyID, result.Parent)
			if result.Key != "" {
				fmt.Fprintf(s.stdout, "key:    %s\n", result.Key)
			}
			return nil
		},
	}
}

type keygenParams struct {
	Out string `json:"out" flag:"out,o" desc:"path for the new identity file (required, must not exist)"`
}

func (s *streams) keyKeygenCommand() *cli.Command {
	var params keygenParams
	return &cli.Command{
		Name:    "keygen",
		Summary: "Create an age identity for sealing keys",
		Description: `Generate an age X25519 identity. The private identity is written to
--out with mode 0600 and the public recipient is printed. Give the
recipient to "spooltag key seal" and point key.identity_file at the
identity file.`,
		Examples: []cli.Example{
			{Description: "Create a station identity", Command: "spooltag key keygen -o /etc/spooltag/identity.txt"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("keygen", &params) },
		Run: func(args []string) error {
			if len(args) > 0 {
				return cli.Validation("key keygen takes no arguments")
			}
			if params.Out == "" {
				return cli.Validation("--out is required")
			}
			identity, err := sealed.GenerateIdentity()
			if err != nil {
				return cli.Internal("%w", err)
			}
			defer identity.Close()

			file, err := os.OpenFile(params.Out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
			if errors.Is(err, fs.ErrExist) {
				return cli.Validation("%s already exists", params.Out)
			}
			if err != nil {
				return cli.Internal("creating identity file: %w", err)
			}
			if _, err := fmt.Fprintf(file, "# public key: %s\n%s\n", identity.Recipient, identity.Private.Bytes()); err != nil {
				file.Close()
				return cli.Internal("writing identity file: %w", err)
			}
			if err := file.Close(); err != nil {
				return cli.Internal("writing identity file: %w", err)
			}
			fmt.Fprintln(s.stdout, identity.Recipient)
			return nil
		},
	}
}

type sealParams struct {
	globalParams
	Recipients []string `json:"recipients" flag:"recipient,r" desc:"age recipient (repeatable, required)"`
	Out        string   `json:"out"        flag:"out,o"       desc:"write the sealed key here instead of stdout"`
}

func (s *streams) keySealCommand() *cli.Command {
	var params sealParams
	return &cli.Command{
		Name:    "seal",
		Summary: "Encrypt a masking key for storage",
		Description: `Encrypt a masking key to one or more age recipients. The key is read
from the given file, from the first line of stdin with "-", or, with no
argument, from the configured key source. The result is what
key.sealed_file expects.`,
		Usage: "spooltag key seal -r RECIPIENT [-o PATH] [path|-]",
		Examples: []cli.Example{
			{Description: "Seal the configured key", Command: "spooltag key seal -r age1... -o /etc/spooltag/mask.key.age"},
			{Description: "Seal a key from stdin", Command: "printf %s \"$KEY\" | spooltag key seal -r age1... -"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("seal", &params) },
		Run: func(args []string) error {
			if len(params.Recipients) == 0 {
				return cli.Validation("at least one --recipient is required")
			}
			for _, recipient := range params.Recipients {
				if err := sealed.ParseRecipient(recipient); err != nil {
					return cli.Validation("%w", err)
				}
			}
			if len(args) > 1 {
				return cli.Validation("expected at most one key path")
			}

			var (
				material *secret.Buffer
				err      error
			)
			if len(args) == 1 {
				material, err = s.readSecret(args[0])
			} else {
				var current *session
				current, err = s.open(params.globalParams, "key/seal")
				if err != nil {
					return err
				}
				defer current.Close()
				material, _, err = current.config.KeyMaterial(s.lookupEnv)
				if err == nil && material == nil {
					err = cli.Validation("no key is configured; pass a key path or \"-\"")
				}
			}
			if err != nil {
				return err
			}
			defer material.Close()

			sealedText, err := sealed.Seal(material.Bytes(), params.Recipients)
			if err != nil {
				return cli.Internal("%w", err)
			}
			if params.Out != "" && params.Out != "-" {
				if err := os.WriteFile(params.Out, sealedText, 0o600); err != nil {
					return cli.Internal("writing %s: %w", params.Out, err)
				}
				return nil
			}
			_, err = s.stdout.Write(sealedText)
			return err
		},
	}
}

// readSecret reads key material from path, or the first line of stdin
// for "-".
func (s *streams) readSecret(path string) (*secret.Buffer, error) {
	if path == "-" {
		buffer, err := secret.ReadFirstLine(s.stdin)
		if err != nil {
			return nil, cli.Validation("reading key: %w", err)
		}
		return buffer, nil
	}
	buffer, err := secret.ReadFromPath(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, cli.NotFound("key file %s does not exist", path)
	}
	if err != nil {
		return nil, cli.Validation("%w", err)
	}
	return buffer, nil
}
