// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/spooltag/cmd/spooltag/cli"
	"github.com/bureau-foundation/spooltag/lib/codec"
	"github.com/bureau-foundation/spooltag/lib/payload"
	"github.com/bureau-foundation/spooltag/lib/tagkey"
)

// maxInputSize bounds what a command reads from a file or stdin. Tag
// images are 516 bytes; the slack covers JSON and hex renderings.
const maxInputSize = 1 << 20

// inputParams selects how command input is interpreted.
type inputParams struct {
	Input string `json:"input" flag:"input,i" desc:"input interpretation: auto, binary, text, yaml, or cbor" default:"auto"`
}

// readSource reads the single optional positional argument (a path, or
// "-" for stdin) and returns its bytes with a label for logs and the
// journal.
func (s *streams) readSource(args []string) ([]byte, string, error) {
	if len(args) > 1 {
		return nil, "", cli.Validation("expected at most one input path, got %d arguments", len(args))
	}
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(io.LimitReader(s.stdin, maxInputSize+1))
		if err != nil {
			return nil, "", cli.Internal("reading stdin: %w", err)
		}
		if len(data) > maxInputSize {
			return nil, "", cli.Validation("stdin exceeds %d bytes", maxInputSize)
		}
		return data, "stdin", nil
	}
	path := args[0]
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", cli.NotFound("input %s does not exist", path)
	}
	if err != nil {
		return nil, "", cli.Internal("reading %s: %w", path, err)
	}
	if info.Size() > maxInputSize {
		return nil, "", cli.Validation("input %s is %d bytes, limit %d", path, info.Size(), maxInputSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", cli.Internal("reading %s: %w", path, err)
	}
	return data, path, nil
}

// interpret turns raw input bytes into a decoder input.
func interpret(data []byte, mode string) (payload.Input, error) {
	switch mode {
	case "", "auto":
		return payload.Sniff(data), nil
	case "binary":
		return payload.Bytes(data), nil
	case "text":
		return payload.Text(string(data)), nil
	case "yaml":
		var values map[string]any
		if err := yaml.Unmarshal(data, &values); err != nil {
			return payload.Input{}, cli.Validation("parsing YAML input: %w", err)
		}
		if values == nil {
			values = map[string]any{}
		}
		return payload.Mapping(values), nil
	case "cbor":
		var values map[string]any
		if err := codec.Unmarshal(data, &values); err != nil {
			return payload.Input{}, cli.Validation("parsing CBOR input: %w", err)
		}
		if values == nil {
			values = map[string]any{}
		}
		return payload.Mapping(values), nil
	default:
		return payload.Input{}, cli.Validation("unknown input interpretation %q", mode)
	}
}

// parseUID decodes a --uid flag value. An empty value means no UID.
func parseUID(text string) ([]byte, error) {
	if text == "" {
		return nil, nil
	}
	uid, err := tagkey.ParseHex(text)
	if err != nil {
		return nil, cli.Validation("--uid: %w", err)
	}
	if len(uid) > 10 {
		return nil, cli.Validation("--uid: %d bytes is longer than any ISO 14443 UID", len(uid))
	}
	return uid, nil
}

// writeOutput writes data to path, or to stdout when path is empty or
// "-".
func (s *streams) writeOutput(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := s.stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return cli.Internal("writing %s: %w", path, err)
	}
	return nil
}

func plural(count int, word string) string {
	if count == 1 {
		return fmt.Sprintf("1 %s", word)
	}
	return fmt.Sprintf("%d %ss", count, word)
}
