// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
)

// ReadFromPath reads key text from a file, or from stdin when path is
// "-" (first line only). Surrounding whitespace is trimmed. An empty
// source is an error. The caller owns the returned buffer.
func ReadFromPath(path string) (*Buffer, error) {
	if path == "-" {
		return ReadFirstLine(os.Stdin)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defer Zero(data)
	return fromTrimmed(data)
}

// ReadFirstLine reads the first line of reader as key text, trimmed.
func ReadFirstLine(reader io.Reader) (*Buffer, error) {
	scanner := bufio.NewScanner(reader)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return nil, fmt.Errorf("stdin is empty")
	}
	line := scanner.Bytes()
	defer Zero(line)
	return fromTrimmed(line)
}

func fromTrimmed(data []byte) (*Buffer, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("secret is empty")
	}
	return NewFromBytes(trimmed)
}
