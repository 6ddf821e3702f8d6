// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"reflect"

	"github.com/alecthomas/chroma/v2/quick"
)

// JSONOutput adds --json to a params struct by embedding.
//
//	type historyParams struct {
//	    cli.JSONOutput
//	    Limit int `flag:"limit" desc:"entries to show" default:"20"`
//	}
//
//	if done, err := params.EmitJSON(stdout, entries); done {
//	    return err
//	}
type JSONOutput struct {
	OutputJSON bool `json:"-" flag:"json" desc:"output as JSON"`
}

// EmitJSON writes result to w when --json is set and reports whether
// it did. Nil slices are written as [].
func (j *JSONOutput) EmitJSON(w io.Writer, result any) (bool, error) {
	if !j.OutputJSON {
		return false, nil
	}
	return true, WriteJSON(w, normalizeNilSlice(result))
}

// WriteJSON writes value as indented JSON. On a terminal the output is
// syntax highlighted.
func WriteJSON(w io.Writer, value any) error {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(value); err != nil {
		return Internal("encoding JSON: %w", err)
	}
	if IsTerminal(w) {
		if err := quick.Highlight(w, buffer.String(), "json", "terminal256", "monokai"); err == nil {
			return nil
		}
	}
	_, err := w.Write(buffer.Bytes())
	return err
}

func normalizeNilSlice(value any) any {
	reflected := reflect.ValueOf(value)
	if reflected.Kind() == reflect.Slice && reflected.IsNil() {
		return reflect.MakeSlice(reflected.Type(), 0, 0).Interface()
	}
	return value
}
