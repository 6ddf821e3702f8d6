// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies command errors so scripts can tell bad
// input from a missing resource or a failure of the tool itself.
type ErrorCategory string

const (
	// CategoryValidation means the caller supplied bad input: wrong
	// argument count, unparseable flag values, malformed payloads.
	CategoryValidation ErrorCategory = "validation"

	// CategoryNotFound means a referenced file or record does not
	// exist.
	CategoryNotFound ErrorCategory = "not_found"

	// CategoryInternal is everything else: I/O failures, journal
	// errors, bugs.
	CategoryInternal ErrorCategory = "internal"
)

// ToolError is a categorized error. It prints as the wrapped error.
type ToolError struct {
	Category ErrorCategory
	Err      error
}

func (e *ToolError) Error() string { return e.Err.Error() }

func (e *ToolError) Unwrap() error { return e.Err }

// Validation reports bad input.
func Validation(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryValidation, Err: fmt.Errorf(format, args...)}
}

// NotFound reports a missing resource.
func NotFound(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryNotFound, Err: fmt.Errorf(format, args...)}
}

// Internal reports an unexpected failure.
func Internal(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryInternal, Err: fmt.Errorf(format, args...)}
}

// CategoryOf returns the category of the first ToolError in err's
// chain, or CategoryInternal when there is none.
func CategoryOf(err error) ErrorCategory {
	var toolError *ToolError
	if errors.As(err, &toolError) {
		return toolError.Category
	}
	return CategoryInternal
}
