// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError asks main to exit with Code without printing anything:
// the command has already written its own report. inspect uses it to
// exit 2 on a low-confidence tag.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns Code. main checks for this method on returned
// errors.
func (e *ExitError) ExitCode() int {
	return e.Code
}
