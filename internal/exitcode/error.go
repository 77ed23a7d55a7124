// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package exitcode

import (
	"errors"
	"fmt"
)

// Process exit codes.
const (
	Success = 0
	Failure = 1
)

// Error is an exit code that is considered an error.
type Error int

func (e Error) Error() string {
	return fmt.Sprintf("non-zero exit code: %d", e)
}

func (Error) Is(other error) bool {
	_, ok := other.(Error)
	return ok
}

// Code returns the exit code as basic int type.
func (e Error) Code() int {
	return int(e)
}

// From returns the process exit code for the given error.
//
// If the error is nil, the exit code is [Success]. If the error is an [Error]
// the exit code is the return value of [Error.Code]. Otherwise the exit code
// is [Failure].
func From(err error) int {
	if err == nil {
		return Success
	}

	var exitErr Error
	if errors.As(err, &exitErr) {
		return exitErr.Code()
	}

	return Failure
}
