// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package machine

import "errors"

var (
	// ErrEmptyDevicePath is returned if no device path is configured.
	ErrEmptyDevicePath = errors.New("device path must not be empty")

	// ErrInvalidTargetState is returned if the configured terminal state is
	// not a state that can be reached.
	ErrInvalidTargetState = errors.New("invalid target state")

	// ErrMemorySizeTooLarge is returned if the memory size can not be mapped
	// on the host.
	ErrMemorySizeTooLarge = errors.New("memory size too large")

	// ErrInvalidVcpuID is returned for negative vCPU indexes.
	ErrInvalidVcpuID = errors.New("invalid vCPU index")
)

// StepError wraps the error of a failed bring-up step.
type StepError struct {
	// Step is the name of the failed step.
	Step string
	// Reached is the last state reached before the step failed.
	Reached State
	Err     error
}

// Error implements the [error] interface.
func (e *StepError) Error() string {
	return e.Step + ": " + e.Err.Error()
}

// Is implements the [errors.Is] interface.
func (*StepError) Is(other error) bool {
	_, ok := other.(*StepError)
	return ok
}

// Unwrap implements the [errors.Unwrap] interface.
func (e *StepError) Unwrap() error {
	return e.Err
}
