// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package kvm

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceUnavailable is returned if the KVM device can not be opened,
	// usually because it does not exist or permissions are missing.
	ErrDeviceUnavailable = errors.New("virtualization device unavailable")

	// ErrIncompatibleAPIVersion is returned if the kernel reports a KVM API
	// version other than [APIVersion] or the version can not be queried.
	ErrIncompatibleAPIVersion = errors.New("incompatible KVM API version")

	// ErrVMCreation is returned if the kernel refuses to create a VM.
	ErrVMCreation = errors.New("VM creation failed")

	// ErrMemoryMap is returned if the host mapping backing guest memory can
	// not be established.
	ErrMemoryMap = errors.New("guest memory mapping failed")

	// ErrMemoryRegistration is returned if a memory region is rejected.
	ErrMemoryRegistration = errors.New("memory region registration failed")

	// ErrVcpuCreation is returned if the kernel refuses to create a vCPU.
	ErrVcpuCreation = errors.New("vCPU creation failed")

	// ErrRunSizeQuery is returned if the size of the run structure can not be
	// determined.
	ErrRunSizeQuery = errors.New("run structure size query failed")

	// ErrRunStructureMap is returned if the run structure of a vCPU can not be
	// mapped.
	ErrRunStructureMap = errors.New("run structure mapping failed")

	// ErrZeroRunSize is returned along with [ErrRunSizeQuery] if the kernel
	// reports a run structure size of 0.
	ErrZeroRunSize = errors.New("kernel reported zero run structure size")
)

// OpError wraps any error of an operation on a KVM handle.
//
// Kind is one of the sentinel errors of this package, Err the underlying
// cause, usually a [unix.Errno]. Both can be matched with [errors.Is].
type OpError struct {
	Op   string
	Kind error
	Err  error
}

// Error implements the [error] interface.
func (e *OpError) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	case e.Kind == nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Is implements the [errors.Is] interface.
func (*OpError) Is(other error) bool {
	_, ok := other.(*OpError)
	return ok
}

// Unwrap implements the [errors.Unwrap] interface.
func (e *OpError) Unwrap() []error {
	errs := make([]error, 0, 2)

	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}

	if e.Err != nil {
		errs = append(errs, e.Err)
	}

	return errs
}
