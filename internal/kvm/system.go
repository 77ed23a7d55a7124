// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package kvm

import (
	"fmt"
)

// DevicePath is the well-known path of the KVM control device.
const DevicePath = "/dev/kvm"

// System is an open handle on the KVM control device.
type System struct {
	sys  Syscalls
	path string
	fd   int
}

// Open opens the KVM control device at the given path.
func Open(sys Syscalls, path string) (*System, error) {
	fd, err := sys.Open(path)
	if err != nil {
		return nil, &OpError{
			Op:   "open " + path,
			Kind: ErrDeviceUnavailable,
			Err:  err,
		}
	}

	return &System{sys: sys, path: path, fd: fd}, nil
}

// Fd returns the file descriptor of the handle. It is -1 after [System.Close].
func (s *System) Fd() int {
	return s.fd
}

// Path returns the device path the handle was opened from.
func (s *System) Path() string {
	return s.path
}

// APIVersion queries the KVM API version of the kernel.
func (s *System) APIVersion() (int, error) {
	version, err := s.sys.Ioctl(s.fd, ReqGetAPIVersion, 0)
	if err != nil {
		return 0, &OpError{
			Op:   ReqGetAPIVersion.Name,
			Kind: ErrIncompatibleAPIVersion,
			Err:  err,
		}
	}

	return version, nil
}

// CheckAPIVersion queries the KVM API version and fails if it is not
// [APIVersion]. The queried version is returned in any case it could be
// queried.
func (s *System) CheckAPIVersion() (int, error) {
	version, err := s.APIVersion()
	if err != nil {
		return 0, err
	}

	if version != APIVersion {
		return version, &OpError{
			Op:   ReqGetAPIVersion.Name,
			Kind: ErrIncompatibleAPIVersion,
			Err:  fmt.Errorf("got %d, expected %d", version, APIVersion),
		}
	}

	return version, nil
}

// CreateVM creates a new VM with the default machine type.
func (s *System) CreateVM() (*VM, error) {
	fd, err := s.sys.Ioctl(s.fd, ReqCreateVM, 0)
	if err != nil {
		return nil, &OpError{
			Op:   ReqCreateVM.Name,
			Kind: ErrVMCreation,
			Err:  err,
		}
	}

	return &VM{sys: s.sys, fd: fd}, nil
}

// VcpuMmapSize returns the size of the run structure each vCPU maps. The
// value is the same for all vCPUs of a host. A size of 0 is reported as
// [ErrZeroRunSize].
func (s *System) VcpuMmapSize() (int, error) {
	size, err := s.sys.Ioctl(s.fd, ReqGetVcpuMmapSize, 0)
	if err != nil {
		return 0, &OpError{
			Op:   ReqGetVcpuMmapSize.Name,
			Kind: ErrRunSizeQuery,
			Err:  err,
		}
	}

	if size == 0 {
		return 0, &OpError{
			Op:   ReqGetVcpuMmapSize.Name,
			Kind: ErrRunSizeQuery,
			Err:  ErrZeroRunSize,
		}
	}

	return size, nil
}

// Close closes the handle. VMs created from it stay valid.
func (s *System) Close() error {
	return closeFd(s.sys, &s.fd)
}

func closeFd(sys Syscalls, fd *int) error {
	if *fd < 0 {
		return nil
	}

	err := sys.Close(*fd)
	if err != nil {
		return &OpError{Op: fmt.Sprintf("close fd %d", *fd), Err: err}
	}

	*fd = -1

	return nil
}
