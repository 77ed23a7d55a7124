// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package kvm

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// RunData mirrors the fixed header of struct kvm_run. The exit specific
// union and the synchronized registers follow it in the mapping.
type RunData struct {
	RequestInterruptWindow uint8
	ImmediateExit          uint8
	_                      [6]uint8

	ExitReason                 uint32
	ReadyForInterruptInjection uint8
	IFFlag                     uint8
	Flags                      uint16

	CR8      uint64
	APICBase uint64
}

// Vcpu is a handle on a virtual CPU of a [VM].
type Vcpu struct {
	sys Syscalls
	fd  int
	id  int
	run []byte
}

// Fd returns the file descriptor of the vCPU. It is -1 after [Vcpu.Close].
func (v *Vcpu) Fd() int {
	return v.fd
}

// ID returns the index the vCPU was created with.
func (v *Vcpu) ID() int {
	return v.id
}

// MapRun maps the run structure of the vCPU. The size must be the one
// reported by [System.VcpuMmapSize].
func (v *Vcpu) MapRun(size int) error {
	var err error

	switch {
	case v.run != nil:
		err = fmt.Errorf("%w: already mapped", unix.EEXIST)
	case size <= 0:
		err = fmt.Errorf("%w: invalid size %d", unix.EINVAL, size)
	default:
		v.run, err = v.sys.MmapShared(v.fd, size)
	}

	if err != nil {
		return &OpError{
			Op:   fmt.Sprintf("mmap vcpu %d run structure", v.id),
			Kind: ErrRunStructureMap,
			Err:  err,
		}
	}

	return nil
}

// RunSize returns the size of the mapped run structure, 0 if not mapped.
func (v *Vcpu) RunSize() int {
	return len(v.run)
}

// RunData returns a view on the mapped run structure header. It returns nil
// if the run structure is not mapped.
func (v *Vcpu) RunData() *RunData {
	if len(v.run) < int(unsafe.Sizeof(RunData{})) {
		return nil
	}

	return (*RunData)(unsafe.Pointer(&v.run[0]))
}

// Close unmaps the run structure and closes the vCPU.
func (v *Vcpu) Close() error {
	return errors.Join(
		unmap(v.sys, &v.run),
		closeFd(v.sys, &v.fd),
	)
}
