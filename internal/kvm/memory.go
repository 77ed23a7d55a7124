// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package kvm

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Memory region flags.
const (
	MemLogDirtyPages uint32 = 1 << 0
	MemReadonly      uint32 = 1 << 1
)

// UserspaceMemoryRegion mirrors struct kvm_userspace_memory_region.
type UserspaceMemoryRegion struct {
	Slot          uint32
	Flags         uint32
	GuestPhysAddr uint64
	MemorySize    uint64
	UserspaceAddr uint64
}

// Validate checks the region for values the kernel is certain to reject.
func (r UserspaceMemoryRegion) Validate() error {
	errs := r.layoutErrors()

	if r.UserspaceAddr == 0 {
		errs = append(errs, errors.New("no host address"))
	} else if r.UserspaceAddr%uint64(os.Getpagesize()) != 0 {
		errs = append(errs, fmt.Errorf("host address %#x not page aligned", r.UserspaceAddr))
	}

	return joinInvalid(errs)
}

// ValidateLayout is like [UserspaceMemoryRegion.Validate] but ignores the
// host address, so a region can be checked before its memory is mapped.
func (r UserspaceMemoryRegion) ValidateLayout() error {
	return joinInvalid(r.layoutErrors())
}

func (r UserspaceMemoryRegion) layoutErrors() []error {
	pageSize := uint64(os.Getpagesize())

	var errs []error

	if r.MemorySize == 0 {
		errs = append(errs, errors.New("memory size is zero"))
	} else if r.MemorySize%pageSize != 0 {
		errs = append(errs, fmt.Errorf("memory size %#x not page aligned", r.MemorySize))
	}

	if r.GuestPhysAddr%pageSize != 0 {
		errs = append(errs, fmt.Errorf("guest physical address %#x not page aligned", r.GuestPhysAddr))
	}

	if r.Flags&^(MemLogDirtyPages|MemReadonly) != 0 {
		errs = append(errs, fmt.Errorf("unknown flags %#x", r.Flags))
	}

	return errs
}

func joinInvalid(errs []error) error {
	if len(errs) == 0 {
		return nil
	}

	return fmt.Errorf("%w: %w", unix.EINVAL, errors.Join(errs...))
}

// GuestMemory is a host memory mapping that backs guest physical memory.
type GuestMemory struct {
	sys Syscalls
	mem []byte
}

// AllocateGuestMemory creates an anonymous shared read-write mapping of the
// given size.
func AllocateGuestMemory(sys Syscalls, size int) (*GuestMemory, error) {
	mem, err := sys.MmapAnonymous(size)
	if err != nil {
		return nil, &OpError{
			Op:   fmt.Sprintf("mmap %d bytes", size),
			Kind: ErrMemoryMap,
			Err:  err,
		}
	}

	return &GuestMemory{sys: sys, mem: mem}, nil
}

// Addr returns the host virtual address of the mapping. It is 0 after
// [GuestMemory.Close].
func (m *GuestMemory) Addr() uint64 {
	if len(m.mem) == 0 {
		return 0
	}

	return uint64(uintptr(unsafe.Pointer(&m.mem[0])))
}

// Size returns the size of the mapping in bytes.
func (m *GuestMemory) Size() int {
	return len(m.mem)
}

// Region returns a [UserspaceMemoryRegion] for the whole mapping placed at the
// given guest physical address.
func (m *GuestMemory) Region(slot uint32, guestPhysAddr uint64) UserspaceMemoryRegion {
	return UserspaceMemoryRegion{
		Slot:          slot,
		GuestPhysAddr: guestPhysAddr,
		MemorySize:    uint64(len(m.mem)),
		UserspaceAddr: m.Addr(),
	}
}

// Close removes the mapping. A VM the memory is registered with must not run
// anymore.
func (m *GuestMemory) Close() error {
	return unmap(m.sys, &m.mem)
}

func unmap(sys Syscalls, mem *[]byte) error {
	if *mem == nil {
		return nil
	}

	err := sys.Munmap(*mem)
	if err != nil {
		return &OpError{Op: fmt.Sprintf("munmap %d bytes", len(*mem)), Err: err}
	}

	*mem = nil

	return nil
}
