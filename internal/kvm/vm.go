// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package kvm

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// VM is a handle on a KVM virtual machine.
type VM struct {
	sys Syscalls
	fd  int
}

// Fd returns the file descriptor of the VM. It is -1 after [VM.Close].
func (vm *VM) Fd() int {
	return vm.fd
}

// SetUserMemoryRegion registers host memory as guest physical memory.
//
// Regions that the kernel is certain to reject, like a zero size, a zero host
// address or addresses not aligned to the page size, fail with [unix.EINVAL]
// without the request being issued. The kernel does not verify that the host
// range is mapped, so that is checked up front and fails with [unix.ENOMEM].
func (vm *VM) SetUserMemoryRegion(region UserspaceMemoryRegion) error {
	err := region.Validate()
	if err == nil {
		err = vm.sys.CheckMapped(region.UserspaceAddr, region.MemorySize)
	}

	if err == nil {
		_, err = vm.sys.IoctlPtr(vm.fd, ReqSetUserMemoryRegion, unsafe.Pointer(&region))
	}

	if err != nil {
		return &OpError{
			Op:   fmt.Sprintf("%s slot %d", ReqSetUserMemoryRegion.Name, region.Slot),
			Kind: ErrMemoryRegistration,
			Err:  err,
		}
	}

	return nil
}

// CreateVcpu creates the vCPU with the given index.
func (vm *VM) CreateVcpu(id int) (*Vcpu, error) {
	if id < 0 {
		return nil, &OpError{
			Op:   ReqCreateVcpu.Name,
			Kind: ErrVcpuCreation,
			Err:  fmt.Errorf("%w: negative index %d", unix.EINVAL, id),
		}
	}

	fd, err := vm.sys.Ioctl(vm.fd, ReqCreateVcpu, uintptr(id))
	if err != nil {
		return nil, &OpError{
			Op:   fmt.Sprintf("%s %d", ReqCreateVcpu.Name, id),
			Kind: ErrVcpuCreation,
			Err:  err,
		}
	}

	return &Vcpu{sys: vm.sys, fd: fd, id: id}, nil
}

// Close closes the VM handle. The kernel keeps the VM alive as long as any
// of its vCPUs is open.
func (vm *VM) Close() error {
	return closeFd(vm.sys, &vm.fd)
}
