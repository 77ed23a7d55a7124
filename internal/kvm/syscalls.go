// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package kvm

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Syscalls is the kernel interface the handles of this package use.
type Syscalls interface {
	// Open opens the device at path for reading and writing.
	Open(path string) (int, error)
	// Close closes the file descriptor.
	Close(fd int) error
	// Ioctl issues a request with a scalar argument and returns the
	// non-negative result.
	Ioctl(fd int, req Request, arg uintptr) (int, error)
	// IoctlPtr issues a request with a pointer to a payload.
	IoctlPtr(fd int, req Request, arg unsafe.Pointer) (int, error)
	// MmapAnonymous creates a shared, anonymous read-write mapping.
	MmapAnonymous(length int) ([]byte, error)
	// MmapShared maps the file descriptor shared and read-write at offset 0.
	MmapShared(fd int, length int) ([]byte, error)
	// Munmap removes a mapping created by one of the Mmap methods.
	Munmap(b []byte) error
	// CheckMapped fails with [unix.ENOMEM] if any page in the range starting
	// at the page aligned addr is not mapped in the process.
	CheckMapped(addr uint64, length uint64) error
}

// Host is the [Syscalls] implementation for the running kernel.
var Host Syscalls = hostSyscalls{}

type hostSyscalls struct{}

func (hostSyscalls) Open(path string) (int, error) {
	return unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
}

func (hostSyscalls) Close(fd int) error {
	return unix.Close(fd)
}

func (hostSyscalls) Ioctl(fd int, req Request, arg uintptr) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req.Code()), arg)
	if errno != 0 {
		return -1, errno
	}

	return int(r), nil
}

func (hostSyscalls) IoctlPtr(fd int, req Request, arg unsafe.Pointer) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req.Code()), uintptr(arg))
	if errno != 0 {
		return -1, errno
	}

	return int(r), nil
}

func (hostSyscalls) MmapAnonymous(length int) ([]byte, error) {
	return unix.Mmap(
		-1,
		0,
		length,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_ANONYMOUS,
	)
}

func (hostSyscalls) MmapShared(fd int, length int) ([]byte, error) {
	return unix.Mmap(
		fd,
		0,
		length,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
}

func (hostSyscalls) Munmap(b []byte) error {
	return unix.Munmap(b)
}

func (hostSyscalls) CheckMapped(addr uint64, length uint64) error {
	if length == 0 {
		return unix.EINVAL
	}

	pageSize := uint64(unix.Getpagesize())
	vec := make([]byte, (length+pageSize-1)/pageSize)

	_, _, errno := unix.Syscall(
		unix.SYS_MINCORE,
		uintptr(addr),
		uintptr(length),
		uintptr(unsafe.Pointer(&vec[0])),
	)
	if errno != 0 {
		return errno
	}

	return nil
}
