// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package kvm

import (
	"os"
	"slices"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Operations recorded by [FakeSyscalls] besides the request names.
const (
	FakeOpOpen          = "open"
	FakeOpClose         = "close"
	FakeOpMmapAnonymous = "mmap anonymous"
	FakeOpMmapShared    = "mmap shared"
	FakeOpMunmap        = "munmap"
	FakeOpCheckMapped   = "mincore"
)

// FakeRunSize is the run structure size [FakeSyscalls] reports by default.
const FakeRunSize = 3 * 4096

type fakeFdKind string

const (
	fakeFdSystem fakeFdKind = "system"
	fakeFdVM     fakeFdKind = "vm"
	fakeFdVcpu   fakeFdKind = "vcpu"
)

// FakeSyscalls simulates the KVM kernel interface.
//
// It records every call in Calls, hands out increasing file descriptors and
// keeps track of open descriptors and live mappings. Errors can be injected
// per operation with Fail, keyed by [Request.Name] or one of the FakeOp
// constants.
type FakeSyscalls struct {
	// Reported by KVM_GET_API_VERSION.
	APIVersion int
	// Reported by KVM_GET_VCPU_MMAP_SIZE.
	RunSize int
	// Errors to return for operations.
	Fail map[string]error

	mu       sync.Mutex
	calls    []string
	regions  []UserspaceMemoryRegion
	nextFd   int
	fds      map[int]fakeFdKind
	mappings map[uintptr][]byte
}

// NewFakeSyscalls returns a [FakeSyscalls] that behaves like a working KVM
// device.
func NewFakeSyscalls() *FakeSyscalls {
	return &FakeSyscalls{
		APIVersion: APIVersion,
		RunSize:    FakeRunSize,
		Fail:       map[string]error{},
		nextFd:     3,
		fds:        map[int]fakeFdKind{},
		mappings:   map[uintptr][]byte{},
	}
}

var _ Syscalls = (*FakeSyscalls)(nil)

// Calls returns the operations issued so far in order.
func (f *FakeSyscalls) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.calls)
}

// Regions returns the memory regions accepted so far.
func (f *FakeSyscalls) Regions() []UserspaceMemoryRegion {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.regions)
}

// OpenFds returns the number of open file descriptors.
func (f *FakeSyscalls) OpenFds() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.fds)
}

// LiveMappings returns the number of mappings not yet unmapped.
func (f *FakeSyscalls) LiveMappings() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.mappings)
}

func (f *FakeSyscalls) record(op string) error {
	f.calls = append(f.calls, op)
	return f.Fail[op]
}

func (f *FakeSyscalls) newFd(kind fakeFdKind) int {
	fd := f.nextFd
	f.nextFd++
	f.fds[fd] = kind

	return fd
}

func (f *FakeSyscalls) Open(_ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(FakeOpOpen); err != nil {
		return -1, err
	}

	return f.newFd(fakeFdSystem), nil
}

func (f *FakeSyscalls) Close(fd int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(FakeOpClose); err != nil {
		return err
	}

	if _, exists := f.fds[fd]; !exists {
		return unix.EBADF
	}

	delete(f.fds, fd)

	return nil
}

func (f *FakeSyscalls) checkFd(fd int, kind fakeFdKind) error {
	actual, exists := f.fds[fd]
	if !exists {
		return unix.EBADF
	}

	if actual != kind {
		return unix.ENOTTY
	}

	return nil
}

func (f *FakeSyscalls) Ioctl(fd int, req Request, arg uintptr) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(req.Name); err != nil {
		return -1, err
	}

	switch req {
	case ReqGetAPIVersion:
		if err := f.checkFd(fd, fakeFdSystem); err != nil {
			return -1, err
		}

		return f.APIVersion, nil
	case ReqCreateVM:
		if err := f.checkFd(fd, fakeFdSystem); err != nil {
			return -1, err
		}

		return f.newFd(fakeFdVM), nil
	case ReqGetVcpuMmapSize:
		if err := f.checkFd(fd, fakeFdSystem); err != nil {
			return -1, err
		}

		return f.RunSize, nil
	case ReqCreateVcpu:
		if err := f.checkFd(fd, fakeFdVM); err != nil {
			return -1, err
		}

		if arg > 1023 {
			return -1, unix.EINVAL
		}

		return f.newFd(fakeFdVcpu), nil
	default:
		return -1, unix.ENOTTY
	}
}

func (f *FakeSyscalls) IoctlPtr(fd int, req Request, arg unsafe.Pointer) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(req.Name); err != nil {
		return -1, err
	}

	if req != ReqSetUserMemoryRegion {
		return -1, unix.ENOTTY
	}

	if err := f.checkFd(fd, fakeFdVM); err != nil {
		return -1, err
	}

	if arg == nil {
		return -1, unix.EFAULT
	}

	region := *(*UserspaceMemoryRegion)(arg)

	if region.MemorySize == 0 {
		return -1, unix.EINVAL
	}

	if !f.isMapped(region.UserspaceAddr, region.MemorySize) {
		return -1, unix.EFAULT
	}

	for _, other := range f.regions {
		if other.Slot == region.Slot {
			return -1, unix.EEXIST
		}

		if region.GuestPhysAddr < other.GuestPhysAddr+other.MemorySize &&
			other.GuestPhysAddr < region.GuestPhysAddr+region.MemorySize {
			return -1, unix.EEXIST
		}
	}

	f.regions = append(f.regions, region)

	return 0, nil
}

func (f *FakeSyscalls) isMapped(addr, size uint64) bool {
	for start, mem := range f.mappings {
		end := uint64(start) + uint64(len(mem))
		if addr >= uint64(start) && addr+size <= end {
			return true
		}
	}

	return false
}

// pageAligned returns a page aligned buffer of the given length, as mmap
// would.
func pageAligned(length int) []byte {
	pageSize := os.Getpagesize()
	buf := make([]byte, length+pageSize)
	offset := (pageSize - int(uintptr(unsafe.Pointer(&buf[0])))%pageSize) % pageSize

	return buf[offset : offset+length : offset+length]
}

func (f *FakeSyscalls) mmap(op string, length int) ([]byte, error) {
	if err := f.record(op); err != nil {
		return nil, err
	}

	if length <= 0 {
		return nil, unix.EINVAL
	}

	mem := pageAligned(length)
	f.mappings[uintptr(unsafe.Pointer(&mem[0]))] = mem

	return mem, nil
}

func (f *FakeSyscalls) MmapAnonymous(length int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.mmap(FakeOpMmapAnonymous, length)
}

func (f *FakeSyscalls) MmapShared(fd int, length int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkFd(fd, fakeFdVcpu); err != nil {
		f.calls = append(f.calls, FakeOpMmapShared)
		return nil, unix.ENODEV
	}

	return f.mmap(FakeOpMmapShared, length)
}

func (f *FakeSyscalls) Munmap(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(FakeOpMunmap); err != nil {
		return err
	}

	if len(b) == 0 {
		return unix.EINVAL
	}

	start := uintptr(unsafe.Pointer(&b[0]))
	if _, exists := f.mappings[start]; !exists {
		return unix.EINVAL
	}

	delete(f.mappings, start)

	return nil
}

func (f *FakeSyscalls) CheckMapped(addr uint64, length uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(FakeOpCheckMapped); err != nil {
		return err
	}

	if length == 0 {
		return unix.EINVAL
	}

	if !f.isMapped(addr, length) {
		return unix.ENOMEM
	}

	return nil
}
