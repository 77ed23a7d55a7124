// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package kvm

import (
	"fmt"
	"unsafe"
)

// KVMIO is the ioctl type shared by all KVM requests.
const KVMIO = 0xAE

// APIVersion is the only KVM API version supported. The kernel documentation
// demands to refuse to run with any other value.
const APIVersion = 12

// Direction is the data direction of a [Request] payload as seen from user
// space.
type Direction uint8

// Request payload directions.
const (
	DirNone      Direction = 0
	DirWrite     Direction = 1
	DirRead      Direction = 2
	DirReadWrite Direction = DirWrite | DirRead
)

func (d Direction) String() string {
	switch d {
	case DirNone:
		return "none"
	case DirWrite:
		return "write"
	case DirRead:
		return "read"
	case DirReadWrite:
		return "read-write"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

const (
	iocNrBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

// Request describes a KVM ioctl by its sequence number, payload direction
// and payload size, as defined in linux/kvm.h.
type Request struct {
	Name string
	Nr   uint8
	Dir  Direction
	// Size of the payload in bytes. Zero for requests without payload or with
	// a scalar argument passed by value.
	Size uintptr
}

// Code returns the request number to pass to ioctl(2).
func (r Request) Code() uint {
	return uint(r.Dir)<<iocDirShift |
		uint(r.Size)<<iocSizeShift |
		uint(KVMIO)<<iocTypeShift |
		uint(r.Nr)<<iocNrShift
}

func (r Request) String() string {
	return fmt.Sprintf("%s(%#x)", r.Name, r.Code())
}

var (
	// ReqGetAPIVersion is KVM_GET_API_VERSION, issued on the system handle.
	ReqGetAPIVersion = Request{Name: "KVM_GET_API_VERSION", Nr: 0x00}

	// ReqCreateVM is KVM_CREATE_VM, issued on the system handle. The
	// argument is the machine type.
	ReqCreateVM = Request{Name: "KVM_CREATE_VM", Nr: 0x01}

	// ReqGetVcpuMmapSize is KVM_GET_VCPU_MMAP_SIZE, issued on the system
	// handle.
	ReqGetVcpuMmapSize = Request{Name: "KVM_GET_VCPU_MMAP_SIZE", Nr: 0x04}

	// ReqCreateVcpu is KVM_CREATE_VCPU, issued on the VM handle. The argument
	// is the vCPU index.
	ReqCreateVcpu = Request{Name: "KVM_CREATE_VCPU", Nr: 0x41}

	// ReqSetUserMemoryRegion is KVM_SET_USER_MEMORY_REGION, issued on the VM
	// handle with a [UserspaceMemoryRegion] payload.
	ReqSetUserMemoryRegion = Request{
		Name: "KVM_SET_USER_MEMORY_REGION",
		Nr:   0x46,
		Dir:  DirWrite,
		Size: unsafe.Sizeof(UserspaceMemoryRegion{}),
	}
)

// Requests lists all requests used by this package.
var Requests = []Request{
	ReqGetAPIVersion,
	ReqCreateVM,
	ReqGetVcpuMmapSize,
	ReqCreateVcpu,
	ReqSetUserMemoryRegion,
}
