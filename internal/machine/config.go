// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package machine

import (
	"fmt"
	"math"

	"github.com/aibor/kvmhello/internal/kvm"
	"github.com/c2h5oh/datasize"
)

// DefaultMemorySize is the size of the guest memory, one page.
const DefaultMemorySize = 4 * datasize.KB

// Config describes a bring-up.
type Config struct {
	// DevicePath is the path of the KVM control device.
	DevicePath string

	// MemorySize is the size of the guest memory region. It must be a
	// multiple of the host page size.
	MemorySize datasize.ByteSize

	// MemorySlot is the slot the memory region is registered in.
	MemorySlot uint32

	// GuestPhysAddr is the guest physical address the memory region starts
	// at.
	GuestPhysAddr uint64

	// VcpuID is the index of the vCPU to create.
	VcpuID int

	// Until is the state the bring-up stops at.
	Until State
}

// DefaultConfig returns a [Config] for the full bring-up with one page of
// memory at guest physical address 0 in slot 0 and vCPU 0.
func DefaultConfig() Config {
	return Config{
		DevicePath:    kvm.DevicePath,
		MemorySize:    DefaultMemorySize,
		MemorySlot:    0,
		GuestPhysAddr: 0,
		VcpuID:        0,
		Until:         StateRunMapped,
	}
}

// Validate checks the config for values that can never work.
//
// The memory region layout is not checked here. It is validated by the
// registration step so that it fails the same way the kernel would.
func (c Config) Validate() error {
	if c.DevicePath == "" {
		return ErrEmptyDevicePath
	}

	if !c.Until.valid() || c.Until == StateUnopened {
		return fmt.Errorf("%w: %s", ErrInvalidTargetState, c.Until)
	}

	if c.MemorySize.Bytes() > math.MaxInt {
		return fmt.Errorf("%w: %s", ErrMemorySizeTooLarge, c.MemorySize.HR())
	}

	if c.VcpuID < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidVcpuID, c.VcpuID)
	}

	return nil
}
