// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"fmt"
	"io"

	"github.com/aibor/kvmhello/internal/machine"
	"github.com/c2h5oh/datasize"
)

// writeReport prints the identifiers and sizes of the acquired resources.
func writeReport(w io.Writer, m *machine.Machine) error {
	lines := []string{
		fmt.Sprintf("sys_fd = %d", m.DeviceFd()),
	}

	state := m.State()

	if state >= machine.StateVersionVerified {
		lines = append(lines, fmt.Sprintf("api_version = %d", m.APIVersion()))
	}

	if state >= machine.StateVMCreated {
		lines = append(lines, fmt.Sprintf("vm_fd = %d", m.VMFd()))
	}

	if state >= machine.StateMemoryRegistered {
		mem := m.Memory()
		lines = append(lines, fmt.Sprintf("guest_memory = %s at %#x",
			datasize.ByteSize(mem.Size()).HR(), mem.Addr()))
	}

	if state >= machine.StateVcpuCreated {
		lines = append(lines, fmt.Sprintf("vcpu_fd = %d", m.VcpuFd()))
	}

	if state >= machine.StateRunSizeKnown {
		lines = append(lines, fmt.Sprintf("vcpu_mmap_size = %d", m.RunSize()))
	}

	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}

	return nil
}
