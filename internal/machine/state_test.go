// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package machine_test

import (
	"testing"

	"github.com/aibor/kvmhello/internal/machine"
	"github.com/stretchr/testify/assert"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state    machine.State
		expected string
	}{
		{machine.StateUnopened, "Unopened"},
		{machine.StateDeviceOpen, "DeviceOpen"},
		{machine.StateVersionVerified, "VersionVerified"},
		{machine.StateVMCreated, "VmCreated"},
		{machine.StateMemoryRegistered, "MemoryRegistered"},
		{machine.StateVcpuCreated, "VcpuCreated"},
		{machine.StateRunSizeKnown, "RunSizeKnown"},
		{machine.StateRunMapped, "RunMapped"},
		{machine.State(42), "State(42)"},
		{machine.State(-1), "State(-1)"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}
