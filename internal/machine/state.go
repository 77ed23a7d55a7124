// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package machine

import "fmt"

// State is a stage of the bring-up. States are only ever advanced in order.
type State int

// Bring-up states in the order they are reached.
const (
	StateUnopened State = iota
	StateDeviceOpen
	StateVersionVerified
	StateVMCreated
	StateMemoryRegistered
	StateVcpuCreated
	StateRunSizeKnown
	StateRunMapped
)

var stateNames = [...]string{
	StateUnopened:         "Unopened",
	StateDeviceOpen:       "DeviceOpen",
	StateVersionVerified:  "VersionVerified",
	StateVMCreated:        "VmCreated",
	StateMemoryRegistered: "MemoryRegistered",
	StateVcpuCreated:      "VcpuCreated",
	StateRunSizeKnown:     "RunSizeKnown",
	StateRunMapped:        "RunMapped",
}

func (s State) String() string {
	if !s.valid() {
		return fmt.Sprintf("State(%d)", int(s))
	}

	return stateNames[s]
}

func (s State) valid() bool {
	return s >= StateUnopened && s <= StateRunMapped
}
