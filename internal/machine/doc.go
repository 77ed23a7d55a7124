// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package machine brings up a minimal KVM virtual machine in a fixed order of
// steps: open the device, verify the API version, create the VM, register
// guest memory, create a vCPU, query the run structure size and map the run
// structure. Each step depends on the previous one. Any failure ends the
// bring-up and releases everything acquired so far.
//
// The machine is not run. No guest code is loaded and no exits are handled.
package machine
