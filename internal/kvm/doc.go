// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package kvm provides thin handles on the Linux KVM API as needed to bring
// up a virtual machine: the /dev/kvm [System] handle, a [VM], its
// [GuestMemory] and a [Vcpu] with its mapped run structure.
//
// All kernel interaction goes through a [Syscalls] implementation. [Host]
// issues the real system calls, [FakeSyscalls] simulates them for tests.
//
// Request codes are encoded with the generic Linux ioctl layout as used on
// amd64, arm64 and riscv64.
package kvm
