// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package machine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/aibor/kvmhello/internal/kvm"
	"github.com/c2h5oh/datasize"
	"github.com/nrednav/cuid2"
)

// Machine holds the resources acquired by [Bringup].
//
// It must be closed with [Machine.Close] to release them.
type Machine struct {
	id    string
	cfg   Config
	sys   kvm.Syscalls
	log   *slog.Logger
	state State

	system     *kvm.System
	apiVersion int
	vm         *kvm.VM
	memory     *kvm.GuestMemory
	vcpu       *kvm.Vcpu
	runSize    int

	cleanupFns []func() error
}

type step struct {
	name   string
	target State
	run    func() error
}

// Bringup runs the bring-up steps in order until the state configured in
// [Config.Until] is reached.
//
// If a step fails, everything acquired so far is released and a [StepError]
// is returned. Steps are not retried. The context is checked before each
// step. A step that blocks in the kernel can not be interrupted.
func Bringup(ctx context.Context, sys kvm.Syscalls, cfg Config) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	id := cuid2.Generate()

	m := &Machine{
		id:  id,
		cfg: cfg,
		sys: sys,
		log: slog.With(slog.String("machine", id)),
	}

	for _, s := range m.steps() {
		if m.state >= cfg.Until {
			break
		}

		err := ctx.Err()
		if err == nil {
			err = s.run()
		}

		if err != nil {
			m.abort()

			return nil, &StepError{
				Step:    s.name,
				Reached: m.state,
				Err:     err,
			}
		}

		m.state = s.target

		m.log.Debug("Bring-up state reached", slog.String("state", m.state.String()))
	}

	return m, nil
}

func (m *Machine) steps() []step {
	return []step{
		{"open device", StateDeviceOpen, m.openDevice},
		{"verify API version", StateVersionVerified, m.verifyVersion},
		{"create VM", StateVMCreated, m.createVM},
		{"register guest memory", StateMemoryRegistered, m.registerMemory},
		{"create vCPU", StateVcpuCreated, m.createVcpu},
		{"query run structure size", StateRunSizeKnown, m.queryRunSize},
		{"map run structure", StateRunMapped, m.mapRun},
	}
}

func (m *Machine) cleanup(fn func() error) {
	m.cleanupFns = append(m.cleanupFns, fn)
}

func (m *Machine) openDevice() error {
	system, err := kvm.Open(m.sys, m.cfg.DevicePath)
	if err != nil {
		return err
	}

	m.system = system
	m.cleanup(system.Close)

	m.log.Info("Opened virtualization device",
		slog.String("path", system.Path()),
		slog.Int("fd", system.Fd()),
	)

	return nil
}

func (m *Machine) verifyVersion() error {
	version, err := m.system.CheckAPIVersion()
	if err != nil {
		return err
	}

	m.apiVersion = version

	m.log.Info("Verified KVM API version", slog.Int("version", version))

	return nil
}

func (m *Machine) createVM() error {
	vm, err := m.system.CreateVM()
	if err != nil {
		return err
	}

	m.vm = vm
	m.cleanup(vm.Close)

	m.log.Info("Created VM", slog.Int("fd", vm.Fd()))

	return nil
}

func (m *Machine) registerMemory() error {
	region := kvm.UserspaceMemoryRegion{
		Slot:          m.cfg.MemorySlot,
		GuestPhysAddr: m.cfg.GuestPhysAddr,
		MemorySize:    m.cfg.MemorySize.Bytes(),
	}

	// Reject the layout before anything is mapped for it.
	if err := region.ValidateLayout(); err != nil {
		return &kvm.OpError{
			Op:   kvm.ReqSetUserMemoryRegion.Name,
			Kind: kvm.ErrMemoryRegistration,
			Err:  err,
		}
	}

	memory, err := kvm.AllocateGuestMemory(m.sys, int(region.MemorySize))
	if err != nil {
		return err
	}

	m.memory = memory
	m.cleanup(memory.Close)

	region.UserspaceAddr = memory.Addr()

	if err := m.vm.SetUserMemoryRegion(region); err != nil {
		return err
	}

	m.log.Info("Registered guest memory",
		slog.Uint64("slot", uint64(region.Slot)),
		slog.String("guest_phys_addr", fmt.Sprintf("%#x", region.GuestPhysAddr)),
		slog.String("host_addr", fmt.Sprintf("%#x", region.UserspaceAddr)),
		slog.String("size", datasize.ByteSize(region.MemorySize).HR()),
	)

	return nil
}

func (m *Machine) createVcpu() error {
	vcpu, err := m.vm.CreateVcpu(m.cfg.VcpuID)
	if err != nil {
		return err
	}

	m.vcpu = vcpu
	m.cleanup(vcpu.Close)

	m.log.Info("Created vCPU",
		slog.Int("id", vcpu.ID()),
		slog.Int("fd", vcpu.Fd()),
	)

	return nil
}

func (m *Machine) queryRunSize() error {
	size, err := m.system.VcpuMmapSize()
	if err != nil {
		return err
	}

	m.runSize = size

	m.log.Info("Queried run structure size", slog.Int("size", size))

	return nil
}

func (m *Machine) mapRun() error {
	if err := m.vcpu.MapRun(m.runSize); err != nil {
		return err
	}

	m.log.Info("Mapped run structure",
		slog.Int("vcpu", m.vcpu.ID()),
		slog.Int("size", m.vcpu.RunSize()),
	)

	return nil
}

func (m *Machine) abort() {
	if err := m.Close(); err != nil {
		m.log.Error("Release after failed bring-up", slog.Any("error", err))
	}
}

// Close releases all acquired resources in reverse order: run structure and
// vCPU, guest memory, VM and finally the device handle. All resources are
// released even if some fail. It is safe to call Close more than once.
func (m *Machine) Close() error {
	fns := m.cleanupFns
	m.cleanupFns = nil

	slices.Reverse(fns)

	errs := make([]error, 0, len(fns))

	for _, fn := range fns {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// ID returns the identifier the machine is logged with.
func (m *Machine) ID() string {
	return m.id
}

// State returns the state the bring-up reached.
func (m *Machine) State() State {
	return m.state
}

// APIVersion returns the verified KVM API version, 0 if not verified.
func (m *Machine) APIVersion() int {
	return m.apiVersion
}

// DeviceFd returns the file descriptor of the device handle or -1.
func (m *Machine) DeviceFd() int {
	if m.system == nil {
		return -1
	}

	return m.system.Fd()
}

// VMFd returns the file descriptor of the VM or -1.
func (m *Machine) VMFd() int {
	if m.vm == nil {
		return -1
	}

	return m.vm.Fd()
}

// VcpuFd returns the file descriptor of the vCPU or -1.
func (m *Machine) VcpuFd() int {
	if m.vcpu == nil {
		return -1
	}

	return m.vcpu.Fd()
}

// Memory returns the guest memory or nil if not registered.
func (m *Machine) Memory() *kvm.GuestMemory {
	return m.memory
}

// RunSize returns the queried run structure size, 0 if not queried.
func (m *Machine) RunSize() int {
	return m.runSize
}

// RunData returns the mapped run structure header or nil.
func (m *Machine) RunData() *kvm.RunData {
	if m.vcpu == nil {
		return nil
	}

	return m.vcpu.RunData()
}
