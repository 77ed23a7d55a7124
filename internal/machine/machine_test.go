// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package machine_test

import (
	"context"
	"testing"

	"github.com/aibor/kvmhello/internal/kvm"
	"github.com/aibor/kvmhello/internal/machine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

var fullSequence = []string{
	kvm.FakeOpOpen,
	kvm.ReqGetAPIVersion.Name,
	kvm.ReqCreateVM.Name,
	kvm.FakeOpMmapAnonymous,
	kvm.FakeOpCheckMapped,
	kvm.ReqSetUserMemoryRegion.Name,
	kvm.ReqCreateVcpu.Name,
	kvm.ReqGetVcpuMmapSize.Name,
	kvm.FakeOpMmapShared,
}

func assertReleased(tb testing.TB, fake *kvm.FakeSyscalls) {
	tb.Helper()

	assert.Zero(tb, fake.OpenFds(), "open file descriptors")
	assert.Zero(tb, fake.LiveMappings(), "live mappings")
}

func TestBringup(t *testing.T) {
	fake := kvm.NewFakeSyscalls()

	m, err := machine.Bringup(context.Background(), fake, machine.DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, machine.StateRunMapped, m.State())
	assert.Equal(t, fullSequence, fake.Calls())

	assert.Equal(t, kvm.APIVersion, m.APIVersion())
	assert.Positive(t, m.DeviceFd())
	assert.Positive(t, m.VMFd())
	assert.Positive(t, m.VcpuFd())
	assert.Equal(t, kvm.FakeRunSize, m.RunSize())
	assert.NotNil(t, m.RunData())

	require.NotNil(t, m.Memory())
	assert.Equal(t, 4096, m.Memory().Size())

	expectedRegion := kvm.UserspaceMemoryRegion{
		Slot:          0,
		Flags:         0,
		GuestPhysAddr: 0,
		MemorySize:    4096,
		UserspaceAddr: m.Memory().Addr(),
	}
	assert.Equal(t, []kvm.UserspaceMemoryRegion{expectedRegion}, fake.Regions())

	assert.Equal(t, 3, fake.OpenFds())
	assert.Equal(t, 2, fake.LiveMappings())

	require.NoError(t, m.Close())
	assertReleased(t, fake)
}

func TestBringup_Until(t *testing.T) {
	tests := []struct {
		until         machine.State
		expectedCalls int
		expectedFds   int
	}{
		{
			until:         machine.StateDeviceOpen,
			expectedCalls: 1,
			expectedFds:   1,
		},
		{
			until:         machine.StateVersionVerified,
			expectedCalls: 2,
			expectedFds:   1,
		},
		{
			until:         machine.StateVMCreated,
			expectedCalls: 3,
			expectedFds:   2,
		},
		{
			until:         machine.StateMemoryRegistered,
			expectedCalls: 6,
			expectedFds:   2,
		},
		{
			until:         machine.StateVcpuCreated,
			expectedCalls: 7,
			expectedFds:   3,
		},
		{
			until:         machine.StateRunSizeKnown,
			expectedCalls: 8,
			expectedFds:   3,
		},
		{
			until:         machine.StateRunMapped,
			expectedCalls: 9,
			expectedFds:   3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.until.String(), func(t *testing.T) {
			fake := kvm.NewFakeSyscalls()
			cfg := machine.DefaultConfig()
			cfg.Until = tt.until

			m, err := machine.Bringup(context.Background(), fake, cfg)
			require.NoError(t, err)

			assert.Equal(t, tt.until, m.State())
			assert.Equal(t, fullSequence[:tt.expectedCalls], fake.Calls())
			assert.Equal(t, tt.expectedFds, fake.OpenFds())

			require.NoError(t, m.Close())
			assertReleased(t, fake)
		})
	}
}

func TestBringup_Failures(t *testing.T) {
	tests := []struct {
		name            string
		failOp          string
		err             error
		expectedKind    error
		expectedReached machine.State
	}{
		{
			name:            "device missing",
			failOp:          kvm.FakeOpOpen,
			err:             unix.ENOENT,
			expectedKind:    kvm.ErrDeviceUnavailable,
			expectedReached: machine.StateUnopened,
		},
		{
			name:            "version query",
			failOp:          kvm.ReqGetAPIVersion.Name,
			err:             unix.ENOTTY,
			expectedKind:    kvm.ErrIncompatibleAPIVersion,
			expectedReached: machine.StateDeviceOpen,
		},
		{
			name:            "vm creation",
			failOp:          kvm.ReqCreateVM.Name,
			err:             unix.ENOMEM,
			expectedKind:    kvm.ErrVMCreation,
			expectedReached: machine.StateVersionVerified,
		},
		{
			name:            "guest memory mapping",
			failOp:          kvm.FakeOpMmapAnonymous,
			err:             unix.ENOMEM,
			expectedKind:    kvm.ErrMemoryMap,
			expectedReached: machine.StateVMCreated,
		},
		{
			name:            "host range not mapped",
			failOp:          kvm.FakeOpCheckMapped,
			err:             unix.ENOMEM,
			expectedKind:    kvm.ErrMemoryRegistration,
			expectedReached: machine.StateVMCreated,
		},
		{
			name:            "memory registration",
			failOp:          kvm.ReqSetUserMemoryRegion.Name,
			err:             unix.EINVAL,
			expectedKind:    kvm.ErrMemoryRegistration,
			expectedReached: machine.StateVMCreated,
		},
		{
			name:            "vcpu creation",
			failOp:          kvm.ReqCreateVcpu.Name,
			err:             unix.EEXIST,
			expectedKind:    kvm.ErrVcpuCreation,
			expectedReached: machine.StateMemoryRegistered,
		},
		{
			name:            "run size query",
			failOp:          kvm.ReqGetVcpuMmapSize.Name,
			err:             unix.EINVAL,
			expectedKind:    kvm.ErrRunSizeQuery,
			expectedReached: machine.StateVcpuCreated,
		},
		{
			name:            "run structure mapping",
			failOp:          kvm.FakeOpMmapShared,
			err:             unix.ENOMEM,
			expectedKind:    kvm.ErrRunStructureMap,
			expectedReached: machine.StateRunSizeKnown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := kvm.NewFakeSyscalls()
			fake.Fail[tt.failOp] = tt.err

			m, err := machine.Bringup(context.Background(), fake, machine.DefaultConfig())
			require.Nil(t, m)
			require.ErrorIs(t, err, tt.expectedKind)
			require.ErrorIs(t, err, tt.err)

			var stepErr *machine.StepError
			require.ErrorAs(t, err, &stepErr)
			assert.Equal(t, tt.expectedReached, stepErr.Reached)

			// Nothing is attempted after the failed operation.
			calls := fake.Calls()
			failIdx := indexOf(t, calls, tt.failOp)
			for _, call := range calls[failIdx+1:] {
				assert.Contains(t,
					[]string{kvm.FakeOpClose, kvm.FakeOpMunmap},
					call,
					"only release calls after failure",
				)
			}

			assertReleased(t, fake)
		})
	}
}

func indexOf(tb testing.TB, calls []string, op string) int {
	tb.Helper()

	for idx, call := range calls {
		if call == op {
			return idx
		}
	}

	require.Failf(tb, "operation not called", "operation %s", op)

	return -1
}

func TestBringup_VersionMismatch(t *testing.T) {
	fake := kvm.NewFakeSyscalls()
	fake.APIVersion = 11

	_, err := machine.Bringup(context.Background(), fake, machine.DefaultConfig())
	require.ErrorIs(t, err, kvm.ErrIncompatibleAPIVersion)
	require.ErrorContains(t, err, "got 11, expected 12")

	assert.NotContains(t, fake.Calls(), kvm.ReqCreateVM.Name)
	assertReleased(t, fake)
}

func TestBringup_ZeroRunSize(t *testing.T) {
	fake := kvm.NewFakeSyscalls()
	fake.RunSize = 0

	_, err := machine.Bringup(context.Background(), fake, machine.DefaultConfig())
	require.ErrorIs(t, err, kvm.ErrRunSizeQuery)
	require.ErrorIs(t, err, kvm.ErrZeroRunSize)

	assert.NotContains(t, fake.Calls(), kvm.FakeOpMmapShared)
	assertReleased(t, fake)
}

func TestBringup_ZeroMemorySize(t *testing.T) {
	fake := kvm.NewFakeSyscalls()
	cfg := machine.DefaultConfig()
	cfg.MemorySize = 0

	_, err := machine.Bringup(context.Background(), fake, cfg)
	require.ErrorIs(t, err, kvm.ErrMemoryRegistration)
	require.ErrorIs(t, err, unix.EINVAL)

	calls := fake.Calls()
	assert.NotContains(t, calls, kvm.FakeOpMmapAnonymous)
	assert.NotContains(t, calls, kvm.ReqCreateVcpu.Name)
	assertReleased(t, fake)
}

func TestBringup_InvalidConfig(t *testing.T) {
	fake := kvm.NewFakeSyscalls()
	cfg := machine.DefaultConfig()
	cfg.DevicePath = ""

	_, err := machine.Bringup(context.Background(), fake, cfg)
	require.ErrorIs(t, err, machine.ErrEmptyDevicePath)
	assert.Empty(t, fake.Calls())
}

func TestBringup_Canceled(t *testing.T) {
	fake := kvm.NewFakeSyscalls()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := machine.Bringup(ctx, fake, machine.DefaultConfig())
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fake.Calls())
}

func TestMachine_Close(t *testing.T) {
	fake := kvm.NewFakeSyscalls()

	m, err := machine.Bringup(context.Background(), fake, machine.DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "second close")

	expected := []string{
		kvm.FakeOpMunmap,
		kvm.FakeOpClose,
		kvm.FakeOpMunmap,
		kvm.FakeOpClose,
		kvm.FakeOpClose,
	}

	assert.Equal(t, expected, fake.Calls()[len(fullSequence):])
	assert.Equal(t, -1, m.VcpuFd())
	assert.Equal(t, -1, m.VMFd())
	assert.Equal(t, -1, m.DeviceFd())
	assertReleased(t, fake)
}

func TestMachine_CloseContinuesOnError(t *testing.T) {
	fake := kvm.NewFakeSyscalls()

	m, err := machine.Bringup(context.Background(), fake, machine.DefaultConfig())
	require.NoError(t, err)

	fake.Fail[kvm.FakeOpMunmap] = unix.EINVAL

	err = m.Close()
	require.ErrorIs(t, err, unix.EINVAL)

	assert.Zero(t, fake.OpenFds(), "all descriptors closed")
	assert.Equal(t, 2, fake.LiveMappings())
}

func TestBringup_ID(t *testing.T) {
	fake := kvm.NewFakeSyscalls()
	cfg := machine.DefaultConfig()
	cfg.Until = machine.StateDeviceOpen

	first, err := machine.Bringup(context.Background(), fake, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Close() })

	second, err := machine.Bringup(context.Background(), fake, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	assert.NotEmpty(t, first.ID())
	assert.NotEqual(t, first.ID(), second.ID())
}

func TestMachine_Accessors(t *testing.T) {
	fake := kvm.NewFakeSyscalls()
	cfg := machine.DefaultConfig()
	cfg.Until = machine.StateDeviceOpen

	m, err := machine.Bringup(context.Background(), fake, cfg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = m.Close() })

	assert.Positive(t, m.DeviceFd())
	assert.Zero(t, m.APIVersion())
	assert.Equal(t, -1, m.VMFd())
	assert.Equal(t, -1, m.VcpuFd())
	assert.Nil(t, m.Memory())
	assert.Zero(t, m.RunSize())
	assert.Nil(t, m.RunData())
}
