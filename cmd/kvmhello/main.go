// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// kvmhello brings up a KVM virtual machine with one page of memory and one
// vCPU with its run structure mapped, reports the acquired resources and
// releases them again. No guest code is run.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aibor/kvmhello/internal/cmd"
	"github.com/aibor/kvmhello/internal/kvm"
	"github.com/aibor/kvmhello/internal/machine"
)

func main() {
	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)

	cfg := machine.DefaultConfig()
	cfg.Until = machine.StateRunMapped

	exitCode := cmd.Run(ctx, kvm.Host, cfg, cmd.IO{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})

	cancel()
	os.Exit(exitCode)
}
