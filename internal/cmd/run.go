// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aibor/kvmhello/internal/exitcode"
	"github.com/aibor/kvmhello/internal/kvm"
	"github.com/aibor/kvmhello/internal/machine"
)

// ExitCodeInterrupted is returned if the context is canceled, usually by a
// signal, before the bring-up completes.
const ExitCodeInterrupted exitcode.Error = 130

// IO provides output details for the command.
type IO struct {
	Stdout io.Writer
	Stderr io.Writer
}

func run(ctx context.Context, sys kvm.Syscalls, cfg machine.Config, out IO) error {
	m, err := machine.Bringup(ctx, sys, cfg)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return errors.Join(err, ExitCodeInterrupted)
		}

		return err
	}

	slog.Info("Bring-up complete",
		slog.String("machine", m.ID()),
		slog.String("state", m.State().String()),
	)

	err = writeReport(out.Stdout, m)

	closeErr := m.Close()
	if closeErr != nil {
		closeErr = fmt.Errorf("release resources: %w", closeErr)
	}

	return errors.Join(err, closeErr)
}

func handleRunError(err error) int {
	var stepErr *machine.StepError
	if errors.As(err, &stepErr) {
		slog.Error("Bring-up failed",
			slog.String("step", stepErr.Step),
			slog.String("reached", stepErr.Reached.String()),
			slog.Any("error", stepErr.Err),
		)
	} else {
		slog.Error(err.Error())
	}

	return exitcode.From(err)
}

// Run is the main entry point for the CLI commands. It brings up a machine
// with the given config, reports the acquired resources on stdout, releases
// them and returns the exit code.
func Run(ctx context.Context, sys kvm.Syscalls, cfg machine.Config, out IO) int {
	setupLogging(out.Stderr, slog.LevelInfo)

	err := run(ctx, sys, cfg, out)
	if err != nil {
		return handleRunError(err)
	}

	return exitcode.Success
}
