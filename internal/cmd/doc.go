// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package cmd provides the CLI command entry point shared by the binaries. It
// handles logging setup, error reporting and the exit code. It takes no flags.
package cmd
