// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and execution for primestream.
//
// # Key Types
//
//   - Command: the command to run (serve, submit, watch, ...)
//   - Args: parsed global and command-specific flags
//   - ArgParser: flag and positional argument parser
//
// # Usage
//
//	os.Exit(cli.Main(os.Args[1:]))
//
// # Commands
//
//   - serve: run the API server until SIGINT/SIGTERM (default)
//   - submit: start a calculation, optionally following it with --wait
//   - watch: live monitor of one task or every task
//   - tasks: one-shot snapshot
//   - history: archived outcomes
//   - config: show or create the configuration file
//
// Errors map to exit codes via GetExitCode.
package cli
