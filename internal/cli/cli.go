// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Command parsing and dispatch for primestream.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/google/uuid"

	"github.com/jeranaias/primestream/internal/client"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdServe Command = iota
	CmdSubmit
	CmdWatch
	CmdTasks
	CmdHistory
	CmdConfig
	CmdVersion
	CmdHelp
)

// commandNames maps command words (and aliases) to commands.
var commandNames = map[string]Command{
	"serve":   CmdServe,
	"server":  CmdServe,
	"submit":  CmdSubmit,
	"watch":   CmdWatch,
	"tasks":   CmdTasks,
	"ls":      CmdTasks,
	"history": CmdHistory,
	"config":  CmdConfig,
	"version": CmdVersion,
	"help":    CmdHelp,
}

// maxPositional is the number of positional words (command included) each
// command accepts.
var maxPositional = map[Command]int{
	CmdSubmit: 2,
	CmdWatch:  2,
	CmdConfig: 2,
}

// boolFlagNames are the flags that never take a value.
var boolFlagNames = []string{"visualise", "visualize", "wait", "json", "plain", "help", "h", "version", "v", "quiet", "q"}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string // --config PATH (serve, config)
	Addr       string // --addr URL (client commands)
	Token      string // --token TOKEN or PRIMESTREAM_AUTH_TOKEN
	JSON       bool   // --json output
	Quiet      bool   // -q, --quiet

	// submit
	Bound     uint64
	Batch     *uint32
	Visualise bool
	Wait      bool

	// watch
	TaskID uuid.UUID
	Plain  bool

	// history
	Limit int

	// config
	Subcommand string
}

// =============================================================================
// PARSING
// =============================================================================

// Parse parses command-line arguments (without the program name).
func Parse(argv []string) (Command, Args, error) {
	p := NewArgParser(argv, boolFlagNames...)

	args := Args{
		ConfigPath: p.Flag("config"),
		Addr:       p.FlagOrDefault("addr", envOr("PRIMESTREAM_ADDR", client.DefaultBaseURL)),
		Token:      p.FlagOrDefault("token", os.Getenv("PRIMESTREAM_AUTH_TOKEN")),
		JSON:       p.BoolFlag("json"),
		Quiet:      p.BoolFlag("quiet") || p.BoolFlag("q"),
	}

	if p.BoolFlag("help") || p.BoolFlag("h") {
		return CmdHelp, args, nil
	}
	if p.BoolFlag("version") || p.BoolFlag("v") {
		return CmdVersion, args, nil
	}

	cmd := CmdServe
	if word := p.Positional(0); word != "" {
		known, ok := commandNames[word]
		if !ok {
			return CmdHelp, args, NewValidationErrorWithExample("command", word, "unknown command", "primestream help")
		}
		cmd = known
	}

	limit, ok := maxPositional[cmd]
	if !ok {
		limit = 1
	}
	if p.PositionalCount() > limit {
		extra := p.Positional(limit)
		return cmd, args, NewValidationErrorWithExample("argument", extra, "unexpected argument", "primestream help")
	}

	switch cmd {
	case CmdSubmit:
		bound, ok, err := p.FlagUint("bound", 64)
		if err != nil {
			return cmd, args, err
		}
		if !ok {
			// allow "submit 100000"
			if raw := p.Positional(1); raw != "" {
				sub := NewArgParser([]string{"--bound", raw})
				bound, ok, err = sub.FlagUint("bound", 64)
				if err != nil {
					return cmd, args, err
				}
			}
		}
		if !ok {
			return cmd, args, ErrMissingArgument("bound", "primestream submit --bound 100000")
		}
		args.Bound = bound

		batch, ok, err := p.FlagUint("batch", 32)
		if err != nil {
			return cmd, args, err
		}
		if ok {
			b := uint32(batch)
			args.Batch = &b
		}
		args.Visualise = p.BoolFlag("visualise") || p.BoolFlag("visualize")
		args.Wait = p.BoolFlag("wait")

	case CmdWatch:
		if raw := p.Positional(1); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				return cmd, args, NewValidationErrorWithExample("task id", raw, "not a UUID", "primestream watch 6f1c2a9e-3b7d-4c5e-9f10-2a3b4c5d6e7f")
			}
			args.TaskID = id
		}
		args.Plain = p.BoolFlag("plain")

	case CmdHistory:
		if p.HasFlag("limit") {
			raw := p.Flag("limit")
			n := p.FlagIntOrDefault("limit", -1)
			if n < 0 {
				return cmd, args, NewValidationError("limit", raw, "must be a non-negative integer")
			}
			args.Limit = n
		}

	case CmdConfig:
		args.Subcommand = p.Positional(1)
		if args.Subcommand == "" {
			args.Subcommand = "show"
		}
		if args.Subcommand != "show" && args.Subcommand != "init" && args.Subcommand != "path" {
			return cmd, args, NewValidationErrorWithExample("config subcommand", args.Subcommand, "expected show, init or path", "primestream config show")
		}
	}

	return cmd, args, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// =============================================================================
// DISPATCH
// =============================================================================

// Main runs the command line and returns the process exit code.
func Main(argv []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args, err := Parse(argv)
	if err != nil {
		DisplayError(os.Stderr, err)
		fmt.Fprintln(os.Stderr, DimStyle.Render("Run 'primestream help' for usage."))
		return GetExitCode(err)
	}

	if err := Run(ctx, cmd, args, os.Stdout); err != nil {
		DisplayError(os.Stderr, err)
		return GetExitCode(err)
	}
	return ExitSuccess
}

// Run executes a parsed command, writing its output to out.
func Run(ctx context.Context, cmd Command, args Args, out io.Writer) error {
	switch cmd {
	case CmdServe:
		return RunServe(ctx, args)
	case CmdSubmit:
		return RunSubmit(ctx, args, out)
	case CmdWatch:
		return RunWatch(ctx, args, out)
	case CmdTasks:
		return RunTasks(ctx, args, out)
	case CmdHistory:
		return RunHistory(ctx, args, out)
	case CmdConfig:
		return RunConfig(args, out)
	case CmdVersion:
		PrintVersion(out)
		return nil
	default:
		PrintUsage(out)
		return nil
	}
}

// newClient builds an API client from the global flags.
func newClient(args Args) *client.Client {
	return client.NewClientWithConfig(&client.ClientConfig{
		BaseURL:   args.Addr,
		AuthToken: args.Token,
	})
}

// =============================================================================
// USAGE
// =============================================================================

const usageText = `primestream - prime calculations with live progress streaming

Usage:
  primestream [serve]                 Start the API server (default)
  primestream submit --bound N        Start a calculation of the primes up to N
  primestream watch [task-id]         Follow one task, or every task
  primestream tasks                   Print the current state of every task
  primestream history                 List archived outcomes
  primestream config [show|init|path] Show or create the configuration file
  primestream version                 Show version information
  primestream help                    Show this help

Submit Flags:
  --bound N        Upper bound (inclusive); "submit N" also works
  --batch N        Candidates checked between progress updates (default 10000)
  --visualise      Attach spiral visualisation frames to progress
  --wait           Follow the task until it finishes

Watch Flags:
  --plain          Plain line output even on a terminal

History Flags:
  --limit N        Number of records (default 50)

Global Flags:
  --config PATH    Config file (default ~/.primestream/config.toml)
  --addr URL       Server for client commands (default http://127.0.0.1:5001)
                   Env: PRIMESTREAM_ADDR
  --token TOKEN    Bearer token when the server has auth enabled
                   Env: PRIMESTREAM_AUTH_TOKEN
  --json           JSON output (submit, tasks, history)
  -q, --quiet      Minimal output

Examples:
  primestream                               Serve on 0.0.0.0:5001
  primestream submit --bound 1000000 --wait Run and follow a calculation
  primestream watch                         Monitor every task
  primestream tasks --json                  Snapshot as JSON

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "primestream version %s\n", Version)
	fmt.Fprintf(w, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(w, "  Build date: %s\n", BuildDate)
	fmt.Fprintf(w, "  Go version: %s\n", runtime.Version())
}
