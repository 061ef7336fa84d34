// primestream - prime calculations with live progress streaming.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"os"

	"github.com/jeranaias/primestream/internal/cli"
	"github.com/jeranaias/primestream/internal/server"
)

// Version information (set at build time)
var (
	Version   = server.Version
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate

	os.Exit(cli.Main(os.Args[1:]))
}
