// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// terminal.go - What the output is attached to.
//
// watch picks the interactive monitor only when both ends are a terminal;
// piped output gets plain lines without colour.

package cli

import (
	"os"
	"sync"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const (
	// DefaultTerminalWidth is used when stdout has no size (pipes, tests).
	DefaultTerminalWidth = 80

	// MinTerminalWidth keeps separators readable on tiny windows.
	MinTerminalWidth = 40
)

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Interactive reports whether the bubbletea monitor can run: stdin must be a
// terminal for key presses and stdout for drawing.
func Interactive() bool {
	return isTerminal(os.Stdin) && isTerminal(os.Stdout)
}

// GetTerminalWidth returns the stdout width, clamped to MinTerminalWidth.
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	switch {
	case err != nil || width <= 0:
		return DefaultTerminalWidth
	case width < MinTerminalWidth:
		return MinTerminalWidth
	default:
		return width
	}
}

// =============================================================================
// COLOUR
// =============================================================================

// colorMode is decided once per process.
var colorMode = sync.OnceValue(func() bool {
	// https://no-color.org/ wins over everything
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	return isTerminal(os.Stdout)
})

// ColorsEnabled reports whether stdout output should carry ANSI colour.
func ColorsEnabled() bool {
	return colorMode()
}

// GetColorProfile returns the termenv profile used by the lipgloss styles:
// Ascii when colour is off, otherwise whatever the terminal supports.
func GetColorProfile() termenv.Profile {
	if !ColorsEnabled() {
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}
