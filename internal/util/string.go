// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import "github.com/mattn/go-runewidth"

// Display-width helpers for terminal columns. Widths come from go-runewidth,
// so East Asian wide characters count as two columns.

// TruncateWidth truncates s to at most maxWidth columns, ending in "..." when
// there is room for it.
func TruncateWidth(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return runewidth.Truncate(s, maxWidth, "")
	}
	return runewidth.Truncate(s, maxWidth, "...")
}

// PadWidth truncates or right-pads s with spaces to exactly width columns.
func PadWidth(s string, width int) string {
	if width <= 0 {
		return ""
	}
	return runewidth.FillRight(TruncateWidth(s, width), width)
}

// TruncateRunes truncates s to at most maxRunes runes, ending in "..." when
// there is room for it.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}
