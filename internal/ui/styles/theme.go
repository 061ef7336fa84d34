// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import "github.com/charmbracelet/lipgloss"

// Theme holds the styles used by the terminal monitor.
type Theme struct {
	// Layout dimensions
	Width  int
	Height int

	// ==========================================================================
	// HEADER / FOOTER
	// ==========================================================================

	Header      lipgloss.Style
	HeaderBrand lipgloss.Style
	HeaderInfo  lipgloss.Style
	Footer      lipgloss.Style

	// ==========================================================================
	// TASK ROWS
	// ==========================================================================

	ColumnHeader lipgloss.Style
	TaskID       lipgloss.Style
	Value        lipgloss.Style
	Muted        lipgloss.Style

	Running   lipgloss.Style
	Completed lipgloss.Style
	Failed    lipgloss.Style

	// ==========================================================================
	// NOTICES
	// ==========================================================================

	Warning lipgloss.Style
	Error   lipgloss.Style
	Empty   lipgloss.Style
}

// NewTheme creates the default theme.
func NewTheme() *Theme {
	return &Theme{
		Header:      lipgloss.NewStyle().Background(SurfaceDim).Foreground(TextPrimary).Padding(0, 1),
		HeaderBrand: lipgloss.NewStyle().Foreground(Purple).Bold(true),
		HeaderInfo:  lipgloss.NewStyle().Foreground(TextSecondary),
		Footer:      lipgloss.NewStyle().Foreground(TextMuted).Padding(0, 1),

		ColumnHeader: lipgloss.NewStyle().Foreground(TextSecondary).Bold(true),
		TaskID:       lipgloss.NewStyle().Foreground(TextPrimary),
		Value:        lipgloss.NewStyle().Foreground(TextPrimary),
		Muted:        lipgloss.NewStyle().Foreground(TextMuted),

		Running:   lipgloss.NewStyle().Foreground(Cyan),
		Completed: lipgloss.NewStyle().Foreground(Emerald).Bold(true),
		Failed:    lipgloss.NewStyle().Foreground(Rose).Bold(true),

		Warning: lipgloss.NewStyle().Foreground(Amber),
		Error:   lipgloss.NewStyle().Foreground(Rose).Bold(true),
		Empty:   lipgloss.NewStyle().Foreground(TextMuted).Italic(true).Padding(1, 1),
	}
}

// SetSize records the terminal dimensions.
func (t *Theme) SetSize(width, height int) {
	t.Width = width
	t.Height = height
}

// StateStyle returns the style for a task state name
// ("Running", "Completed" or "Failed").
func (t *Theme) StateStyle(state string) lipgloss.Style {
	switch state {
	case "Completed":
		return t.Completed
	case "Failed":
		return t.Failed
	default:
		return t.Running
	}
}

// StateIndicator returns the ASCII indicator for a task state name.
func StateIndicator(state string) string {
	switch state {
	case "Completed":
		return StatusIndicators.Success
	case "Failed":
		return StatusIndicators.Error
	case "Running":
		return StatusIndicators.Active
	default:
		return StatusIndicators.Pending
	}
}
