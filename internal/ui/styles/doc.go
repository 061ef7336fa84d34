// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the colors and styles of the terminal monitor.

All colors use Lip Gloss AdaptiveColor for automatic light/dark terminal
detection.

# Colors (colors.go)

  - Purple - Header brand
  - Cyan - Running tasks
  - Emerald - Completed tasks
  - Rose - Failed tasks and stream errors
  - Amber - Server-side stream errors

Task states also carry ASCII indicators ([*], [OK], [X]) so they read
without color.

# Theme (theme.go)

	theme := styles.NewTheme()
	row := theme.StateStyle("Completed").Render(styles.StateIndicator("Completed"))
*/
package styles
