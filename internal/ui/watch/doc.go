// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package watch renders the live task monitor.
//
// Run drives a bubbletea program over a client snapshot stream; RunPlain
// writes changed rows as plain lines for pipes and non-interactive shells.
//
// # Key Types
//
//   - Model: bubbletea model with spinner, progress bars and a status footer
//   - Row: display form of one task state
package watch
