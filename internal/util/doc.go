// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by primestream packages.
//
// # Key Functions
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync, used for config files
//
// Terminal Columns:
//   - TruncateWidth, PadWidth: display-width aware layout
//   - TruncateRunes: UTF-8 safe truncation of failure reasons in logs
package util
