// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWriteFile replaces path with data so that a reader (or the config
// watcher) sees either the previous file or the complete new one, never a
// partial write. Missing parent directories are created with 0755.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	tmp, err := writeTemp(filepath.Dir(target), data, perm)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", target, err)
	}
	return nil
}

// writeTemp writes data to a synced, closed temporary file in dir and
// returns its name. The rename must stay on one filesystem, hence dir.
func writeTemp(dir string, data []byte, perm os.FileMode) (name string, err error) {
	f, err := os.CreateTemp(dir, ".primestream-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if _, err = f.Write(data); err != nil {
		return "", fmt.Errorf("failed to write data: %w", err)
	}
	if err = f.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync data to disk: %w", err)
	}
	if err = f.Chmod(perm); err != nil {
		return "", fmt.Errorf("failed to set file permissions: %w", err)
	}
	// Windows refuses to rename an open file
	if err = f.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return f.Name(), nil
}
