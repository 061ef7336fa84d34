// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - The config command.

package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/jeranaias/primestream/internal/config"
)

// RunConfig handles "config show", "config init" and "config path".
//
//   - show: print the effective configuration (auth token redacted)
//   - init: write a default config file unless one already exists
//   - path: print the file that would be loaded
func RunConfig(args Args, out io.Writer) error {
	switch args.Subcommand {
	case "init":
		return configInit(args, out)
	case "path":
		path, err := configPath(args)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, path)
		return nil
	default:
		cfg, path, err := loadConfig(args.ConfigPath)
		if err != nil {
			return err
		}
		if args.JSON {
			fmt.Fprintln(out, cfg.String())
			return nil
		}
		if path == "" {
			path = "(defaults)"
		}
		fmt.Fprintln(out, RenderField("Source", path))
		fmt.Fprintln(out, RenderField("Listen", cfg.ListenAddr()))
		fmt.Fprintln(out, cfg.String())
		return nil
	}
}

// configPath returns --config or the default TOML location.
func configPath(args Args) (string, error) {
	if args.ConfigPath != "" {
		return args.ConfigPath, nil
	}
	path, err := config.ConfigPathTOML()
	if err != nil {
		return "", &ConfigError{Err: err}
	}
	return path, nil
}

func configInit(args Args, out io.Writer) error {
	path, err := configPath(args)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil {
		return &ConfigError{Path: path, Err: fmt.Errorf("file already exists")}
	}

	if err := config.SaveTOML(config.Default(), path); err != nil {
		return &ConfigError{Path: path, Err: err}
	}
	fmt.Fprintln(out, SuccessStyle.Render("[OK]")+" wrote "+path)
	return nil
}
