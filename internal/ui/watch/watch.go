// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package watch

import (
	"context"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/jeranaias/primestream/internal/client"
)

// Run shows the interactive monitor until the user quits, the watched task
// finishes or the stream ends. id == uuid.Nil watches every task.
func Run(ctx context.Context, c *client.Client, id uuid.UUID) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := NewModel(c.Stream(ctx, id), Options{TaskID: id, Source: c.BaseURL()})
	p := tea.NewProgram(m, tea.WithAltScreen())

	// Ending the context ends the program too.
	stop := context.AfterFunc(ctx, p.Quit)
	defer stop()

	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("monitor failed: %w", err)
	}
	if fm, ok := final.(Model); ok && fm.Err() != nil {
		return fm.Err()
	}
	return nil
}

// RunPlain follows the stream without a terminal UI, writing one line per
// changed row to w. It stops when a single watched task finishes, the stream
// ends or ctx is done.
func RunPlain(ctx context.Context, c *client.Client, id uuid.UUID, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	last := make(map[uuid.UUID]string)
	header := false

	for event := range c.Stream(ctx, id) {
		switch {
		case event.Err != nil:
			return event.Err
		case event.Snapshot == nil:
			fmt.Fprintln(w, "! "+event.Message)
			continue
		}

		for _, row := range Rows(event.Snapshot) {
			line := FormatPlain(row)
			if last[row.ID] == line {
				continue
			}
			last[row.ID] = line
			if !header {
				fmt.Fprintln(w, PlainHeader())
				header = true
			}
			fmt.Fprintln(w, line)
		}

		if id != uuid.Nil {
			if state, ok := event.Snapshot[id]; ok && state.IsTerminal() {
				cancel()
			}
		}
	}
	return nil
}
