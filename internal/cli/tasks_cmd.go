// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// tasks_cmd.go - Client commands: submit, watch, tasks and history.

package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/jeranaias/primestream/internal/client"
	"github.com/jeranaias/primestream/internal/tasks"
	"github.com/jeranaias/primestream/internal/ui/watch"
)

// =============================================================================
// SUBMIT
// =============================================================================

// RunSubmit starts a calculation and prints its id. With --wait it follows
// the task until it finishes and returns a TaskFailedError if it fails.
func RunSubmit(ctx context.Context, args Args, out io.Writer) error {
	c := newClient(args)

	resp, err := c.Submit(ctx, client.SubmitRequest{
		UpperBound: args.Bound,
		BatchSize:  args.Batch,
		Visualise:  args.Visualise,
	})
	if err != nil {
		return err
	}

	if !args.Wait {
		if args.JSON {
			return writeJSON(out, resp)
		}
		if args.Quiet {
			fmt.Fprintln(out, resp.TaskID)
			return nil
		}
		fmt.Fprintln(out, RenderField("Task", resp.TaskID.String()))
		fmt.Fprintln(out, RenderField("Upper bound", humanize.Comma(int64(args.Bound))))
		fmt.Fprintln(out, DimStyle.Render("Follow it with: primestream watch "+resp.TaskID.String()))
		return nil
	}

	if !args.JSON && !args.Quiet {
		watchArgs := args
		watchArgs.TaskID = resp.TaskID
		if err := RunWatch(ctx, watchArgs, out); err != nil {
			return err
		}
	}

	// the monitor may have been quit early; report the state as of now
	state, err := c.Task(ctx, resp.TaskID)
	if err != nil {
		return err
	}
	if !state.IsTerminal() && (args.JSON || args.Quiet) {
		state, err = waitTerminal(ctx, c, resp.TaskID)
		if err != nil {
			return err
		}
	}

	if args.JSON {
		if err := writeJSON(out, client.TaskResponse{TaskID: resp.TaskID, State: state}); err != nil {
			return err
		}
	} else {
		printSummary(out, resp.TaskID, state)
	}

	if state.Kind == tasks.KindFailed {
		return &TaskFailedError{TaskID: resp.TaskID.String(), Reason: state.Error}
	}
	return nil
}

// waitTerminal follows a task's stream until it reaches a terminal state.
func waitTerminal(ctx context.Context, c *client.Client, id uuid.UUID) (tasks.State, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var final tasks.State
	err := c.StreamEach(ctx, id, func(event client.StreamEvent) {
		if state, ok := event.Snapshot[id]; ok && state.IsTerminal() {
			final = state
			cancel()
		}
	})
	if final.IsTerminal() {
		return final, nil
	}
	if err == nil {
		err = fmt.Errorf("stream for task %s ended before it finished", id)
	}
	return tasks.State{}, err
}

// printSummary prints the final state of a task.
func printSummary(out io.Writer, id uuid.UUID, state tasks.State) {
	row := watch.RowFromState(id, state)

	fmt.Fprintln(out, RenderSeparator())
	fmt.Fprintln(out, RenderField("Task", id.String()))
	fmt.Fprintln(out, RenderField("State", RenderState(string(state.Kind))))
	switch state.Kind {
	case tasks.KindFailed:
		fmt.Fprintln(out, RenderField("Reason", state.Error))
	default:
		fmt.Fprintln(out, RenderField("Primes found", humanize.Comma(int64(row.Found))))
		fmt.Fprintln(out, RenderField("Numbers", humanize.Comma(int64(row.Current))))
		fmt.Fprintln(out, RenderField("Elapsed", row.Elapsed().Round(time.Millisecond).String()))
		fmt.Fprintln(out, RenderField("Memory", humanize.IBytes(row.MemoryBytes)))
	}
}

// =============================================================================
// WATCH
// =============================================================================

// RunWatch follows one task (args.TaskID) or every task. The interactive
// monitor is used on a terminal unless --plain is given.
func RunWatch(ctx context.Context, args Args, out io.Writer) error {
	c := newClient(args)

	if args.Plain || !Interactive() {
		return watch.RunPlain(ctx, c, args.TaskID, out)
	}
	return watch.Run(ctx, c, args.TaskID)
}

// =============================================================================
// TASKS
// =============================================================================

// RunTasks prints a one-shot snapshot of every task.
func RunTasks(ctx context.Context, args Args, out io.Writer) error {
	snapshot, err := newClient(args).Tasks(ctx)
	if err != nil {
		return err
	}

	if args.JSON {
		return writeJSON(out, snapshot)
	}
	if len(snapshot) == 0 {
		fmt.Fprintln(out, DimStyle.Render("No tasks."))
		return nil
	}

	fmt.Fprintln(out, watch.PlainHeader())
	for _, row := range watch.Rows(snapshot) {
		fmt.Fprintln(out, watch.FormatPlain(row))
	}
	return nil
}

// =============================================================================
// HISTORY
// =============================================================================

// RunHistory prints archived outcomes, newest first.
func RunHistory(ctx context.Context, args Args, out io.Writer) error {
	h, err := newClient(args).History(ctx, args.Limit)
	if err != nil {
		return err
	}

	if args.JSON {
		return writeJSON(out, h)
	}
	if !h.Enabled {
		fmt.Fprintln(out, DimStyle.Render("History is disabled on this server (set [history] enabled = true)."))
		return nil
	}

	fmt.Fprintln(out, TitleStyle.Render(fmt.Sprintf("%d completed, %d failed",
		h.Counts[tasks.KindCompleted], h.Counts[tasks.KindFailed])))
	for _, rec := range h.Records {
		line := fmt.Sprintf("%s  %-9s  %s",
			rec.TaskID.String()[:8], rec.State, humanize.Time(rec.FinishedAt))
		if rec.State == tasks.KindFailed {
			line += "  " + rec.Reason
		} else {
			line += fmt.Sprintf("  found %s (%s checked) in %s",
				humanize.Comma(int64(rec.FoundPrimes)),
				humanize.Comma(int64(rec.NumbersChecked)),
				(time.Duration(rec.TotalTimeMs) * time.Millisecond).String())
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
