// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/jeranaias/primestream/internal/client"
	"github.com/jeranaias/primestream/internal/tasks"
	"github.com/jeranaias/primestream/internal/ui/styles"
	"github.com/jeranaias/primestream/internal/util"
)

// =============================================================================
// MESSAGES
// =============================================================================

// eventMsg carries one stream event into the update loop.
type eventMsg client.StreamEvent

// streamClosedMsg is sent when the event channel closes.
type streamClosedMsg struct{}

// waitForEvent reads the next event off the stream channel.
func waitForEvent(events <-chan client.StreamEvent) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-events
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(event)
	}
}

// =============================================================================
// MODEL
// =============================================================================

// Options configures the monitor.
type Options struct {
	// TaskID limits the view to one task. uuid.Nil watches every task.
	TaskID uuid.UUID

	// Source is the server address shown in the header.
	Source string
}

// Model is the bubbletea model for the live task monitor.
type Model struct {
	events  <-chan client.StreamEvent
	opts    Options
	theme   *styles.Theme
	spinner spinner.Model
	bar     progress.Model

	rows    []Row
	notice  string
	err     error
	updates int
	done    bool
}

// NewModel creates a monitor reading from events.
func NewModel(events <-chan client.StreamEvent, opts Options) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}
	sp.Style = styles.NewTheme().Running

	return Model{
		events:  events,
		opts:    opts,
		theme:   styles.NewTheme(),
		spinner: sp,
		bar: progress.New(
			progress.WithGradient(styles.GradientStart, styles.GradientEnd),
			progress.WithWidth(20),
			progress.WithoutPercentage(),
		),
	}
}

// Init starts the spinner and the first stream read.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events))
}

// Update handles key presses, resizes and stream events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.done = true
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.theme.SetSize(msg.Width, msg.Height)
		m.bar.Width = barWidth(msg.Width)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		return m.handleEvent(client.StreamEvent(msg))

	case streamClosedMsg:
		m.done = true
		if m.notice == "" {
			m.notice = "stream closed"
		}
		return m, tea.Quit
	}

	return m, nil
}

func (m Model) handleEvent(event client.StreamEvent) (tea.Model, tea.Cmd) {
	switch {
	case event.Err != nil:
		m.err = event.Err
		m.done = true
		return m, tea.Quit

	case event.Snapshot != nil:
		m.rows = Rows(event.Snapshot)
		m.updates++
		m.notice = ""
		if m.watchedTaskFinished(event.Snapshot) {
			m.done = true
			return m, tea.Quit
		}

	default:
		m.notice = event.Message
	}

	return m, waitForEvent(m.events)
}

// watchedTaskFinished reports whether a single watched task has reached a
// terminal state. Watching every task never finishes on its own.
func (m Model) watchedTaskFinished(snapshot client.Snapshot) bool {
	if m.opts.TaskID == uuid.Nil {
		return false
	}
	state, ok := snapshot[m.opts.TaskID]
	return ok && state.IsTerminal()
}

// barWidth sizes the progress bar from the terminal width.
func barWidth(width int) int {
	w := width - 90
	if w < 10 {
		return 10
	}
	if w > 40 {
		return 40
	}
	return w
}

// =============================================================================
// VIEW
// =============================================================================

// View renders the monitor.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")

	if len(m.rows) == 0 {
		if m.updates == 0 {
			b.WriteString(m.theme.Empty.Render(m.spinner.View() + " waiting for the first snapshot"))
		} else {
			b.WriteString(m.theme.Empty.Render("no tasks yet"))
		}
		b.WriteString("\n")
	} else {
		b.WriteString(m.theme.ColumnHeader.Render(PlainHeader()))
		b.WriteString("\n")
		for _, row := range m.rows {
			b.WriteString(m.renderRow(row))
			b.WriteString("\n")
		}
	}

	if m.notice != "" {
		b.WriteString("\n")
		b.WriteString(m.theme.Warning.Render(m.notice))
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(m.theme.Error.Render("error: " + m.err.Error()))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderHeader() string {
	scope := "all tasks"
	if m.opts.TaskID != uuid.Nil {
		scope = "task " + m.opts.TaskID.String()
	}
	info := scope
	if m.opts.Source != "" {
		info += " @ " + m.opts.Source
	}
	return m.theme.Header.Render(
		m.theme.HeaderBrand.Render("primestream") + "  " + m.theme.HeaderInfo.Render(info),
	)
}

func (m Model) renderRow(r Row) string {
	found, current, elapsed, memory := r.formatCounts()
	state := string(r.State)
	style := m.theme.StateStyle(state)

	indicator := styles.StateIndicator(state)
	if r.State == tasks.KindRunning {
		indicator = m.spinner.View()
	}

	cells := []string{
		m.theme.TaskID.Render(util.PadWidth(r.ShortID(), colID)),
		style.Render(util.PadWidth(state, colState)),
		m.theme.Value.Render(util.PadWidth(fmt.Sprintf("%5.1f%%", r.Percent), colPercent)),
		m.theme.Value.Render(util.PadWidth("found "+found, colFound)),
		m.theme.Muted.Render(util.PadWidth("n "+current, colCurrent)),
		m.theme.Muted.Render(util.PadWidth(elapsed, colElapsed)),
		m.theme.Muted.Render(util.PadWidth(memory, colMemory)),
	}
	line := strings.Join(cells, "  ")

	switch r.State {
	case tasks.KindFailed:
		reason := r.Reason
		if m.theme.Width > 0 {
			reason = util.TruncateWidth(reason, max(m.theme.Width-80, 10))
		}
		line += "  " + m.theme.Failed.Render(reason)
	default:
		line += "  " + m.bar.ViewAs(r.Percent/100)
	}

	return style.Render(indicator) + " " + line
}

func (m Model) renderFooter() string {
	var running, completed, failed int
	for _, r := range m.rows {
		switch r.State {
		case tasks.KindRunning:
			running++
		case tasks.KindCompleted:
			completed++
		case tasks.KindFailed:
			failed++
		}
	}
	return m.theme.Footer.Render(fmt.Sprintf(
		"%d running  %d completed  %d failed  |  %d updates  |  q to quit",
		running, completed, failed, m.updates,
	))
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Rows returns the rows of the last snapshot.
func (m Model) Rows() []Row { return m.rows }

// Err returns the error that ended the stream, if any.
func (m Model) Err() error { return m.err }

// Done reports whether the monitor has stopped.
func (m Model) Done() bool { return m.done }
