// Package progress shows a spinner and per-library results while a batch
// runs in the background.
package progress

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/v2/spinner"
	tea "github.com/charmbracelet/bubbletea/v2"

	"nativepatch/internal/batch"
	"nativepatch/internal/nativepatch/styles"
)

// Work runs the batch, reporting through notify.
type Work func(ctx context.Context, notify func(batch.Event)) (*batch.Report, error)

type eventMsg batch.Event

type finishedMsg struct {
	report *batch.Report
	err    error
}

type Model struct {
	spinner  spinner.Model
	cancel   context.CancelFunc
	total    int
	done     int
	current  string
	results  []string
	finished bool
	report   *batch.Report
	err      error
}

func NewModel(total int, cancel context.CancelFunc) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Spinner
	return Model{spinner: s, total: total, cancel: cancel}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		if msg.Result == nil {
			m.current = msg.Path
			return m, nil
		}
		m.done++
		m.current = ""
		m.results = append(m.results, resultLine(*msg.Result))
		return m, nil

	case finishedMsg:
		m.finished = true
		m.report = msg.report
		m.err = msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			// stop after the current library; finishedMsg still follows
			if m.cancel != nil {
				m.cancel()
			}
		}
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	for _, line := range m.results {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if !m.finished {
		status := fmt.Sprintf("Patching %d/%d", m.done, m.total)
		if m.current != "" {
			status += " " + styles.Path.Render(filepath.Base(m.current))
		}
		fmt.Fprintf(&b, "%s %s\n", m.spinner.View(), status)
	}
	return b.String()
}

func resultLine(r batch.Result) string {
	mark := styles.Muted.Render("-")
	switch {
	case r.Failed():
		mark = styles.Fail.Render("✗")
	case r.Patched:
		mark = styles.OK.Render("✓")
	case r.Err != "":
		mark = styles.Warn.Render("!")
	}
	line := fmt.Sprintf("%s %s %s", mark, filepath.Base(r.Path), styles.Muted.Render(r.Status))
	if r.Err != "" && r.Failed() {
		line += " " + styles.Muted.Render(r.Err)
	}
	return line
}

// Run executes work while rendering progress. It returns once both the
// renderer and the work have finished.
func Run(ctx context.Context, total int, work Work) (*batch.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(total, cancel), tea.WithContext(ctx))
	result := make(chan finishedMsg, 1)
	go func() {
		report, err := work(ctx, func(ev batch.Event) { p.Send(eventMsg(ev)) })
		msg := finishedMsg{report: report, err: err}
		result <- msg
		p.Send(msg)
	}()

	_, uiErr := p.Run()
	cancel()
	msg := <-result
	if msg.err == nil && uiErr != nil && msg.report == nil {
		return nil, fmt.Errorf("progress UI: %w", uiErr)
	}
	return msg.report, msg.err
}
