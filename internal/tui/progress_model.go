package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cabb/almabatch/internal/engine/batch"
	"github.com/cabb/almabatch/internal/pipeline"
)

// RunViewState is where the progress view is in its lifecycle.
type RunViewState int

const (
	// RunViewRunning shows the live bar.
	RunViewRunning RunViewState = iota
	// RunViewCancelling has asked the run to stop and waits for it.
	RunViewCancelling
	// RunViewDone shows the final summary.
	RunViewDone
)

// ProgressMsg carries a progress snapshot into the program.
type ProgressMsg struct {
	Snapshot batch.ProgressSnapshot
}

// DoneMsg ends the program with the run's summary.
type DoneMsg struct {
	Summary pipeline.Summary
	Err     error
}

// ProgressModel is the Bubble Tea model for a running batch. Pressing q or
// ctrl+c asks the run to stop; the view stays up until the run reports back.
//
//nolint:recvcheck // Bubble Tea requires value receivers for Init/Update/View interface methods.
type ProgressModel struct {
	title  string
	cancel pipeline.Canceller
	bar    progress.Model

	state    RunViewState
	snapshot batch.ProgressSnapshot
	summary  *pipeline.Summary
	err      error
	width    int
}

// NewProgressModel returns a model titled title that calls cancel when the
// operator asks to stop.
func NewProgressModel(title string, cancel pipeline.Canceller) ProgressModel {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = defaultWidth - borderPadding
	return ProgressModel{
		title:  title,
		cancel: cancel,
		bar:    bar,
		width:  defaultWidth,
	}
}

// State returns the view state.
func (m ProgressModel) State() RunViewState { return m.state }

// Summary returns the final summary once the run has reported back.
func (m ProgressModel) Summary() (pipeline.Summary, bool) {
	if m.summary == nil {
		return pipeline.Summary{}, false
	}
	return *m.summary, true
}

// Init implements tea.Model.
func (m ProgressModel) Init() tea.Cmd { return nil }

// Update implements tea.Model.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = min(max(msg.Width-borderPadding, 10), maxBarWidth) //nolint:mnd // Smallest usable bar.
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.state == RunViewRunning {
				m.state = RunViewCancelling
				if m.cancel != nil {
					m.cancel.Cancel()
				}
			}
		}
		return m, nil

	case ProgressMsg:
		if msg.Snapshot.ProcessedItems >= m.snapshot.ProcessedItems {
			m.snapshot = msg.Snapshot
		}
		return m, nil

	case DoneMsg:
		m.state = RunViewDone
		s := msg.Summary
		m.summary = &s
		m.err = msg.Err
		return m, tea.Quit
	}
	return m, nil
}

// View implements tea.Model.
func (m ProgressModel) View() string {
	if m.state == RunViewDone && m.summary != nil {
		return RenderSummary(*m.summary, m.width) + "\n"
	}

	s := m.snapshot
	var b strings.Builder
	b.WriteString(HeaderStyle.Render(m.title))
	b.WriteString("\n\n")
	b.WriteString(m.bar.ViewAs(s.Ratio()))
	b.WriteString("\n\n")

	stats := []string{
		LabelStyle.Render("Items ") + ValueStyle.Render(printer.Sprintf("%d/%d", s.ProcessedItems, s.TotalItems)),
		LabelStyle.Render("Batches ") + ValueStyle.Render(fmt.Sprintf("%d/%d", s.ProcessedBatches, s.TotalBatches)),
	}
	if s.FailedItems > 0 {
		stats = append(stats, ErrorStyle.Render(printer.Sprintf("%d failed", s.FailedItems)))
	}
	if s.ItemsPerSecond > 0 {
		stats = append(stats, SubtleStyle.Render(fmt.Sprintf("%.1f/s", s.ItemsPerSecond)))
	}
	if s.Remaining > 0 {
		stats = append(stats, SubtleStyle.Render("eta "+s.Remaining.Round(time.Second).String()))
	}
	b.WriteString(strings.Join(stats, "  "))
	b.WriteString("\n")

	switch m.state {
	case RunViewCancelling:
		b.WriteString(WarningStyle.Render("Stopping after the current record..."))
	default:
		b.WriteString(SubtleStyle.Render("q: stop"))
	}
	b.WriteString("\n")
	return lipgloss.NewStyle().MaxWidth(max(m.width, 1)).Render(b.String())
}
