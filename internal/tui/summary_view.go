package tui

import (
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/cabb/almabatch/internal/pipeline"
)

//nolint:gochecknoglobals // Global printer is idiomatic for x/text/message usage.
var printer = message.NewPrinter(language.English)

// RenderSummary renders a finished run as a bordered box. Counts use
// thousands separators.
func RenderSummary(s pipeline.Summary, width int) string {
	var b strings.Builder

	b.WriteString(HeaderStyle.Render(strings.ToUpper(s.Operation)))
	b.WriteString("  ")
	b.WriteString(stateStyle(s.State).Render(s.State.String()))
	b.WriteString("\n")
	if s.Origin != "" {
		b.WriteString(SubtleStyle.Render(s.Origin))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	c := s.Counters
	line := func(label string, n int) {
		b.WriteString(LabelStyle.Render(padLabel(label)))
		b.WriteString(ValueStyle.Render(printer.Sprintf("%d", n)))
		b.WriteString("\n")
	}
	line("Attempted", c.Attempted)
	line("Succeeded", c.Succeeded)
	line("Failed", c.Failed)
	line("Absent", c.Absent)
	if c.Cancelled > 0 {
		line("Cancelled", c.Cancelled)
	}
	line("Chunks", c.Chunks)
	line("Fetch calls", c.FetchCalls)

	if outcomes := outcomeBreakdown(c.ByOutcome); outcomes != "" {
		b.WriteString(LabelStyle.Render(padLabel("Outcomes")))
		b.WriteString(SubtleStyle.Render(outcomes))
		b.WriteString("\n")
	}
	if elapsed := s.Elapsed(); elapsed > 0 {
		b.WriteString(LabelStyle.Render(padLabel("Elapsed")))
		b.WriteString(ValueStyle.Render(elapsed.Round(time.Millisecond).String()))
		b.WriteString("\n")
	}
	if s.TraceID != "" {
		b.WriteString(LabelStyle.Render(padLabel("Trace")))
		b.WriteString(SubtleStyle.Render(s.TraceID))
		b.WriteString("\n")
	}
	if s.Err != nil {
		b.WriteString("\n")
		b.WriteString(ErrorStyle.Render(s.Err.Error()))
		b.WriteString("\n")
	}

	if width <= 0 {
		width = defaultWidth
	}
	return BoxStyle.Width(max(width-borderPadding, 20)).Render(strings.TrimRight(b.String(), "\n")) //nolint:mnd // Narrowest readable box.
}

// RenderPlainProgress is the single-line progress report used when stdout
// is not a terminal.
func RenderPlainProgress(title string, done, total, failed int) string {
	return printer.Sprintf("%s: %d/%d processed, %d failed", title, done, total, failed)
}

func padLabel(label string) string {
	const labelWidth = 13
	if len(label) >= labelWidth {
		return label + " "
	}
	return label + strings.Repeat(" ", labelWidth-len(label))
}

func stateStyle(s pipeline.State) lipgloss.Style {
	switch s {
	case pipeline.StateCompleted:
		return SuccessStyle
	case pipeline.StateCancelled:
		return WarningStyle
	case pipeline.StateFatal:
		return ErrorStyle
	default:
		return InfoStyle
	}
}

func outcomeBreakdown(by map[pipeline.Outcome]int) string {
	if len(by) == 0 {
		return ""
	}
	outcomes := make([]pipeline.Outcome, 0, len(by))
	for o := range by {
		outcomes = append(outcomes, o)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i] < outcomes[j] })

	parts := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		parts = append(parts, printer.Sprintf("%s=%d", o.String(), by[o]))
	}
	return strings.Join(parts, " ")
}
