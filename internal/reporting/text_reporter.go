// internal/reporting/text_reporter.go
package reporting

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/xkilldash9x/signupguard/internal/scenario"
)

// TextReporter renders a terminal summary of each run. Colors are only emitted
// when the writer is a terminal.
type TextReporter struct {
	writer io.WriteCloser
	mu     sync.Mutex

	title  lipgloss.Style
	pass   lipgloss.Style
	fail   lipgloss.Style
	label  lipgloss.Style
	muted  lipgloss.Style
	box    lipgloss.Style
	passes int
	fails  int
}

func NewTextReporter(writer io.WriteCloser) *TextReporter {
	r := lipgloss.NewRenderer(writer)
	return &TextReporter{
		writer: writer,
		title:  r.NewStyle().Bold(true),
		pass:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		fail:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		label:  r.NewStyle().Width(14),
		muted:  r.NewStyle().Foreground(lipgloss.Color("245")),
		box:    r.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
	}
}

func (r *TextReporter) Write(result *scenario.Result) error {
	result = Redact(result)

	r.mu.Lock()
	defer r.mu.Unlock()

	status := r.pass.Render("PASS")
	if result.State == scenario.StateCompleted {
		r.passes++
	} else {
		status = r.fail.Render("FAIL")
		r.fails++
	}

	lines := []string{
		fmt.Sprintf("%s %s", status, r.title.Render(fmt.Sprintf("%s expects %s", result.Scenario, result.Expect))),
		r.row("run", result.RunID),
		r.row("driver", result.Driver),
		r.row("target", strings.TrimSuffix(result.BaseURL, "/")+result.Route),
		r.row("state", string(result.State)),
	}
	if result.Reach != nil {
		lines = append(lines, r.row("attempts", fmt.Sprintf("%d", result.Reach.Attempts)))
	}
	for _, f := range result.Fields {
		lines = append(lines, r.row("field", fmt.Sprintf("%s = %s", f.Name, f.Value)))
	}
	if ev := result.Eval; ev != nil {
		lines = append(lines,
			r.row("url", ev.URL),
			r.row("session", fmt.Sprintf("%t", ev.Authenticated)),
			r.row("forms", fmt.Sprintf("%d", ev.FormCount)))
		for _, d := range ev.Diagnostics {
			lines = append(lines, r.row("diagnostic", d))
		}
		for _, u := range ev.Unmet {
			lines = append(lines, r.row("unmet", u))
		}
	}
	if result.Error != "" {
		lines = append(lines, r.row("error", result.Error))
	}
	if !result.Release.OK() {
		lines = append(lines, r.row("release", result.Release.Err.Error()))
	}
	lines = append(lines, r.muted.Render(fmt.Sprintf("finished in %s", result.Duration.Round(time.Millisecond))))

	_, err := fmt.Fprintln(r.writer, r.box.Render(strings.Join(lines, "\n")))
	return err
}

func (r *TextReporter) row(label, value string) string {
	return r.label.Render(label) + value
}

func (r *TextReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, writeErr := fmt.Fprintf(r.writer, "%d passed, %d failed\n", r.passes, r.fails)
	closeErr := r.writer.Close()
	if writeErr != nil {
		return fmt.Errorf("failed to write summary: %w", writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	return nil
}
