package controller

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	m "github.com/mouse-blink/hotpatch/internal/model"
)

// StyledUI implements UI with lipgloss styling for terminals.
type StyledUI struct {
	output io.Writer

	title, accent, muted, failure lipgloss.Style
	added, removed, hunk          lipgloss.Style
	box                           lipgloss.Style
}

// NewStyledUI creates a new StyledUI.
func NewStyledUI(output io.Writer) *StyledUI {
	return &StyledUI{
		output:  output,
		title:   lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true),
		accent:  lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		failure: lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		added:   lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		removed: lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		hunk:    lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("6")).
			Padding(0, 1),
	}
}

// DisplayChecks renders one box per plan listing where its patches landed.
func (s *StyledUI) DisplayChecks(results []m.CheckResult) error {
	if len(results) == 0 {
		s.println(s.muted.Render("No plan files found"))

		return nil
	}

	for _, result := range results {
		lines := []string{s.title.Render(string(result.Plan))}

		for _, r := range result.Reports {
			lines = append(lines, fmt.Sprintf("%-7s %s %s %s",
				string(r.Mode),
				s.accent.Render(r.Target),
				r.Pattern,
				s.muted.Render(fmt.Sprintf("%s:%d", r.File, r.Line)),
			))
		}

		if result.Err != nil {
			lines = append(lines, s.failure.Render(result.Err.Error()))
		}

		s.println(s.box.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))
	}

	if failed := failedPlans(results); failed > 0 {
		return fmt.Errorf("%d of %d plans failed", failed, len(results))
	}

	return nil
}

// DisplayDiffs prints the unified diffs with added and removed lines coloured.
func (s *StyledUI) DisplayDiffs(diffs []m.DiffResult) error {
	if len(diffs) == 0 {
		s.println(s.muted.Render("No changes"))

		return nil
	}

	for _, d := range diffs {
		s.println(s.title.Render(d.Target))

		for _, line := range strings.SplitAfter(d.Unified, "\n") {
			if line == "" {
				continue
			}

			text := strings.TrimSuffix(line, "\n")

			switch {
			case strings.HasPrefix(text, "+++"), strings.HasPrefix(text, "---"):
				text = s.muted.Render(text)
			case strings.HasPrefix(text, "@@"):
				text = s.hunk.Render(text)
			case strings.HasPrefix(text, "+"):
				text = s.added.Render(text)
			case strings.HasPrefix(text, "-"):
				text = s.removed.Render(text)
			}

			s.println(text)
		}
	}

	return nil
}

// DisplayRun prints the values returned by the called function.
func (s *StyledUI) DisplayRun(result m.RunResult, err error) error {
	if err != nil {
		s.println(s.failure.Render("run error: " + err.Error()))

		return err
	}

	s.println(fmt.Sprintf("%s(%s) = %s",
		s.accent.Render(result.Function),
		joinValues(result.Args),
		s.title.Render(joinValues(result.Values)),
	))

	return nil
}

// Dump writes the Go syntax of v.
func (s *StyledUI) Dump(v any) {
	dump(s.output, v)
}

func (s *StyledUI) println(text string) {
	_, _ = fmt.Fprintln(s.output, text)
}
