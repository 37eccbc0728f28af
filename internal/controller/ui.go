// Package controller provides output adapters for displaying plan checks,
// diffs and run results.
package controller

import (
	"io"
	"os"

	"github.com/kr/pretty"
	"github.com/spf13/cobra"

	m "github.com/mouse-blink/hotpatch/internal/model"
)

// UI defines the interface for displaying command results.
// Implementations can use different output methods (simple text, styled, etc).
type UI interface {
	// DisplayChecks shows where the patches of each plan resolved. It
	// returns an error when any plan failed.
	DisplayChecks(results []m.CheckResult) error
	DisplayDiffs(diffs []m.DiffResult) error
	DisplayRun(result m.RunResult, err error) error
	// Dump writes the Go syntax of v, for --dump.
	Dump(v any)
}

// NewUI creates a UI based on whether TTY mode is enabled.
// When useTTY is true, it returns a StyledUI (lipgloss).
// When useTTY is false, it returns a SimpleUI (plain text).
func NewUI(cmd *cobra.Command, useTTY bool) UI {
	if useTTY {
		return NewStyledUI(cmd.OutOrStdout())
	}

	return NewSimpleUI(cmd)
}

// IsTTY checks if the given writer is a terminal (TTY).
// Returns true if the output is an interactive terminal.
// Returns false if the output is redirected to a file or pipe.
func IsTTY(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}

	fileInfo, err := file.Stat()
	if err != nil {
		return false
	}

	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

func dump(w io.Writer, v any) {
	_, _ = pretty.Fprintf(w, "%# v\n", v)
}

// failedPlans counts the plans whose check returned an error.
func failedPlans(results []m.CheckResult) int {
	n := 0

	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}

	return n
}
