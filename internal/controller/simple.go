package controller

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	m "github.com/mouse-blink/hotpatch/internal/model"
)

// SimpleUI implements UI using cobra Command's output writer.
type SimpleUI struct {
	cmd *cobra.Command
}

// NewSimpleUI creates a new SimpleUI.
func NewSimpleUI(cmd *cobra.Command) *SimpleUI {
	return &SimpleUI{cmd: cmd}
}

// DisplayChecks prints one table row per resolved patch and the error of
// every failed plan.
func (s *SimpleUI) DisplayChecks(results []m.CheckResult) error {
	if len(results) == 0 {
		s.printf("No plan files found\n")

		return nil
	}

	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader([]string{"Plan", "Target", "Pattern", "Mode", "File", "Line"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_CENTER, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT,
	})

	patches := 0

	for _, result := range results {
		for _, r := range result.Reports {
			table.Append([]string{string(r.Plan), r.Target, r.Pattern, string(r.Mode), r.File, strconv.Itoa(r.Line)})

			patches++
		}
	}

	failed := failedPlans(results)

	table.SetFooter([]string{
		fmt.Sprintf("Plans %d", len(results)),
		fmt.Sprintf("Failed %d", failed),
		"", "", "",
		strconv.Itoa(patches),
	})

	table.Render()
	s.printf("\n%s", tableBuffer.String())

	for _, result := range results {
		if result.Err != nil {
			s.printf("%s: %v\n", result.Plan, result.Err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d plans failed", failed, len(results))
	}

	return nil
}

// DisplayDiffs prints the unified diff of every target.
func (s *SimpleUI) DisplayDiffs(diffs []m.DiffResult) error {
	if len(diffs) == 0 {
		s.printf("No changes\n")

		return nil
	}

	for _, d := range diffs {
		s.printf("# %s\n%s", d.Target, d.Unified)
	}

	return nil
}

// DisplayRun prints the values returned by the called function.
func (s *SimpleUI) DisplayRun(result m.RunResult, err error) error {
	if err != nil {
		s.printf("run error: %v\n", err)

		return err
	}

	s.printf("%s(%s) = %s\n", result.Function, joinValues(result.Args), joinValues(result.Values))

	return nil
}

// Dump writes the Go syntax of v.
func (s *SimpleUI) Dump(v any) {
	dump(s.cmd.OutOrStdout(), v)
}

func (s *SimpleUI) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.cmd.OutOrStdout(), format, args...)
}

func joinValues(values []any) string {
	var b bytes.Buffer

	for i, v := range values {
		if i > 0 {
			b.WriteString(", ")
		}

		fmt.Fprintf(&b, "%#v", v)
	}

	return b.String()
}
