package controller

import (
	"bytes"
	"errors"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "github.com/mouse-blink/hotpatch/internal/model"
)

func newTestCommand() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer

	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)

	return cmd, &buf
}

func sampleChecks() []m.CheckResult {
	return []m.CheckResult{
		{
			Plan: "plans/calc.yaml",
			Reports: []m.MatchReport{
				{Plan: "plans/calc.yaml", File: "calc/calc.go", Target: "Compute", Pattern: `"x = x + 10"`, Mode: m.ModeBefore, Line: 6},
				{Plan: "plans/calc.yaml", File: "calc/calc.go", Target: "Compute", Pattern: `"y = y * 2"`, Mode: m.ModeReplace, Line: 7},
			},
		},
	}
}

func TestSimpleUI_DisplayChecks_PrintsTable(t *testing.T) {
	cmd, buf := newTestCommand()

	require.NoError(t, NewSimpleUI(cmd).DisplayChecks(sampleChecks()))

	output := buf.String()
	for _, want := range []string{"plans/calc.yaml", "Compute", `"y = y * 2"`, "replace", "calc/calc.go", "PLANS 1", "FAILED 0"} {
		assert.Contains(t, output, want)
	}
}

func TestSimpleUI_DisplayChecks_Failure(t *testing.T) {
	cmd, buf := newTestCommand()

	results := append(sampleChecks(), m.CheckResult{Plan: "plans/bad.yaml", Err: errors.New("Compute: not found")})

	err := NewSimpleUI(cmd).DisplayChecks(results)
	require.Error(t, err)
	assert.Equal(t, "1 of 2 plans failed", err.Error())
	assert.Contains(t, buf.String(), "plans/bad.yaml: Compute: not found")
}

func TestSimpleUI_DisplayChecks_Empty(t *testing.T) {
	cmd, buf := newTestCommand()

	require.NoError(t, NewSimpleUI(cmd).DisplayChecks(nil))
	assert.Equal(t, "No plan files found\n", buf.String())
}

func TestSimpleUI_DisplayDiffs(t *testing.T) {
	cmd, buf := newTestCommand()

	diffs := []m.DiffResult{{Target: "Compute", File: "calc.go", Unified: "--- a/calc.go\n+++ b/calc.go\n@@ -1 +1 @@\n-a\n+b\n"}}

	require.NoError(t, NewSimpleUI(cmd).DisplayDiffs(diffs))
	assert.Equal(t, "# Compute\n--- a/calc.go\n+++ b/calc.go\n@@ -1 +1 @@\n-a\n+b\n", buf.String())
}

func TestSimpleUI_DisplayRun(t *testing.T) {
	t.Run("values", func(t *testing.T) {
		cmd, buf := newTestCommand()

		result := m.RunResult{Function: "Compute", Args: []any{5, 10}, Values: []any{45}}
		require.NoError(t, NewSimpleUI(cmd).DisplayRun(result, nil))
		assert.Equal(t, "Compute(5, 10) = 45\n", buf.String())
	})

	t.Run("error", func(t *testing.T) {
		cmd, buf := newTestCommand()

		boom := errors.New("boom")
		err := NewSimpleUI(cmd).DisplayRun(m.RunResult{}, boom)
		require.ErrorIs(t, err, boom)
		assert.Contains(t, buf.String(), "run error: boom")
	})
}

func TestSimpleUI_Dump(t *testing.T) {
	cmd, buf := newTestCommand()

	NewSimpleUI(cmd).Dump(m.MatchReport{Target: "Compute", Line: 6})

	output := buf.String()
	assert.Contains(t, output, "model.MatchReport{")
	assert.Contains(t, output, `"Compute"`)
	assert.Regexp(t, `Line:\s+6`, output)
}
