package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mouse-blink/hotpatch/internal/domain"
	m "github.com/mouse-blink/hotpatch/internal/model"
)

func newTestRoot(sub ...*cobra.Command) (*cobra.Command, *bytes.Buffer) {
	var out bytes.Buffer

	cmd := newRootCmd()
	cmd.AddCommand(sub...)
	cmd.SetOut(&out)
	cmd.SetErr(&out)

	return cmd, &out
}

func TestRootCmd_Flags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"config", "gopath", "root", "verbose"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "missing flag %s", name)
	}
}

func TestRootCmd_GoPathFlagOverridesConfig(t *testing.T) {
	mw := useMockWorkflow(t)
	mw.On("Check", mock.Anything).Return([]m.CheckResult{}, nil)

	cfgPath := filepath.Join(t.TempDir(), "hotpatch.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("gopath: from-file\nthreads: 3\n"), 0o600))

	cmd, _ := newTestRoot(newCheckCmd())
	cmd.SetArgs([]string{"--config", cfgPath, "--gopath", "from-flag", "check"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "from-flag", settings.GoPath)
	assert.Equal(t, 3, settings.Threads)
}

func TestRootCmd_BadConfig(t *testing.T) {
	useMockWorkflow(t)

	cfgPath := filepath.Join(t.TempDir(), "hotpatch.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log_level: loud\n"), 0o600))

	cmd, _ := newTestRoot(newCheckCmd())
	cmd.SetArgs([]string{"--config", cfgPath, "check"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestCheckCmd(t *testing.T) {
	t.Run("defaults to the current directory", func(t *testing.T) {
		mw := useMockWorkflow(t)
		mw.On("Check", domain.CheckArgs{Plans: []m.Path{"."}, Threads: 1}).Return([]m.CheckResult{}, nil)

		cmd, out := newTestRoot(newCheckCmd())
		cmd.SetArgs([]string{"check"})
		require.NoError(t, cmd.Execute())

		assert.Contains(t, out.String(), "No plan files found")
	})

	t.Run("passes plans, root and parallelism", func(t *testing.T) {
		mw := useMockWorkflow(t)
		mw.On("Check", domain.CheckArgs{Plans: []m.Path{"a.yaml", "plans/..."}, Root: "src", Threads: 4}).Return([]m.CheckResult{
			{Plan: "a.yaml", Reports: []m.MatchReport{{Plan: "a.yaml", Target: "Compute", Pattern: `"x = x + 10"`, Mode: m.ModeBefore, File: "calc.go", Line: 6}}},
		}, nil)

		cmd, out := newTestRoot(newCheckCmd())
		cmd.SetArgs([]string{"--root", "src", "check", "-p", "4", "a.yaml", "plans/..."})
		require.NoError(t, cmd.Execute())

		assert.Contains(t, out.String(), "Compute")
		assert.Contains(t, out.String(), "calc.go")
	})

	t.Run("failed plans fail the command", func(t *testing.T) {
		mw := useMockWorkflow(t)
		mw.On("Check", mock.Anything).Return([]m.CheckResult{{Plan: "bad.yaml", Err: domain.ErrNotFound}}, nil)

		cmd, out := newTestRoot(newCheckCmd())
		cmd.SetArgs([]string{"check", "bad.yaml"})
		require.Error(t, cmd.Execute())

		assert.Contains(t, out.String(), "bad.yaml")
	})

	t.Run("dump", func(t *testing.T) {
		mw := useMockWorkflow(t)
		mw.On("Check", mock.Anything).Return([]m.CheckResult{{Plan: "a.yaml"}}, nil)

		cmd, out := newTestRoot(newCheckCmd())
		cmd.SetArgs([]string{"check", "--dump", "a.yaml"})
		require.NoError(t, cmd.Execute())

		assert.Contains(t, out.String(), "model.CheckResult{")
	})
}

func TestDiffCmd(t *testing.T) {
	t.Run("prints diffs", func(t *testing.T) {
		mw := useMockWorkflow(t)
		mw.On("Diff", domain.DiffArgs{Plan: "plan.yaml"}).Return([]m.DiffResult{
			{Target: "Compute", File: "calc.go", Unified: "--- a/calc.go\n+++ b/calc.go\n"},
		}, nil)

		cmd, out := newTestRoot(newDiffCmd())
		cmd.SetArgs([]string{"diff", "plan.yaml"})
		require.NoError(t, cmd.Execute())

		assert.Contains(t, out.String(), "# Compute")
		assert.Contains(t, out.String(), "+++ b/calc.go")
	})

	t.Run("needs exactly one plan", func(t *testing.T) {
		useMockWorkflow(t)

		cmd, _ := newTestRoot(newDiffCmd())
		cmd.SetArgs([]string{"diff"})
		require.Error(t, cmd.Execute())
	})
}

func TestRunCmd(t *testing.T) {
	t.Run("prints returned values", func(t *testing.T) {
		mw := useMockWorkflow(t)
		mw.On("Run", mock.MatchedBy(func(args domain.RunArgs) bool {
			return args.Plan == "plan.yaml" && args.Function == "Compute" &&
				assert.ObjectsAreEqual([]string{"5", "10"}, args.Args) && args.Stdout != nil
		})).Return(m.RunResult{Function: "Compute", Args: []any{5, 10}, Values: []any{45}}, nil)

		cmd, out := newTestRoot(newRunCmd())
		cmd.SetArgs([]string{"run", "plan.yaml", "Compute", "5", "10"})
		require.NoError(t, cmd.Execute())

		assert.Contains(t, out.String(), "Compute(5, 10) = 45")
	})

	t.Run("reports errors", func(t *testing.T) {
		mw := useMockWorkflow(t)
		mw.On("Run", mock.Anything).Return(m.RunResult{}, domain.ErrConflict)

		cmd, out := newTestRoot(newRunCmd())
		cmd.SetArgs([]string{"run", "plan.yaml", "Compute"})

		err := cmd.Execute()
		require.ErrorIs(t, err, domain.ErrConflict)
		assert.Contains(t, out.String(), "run error")
	})

	t.Run("needs a plan and a function", func(t *testing.T) {
		useMockWorkflow(t)

		cmd, _ := newTestRoot(newRunCmd())
		cmd.SetArgs([]string{"run", "plan.yaml"})
		require.Error(t, cmd.Execute())
	})
}

func TestParsePaths(t *testing.T) {
	assert.Equal(t, []m.Path{"."}, parsePaths(nil))
	assert.Equal(t, []m.Path{"a", "b/..."}, parsePaths([]string{"a", "b/..."}))
}
