package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mouse-blink/hotpatch/internal/domain"
	m "github.com/mouse-blink/hotpatch/internal/model"
)

// runCmd represents the run command.
var runCmd = newRunCmd()

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <plan> <function> [args...]",
		Short: "Call a function of a plan's program with the plan applied",
		Long: `Load the program named by the plan into an interpreter, apply the plan,
call the function with the given arguments and print what it returns.
Arguments are parsed according to the function's parameter types. The
plan is removed again once the call returns.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := workflow.Run(domain.RunArgs{
				Plan:     m.Path(args[0]),
				Root:     m.Path(rootFlag),
				Function: args[1],
				Args:     args[2:],
				Stdout:   cmd.OutOrStdout(),
			})

			return ui.DisplayRun(result, err)
		},
	}

	return cmd
}

func init() {
	rootCmd.AddCommand(runCmd)
}
