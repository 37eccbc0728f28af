package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mouse-blink/hotpatch/internal/domain"
	m "github.com/mouse-blink/hotpatch/internal/model"
)

var checkParallelFlag int
var checkDumpFlag bool

// checkCmd represents the check command.
var checkCmd = newCheckCmd()

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [plans...]",
		Short: "Resolve every patch of the given plans without applying them",
		Long: `Resolve and validate every patch of the given plans against the source on
disk and print where each one lands. Arguments are plan files or
directories; "dir/..." searches recursively. Defaults to the current
directory.`,
		RunE: func(_ *cobra.Command, args []string) error {
			threads := checkParallelFlag
			if threads == 0 {
				threads = settings.Threads
			}

			results, err := workflow.Check(domain.CheckArgs{
				Plans:   parsePaths(args),
				Root:    m.Path(rootFlag),
				Threads: threads,
			})
			if err != nil {
				return err
			}

			if checkDumpFlag {
				ui.Dump(results)
			}

			return ui.DisplayChecks(results)
		},
	}
	cmd.Flags().IntVarP(&checkParallelFlag, "parallel", "p", 0, "number of plans checked at once (0 uses the configured value)")
	cmd.Flags().BoolVar(&checkDumpFlag, "dump", false, "dump the raw check results")

	return cmd
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
