package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mouse-blink/hotpatch/internal/domain"
	m "github.com/mouse-blink/hotpatch/internal/model"
)

// diffCmd represents the diff command.
var diffCmd = newDiffCmd()

func newDiffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff <plan>",
		Short: "Show the source a plan produces",
		Long:  "Print a unified diff between the original and the patched source of every target of a plan.",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			diffs, err := workflow.Diff(domain.DiffArgs{Plan: m.Path(args[0]), Root: m.Path(rootFlag)})
			if err != nil {
				return err
			}

			return ui.DisplayDiffs(diffs)
		},
	}

	return cmd
}

func init() {
	rootCmd.AddCommand(diffCmd)
}
