// Package cmd provides the root command and CLI setup for hotpatch.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mouse-blink/hotpatch/internal/adapter"
	"github.com/mouse-blink/hotpatch/internal/config"
	"github.com/mouse-blink/hotpatch/internal/controller"
	"github.com/mouse-blink/hotpatch/internal/domain"
	m "github.com/mouse-blink/hotpatch/internal/model"
)

var configFlag string
var gopathFlag string
var rootFlag string
var verboseFlag bool

var settings *config.Config
var logger *zap.Logger
var workflow domain.Workflow
var ui controller.UI

// newWorkflow builds the workflow for the loaded settings.
var newWorkflow = func(cfg *config.Config, logger *zap.Logger) domain.Workflow {
	fsAdapter := adapter.NewLocalSourceFSAdapter()

	wcfg := domain.WorkflowConfig{GoPath: cfg.GoPath, Logger: logger}
	if cfg.Debug {
		wcfg.Persister = adapter.NewPersister(cfg.CacheDir)
		logger.Debug("persisting patched source", zap.String("dir", wcfg.Persister.Dir()))
	}

	return domain.NewWorkflow(fsAdapter, adapter.NewPlanStore(fsAdapter), wcfg)
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hotpatch",
		Short: "Patch Go functions and packages inside an embedded interpreter",
		Long: `hotpatch rewrites statements of Go functions and packages loaded in an
embedded Go interpreter, without editing the source files.

Patches are described in YAML plan files:

  program: calc/calc.go
  patches:
    - function: Compute
      target: "x = x + 10"
      mode: before
      content: 'fmt.Println("before")'

Targets are literal statements, "re:<regexp>", "@+N:<target>" for the
statement N lines below, or a list of targets for a nested path.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "path to a hotpatch.yaml settings file")
	cmd.PersistentFlags().StringVar(&gopathFlag, "gopath", "", "GOPATH directory, relative to the source root, for plans that do not name one")
	cmd.PersistentFlags().StringVarP(&rootFlag, "root", "r", "", "source root (defaults to the directory of each plan)")
	cmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug logging")

	return cmd
}

func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return err
	}

	if gopathFlag != "" {
		cfg.GoPath = gopathFlag
	}

	logger, err = cfg.Logger(verboseFlag)
	if err != nil {
		return err
	}

	settings = cfg
	workflow = newWorkflow(cfg, logger)
	ui = controller.NewUI(cmd, controller.IsTTY(cmd.OutOrStdout()))

	return nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func parsePaths(args []string) []m.Path {
	if len(args) == 0 {
		return []m.Path{"."}
	}

	paths := make([]m.Path, 0, len(args))
	for _, arg := range args {
		paths = append(paths, m.Path(arg))
	}

	return paths
}
