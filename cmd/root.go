// Package cmd defines and implements the CLI commands for the harvester executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-harvester/internal/batch"
	"github.com/JakeFAU/keyword-harvester/internal/config"
	"github.com/JakeFAU/keyword-harvester/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App carries what every subcommand needs.
type App struct {
	Config config.Config
	Logger *zap.Logger
	Fs     afero.Fs
}

// Close flushes buffered log entries.
func (a *App) Close() {
	_ = a.Logger.Sync()
}

// newApp is the application factory. It's a variable so tests can swap
// the filesystem or logger.
var newApp = func(cmd *cobra.Command, cfgFile string) (*App, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	opts := logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	}
	if cfg.Logging.File != "" {
		opts.OutputPaths = []string{"stderr", cfg.Logging.File}
	}
	logger, err := logging.New(opts)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return &App{Config: cfg, Logger: logger, Fs: afero.NewOsFs()}, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Resumable batch keyword harvester",
		Long: `harvester runs a download job for every keyword of a CSV list, one at a
time, recording each outcome in a checkpoint log so an interrupted or
partially failed batch can be resumed or remediated later.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs after flags are parsed but before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd, cfgFile)
			if err != nil {
				return fmt.Errorf("initialize: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./harvester.yaml or $HOME/.keyword-harvester/harvester.yaml)")
	cmd.PersistentFlags().Bool("dev", true, "development logging")
	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newStatusCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*App, error) {
	appInstance, ok := ctx.Value(appKey).(*App)
	if !ok || appInstance == nil {
		return nil, errors.New("application not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// execute runs the CLI and returns the process exit code.
func execute(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		if batch.IsFatal(err) {
			fmt.Fprintln(errOut, "Nothing was processed; fix the input or the checkpoint log and rerun.")
		}
		if hint := batch.Hints(err); hint != "" {
			fmt.Fprintf(errOut, "Hint: %s\n", hint)
		}
		return 1
	}
	return 0
}
