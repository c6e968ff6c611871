package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-harvester/internal/api"
	"github.com/JakeFAU/keyword-harvester/internal/batch"
	"github.com/JakeFAU/keyword-harvester/internal/clock/system"
	"github.com/JakeFAU/keyword-harvester/internal/config"
	"github.com/JakeFAU/keyword-harvester/internal/id/uuid"
	"github.com/JakeFAU/keyword-harvester/internal/inspect"
	"github.com/JakeFAU/keyword-harvester/internal/metrics"
	"github.com/JakeFAU/keyword-harvester/internal/source"
)

// signalNotify is swapped in tests to deliver a fake interrupt.
var signalNotify = signal.Notify

var osExit = os.Exit

// watchSignals hands the first signal to onFirst and force-quits with
// exit(1) on any later one, until done is closed.
func watchSignals(sigs <-chan os.Signal, done <-chan struct{}, onFirst func(os.Signal), exit func(int)) {
	interrupted := false
	for {
		select {
		case sig := <-sigs:
			if interrupted {
				exit(1)
				return
			}
			interrupted = true
			onFirst(sig)
		case <-done:
			return
		}
	}
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <keywords.csv>",
		Short: "Process a range of keywords",
		Long: `Runs the configured job for every keyword in the selected rows of the
CSV file, recording each outcome in the checkpoint log. When the log
already holds failed or low-yield rows the operator may retry only those.`,
		Args: cobra.ExactArgs(1),
		RunE: runBatchCommand,
	}
	f := cmd.Flags()
	f.Int("start-row", 1, "first row to process (1-based, inclusive)")
	f.Int("end-row", 0, "last row to process (inclusive; 0 means the last row)")
	f.String("save-path", "downloads", "directory receiving runner output")
	f.String("log-file", "", "checkpoint log (default harvest_log_<timestamp>.csv)")
	f.Int("min-items", 1500, "minimum items a keyword must yield")
	f.String("remediation", "ask", "remediable rows policy: ask, failed or full")
	f.String("run-id", "", "run identifier (default a new UUIDv7)")
	f.String("backend", "csv", "checkpoint backend: csv, sqlite or postgres")
	f.String("runner", "exec", "job runner: exec, colly or headless")
	f.Int("count", 0, "items each keyword should produce")
	f.Bool("serve", false, "serve the status API while running")
	f.String("addr", ":9464", "status API listen address")
	return cmd
}

func runBatchCommand(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config
	logger := appInstance.Logger
	if err := cfg.ValidateRunner(); err != nil {
		return fmt.Errorf("%w: %w", batch.ErrValidation, err)
	}

	items, err := source.Load(appInstance.Fs, args[0])
	if err != nil {
		return err
	}
	rng, err := batch.ValidateRange(cfg.Range(), len(items))
	if err != nil {
		return err
	}
	if err := appInstance.Fs.MkdirAll(cfg.Batch.SavePath, 0o755); err != nil {
		return fmt.Errorf("create save path: %w", err)
	}

	clock := system.New()
	runID, err := uuid.NewUUIDGenerator().Resolve(cfg.Batch.RunID)
	if err != nil {
		return err
	}
	logger = logger.With(zap.String("run_id", runID))
	logFile := cfg.Checkpoint.LogFile
	if logFile == "" {
		logFile = config.DefaultLogFile(clock.Now())
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var cl closers
	defer cl.close()

	log, err := openCheckpointLog(ctx, appInstance, logFile, &cl)
	if err != nil {
		return err
	}
	recorder := metrics.NewRecorder()
	runner, err := buildRunner(cfg, appInstance.Fs, recorder, &cl, logger)
	if err != nil {
		return fmt.Errorf("build runner: %w", err)
	}
	pub, err := openPublisher(ctx, cfg, &cl, logger)
	if err != nil {
		return fmt.Errorf("open publisher: %w", err)
	}
	remediation, err := batch.PolicyByName(cfg.Batch.Remediation, cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil {
		return err
	}

	orch, err := batch.NewOrchestrator(batch.Components{
		Runner:      runner,
		Inspector:   inspect.New(appInstance.Fs, cfg.Inspect.Extensions),
		Log:         log,
		Policy:      cfg.Policy(),
		Remediation: remediation,
		Sleeper:     clock,
		Clock:       clock,
		Metrics:     recorder,
		Publisher:   pub,
		Topic:       cfg.Publisher.Topic,
		RunID:       runID,
		Logger:      logger.Named("batch"),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := orch.OnExit(context.WithoutCancel(ctx)); err != nil {
			logger.Error("final checkpoint flush failed", zap.Error(err))
		}
	}()

	sigs := make(chan os.Signal, 1)
	signalNotify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	done := make(chan struct{})
	defer close(done)
	go watchSignals(sigs, done, func(sig os.Signal) {
		logger.Warn("signal received", zap.String("signal", sig.String()))
		if err := orch.OnInterrupt(context.WithoutCancel(ctx), cmd.ErrOrStderr()); err != nil {
			logger.Error("interrupt flush failed", zap.Error(err))
		}
		cancel()
	}, func(code int) {
		logger.Error("second signal received, exiting immediately")
		osExit(code)
	})

	if cfg.Server.Enabled {
		stop := serveStatus(cfg, orch, log, recorder, logger)
		defer stop()
	}

	logger.Info("starting batch",
		zap.String("source", args[0]),
		zap.String("checkpoint_log", log.Name()),
		zap.String("runner", cfg.Runner.Kind),
		zap.Int("start_row", rng.Start),
		zap.Int("end_row", rng.End),
	)
	sum, err := orch.Run(ctx, rng, items)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Run %s complete: %d processed, %d succeeded, %d failed. Log: %s\n",
		sum.RunID, sum.Processed, sum.Succeeded, sum.Failed, log.Name())
	return nil
}

// serveStatus starts the status API and returns a function that shuts it
// down.
func serveStatus(cfg config.Config, progress api.ProgressSource, records api.RecordSource, recorder *metrics.Recorder, logger *zap.Logger) func() {
	apiServer := api.NewServer(progress, records, cfg.Batch.MinRequiredItems, recorder, logger.Named("api"))
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("status server started", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server error", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("status server shutdown error", zap.Error(err))
		}
	}
}
