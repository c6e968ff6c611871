package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-harvester/internal/batch"
	"github.com/JakeFAU/keyword-harvester/internal/checkpoint"
	"github.com/JakeFAU/keyword-harvester/internal/checkpoint/postgres"
	"github.com/JakeFAU/keyword-harvester/internal/checkpoint/sqlite"
	"github.com/JakeFAU/keyword-harvester/internal/config"
	"github.com/JakeFAU/keyword-harvester/internal/metrics"
	memorypublisher "github.com/JakeFAU/keyword-harvester/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/keyword-harvester/internal/publisher/pubsub"
	collyrunner "github.com/JakeFAU/keyword-harvester/internal/runner/colly"
	"github.com/JakeFAU/keyword-harvester/internal/runner/download"
	execrunner "github.com/JakeFAU/keyword-harvester/internal/runner/exec"
	"github.com/JakeFAU/keyword-harvester/internal/runner/headless"
	"github.com/JakeFAU/keyword-harvester/internal/storage/gcs"
	"github.com/JakeFAU/keyword-harvester/internal/storage/local"
)

// closers releases resources in reverse acquisition order.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) close() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// openBackend builds the configured checkpoint backend for logFile.
func openBackend(ctx context.Context, cfg config.Config, fs afero.Fs, logFile string, cl *closers, logger *zap.Logger) (checkpoint.Backend, error) {
	switch cfg.Checkpoint.Backend {
	case "csv":
		return checkpoint.NewFileBackend(fs, logFile)
	case "sqlite":
		b, err := sqlite.Open(ctx, logFile, logName(logFile))
		if err != nil {
			return nil, err
		}
		cl.add(func() {
			if err := b.Close(); err != nil {
				logger.Warn("close sqlite checkpoint", zap.Error(err))
			}
		})
		return b, nil
	case "postgres":
		b, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.Checkpoint.DSN,
			Table:    cfg.Checkpoint.Table,
			LogName:  logName(logFile),
			MaxConns: cfg.Checkpoint.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		cl.add(b.Close)
		return b, nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
}

// logName strips directories and the extension so the same log file flag
// names the same rows in every backend.
func logName(logFile string) string {
	base := filepath.Base(logFile)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// openMirror returns nil when no mirror is configured.
func openMirror(ctx context.Context, cfg config.Config, fs afero.Fs, cl *closers, logger *zap.Logger) (checkpoint.Mirror, error) {
	m := cfg.Checkpoint.Mirror
	switch m.Kind {
	case "", "none":
		return nil, nil
	case "local":
		return local.New(fs, local.Config{BaseDir: m.Dir})
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		cl.add(func() {
			if err := client.Close(); err != nil {
				logger.Warn("close storage client", zap.Error(err))
			}
		})
		return gcs.New(client, gcs.Config{Bucket: m.Bucket, Prefix: m.Prefix})
	default:
		return nil, fmt.Errorf("unknown mirror kind %q", m.Kind)
	}
}

// openCheckpointLog loads (or creates) the log with its optional mirror.
func openCheckpointLog(ctx context.Context, app *App, logFile string, cl *closers) (*checkpoint.Log, error) {
	backend, err := openBackend(ctx, app.Config, app.Fs, logFile, cl, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint backend: %w", err)
	}
	opts := []checkpoint.Option{checkpoint.WithLogger(app.Logger.Named("checkpoint"))}
	mirror, err := openMirror(ctx, app.Config, app.Fs, cl, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint mirror: %w", err)
	}
	if mirror != nil {
		opts = append(opts, checkpoint.WithMirror(mirror))
	}
	return checkpoint.LoadOrCreate(ctx, backend, opts...)
}

// openPublisher returns nil when events are disabled.
func openPublisher(ctx context.Context, cfg config.Config, cl *closers, logger *zap.Logger) (batch.Publisher, error) {
	switch cfg.Publisher.Kind {
	case "", "none":
		return nil, nil
	case "memory":
		return memorypublisher.New(), nil
	case "pubsub":
		p, err := pubsubpublisher.New(ctx, cfg.Publisher.ProjectID, cfg.Publisher.Topic)
		if err != nil {
			return nil, err
		}
		cl.add(func() {
			if err := p.Close(); err != nil {
				logger.Warn("close pubsub publisher", zap.Error(err))
			}
		})
		return p, nil
	default:
		return nil, fmt.Errorf("unknown publisher kind %q", cfg.Publisher.Kind)
	}
}

// buildRunner constructs the configured job runner. Scraping runners share
// one rate-limited downloader that reports to recorder.
func buildRunner(cfg config.Config, fs afero.Fs, recorder *metrics.Recorder, cl *closers, logger *zap.Logger) (batch.JobRunner, error) {
	rc := cfg.Runner
	logger = logger.Named("runner").With(zap.String("kind", rc.Kind))
	if rc.Kind == "exec" {
		return execrunner.New(execrunner.Config{
			Command:  rc.Exec.Command,
			SavePath: cfg.Batch.SavePath,
			Count:    rc.Count,
		}, logger)
	}

	dl, err := download.New(fs, download.Config{
		UserAgent:         rc.UserAgent,
		RequestsPerSecond: rc.RequestsPerSecond,
		Burst:             rc.Burst,
		Timeout:           rc.Timeout,
	}, download.WithObserver(recorder), download.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	switch rc.Kind {
	case "colly":
		return collyrunner.New(collyrunner.Config{
			SearchURL: rc.Colly.SearchURL,
			Selector:  rc.Colly.Selector,
			Attribute: rc.Colly.Attribute,
			MaxPages:  rc.Colly.MaxPages,
			Count:     rc.Count,
			UserAgent: rc.UserAgent,
			Timeout:   rc.Timeout,
			SavePath:  cfg.Batch.SavePath,
		}, dl, logger)
	case "headless":
		r, err := headless.New(headless.Config{
			SearchURL:         rc.Headless.SearchURL,
			Selector:          rc.Headless.Selector,
			Attribute:         rc.Headless.Attribute,
			ScrollRounds:      rc.Headless.ScrollRounds,
			ScrollPause:       rc.Headless.ScrollPause,
			NavigationTimeout: rc.Headless.NavTimeout,
			Count:             rc.Count,
			UserAgent:         rc.UserAgent,
			SavePath:          cfg.Batch.SavePath,
		}, dl, logger)
		if err != nil {
			return nil, err
		}
		cl.add(r.Close)
		return r, nil
	default:
		return nil, fmt.Errorf("unknown runner kind %q", rc.Kind)
	}
}
