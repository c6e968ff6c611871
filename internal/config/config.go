// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/keyword-harvester/internal/batch"
)

// Config captures every knob loaded via Viper.
type Config struct {
	Batch      BatchConfig      `mapstructure:"batch"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Runner     RunnerConfig     `mapstructure:"runner"`
	Inspect    InspectConfig    `mapstructure:"inspect"`
	Publisher  PublisherConfig  `mapstructure:"publisher"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// BatchConfig holds the run range and the retry/pacing policy.
type BatchConfig struct {
	StartRow             int           `mapstructure:"start_row"`
	EndRow               int           `mapstructure:"end_row"`
	SavePath             string        `mapstructure:"save_path"`
	MinRequiredItems     int           `mapstructure:"min_required_items"`
	MaxAttempts          int           `mapstructure:"max_attempts"`
	ErrorDelay           time.Duration `mapstructure:"error_delay"`
	NormalDelay          time.Duration `mapstructure:"normal_delay"`
	ErrorCooldown        time.Duration `mapstructure:"error_cooldown"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors"`
	Remediation          string        `mapstructure:"remediation"`
	RunID                string        `mapstructure:"run_id"`
}

// CheckpointConfig selects where the checkpoint log lives.
type CheckpointConfig struct {
	Backend string `mapstructure:"backend"`
	// LogFile is the CSV path, the SQLite database path, or the log name
	// inside the Postgres table. Empty derives a timestamped name.
	LogFile  string       `mapstructure:"log_file"`
	DSN      string       `mapstructure:"dsn"`
	Table    string       `mapstructure:"table"`
	MaxConns int32        `mapstructure:"max_conns"`
	Mirror   MirrorConfig `mapstructure:"mirror"`
}

// MirrorConfig configures the optional off-site copy of the log.
type MirrorConfig struct {
	Kind   string `mapstructure:"kind"`
	Dir    string `mapstructure:"dir"`
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// RunnerConfig selects and tunes the job runner.
type RunnerConfig struct {
	Kind              string         `mapstructure:"kind"`
	Count             int            `mapstructure:"count"`
	UserAgent         string         `mapstructure:"user_agent"`
	RequestsPerSecond float64        `mapstructure:"requests_per_second"`
	Burst             int            `mapstructure:"burst"`
	Timeout           time.Duration  `mapstructure:"timeout"`
	Exec              ExecConfig     `mapstructure:"exec"`
	Colly             CollyConfig    `mapstructure:"colly"`
	Headless          HeadlessConfig `mapstructure:"headless"`
}

// ExecConfig configures the external command runner.
type ExecConfig struct {
	Command string `mapstructure:"command"`
}

// CollyConfig configures the static search-page scraper.
type CollyConfig struct {
	SearchURL string `mapstructure:"search_url"`
	Selector  string `mapstructure:"selector"`
	Attribute string `mapstructure:"attribute"`
	MaxPages  int    `mapstructure:"max_pages"`
}

// HeadlessConfig configures the chromedp scraper.
type HeadlessConfig struct {
	SearchURL    string        `mapstructure:"search_url"`
	Selector     string        `mapstructure:"selector"`
	Attribute    string        `mapstructure:"attribute"`
	ScrollRounds int           `mapstructure:"scroll_rounds"`
	ScrollPause  time.Duration `mapstructure:"scroll_pause"`
	NavTimeout   time.Duration `mapstructure:"nav_timeout"`
}

// InspectConfig sets which files count as produced items.
type InspectConfig struct {
	Extensions []string `mapstructure:"extensions"`
}

// PublisherConfig holds metadata for item event notifications.
type PublisherConfig struct {
	Kind      string `mapstructure:"kind"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
}

// FlagKeys maps CLI flag names to config keys.
var FlagKeys = map[string]string{
	"start-row":   "batch.start_row",
	"end-row":     "batch.end_row",
	"save-path":   "batch.save_path",
	"min-items":   "batch.min_required_items",
	"remediation": "batch.remediation",
	"run-id":      "batch.run_id",
	"log-file":    "checkpoint.log_file",
	"backend":     "checkpoint.backend",
	"runner":      "runner.kind",
	"count":       "runner.count",
	"serve":       "server.enabled",
	"addr":        "server.addr",
	"dev":         "logging.development",
	"log-level":   "logging.level",
}

// Load builds a Config from defaults, an optional file, the environment and
// any flags in flags that appear in FlagKeys. With an empty path it looks
// for harvester.yaml in the working directory and $HOME/.keyword-harvester.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("harvester")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.keyword-harvester")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	p := batch.DefaultPolicy()
	v.SetDefault("batch.start_row", 1)
	v.SetDefault("batch.end_row", 0)
	v.SetDefault("batch.save_path", p.SavePath)
	v.SetDefault("batch.min_required_items", p.MinRequiredItems)
	v.SetDefault("batch.max_attempts", p.MaxAttempts)
	v.SetDefault("batch.error_delay", p.ErrorDelay)
	v.SetDefault("batch.normal_delay", p.NormalDelay)
	v.SetDefault("batch.error_cooldown", p.ErrorCooldown)
	v.SetDefault("batch.max_consecutive_errors", p.MaxConsecutiveErrors)
	v.SetDefault("batch.remediation", "ask")
	v.SetDefault("checkpoint.backend", "csv")
	v.SetDefault("checkpoint.table", "checkpoint_records")
	v.SetDefault("checkpoint.max_conns", 2)
	v.SetDefault("checkpoint.mirror.kind", "none")
	v.SetDefault("runner.kind", "exec")
	v.SetDefault("runner.count", p.MinRequiredItems)
	v.SetDefault("runner.user_agent", "keyword-harvester/0.1")
	v.SetDefault("runner.requests_per_second", 4.0)
	v.SetDefault("runner.burst", 2)
	v.SetDefault("runner.timeout", 30*time.Second)
	v.SetDefault("runner.colly.selector", "img")
	v.SetDefault("runner.colly.attribute", "src")
	v.SetDefault("runner.colly.max_pages", 10)
	v.SetDefault("runner.headless.selector", "img")
	v.SetDefault("runner.headless.attribute", "src")
	v.SetDefault("runner.headless.scroll_rounds", 20)
	v.SetDefault("runner.headless.scroll_pause", 1500*time.Millisecond)
	v.SetDefault("runner.headless.nav_timeout", 45*time.Second)
	v.SetDefault("inspect.extensions", []string{".jpg", ".jpeg", ".png"})
	v.SetDefault("publisher.kind", "none")
	v.SetDefault("publisher.topic", "keyword-events")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", ":9464")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Batch.StartRow < 1 {
		return fmt.Errorf("%w: batch.start_row must be >= 1", batch.ErrValidation)
	}
	if c.Batch.EndRow != 0 && c.Batch.EndRow < c.Batch.StartRow {
		return fmt.Errorf("%w: batch.end_row must be >= batch.start_row", batch.ErrValidation)
	}
	if strings.TrimSpace(c.Batch.SavePath) == "" {
		return fmt.Errorf("batch.save_path is required")
	}
	if err := c.Policy().Validate(); err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	switch c.Checkpoint.Backend {
	case "csv", "sqlite":
	case "postgres":
		if c.Checkpoint.DSN == "" {
			return fmt.Errorf("checkpoint.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("checkpoint.backend %q must be csv, postgres or sqlite", c.Checkpoint.Backend)
	}
	switch c.Checkpoint.Mirror.Kind {
	case "", "none":
	case "local":
		if c.Checkpoint.Mirror.Dir == "" {
			return fmt.Errorf("checkpoint.mirror.dir must be set for the local mirror")
		}
	case "gcs":
		if c.Checkpoint.Mirror.Bucket == "" {
			return fmt.Errorf("checkpoint.mirror.bucket must be set for the gcs mirror")
		}
	default:
		return fmt.Errorf("checkpoint.mirror.kind %q must be none, local or gcs", c.Checkpoint.Mirror.Kind)
	}
	switch c.Publisher.Kind {
	case "", "none", "memory":
	case "pubsub":
		if c.Publisher.ProjectID == "" || c.Publisher.Topic == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic must be set for pubsub")
		}
	default:
		return fmt.Errorf("publisher.kind %q must be none, memory or pubsub", c.Publisher.Kind)
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr must be set when the server is enabled")
	}
	return nil
}

// ValidateRunner checks the runner section. Only commands that execute
// keywords need it.
func (c Config) ValidateRunner() error {
	switch c.Runner.Kind {
	case "exec":
		if strings.TrimSpace(c.Runner.Exec.Command) == "" {
			return fmt.Errorf("runner.exec.command must be set for the exec runner")
		}
	case "colly":
		if c.Runner.Colly.SearchURL == "" {
			return fmt.Errorf("runner.colly.search_url must be set for the colly runner")
		}
	case "headless":
		if c.Runner.Headless.SearchURL == "" {
			return fmt.Errorf("runner.headless.search_url must be set for the headless runner")
		}
	default:
		return fmt.Errorf("runner.kind %q must be exec, colly or headless", c.Runner.Kind)
	}
	if c.Runner.Count <= 0 {
		return fmt.Errorf("runner.count must be > 0")
	}
	if c.Runner.RequestsPerSecond <= 0 {
		return fmt.Errorf("runner.requests_per_second must be > 0")
	}
	return nil
}

// Policy converts the batch section into the orchestrator's policy.
func (c Config) Policy() batch.Policy {
	return batch.Policy{
		MaxAttempts:          c.Batch.MaxAttempts,
		ErrorDelay:           c.Batch.ErrorDelay,
		NormalDelay:          c.Batch.NormalDelay,
		ErrorCooldown:        c.Batch.ErrorCooldown,
		MaxConsecutiveErrors: c.Batch.MaxConsecutiveErrors,
		MinRequiredItems:     c.Batch.MinRequiredItems,
		SavePath:             c.Batch.SavePath,
	}
}

// Range returns the declared row range.
func (c Config) Range() batch.Range {
	return batch.Range{Start: c.Batch.StartRow, End: c.Batch.EndRow}
}

// DefaultLogFile derives a log name from the run start time.
func DefaultLogFile(now time.Time) string {
	return fmt.Sprintf("harvest_log_%s.csv", now.Format("0102150405"))
}
