// Package exec runs an external command per keyword, for example a
// gallery-dl or similar downloader invocation.
package exec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	osexec "os/exec"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-harvester/internal/runner"
)

// Config describes the command template. Placeholders {keyword},
// {save_dir}, {output_dir} and {count} are substituted per argument after
// shell-style splitting, so keywords with spaces stay one argument.
type Config struct {
	Command  string
	SavePath string
	Count    int
	// Env is appended to the current environment.
	Env []string
}

// Runner implements batch.JobRunner by spawning Config.Command.
type Runner struct {
	argv   []string
	cfg    Config
	logger *zap.Logger
}

// New parses the command template.
func New(cfg Config, logger *zap.Logger) (*Runner, error) {
	argv, err := shellquote.Split(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", cfg.Command, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("command is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{argv: argv, cfg: cfg, logger: logger}, nil
}

// Run executes the command for keyword and returns its output directory.
// A non-zero exit is an error carrying the tail of stderr.
func (r *Runner) Run(ctx context.Context, keyword string) (string, error) {
	outputDir := runner.OutputDir(r.cfg.SavePath, keyword)
	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		return "", fmt.Errorf("create output dir %s: %w", outputDir, err)
	}

	args := r.Args(keyword)
	// #nosec G204 -- the command template is operator configuration.
	cmd := osexec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = append(os.Environ(), r.cfg.Env...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = &stderr

	r.logger.Debug("running command", zap.String("keyword", keyword), zap.String("command", shellquote.Join(args...)))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("command %s: %w: %s", args[0], err, tail(stderr.String(), 512))
	}
	return outputDir, nil
}

// Args returns the argv for keyword.
func (r *Runner) Args(keyword string) []string {
	repl := strings.NewReplacer(
		"{keyword}", keyword,
		"{save_dir}", r.cfg.SavePath,
		"{output_dir}", runner.OutputDir(r.cfg.SavePath, keyword),
		"{count}", strconv.Itoa(r.cfg.Count),
	)
	out := make([]string, len(r.argv))
	for i, a := range r.argv {
		out[i] = repl.Replace(a)
	}
	return out
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
