package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	crdb "github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/keyword-harvester/internal/batch"
	"github.com/JakeFAU/keyword-harvester/internal/checkpoint"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a checkpoint log and its remediable rows",
		Long: `Prints every record of an existing checkpoint log, then the rows a
"run" would offer to retry: failed rows, rows with zero items and
successful rows below the minimum yield.`,
		Args: cobra.NoArgs,
		RunE: runStatusCommand,
	}
	f := cmd.Flags()
	f.String("log-file", "", "checkpoint log to inspect")
	f.String("backend", "csv", "checkpoint backend: csv, sqlite or postgres")
	f.Int("min-items", 1500, "minimum items a keyword must yield")
	return cmd
}

func runStatusCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config
	if cfg.Checkpoint.LogFile == "" {
		return crdb.WithHint(
			fmt.Errorf("%w: no checkpoint log given", batch.ErrValidation),
			"pass --log-file or set checkpoint.log_file",
		)
	}

	// Opening a SQLite path creates the database, so look before opening.
	if cfg.Checkpoint.Backend == "sqlite" {
		if _, err := appInstance.Fs.Stat(cfg.Checkpoint.LogFile); errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: checkpoint log %s does not exist", batch.ErrValidation, cfg.Checkpoint.LogFile)
		}
	}

	var cl closers
	defer cl.close()
	backend, err := openBackend(cmd.Context(), cfg, appInstance.Fs, cfg.Checkpoint.LogFile, &cl, appInstance.Logger)
	if err != nil {
		return fmt.Errorf("open checkpoint backend: %w", err)
	}
	records, err := backend.Load(cmd.Context())
	if errors.Is(err, checkpoint.ErrNotExist) {
		return fmt.Errorf("%w: checkpoint log %s does not exist", batch.ErrValidation, backend.Name())
	}
	if err != nil {
		return fmt.Errorf("load checkpoint log: %w", err)
	}

	out := cmd.OutOrStdout()
	if err := renderRecords(out, records); err != nil {
		return err
	}

	var rows []checkpoint.Remediation
	for _, rec := range records {
		if reason, ok := rec.Remediation(cfg.Batch.MinRequiredItems); ok {
			rows = append(rows, checkpoint.Remediation{Record: rec, Reason: reason})
		}
	}
	if len(rows) == 0 {
		fmt.Fprintf(out, "\nNo remediable rows (minimum %d items).\n", cfg.Batch.MinRequiredItems)
		return nil
	}
	fmt.Fprintf(out, "\n%d remediable rows (minimum %d items):\n", len(rows), cfg.Batch.MinRequiredItems)
	return batch.RenderRemediable(out, rows)
}

func renderRecords(w io.Writer, records []checkpoint.Record) error {
	var ok, failed int
	data := pterm.TableData{{"Row", "Keyword", "Status", "Items", "Size (MB)", "Minutes", "Error"}}
	for _, rec := range records {
		if rec.Status == checkpoint.StatusSuccess {
			ok++
		} else {
			failed++
		}
		data = append(data, []string{
			strconv.Itoa(rec.Position),
			rec.Keyword,
			string(rec.Status),
			strconv.Itoa(rec.ItemCount),
			strconv.FormatFloat(rec.TotalSizeMB, 'f', 2, 64),
			strconv.FormatFloat(rec.DurationMinutes, 'f', 2, 64),
			rec.ErrorMessage,
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(w).Render(); err != nil {
		return fmt.Errorf("render records: %w", err)
	}
	fmt.Fprintf(w, "%d records: %d success, %d failed\n", len(records), ok, failed)
	return nil
}
