package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/affinity-cli/internal/batch"
	"github.com/sells-group/affinity-cli/internal/history"
	"github.com/sells-group/affinity-cli/internal/ingest"
	"github.com/sells-group/affinity-cli/internal/model"
	"github.com/sells-group/affinity-cli/internal/store"
	"github.com/sells-group/affinity-cli/internal/validate"
	"github.com/sells-group/affinity-cli/pkg/affinity"
)

// batchFlags are the per-invocation settings of the batch command.
type batchFlags struct {
	File        string
	Sheet       string
	Concurrency int
	Timeout     time.Duration
	Offline     bool
	Settle      bool
	Format      string
	Output      string
	NoSave      bool
	DryRun      bool
	NoProgress  bool
}

var batchOpts batchFlags

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Predict binding affinity for every row of a CSV, TSV or XLSX file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := applyBatchFlags(cmd, batchOpts); err != nil {
			return err
		}
		if err := cfg.Validate("batch"); err != nil {
			return err
		}

		var st store.Store
		if !batchOpts.NoSave && !batchOpts.DryRun {
			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck
			st = s
		}

		env := batchEnv{
			client:    initClient(cfg.Predictor),
			validator: validate.New(cfg.Validation.Options()),
			opts:      cfg.Batch.SchedulerOptions(),
			store:     st,
			stdout:    os.Stdout,
			stderr:    os.Stderr,
		}
		return env.run(ctx, batchOpts)
	},
}

func init() {
	f := batchCmd.Flags()
	f.StringVarP(&batchOpts.File, "file", "f", "", "input file (.csv, .tsv or .xlsx)")
	f.StringVar(&batchOpts.Sheet, "sheet", "", "XLSX sheet name (default first sheet)")
	f.IntVar(&batchOpts.Concurrency, "concurrency", 0, "max concurrent predictions (default from config)")
	f.DurationVar(&batchOpts.Timeout, "timeout", 0, "per-row prediction timeout (default from config)")
	f.BoolVar(&batchOpts.Offline, "offline", false, "use the deterministic offline predictor")
	f.BoolVar(&batchOpts.Settle, "settle", false, "let in-flight rows finish after an interrupt")
	f.StringVar(&batchOpts.Format, "format", "json", "result format: json, csv or yaml")
	f.StringVarP(&batchOpts.Output, "output", "o", "", "write results to this path (default stdout)")
	f.BoolVar(&batchOpts.NoSave, "no-save", false, "do not store records or the run report")
	f.BoolVar(&batchOpts.DryRun, "dry-run", false, "validate the input and exit")
	f.BoolVar(&batchOpts.NoProgress, "no-progress", false, "hide the progress bar")
	_ = batchCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(batchCmd)
}

// applyBatchFlags lets explicitly set flags override the loaded config.
func applyBatchFlags(cmd *cobra.Command, f batchFlags) error {
	if cmd.Flags().Changed("concurrency") {
		cfg.Batch.MaxConcurrent = f.Concurrency
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Batch.RowTimeout = f.Timeout
	}
	if f.Offline {
		cfg.Predictor.Offline = true
	}
	if f.Settle {
		cfg.Batch.SettleInFlight = true
	}
	switch f.Format {
	case "json", "csv", "yaml":
	default:
		return eris.Errorf("unsupported format %q (want json, csv or yaml)", f.Format)
	}
	return nil
}

// batchEnv holds the collaborators of one batch invocation. store is nil
// when results are not persisted.
type batchEnv struct {
	client    affinity.Client
	validator *validate.Validator
	opts      batch.Options
	store     store.Store
	stdout    io.Writer
	stderr    io.Writer
}

func (e batchEnv) run(ctx context.Context, f batchFlags) error {
	table, err := ingest.ParseFile(ctx, f.File, ingest.Options{SheetName: f.Sheet})
	if err != nil {
		return eris.Wrap(err, "batch: read input")
	}
	parsed := e.validator.ValidateAll(table.Rows, table.Errors, table.Warnings)
	printValidation(e.stderr, parsed)

	if f.DryRun {
		return nil
	}
	if len(parsed.Rows) == 0 {
		return eris.New("batch: no valid rows to process")
	}

	batchID := uuid.NewString()
	zap.L().Info("batch: starting",
		zap.String("batch_id", batchID),
		zap.String("file", f.File),
		zap.Int("rows", len(parsed.Rows)),
		zap.Int("invalid", len(parsed.Errors)),
	)

	run := batch.New(e.client, e.opts).Start(ctx, parsed.Rows)
	bar := newProgressBar(e.stderr, len(parsed.Rows), f.NoProgress)
	for p := range run.Progress() {
		bar.update(p)
	}
	bar.finish()

	results := run.Wait()
	started, finished := run.Window()
	cancelled := run.Cancelled()
	summary := history.Finalize(batchID, results, time.Now())

	if e.store != nil {
		report := summary.Run(filepath.Base(f.File), started, finished, cancelled)
		// An interrupt cancels ctx; the partial batch is still recorded.
		if err := history.Persist(context.WithoutCancel(ctx), e.store, summary, report); err != nil {
			return err
		}
	}

	if err := writeResultsTo(f.Output, f.Format, e.stdout, results); err != nil {
		return err
	}
	printSummary(e.stderr, summary, finished.Sub(started), cancelled)

	if cancelled {
		return eris.Errorf("batch %s cancelled after %d of %d rows", batchID, summary.Successful, summary.Total)
	}
	return nil
}

// progressBar renders scheduler snapshots. A disabled bar ignores updates.
type progressBar struct {
	bar *progressbar.ProgressBar
}

func newProgressBar(w io.Writer, total int, disabled bool) *progressBar {
	if disabled || total == 0 {
		return &progressBar{}
	}
	return &progressBar{bar: progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetDescription("Predicting"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)}
}

func (b *progressBar) update(p model.BatchProgress) {
	if b.bar == nil {
		return
	}
	desc := fmt.Sprintf("Predicting (%d ok, %d failed", p.Successful, p.Failed)
	if p.ETA > 0 {
		desc += ", eta " + p.ETADuration().Round(time.Second).String()
	}
	b.bar.Describe(desc + ")")
	_ = b.bar.Set(p.Completed)
}

func (b *progressBar) finish() {
	if b.bar == nil {
		return
	}
	_ = b.bar.Finish()
}

func printValidation(w io.Writer, parsed model.ParsedBatchData) {
	for _, e := range parsed.Errors {
		fmt.Fprintf(w, "error: %s\n", e.Error())
	}
	for _, warn := range parsed.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn.String())
	}
	fmt.Fprintf(w, "%d valid row(s), %d error(s), %d warning(s)\n",
		len(parsed.Rows), len(parsed.Errors), len(parsed.Warnings))
}

func printSummary(w io.Writer, s history.Summary, elapsed time.Duration, cancelled bool) {
	state := "finished"
	if cancelled {
		state = "cancelled"
	}
	fmt.Fprintf(w, "batch %s %s in %s: %d/%d succeeded (%.1f%%)\n",
		s.BatchID, state, elapsed.Round(time.Millisecond), s.Successful, s.Total, s.SuccessRate)
	for _, f := range s.Failures {
		fmt.Fprintf(w, "  %s (%s / %s): %s: %s\n", f.RowID, f.Drug, f.Protein, f.Kind, f.Message)
	}
}

// writeResultsTo writes results to path, or to stdout when path is empty.
func writeResultsTo(path, format string, stdout io.Writer, results []model.BatchResult) error {
	if path == "" {
		return writeResults(stdout, format, results)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "batch: create %s", path)
	}
	if err := writeResults(f, format, results); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "batch: close %s", path)
}

func writeResults(w io.Writer, format string, results []model.BatchResult) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(results), "batch: encode json")
	case "csv":
		return history.ExportResultsCSV(w, results)
	case "yaml":
		views := make([]model.ResultView, len(results))
		for i, r := range results {
			views[i] = r.View()
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(views); err != nil {
			return eris.Wrap(err, "batch: encode yaml")
		}
		return eris.Wrap(enc.Close(), "batch: encode yaml")
	default:
		return eris.Errorf("unsupported format %q", format)
	}
}
