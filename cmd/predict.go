package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/affinity-cli/internal/batch"
	"github.com/sells-group/affinity-cli/internal/history"
	"github.com/sells-group/affinity-cli/internal/model"
	"github.com/sells-group/affinity-cli/internal/store"
	"github.com/sells-group/affinity-cli/internal/validate"
	"github.com/sells-group/affinity-cli/pkg/affinity"
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict binding affinity for one drug/protein pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		flags := cmd.Flags()
		raw := model.RawRow{Index: 1}
		raw.DrugName, _ = flags.GetString("drug")
		raw.SMILES, _ = flags.GetString("smiles")
		raw.ProteinName, _ = flags.GetString("protein")
		raw.FASTA, _ = flags.GetString("fasta")
		if path, _ := flags.GetString("fasta-file"); path != "" {
			b, err := os.ReadFile(path)
			if err != nil {
				return eris.Wrapf(err, "predict: read %s", path)
			}
			raw.FASTA = string(b)
		}
		if offline, _ := flags.GetBool("offline"); offline {
			cfg.Predictor.Offline = true
		}
		noSave, _ := flags.GetBool("no-save")

		if err := cfg.Validate("predict"); err != nil {
			return err
		}

		var st store.Store
		if !noSave {
			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck
			st = s
		}

		rec, err := predictOne(ctx, initClient(cfg.Predictor), validate.New(cfg.Validation.Options()),
			cfg.Batch.SchedulerOptions(), st, raw, os.Stderr)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, rec)
	},
}

func init() {
	f := predictCmd.Flags()
	f.String("drug", "", "drug name")
	f.String("smiles", "", "drug SMILES string")
	f.String("protein", "", "protein name")
	f.String("fasta", "", "protein sequence (FASTA or bare residues)")
	f.String("fasta-file", "", "read the protein sequence from a FASTA file")
	f.Bool("offline", false, "use the deterministic offline predictor")
	f.Bool("no-save", false, "do not store the prediction in history")
	_ = predictCmd.MarkFlagRequired("drug")
	_ = predictCmd.MarkFlagRequired("smiles")
	_ = predictCmd.MarkFlagRequired("protein")
	rootCmd.AddCommand(predictCmd)
}

// predictOne validates raw, runs it through the scheduler as a one-row
// batch and stores the record when st is non-nil.
func predictOne(ctx context.Context, client affinity.Client, v *validate.Validator, opts batch.Options, st store.Store, raw model.RawRow, stderr io.Writer) (*model.PredictionRecord, error) {
	row, errs, warns := v.Validate(raw)
	printValidation(stderr, model.ParsedBatchData{Errors: errs, Warnings: warns, Rows: validRows(row, errs)})
	if len(errs) > 0 {
		return nil, eris.New("predict: invalid input")
	}

	results := batch.New(client, opts).Run(ctx, []model.BatchRow{row}, nil)
	rec, err := history.Single(results[0], time.Now())
	if err != nil {
		return nil, eris.Wrap(err, "predict")
	}

	if st != nil {
		if err := st.SaveRecords(context.WithoutCancel(ctx), []model.PredictionRecord{rec}); err != nil {
			return nil, eris.Wrap(err, "predict: save record")
		}
	}
	return &rec, nil
}

func validRows(row model.BatchRow, errs []model.ValidationError) []model.BatchRow {
	if len(errs) > 0 {
		return nil
	}
	return []model.BatchRow{row}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
