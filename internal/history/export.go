package history

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/affinity-cli/internal/model"
)

var recordHeader = []string{
	"id", "created_at", "source", "batch_id", "drug_name", "smiles", "protein_name",
	"predicted_pk", "confidence_score", "drug_likeness_score", "is_favorite", "tags", "notes",
}

// ExportCSV writes records as CSV with a header row.
func ExportCSV(w io.Writer, records []model.PredictionRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(recordHeader); err != nil {
		return eris.Wrap(err, "history: write csv header")
	}
	for _, r := range records {
		row := []string{
			r.ID,
			r.CreatedAt.UTC().Format(time.RFC3339),
			string(r.Source),
			r.BatchID,
			r.DrugName,
			r.SMILES,
			r.ProteinName,
			formatFloat(r.PredictedPK),
			formatFloat(r.ConfidenceScore),
			formatOptional(r.DrugLikenessScore),
			strconv.FormatBool(r.IsFavorite),
			strings.Join(r.Tags, ";"),
			r.Notes,
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "history: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "history: flush csv")
}

var resultHeader = []string{
	"id", "drug_name", "smiles", "protein_name", "priority", "status",
	"predicted_pk", "confidence", "drug_likeness", "error_kind", "error",
}

// ExportResultsCSV writes batch results as CSV with a header row. The
// sequence column is omitted to keep rows readable.
func ExportResultsCSV(w io.Writer, results []model.BatchResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(resultHeader); err != nil {
		return eris.Wrap(err, "history: write csv header")
	}
	for _, r := range results {
		v := r.View()
		row := []string{
			v.ID,
			v.DrugName,
			v.SMILES,
			v.ProteinName,
			strconv.FormatBool(v.Priority),
			string(v.Status),
			formatOptional(v.PredictedPK),
			formatOptional(v.Confidence),
			formatOptional(v.DrugLikeness),
			string(v.ErrorKind),
			v.Error,
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "history: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "history: flush csv")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatOptional(f *float64) string {
	if f == nil {
		return ""
	}
	return formatFloat(*f)
}
