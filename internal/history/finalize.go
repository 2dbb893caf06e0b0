// Package history turns finished batch runs into durable prediction records
// and aggregates stored records into summary statistics.
package history

import (
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/affinity-cli/internal/model"
)

// Summary is the outcome of one finished batch.
type Summary struct {
	BatchID     string                   `json:"batch_id"`
	Total       int                      `json:"total"`
	Successful  int                      `json:"successful"`
	Failed      int                      `json:"failed"`
	SuccessRate float64                  `json:"success_rate"` // percent, 0 for an empty batch
	Records     []model.PredictionRecord `json:"records"`
	Failures    []model.RunFailure       `json:"failures"`
}

// Finalize converts each successful row into a batch-sourced
// PredictionRecord and keeps each failure for the run report. Rows that
// never reached a terminal state are counted as failed. now stamps records
// whose row carries no finish time.
func Finalize(batchID string, results []model.BatchResult, now time.Time) Summary {
	s := Summary{
		BatchID:  batchID,
		Total:    len(results),
		Records:  []model.PredictionRecord{},
		Failures: []model.RunFailure{},
	}

	for i := range results {
		r := &results[i]
		if p, ok := r.Prediction(); ok {
			s.Records = append(s.Records, newRecord(r, p, model.SourceBatch, batchID, now))
			continue
		}

		f := model.RunFailure{
			RowID:   r.Row.ID,
			Drug:    r.Row.DrugName,
			Protein: r.Row.ProteinName,
			Kind:    model.ErrorKindCancelled,
			Message: "row did not finish",
		}
		if e := r.Err(); e != nil {
			f.Kind, f.Message = e.Kind, e.Message
		}
		s.Failures = append(s.Failures, f)
	}

	s.Successful = len(s.Records)
	s.Failed = len(s.Failures)
	if s.Total > 0 {
		s.SuccessRate = float64(s.Successful) / float64(s.Total) * 100
	}
	return s
}

// Single converts the result of a one-off prediction into a record. It
// returns the row error when the prediction did not succeed.
func Single(r model.BatchResult, now time.Time) (model.PredictionRecord, error) {
	p, ok := r.Prediction()
	if !ok {
		if e := r.Err(); e != nil {
			return model.PredictionRecord{}, e
		}
		return model.PredictionRecord{}, model.NewRowError(model.ErrorKindCancelled, nil)
	}
	return newRecord(&r, p, model.SourceSingle, "", now), nil
}

func newRecord(r *model.BatchResult, p model.Prediction, source model.Source, batchID string, now time.Time) model.PredictionRecord {
	created := r.FinishedAt()
	if created.IsZero() {
		created = now
	}
	return model.PredictionRecord{
		ID:                uuid.NewString(),
		CreatedAt:         created.UTC(),
		Source:            source,
		BatchID:           batchID,
		DrugName:          r.Row.DrugName,
		SMILES:            r.Row.SMILES,
		ProteinName:       r.Row.ProteinName,
		FASTA:             r.Row.FASTA,
		PredictedPK:       p.PK,
		ConfidenceScore:   p.Confidence,
		DrugLikenessScore: p.DrugLikeness,
		Tags:              []string{},
		Explanation:       p.Explanation,
	}
}

// Run builds the persisted report for a finished batch.
func (s Summary) Run(sourceFile string, started, finished time.Time, cancelled bool) model.BatchRun {
	return model.BatchRun{
		ID:         s.BatchID,
		SourceFile: sourceFile,
		StartedAt:  started.UTC(),
		FinishedAt: finished.UTC(),
		Total:      s.Total,
		Successful: s.Successful,
		Failed:     s.Failed,
		Cancelled:  cancelled,
		Failures:   s.Failures,
	}
}
