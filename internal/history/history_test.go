package history

import (
	"bytes"
	"context"
	"errors"
	"encoding/csv"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/affinity-cli/internal/model"
)

var t0 = time.Date(2026, 5, 4, 22, 30, 0, 0, time.UTC)

func finished(t *testing.T, row model.BatchRow, p *model.Prediction, rowErr *model.RowError, at time.Time) model.BatchResult {
	t.Helper()
	r := model.NewBatchResult(row, t0)
	require.NoError(t, r.Start(t0))
	if p != nil {
		require.NoError(t, r.Succeed(*p, at))
	} else {
		require.NoError(t, r.Fail(rowErr, at))
	}
	return r
}

func TestFinalize(t *testing.T) {
	likeness := 0.4
	results := []model.BatchResult{
		finished(t, model.BatchRow{ID: "a", DrugName: "Imatinib", SMILES: "C1", ProteinName: "ABL1", FASTA: "MLE"},
			&model.Prediction{PK: 8.1, Confidence: 0.9, DrugLikeness: &likeness}, nil, t0.Add(time.Second)),
		finished(t, model.BatchRow{ID: "b", DrugName: "Bad", SMILES: "C2", ProteinName: "EGFR", FASTA: "MRP"},
			nil, model.NewRowError(model.ErrorKindTimeout, assert.AnError), t0.Add(2*time.Second)),
		finished(t, model.BatchRow{ID: "c", DrugName: "Gefitinib", SMILES: "C3", ProteinName: "EGFR", FASTA: "MRP"},
			&model.Prediction{PK: 6.5, Confidence: 0.7}, nil, t0.Add(3*time.Second)),
		model.NewBatchResult(model.BatchRow{ID: "d"}, t0),
	}

	s := Finalize("batch-1", results, t0.Add(time.Minute))
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Successful)
	assert.Equal(t, 2, s.Failed)
	assert.InDelta(t, 50.0, s.SuccessRate, 1e-9)

	require.Len(t, s.Records, 2)
	rec := s.Records[0]
	_, err := uuid.Parse(rec.ID)
	assert.NoError(t, err)
	assert.NotEqual(t, s.Records[0].ID, s.Records[1].ID)
	assert.Equal(t, model.SourceBatch, rec.Source)
	assert.Equal(t, "batch-1", rec.BatchID)
	assert.Equal(t, "Imatinib", rec.DrugName)
	assert.Equal(t, 8.1, rec.PredictedPK)
	assert.Equal(t, 0.9, rec.ConfidenceScore)
	assert.Equal(t, &likeness, rec.DrugLikenessScore)
	assert.Equal(t, t0.Add(time.Second), rec.CreatedAt)
	assert.NotNil(t, rec.Tags)

	require.Len(t, s.Failures, 2)
	assert.Equal(t, "b", s.Failures[0].RowID)
	assert.Equal(t, model.ErrorKindTimeout, s.Failures[0].Kind)
	assert.Equal(t, "d", s.Failures[1].RowID)

	run := s.Run("in.csv", t0, t0.Add(time.Minute), false)
	assert.Equal(t, "batch-1", run.ID)
	assert.Equal(t, 2, run.Failed)
	assert.Len(t, run.Failures, 2)
}

func TestFinalize_Empty(t *testing.T) {
	s := Finalize("empty", nil, t0)
	assert.Zero(t, s.Total)
	assert.Zero(t, s.SuccessRate)
	assert.NotNil(t, s.Records)
	assert.NotNil(t, s.Failures)
}

func rec(protein string, source model.Source, pk, conf float64, at time.Time) model.PredictionRecord {
	return model.PredictionRecord{
		ID:              uuid.NewString(),
		CreatedAt:       at,
		Source:          source,
		ProteinName:     protein,
		PredictedPK:     pk,
		ConfidenceScore: conf,
	}
}

func TestComputeStats_Empty(t *testing.T) {
	stats := ComputeStats(nil)
	assert.Equal(t, model.HistoryStats{PredictionsByDay: []model.DayCount{}}, stats)
	assert.NotNil(t, stats.PredictionsByDay)
}

func TestComputeStats(t *testing.T) {
	records := []model.PredictionRecord{
		rec("EGFR", model.SourceBatch, 6, 0.8, t0),
		rec("ABL1", model.SourceSingle, 8, 0.6, t0.Add(2*time.Hour)), // next UTC day
		rec("EGFR", model.SourceBatch, 7, 0.7, t0.Add(26*time.Hour)),
		rec("KRAS", "imported", 5, 0.9, t0.Add(-48*time.Hour)),
	}

	stats := ComputeStats(records)
	assert.Equal(t, 4, stats.TotalPredictions)
	assert.InDelta(t, 6.5, stats.AveragePK, 1e-9)
	assert.InDelta(t, 0.75, stats.AverageConfidence, 1e-9)
	assert.Equal(t, "EGFR", stats.MostTestedProtein)
	assert.Equal(t, []model.DayCount{
		{Date: "2026-05-02", Count: 1},
		{Date: "2026-05-04", Count: 1},
		{Date: "2026-05-05", Count: 1},
		{Date: "2026-05-06", Count: 1},
	}, stats.PredictionsByDay)
	assert.Equal(t, model.SourceCounts{Single: 1, Batch: 2}, stats.PredictionsBySource)
}

func TestComputeStats_BucketsInUTC(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	r := rec("ABL1", model.SourceSingle, 7, 0.5, time.Date(2026, 1, 1, 21, 0, 0, 0, est))
	stats := ComputeStats([]model.PredictionRecord{r})
	assert.Equal(t, []model.DayCount{{Date: "2026-01-02", Count: 1}}, stats.PredictionsByDay)
}

func TestComputeStats_TieBreak(t *testing.T) {
	records := []model.PredictionRecord{
		rec("ZAP70", model.SourceBatch, 6, 0.5, t0.Add(time.Hour)),
		rec("BRAF", model.SourceBatch, 6, 0.5, t0.Add(2*time.Hour)),
		rec("ZAP70", model.SourceBatch, 6, 0.5, t0.Add(3*time.Hour)),
		rec("BRAF", model.SourceBatch, 6, 0.5, t0),
	}
	assert.Equal(t, "BRAF", ComputeStats(records).MostTestedProtein, "earliest first occurrence wins")

	same := []model.PredictionRecord{
		rec("ZAP70", model.SourceBatch, 6, 0.5, t0),
		rec("BRAF", model.SourceBatch, 6, 0.5, t0),
	}
	assert.Equal(t, "BRAF", ComputeStats(same).MostTestedProtein, "lexical fallback")
}

func TestComputeStats_SkipsNonFinite(t *testing.T) {
	records := []model.PredictionRecord{
		rec("A", model.SourceBatch, math.NaN(), 0.5, t0),
		rec("A", model.SourceBatch, 6, math.Inf(1), t0),
		rec("", model.SourceBatch, 8, 0.7, time.Time{}),
	}
	stats := ComputeStats(records)
	assert.Equal(t, 3, stats.TotalPredictions)
	assert.InDelta(t, 7.0, stats.AveragePK, 1e-9)
	assert.InDelta(t, 0.6, stats.AverageConfidence, 1e-9)
	assert.Equal(t, "A", stats.MostTestedProtein)
	assert.Equal(t, []model.DayCount{{Date: "2026-05-04", Count: 2}}, stats.PredictionsByDay)
}

func TestComputeStats_Idempotent(t *testing.T) {
	records := []model.PredictionRecord{
		rec("EGFR", model.SourceBatch, 6, 0.8, t0),
		rec("ABL1", model.SourceSingle, 8, 0.6, t0),
	}
	assert.Equal(t, ComputeStats(records), ComputeStats(records))
}

func TestExportCSV(t *testing.T) {
	likeness := 0.25
	r := rec("ABL1", model.SourceBatch, 7.5, 0.8, t0)
	r.DrugName = "Imatinib, mesylate"
	r.DrugLikenessScore = &likeness
	r.Tags = []string{"lead", "kinase"}

	var buf bytes.Buffer
	require.NoError(t, ExportCSV(&buf, []model.PredictionRecord{r}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, recordHeader, rows[0])
	assert.Equal(t, "Imatinib, mesylate", rows[1][4])
	assert.Equal(t, "2026-05-04T22:30:00Z", rows[1][1])
	assert.Equal(t, "7.5", rows[1][7])
	assert.Equal(t, "0.25", rows[1][9])
	assert.Equal(t, "lead;kinase", rows[1][11])
}

func TestExportResultsCSV(t *testing.T) {
	results := []model.BatchResult{
		finished(t, model.BatchRow{ID: "a", DrugName: "X", SMILES: "C", ProteinName: "P"},
			&model.Prediction{PK: 6, Confidence: 0.5}, nil, t0),
		finished(t, model.BatchRow{ID: "b", DrugName: "Y", SMILES: "CC", ProteinName: "P"},
			nil, model.NewRowError(model.ErrorKindPrediction, assert.AnError), t0),
	}

	var buf bytes.Buffer
	require.NoError(t, ExportResultsCSV(&buf, results))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"a", "X", "C", "P", "false", "success", "6", "0.5", "", "", ""}, rows[1])
	assert.Equal(t, "failed", rows[2][5])
	assert.Equal(t, "", rows[2][6])
	assert.Equal(t, "prediction", rows[2][9])
}

func TestSingle(t *testing.T) {
	row := model.BatchRow{ID: "row-1", DrugName: "Aspirin", SMILES: "CC(=O)O", ProteinName: "COX1", FASTA: "MSR"}
	ok := finished(t, row, &model.Prediction{PK: 5.2, Confidence: 0.8}, nil, t0.Add(time.Second))

	rec, err := Single(ok, t0)
	require.NoError(t, err)
	assert.Equal(t, model.SourceSingle, rec.Source)
	assert.Empty(t, rec.BatchID)
	assert.Equal(t, t0.Add(time.Second), rec.CreatedAt)
	assert.Equal(t, "COX1", rec.ProteinName)

	bad := finished(t, row, nil, model.NewRowError(model.ErrorKindPrediction, assert.AnError), t0)
	_, err = Single(bad, t0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrPrediction))

	_, err = Single(model.NewBatchResult(row, t0), t0)
	assert.True(t, errors.Is(err, model.ErrCancelled))
}

type memSink struct {
	records []model.PredictionRecord
	runs    []model.BatchRun
	failOn  string
}

func (m *memSink) SaveRecords(_ context.Context, recs []model.PredictionRecord) error {
	if m.failOn == "records" {
		return assert.AnError
	}
	m.records = append(m.records, recs...)
	return nil
}

func (m *memSink) SaveBatchRun(_ context.Context, run model.BatchRun) error {
	if m.failOn == "run" {
		return assert.AnError
	}
	m.runs = append(m.runs, run)
	return nil
}

func TestPersist(t *testing.T) {
	row := model.BatchRow{ID: "a", DrugName: "D", SMILES: "C", ProteinName: "P", FASTA: "M"}
	results := []model.BatchResult{finished(t, row, &model.Prediction{PK: 7, Confidence: 0.5}, nil, t0)}
	s := Finalize("b1", results, t0)
	run := s.Run("in.csv", t0, t0.Add(time.Minute), false)

	sink := &memSink{}
	require.NoError(t, Persist(context.Background(), sink, s, run))
	assert.Len(t, sink.records, 1)
	require.Len(t, sink.runs, 1)
	assert.Equal(t, "in.csv", sink.runs[0].SourceFile)

	err := Persist(context.Background(), &memSink{failOn: "records"}, s, run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save records for batch b1")

	failing := &memSink{failOn: "run"}
	err = Persist(context.Background(), failing, s, run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save run b1")
	assert.Len(t, failing.records, 1)
}

func TestParseTime(t *testing.T) {
	got, err := ParseTime("2026-05-04")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseTime("2026-05-04T23:30:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 4, 21, 30, 0, 0, time.UTC), got)

	got, err = ParseTime(" ")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = ParseTime("yesterday")
	assert.Error(t, err)
}
