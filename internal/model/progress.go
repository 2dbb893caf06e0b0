package model

import "time"

// BatchProgress is a snapshot derived from the results of a run. It is
// recomputed after every transition and never stored.
type BatchProgress struct {
	Total       int     `json:"total"`
	Completed   int     `json:"completed"`
	Successful  int     `json:"successful"`
	Failed      int     `json:"failed"`
	Percentage  float64 `json:"percentage"`
	ETA         float64 `json:"eta"`
	CurrentItem string  `json:"current_item,omitempty"`
}

// Done reports whether every row reached a terminal state.
func (p BatchProgress) Done() bool {
	return p.Completed == p.Total
}

// ETADuration returns the ETA as a time.Duration.
func (p BatchProgress) ETADuration() time.Duration {
	return time.Duration(p.ETA * float64(time.Second))
}

// ParsedBatchData is the validated form of an input file.
type ParsedBatchData struct {
	Rows     []BatchRow          `json:"rows"`
	Errors   []ValidationError   `json:"errors"`
	Warnings []ValidationWarning `json:"warnings"`
}

// RunFailure records a failed row for the session report.
type RunFailure struct {
	RowID   string    `json:"row_id"`
	Drug    string    `json:"drug_name"`
	Protein string    `json:"protein_name"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// BatchRun is the persisted report of one batch run.
type BatchRun struct {
	ID         string       `json:"id"`
	SourceFile string       `json:"source_file,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Total      int          `json:"total"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Cancelled  bool         `json:"cancelled"`
	Failures   []RunFailure `json:"failures"`
}

// RawRow is one tokenized input record before validation. Index is the
// 1-based data row number in the source.
type RawRow struct {
	Index       int    `json:"index"`
	ID          string `json:"id"`
	DrugName    string `json:"drug_name"`
	SMILES      string `json:"smiles"`
	ProteinName string `json:"protein_name"`
	FASTA       string `json:"fasta"`
	Priority    string `json:"priority"`
}
