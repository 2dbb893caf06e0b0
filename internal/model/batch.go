package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// RowStatus is the lifecycle state of a BatchResult.
type RowStatus string

const (
	RowStatusPending    RowStatus = "pending"
	RowStatusProcessing RowStatus = "processing"
	RowStatusSuccess    RowStatus = "success"
	RowStatusFailed     RowStatus = "failed"
)

// Terminal reports whether no further transition can occur.
func (s RowStatus) Terminal() bool {
	return s == RowStatusSuccess || s == RowStatusFailed
}

// ErrIllegalTransition is returned when a BatchResult transition does not
// follow pending -> processing -> {success | failed}.
var ErrIllegalTransition = eris.New("illegal row status transition")

// BatchRow is one validated input unit. It is immutable once enqueued.
type BatchRow struct {
	ID          string `json:"id" yaml:"id"`
	DrugName    string `json:"drug_name" yaml:"drug_name"`
	SMILES      string `json:"smiles" yaml:"smiles"`
	ProteinName string `json:"protein_name" yaml:"protein_name"`
	FASTA       string `json:"fasta" yaml:"fasta"`
	Priority    bool   `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// Prediction is a predictor response that passed range checks.
type Prediction struct {
	PK           float64         `json:"pk"`
	Confidence   float64         `json:"confidence"`
	DrugLikeness *float64        `json:"drug_likeness,omitempty"`
	Explanation  json.RawMessage `json:"explanation,omitempty"`
}

// BatchResult is the lifecycle record for one BatchRow within a run.
// Status and payload only change through Start, Succeed and Fail, so a
// prediction exists iff the status is success and an error exists iff the
// status is failed.
type BatchResult struct {
	Row BatchRow

	status     RowStatus
	prediction *Prediction
	err        *RowError
	timestamp  time.Time
	startedAt  time.Time
	finishedAt time.Time
}

// NewBatchResult returns a pending result for row.
func NewBatchResult(row BatchRow, at time.Time) BatchResult {
	return BatchResult{Row: row, status: RowStatusPending, timestamp: at}
}

// Status returns the current lifecycle state.
func (r *BatchResult) Status() RowStatus { return r.status }

// Prediction returns the successful prediction, if any.
func (r *BatchResult) Prediction() (Prediction, bool) {
	if r.prediction == nil {
		return Prediction{}, false
	}
	return *r.prediction, true
}

// Err returns the failure, or nil unless the status is failed.
func (r *BatchResult) Err() *RowError { return r.err }

// Timestamp is the time of the last transition.
func (r *BatchResult) Timestamp() time.Time { return r.timestamp }

// StartedAt is when the row entered processing (zero if never dispatched).
func (r *BatchResult) StartedAt() time.Time { return r.startedAt }

// FinishedAt is when the row reached a terminal state.
func (r *BatchResult) FinishedAt() time.Time { return r.finishedAt }

// Start moves a pending row to processing.
func (r *BatchResult) Start(at time.Time) error {
	if r.status != RowStatusPending {
		return eris.Wrapf(ErrIllegalTransition, "row %s: %s -> %s", r.Row.ID, r.status, RowStatusProcessing)
	}
	r.status = RowStatusProcessing
	r.startedAt = at
	r.timestamp = at
	return nil
}

// Succeed moves a processing row to success.
func (r *BatchResult) Succeed(p Prediction, at time.Time) error {
	if r.status != RowStatusProcessing {
		return eris.Wrapf(ErrIllegalTransition, "row %s: %s -> %s", r.Row.ID, r.status, RowStatusSuccess)
	}
	r.status = RowStatusSuccess
	r.prediction = &p
	r.finishedAt = at
	r.timestamp = at
	return nil
}

// Fail moves a pending or processing row to failed. Pending rows may only
// fail through cancellation.
func (r *BatchResult) Fail(e *RowError, at time.Time) error {
	if e == nil {
		return eris.New("model: fail requires an error")
	}
	if r.status.Terminal() {
		return eris.Wrapf(ErrIllegalTransition, "row %s: %s -> %s", r.Row.ID, r.status, RowStatusFailed)
	}
	r.status = RowStatusFailed
	r.err = e
	r.finishedAt = at
	r.timestamp = at
	return nil
}

// ResultView is the flat export form of a BatchResult.
type ResultView struct {
	BatchRow     `yaml:",inline"`
	Status       RowStatus       `json:"status" yaml:"status"`
	PredictedPK  *float64        `json:"predicted_pk" yaml:"predicted_pk"`
	Confidence   *float64        `json:"confidence" yaml:"confidence"`
	DrugLikeness *float64        `json:"drug_likeness,omitempty" yaml:"drug_likeness,omitempty"`
	Explanation  json.RawMessage `json:"explanation,omitempty" yaml:"-"`
	Error        string          `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind    ErrorKind       `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Timestamp    time.Time       `json:"timestamp" yaml:"timestamp"`
}

// View flattens the result: PredictedPK and Confidence are nil unless the
// row succeeded.
func (r BatchResult) View() ResultView {
	out := ResultView{
		BatchRow:  r.Row,
		Status:    r.status,
		Timestamp: r.timestamp,
	}
	if r.prediction != nil {
		pk, conf := r.prediction.PK, r.prediction.Confidence
		out.PredictedPK = &pk
		out.Confidence = &conf
		out.DrugLikeness = r.prediction.DrugLikeness
		out.Explanation = r.prediction.Explanation
	}
	if r.err != nil {
		out.Error = r.err.Message
		out.ErrorKind = r.err.Kind
	}
	return out
}

// MarshalJSON renders the flat wire form.
func (r BatchResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.View())
}
