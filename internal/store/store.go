// Package store persists prediction records and batch run reports.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/affinity-cli/internal/model"
)

// ErrNotFound is wrapped by lookups and updates of unknown ids.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for prediction history.
type Store interface {
	// Prediction records
	SaveRecords(ctx context.Context, records []model.PredictionRecord) error
	GetRecord(ctx context.Context, id string) (*model.PredictionRecord, error)
	ListRecords(ctx context.Context, filter model.RecordFilter) ([]model.PredictionRecord, error)
	DeleteRecord(ctx context.Context, id string) error

	// Annotate applies every set field of a in one statement (last write wins).
	Annotate(ctx context.Context, id string, a model.Annotation) error

	// Batch run reports
	SaveBatchRun(ctx context.Context, run model.BatchRun) error
	GetBatchRun(ctx context.Context, id string) (*model.BatchRun, error)
	ListBatchRuns(ctx context.Context, limit int) ([]model.BatchRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func notFound(entity, id string) error {
	return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
}

// normalizeTags trims, drops empty and duplicate tags, keeping first-seen order.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
