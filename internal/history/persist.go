package history

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/affinity-cli/internal/model"
)

// Sink is the part of the store a finished batch is written to.
type Sink interface {
	SaveRecords(ctx context.Context, records []model.PredictionRecord) error
	SaveBatchRun(ctx context.Context, run model.BatchRun) error
}

// Persist stores the successful records of a batch, then its run report.
// The report is written even when the batch produced no records.
func Persist(ctx context.Context, sink Sink, s Summary, run model.BatchRun) error {
	if err := sink.SaveRecords(ctx, s.Records); err != nil {
		return eris.Wrapf(err, "history: save records for batch %s", s.BatchID)
	}
	if err := sink.SaveBatchRun(ctx, run); err != nil {
		return eris.Wrapf(err, "history: save run %s", run.ID)
	}

	zap.L().Info("history: batch persisted",
		zap.String("batch_id", s.BatchID),
		zap.Int("records", len(s.Records)),
		zap.Int("failures", len(s.Failures)),
		zap.Bool("cancelled", run.Cancelled),
	)
	return nil
}
