package batch

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/affinity-cli/internal/model"
	"github.com/sells-group/affinity-cli/pkg/affinity"
)

// Scheduler runs batches of rows against a prediction client.
type Scheduler struct {
	client affinity.Client
	opts   Options
	now    func() time.Time
}

// New creates a Scheduler. Zero option fields take their defaults.
func New(client affinity.Client, opts Options) *Scheduler {
	return &Scheduler{client: client, opts: opts.normalize(), now: time.Now}
}

// Options returns the effective options.
func (s *Scheduler) Options() Options { return s.opts }

// Run is one in-progress batch. Progress snapshots arrive on Progress in
// transition order; the channel is closed when the run ends.
type Run struct {
	progress chan model.BatchProgress
	done     chan struct{}
	cancel   context.CancelFunc

	results   []model.BatchResult
	cancelled bool
	started   time.Time
	finished  time.Time
}

// Progress returns the snapshot stream. It is buffered for every snapshot
// the run can emit, so a slow reader never stalls the run.
func (r *Run) Progress() <-chan model.BatchProgress { return r.progress }

// Cancel stops dispatching. Pending rows fail as cancelled.
func (r *Run) Cancel() { r.cancel() }

// Done is closed when the run has ended.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run ends and returns one result per input row, in
// input order.
func (r *Run) Wait() []model.BatchResult {
	<-r.done
	return r.results
}

// Cancelled reports whether the run ended through cancellation. Valid after
// Wait returns.
func (r *Run) Cancelled() bool {
	<-r.done
	return r.cancelled
}

// Window returns when the run started and finished. Valid after Wait returns.
func (r *Run) Window() (time.Time, time.Time) {
	<-r.done
	return r.started, r.finished
}

// Run executes rows to completion, calling onProgress for each snapshot,
// and returns the results. onProgress may be nil.
func (s *Scheduler) Run(ctx context.Context, rows []model.BatchRow, onProgress func(model.BatchProgress)) []model.BatchResult {
	run := s.Start(ctx, rows)
	for p := range run.Progress() {
		if onProgress != nil {
			onProgress(p)
		}
	}
	return run.Wait()
}

// Start launches a run over rows and returns immediately. Cancelling ctx
// has the same effect as Run.Cancel.
func (s *Scheduler) Start(ctx context.Context, rows []model.BatchRow) *Run {
	ctx, cancel := context.WithCancel(ctx)
	r := &Run{
		progress: make(chan model.BatchProgress, 2*len(rows)+2),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
	go s.coordinate(ctx, r, rows)
	return r
}

type task struct {
	idx int
	row model.BatchRow
}

type outcome struct {
	idx        int
	prediction *affinity.Prediction
	err        *model.RowError
}

// drainOutcomes returns first plus every outcome already waiting on ch,
// ordered by row index. Completions that land in the same tick are applied
// in that order.
func drainOutcomes(first outcome, ch <-chan outcome) []outcome {
	ready := []outcome{first}
	for {
		select {
		case o := <-ch:
			ready = append(ready, o)
			continue
		default:
		}
		sort.SliceStable(ready, func(i, j int) bool { return ready[i].idx < ready[j].idx })
		return ready
	}
}

// coordinate owns the results and the queue for the lifetime of the run.
// Workers only call the predictor and report back on outcomes.
func (s *Scheduler) coordinate(ctx context.Context, r *Run, rows []model.BatchRow) {
	defer close(r.done)
	defer close(r.progress)
	defer r.cancel()

	start := s.now()
	results := make([]model.BatchResult, len(rows))
	for i, row := range rows {
		results[i] = model.NewBatchResult(row, start)
	}
	queue := dispatchOrder(rows)
	emit := func() {
		r.progress <- Estimate(start, s.now(), results)
	}

	log := zap.L().With(zap.Int("rows", len(rows)))
	log.Info("batch: run started",
		zap.Int("max_concurrent", s.opts.MaxConcurrent),
		zap.Duration("row_timeout", s.opts.RowTimeout),
	)

	callBase := ctx
	if s.opts.SettleInFlight {
		callBase = context.WithoutCancel(ctx)
	}

	tasks := make(chan task)
	outcomes := make(chan outcome)
	var g errgroup.Group
	for w := 0; w < min(s.opts.MaxConcurrent, len(rows)); w++ {
		g.Go(func() error {
			for t := range tasks {
				outcomes <- s.predict(ctx, callBase, t)
			}
			return nil
		})
	}

	emit()

	inflight := 0
	cancelled := false
	sweep := func() {
		at := s.now()
		swept := 0
		for i := range results {
			st := results[i].Status()
			if st == model.RowStatusPending || (st == model.RowStatusProcessing && !s.opts.SettleInFlight) {
				_ = results[i].Fail(model.NewRowError(model.ErrorKindCancelled, model.ErrCancelled), at)
				swept++
			}
		}
		if !s.opts.SettleInFlight {
			inflight = 0
		}
		queue = nil
		log.Warn("batch: run cancelled", zap.Int("rows_cancelled", swept))
		emit()
	}

	for len(queue) > 0 || inflight > 0 {
		if !cancelled && ctx.Err() != nil {
			cancelled = true
			sweep()
			continue
		}

		var (
			dispatch chan<- task
			next     task
			ctxDone  <-chan struct{}
		)
		if !cancelled {
			ctxDone = ctx.Done()
			if len(queue) > 0 && inflight < s.opts.MaxConcurrent {
				dispatch = tasks
				next = task{idx: queue[0], row: rows[queue[0]]}
			}
		}

		select {
		case dispatch <- next:
			queue = queue[1:]
			inflight++
			_ = results[next.idx].Start(s.now())
			emit()

		case first := <-outcomes:
			for _, o := range drainOutcomes(first, outcomes) {
				res := &results[o.idx]
				if res.Status().Terminal() {
					continue // abandoned by cancellation
				}
				inflight--
				at := s.now()
				if o.err != nil {
					_ = res.Fail(o.err, at)
					log.Debug("batch: row failed",
						zap.String("row", res.Row.ID),
						zap.String("kind", string(o.err.Kind)),
						zap.String("error", o.err.Message),
					)
				} else {
					_ = res.Succeed(model.Prediction(*o.prediction), at)
				}
				emit()
			}

		case <-ctxDone:
			cancelled = true
			sweep()
		}
	}

	close(tasks)
	go func() {
		_ = g.Wait()
		close(outcomes)
	}()
	for range outcomes {
	}

	r.results = results
	r.cancelled = cancelled
	r.started = start
	r.finished = s.now()

	final := Estimate(start, r.finished, results)
	log.Info("batch: run finished",
		zap.Int("successful", final.Successful),
		zap.Int("failed", final.Failed),
		zap.Bool("cancelled", cancelled),
		zap.Duration("elapsed", r.finished.Sub(start)),
	)
}

// predict performs one guarded predictor call. The call is raced against
// the row timeout so a client that ignores its context still frees the slot.
func (s *Scheduler) predict(runCtx, base context.Context, t task) outcome {
	ctx, cancel := context.WithTimeout(base, s.opts.RowTimeout)
	defer cancel()

	type reply struct {
		p   *affinity.Prediction
		err error
	}
	replies := make(chan reply, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				replies <- reply{err: eris.Errorf("predictor panicked: %v", rec)}
			}
		}()
		p, err := s.client.Predict(ctx, t.row.SMILES, t.row.FASTA)
		replies <- reply{p: p, err: err}
	}()

	failed := func(kind model.ErrorKind, err error) outcome {
		return outcome{idx: t.idx, err: model.NewRowError(kind, err)}
	}
	interrupted := func() outcome {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && (s.opts.SettleInFlight || runCtx.Err() == nil) {
			return failed(model.ErrorKindTimeout, eris.Errorf("prediction timed out after %s", s.opts.RowTimeout))
		}
		return failed(model.ErrorKindCancelled, model.ErrCancelled)
	}

	select {
	case rep := <-replies:
		if rep.err != nil {
			if ctx.Err() != nil {
				return interrupted()
			}
			return failed(model.ErrorKindPrediction, rep.err)
		}
		if err := s.opts.CheckPrediction(rep.p); err != nil {
			return failed(model.ErrorKindPrediction, err)
		}
		return outcome{idx: t.idx, prediction: rep.p}
	case <-ctx.Done():
		return interrupted()
	}
}
