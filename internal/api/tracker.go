package api

import (
	"sync"
	"time"

	"github.com/sells-group/affinity-cli/internal/batch"
	"github.com/sells-group/affinity-cli/internal/history"
	"github.com/sells-group/affinity-cli/internal/model"
)

// maxFinishedBatches bounds how many finished batches stay queryable.
// Their records and run reports remain in the store.
const maxFinishedBatches = 100

// BatchState is the lifecycle of a tracked batch.
type BatchState string

const (
	BatchRunning   BatchState = "running"
	BatchFinished  BatchState = "finished"
	BatchCancelled BatchState = "cancelled"
)

type trackedBatch struct {
	id         string
	sourceFile string
	created    time.Time
	run        *batch.Run

	mu         sync.Mutex
	state      BatchState
	progress   model.BatchProgress
	results    []model.BatchResult
	summary    *history.Summary
	persistErr string
}

// BatchStatus is the wire form of a tracked batch.
type BatchStatus struct {
	ID         string              `json:"batch_id"`
	SourceFile string              `json:"source_file,omitempty"`
	State      BatchState          `json:"state"`
	CreatedAt  time.Time           `json:"created_at"`
	Progress   model.BatchProgress `json:"progress"`
	Summary    *SummaryView        `json:"summary,omitempty"`
	Results    []model.BatchResult `json:"results,omitempty"`
	PersistErr string              `json:"persist_error,omitempty"`
}

// SummaryView is the batch summary without the records, which are
// available from the history endpoints.
type SummaryView struct {
	Total       int                `json:"total"`
	Successful  int                `json:"successful"`
	Failed      int                `json:"failed"`
	SuccessRate float64            `json:"success_rate"`
	Failures    []model.RunFailure `json:"failures"`
}

func (b *trackedBatch) status(withResults bool) BatchStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := BatchStatus{
		ID:         b.id,
		SourceFile: b.sourceFile,
		State:      b.state,
		CreatedAt:  b.created,
		Progress:   b.progress,
		PersistErr: b.persistErr,
	}
	if b.summary != nil {
		st.Summary = &SummaryView{
			Total:       b.summary.Total,
			Successful:  b.summary.Successful,
			Failed:      b.summary.Failed,
			SuccessRate: b.summary.SuccessRate,
			Failures:    b.summary.Failures,
		}
	}
	if withResults {
		st.Results = b.results
	}
	return st
}

func (b *trackedBatch) setProgress(p model.BatchProgress) {
	b.mu.Lock()
	b.progress = p
	b.mu.Unlock()
}

func (b *trackedBatch) finish(results []model.BatchResult, s history.Summary, cancelled bool, persistErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results = results
	b.summary = &s
	b.state = BatchFinished
	if cancelled {
		b.state = BatchCancelled
	}
	if persistErr != nil {
		b.persistErr = persistErr.Error()
	}
}

func (b *trackedBatch) finished() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state != BatchRunning
}

// tracker is the registry of batches started through the API.
type tracker struct {
	mu          sync.Mutex
	batches     map[string]*trackedBatch
	order       []string
	maxFinished int
	wg          sync.WaitGroup
}

func newTracker(maxFinished int) *tracker {
	return &tracker{batches: make(map[string]*trackedBatch), maxFinished: maxFinished}
}

func (t *tracker) add(b *trackedBatch) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.batches[b.id] = b
	t.order = append(t.order, b.id)
	t.evictLocked()
}

// evictLocked drops the oldest finished batches beyond maxFinished.
func (t *tracker) evictLocked() {
	finished := 0
	for _, id := range t.order {
		if t.batches[id].finished() {
			finished++
		}
	}
	kept := t.order[:0]
	for _, id := range t.order {
		if finished > t.maxFinished && t.batches[id].finished() {
			delete(t.batches, id)
			finished--
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept
}

func (t *tracker) get(id string) (*trackedBatch, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.batches[id]
	return b, ok
}

// list returns tracked batches, newest first.
func (t *tracker) list() []*trackedBatch {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*trackedBatch, 0, len(t.order))
	for i := len(t.order) - 1; i >= 0; i-- {
		out = append(out, t.batches[t.order[i]])
	}
	return out
}

func (t *tracker) wait() {
	t.wg.Wait()
}
