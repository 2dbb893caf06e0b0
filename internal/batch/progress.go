package batch

import (
	"time"

	"github.com/sells-group/affinity-cli/internal/model"
)

// Estimate derives a progress snapshot from results at time now for a run
// that began at start.
//
// Percentage is 100 for an empty run. ETA extrapolates the mean time per
// completed row and is 0 until the first row completes and once every row
// has. CurrentItem is the processing row dispatched last.
func Estimate(start, now time.Time, results []model.BatchResult) model.BatchProgress {
	p := model.BatchProgress{Total: len(results)}

	current := -1
	for i := range results {
		r := &results[i]
		switch r.Status() {
		case model.RowStatusSuccess:
			p.Successful++
		case model.RowStatusFailed:
			p.Failed++
		case model.RowStatusProcessing:
			if current < 0 || r.StartedAt().After(results[current].StartedAt()) {
				current = i
			}
		}
	}
	p.Completed = p.Successful + p.Failed

	if p.Total == 0 {
		p.Percentage = 100
	} else {
		p.Percentage = float64(p.Completed) / float64(p.Total) * 100
	}

	if p.Completed > 0 && p.Completed < p.Total {
		if elapsed := now.Sub(start).Seconds(); elapsed > 0 {
			p.ETA = elapsed / float64(p.Completed) * float64(p.Total-p.Completed)
		}
	}

	if current >= 0 {
		p.CurrentItem = results[current].Row.ID
	}
	return p
}
