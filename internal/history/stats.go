package history

import (
	"math"
	"sort"
	"time"

	"github.com/sells-group/affinity-cli/internal/model"
)

// DayLayout is the bucket key format of PredictionsByDay.
const DayLayout = "2006-01-02"

// ComputeStats aggregates records. It never fails: an empty input yields
// zero values, non-finite scores are left out of the averages, and records
// without a timestamp are left out of the day buckets.
//
// MostTestedProtein ties go to the protein first seen earliest, then to the
// lexically smaller name. Days are UTC calendar dates in ascending order.
func ComputeStats(records []model.PredictionRecord) model.HistoryStats {
	stats := model.HistoryStats{
		TotalPredictions: len(records),
		PredictionsByDay: []model.DayCount{},
	}

	var (
		pkSum, confSum float64
		pkN, confN     int
	)
	type proteinTally struct {
		count     int
		firstSeen time.Time
	}
	proteins := make(map[string]*proteinTally)
	days := make(map[string]int)

	for _, r := range records {
		if finite(r.PredictedPK) {
			pkSum += r.PredictedPK
			pkN++
		}
		if finite(r.ConfidenceScore) {
			confSum += r.ConfidenceScore
			confN++
		}

		if r.ProteinName != "" {
			t, ok := proteins[r.ProteinName]
			if !ok {
				t = &proteinTally{firstSeen: r.CreatedAt}
				proteins[r.ProteinName] = t
			}
			t.count++
			if r.CreatedAt.Before(t.firstSeen) {
				t.firstSeen = r.CreatedAt
			}
		}

		if !r.CreatedAt.IsZero() {
			days[r.CreatedAt.UTC().Format(DayLayout)]++
		}

		switch r.Source {
		case model.SourceSingle:
			stats.PredictionsBySource.Single++
		case model.SourceBatch:
			stats.PredictionsBySource.Batch++
		}
	}

	if pkN > 0 {
		stats.AveragePK = pkSum / float64(pkN)
	}
	if confN > 0 {
		stats.AverageConfidence = confSum / float64(confN)
	}

	var best string
	for name, t := range proteins {
		if best == "" {
			best = name
			continue
		}
		b := proteins[best]
		switch {
		case t.count != b.count:
			if t.count > b.count {
				best = name
			}
		case !t.firstSeen.Equal(b.firstSeen):
			if t.firstSeen.Before(b.firstSeen) {
				best = name
			}
		case name < best:
			best = name
		}
	}
	stats.MostTestedProtein = best

	for day, n := range days {
		stats.PredictionsByDay = append(stats.PredictionsByDay, model.DayCount{Date: day, Count: n})
	}
	sort.Slice(stats.PredictionsByDay, func(i, j int) bool {
		return stats.PredictionsByDay[i].Date < stats.PredictionsByDay[j].Date
	})
	return stats
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
