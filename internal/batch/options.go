// Package batch schedules affinity predictions for validated rows over a
// fixed worker pool and reports progress after every row transition.
package batch

import (
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/affinity-cli/pkg/affinity"
)

// Options configures one run. The zero value of each field selects its
// default.
type Options struct {
	// MaxConcurrent bounds rows in processing. Default 3.
	MaxConcurrent int
	// RowTimeout bounds a single prediction. Default 60s.
	RowTimeout time.Duration
	// SettleInFlight lets dispatched rows finish after cancellation instead
	// of failing them immediately. Still bounded by RowTimeout.
	SettleInFlight bool
	// MinPK and MaxPK bound an acceptable predicted pK. Default [0, 14].
	MinPK float64
	MaxPK float64
}

// DefaultOptions returns the defaults used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		MaxConcurrent: 3,
		RowTimeout:    60 * time.Second,
		MinPK:         0,
		MaxPK:         14,
	}
}

func (o Options) normalize() Options {
	def := DefaultOptions()
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = def.MaxConcurrent
	}
	if o.RowTimeout <= 0 {
		o.RowTimeout = def.RowTimeout
	}
	if o.MaxPK <= o.MinPK {
		o.MinPK, o.MaxPK = def.MinPK, def.MaxPK
	}
	return o
}

// CheckPrediction rejects predictor output that is non-finite or outside the
// configured pK range or the [0, 1] confidence range.
func (o Options) CheckPrediction(p *affinity.Prediction) error {
	o = o.normalize()
	switch {
	case p == nil:
		return eris.New("predictor returned no result")
	case math.IsNaN(p.PK) || math.IsInf(p.PK, 0):
		return eris.New("predicted pK is not a finite number")
	case p.PK < o.MinPK || p.PK > o.MaxPK:
		return eris.Errorf("predicted pK %.3g outside [%g, %g]", p.PK, o.MinPK, o.MaxPK)
	case math.IsNaN(p.Confidence) || p.Confidence < 0 || p.Confidence > 1:
		return eris.Errorf("confidence %.3g outside [0, 1]", p.Confidence)
	case p.DrugLikeness != nil && (math.IsNaN(*p.DrugLikeness) || math.IsInf(*p.DrugLikeness, 0)):
		return eris.New("drug-likeness is not a finite number")
	}
	return nil
}
