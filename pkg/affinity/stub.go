package affinity

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// StubOption configures the offline client.
type StubOption func(*stubClient)

// WithLatency makes every prediction take d, or until ctx ends.
func WithLatency(d time.Duration) StubOption {
	return func(c *stubClient) {
		c.latency = d
	}
}

type stubClient struct {
	latency time.Duration
}

// NewStubClient returns an offline Client whose answers are a deterministic
// function of its inputs. SMILES with unbalanced brackets are rejected.
func NewStubClient(opts ...StubOption) Client {
	c := &stubClient{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *stubClient) Predict(ctx context.Context, smiles, sequence string) (*Prediction, error) {
	if c.latency > 0 {
		timer := time.NewTimer(c.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, eris.Wrap(ctx.Err(), "affinity: stub predict")
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "affinity: stub predict")
	}
	if !balanced(smiles) {
		return nil, eris.Errorf("affinity: invalid smiles %q: unbalanced brackets", smiles)
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.TrimSpace(smiles)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(sequence))
	sum := h.Sum64()

	unit := func(shift uint) float64 {
		return float64((sum>>shift)&0xffff) / 0xffff
	}
	pk := round(2+unit(0)*9, 2)
	confidence := round(0.5+unit(16)*0.49, 3)
	likeness := round(unit(32), 3)

	explanation, err := json.Marshal(map[string]any{
		"model":           "offline-stub",
		"sequence_length": len(sequence),
		"smiles_length":   len(smiles),
	})
	if err != nil {
		return nil, eris.Wrap(err, "affinity: marshal explanation")
	}
	return &Prediction{
		PK:           pk,
		Confidence:   confidence,
		DrugLikeness: &likeness,
		Explanation:  explanation,
	}, nil
}

func balanced(smiles string) bool {
	var stack []rune
	pairs := map[rune]rune{')': '(', ']': '['}
	for _, r := range smiles {
		switch r {
		case '(', '[':
			stack = append(stack, r)
		case ')', ']':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[r] {
				return false
			}
			stack = stack[:len(stack)-1]
		}
	}
	return len(stack) == 0
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
