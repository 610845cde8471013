package convergence

import (
	"context"
)

// DefaultConvergenceThreshold is the average pairwise similarity at which a
// round counts toward convergence.
const DefaultConvergenceThreshold = 0.85

// Status describes where a debate stands on the convergence scale.
type Status string

const (
	StatusDiverging  Status = "diverging"
	StatusConverging Status = "converging" // one round at or above threshold
	StatusConverged  Status = "converged"  // two consecutive rounds
)

// Tracker scores each round's proposals and declares convergence after the
// average pairwise similarity holds at or above the threshold for two
// consecutive rounds.
type Tracker struct {
	backend   SimilarityBackend
	threshold float64
	streak    int
	history   []float64
}

// NewTracker creates a tracker. threshold <= 0 uses the default.
func NewTracker(backend SimilarityBackend, threshold float64) *Tracker {
	if threshold <= 0 {
		threshold = DefaultConvergenceThreshold
	}
	return &Tracker{backend: backend, threshold: threshold}
}

// Observe scores one round's proposals and returns the resulting status
// together with the round's average similarity.
func (t *Tracker) Observe(ctx context.Context, proposals []string) (Status, float64, error) {
	avg, err := AveragePairwise(ctx, t.backend, proposals)
	if err != nil {
		return StatusDiverging, 0, err
	}
	t.history = append(t.history, avg)

	if avg >= t.threshold {
		t.streak++
	} else {
		t.streak = 0
	}

	switch {
	case t.streak >= 2:
		return StatusConverged, avg, nil
	case t.streak == 1:
		return StatusConverging, avg, nil
	default:
		return StatusDiverging, avg, nil
	}
}

// Converged reports whether the two-round criterion has been met.
func (t *Tracker) Converged() bool { return t.streak >= 2 }

// Status returns the tracker's current position on the convergence scale.
func (t *Tracker) Status() Status {
	switch {
	case t.streak >= 2:
		return StatusConverged
	case t.streak == 1:
		return StatusConverging
	default:
		return StatusDiverging
	}
}

// History returns the per-round average similarities observed so far.
func (t *Tracker) History() []float64 {
	out := make([]float64, len(t.history))
	copy(out, t.history)
	return out
}
