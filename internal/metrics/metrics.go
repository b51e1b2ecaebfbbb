// Package metrics provides per-step observers over planned trajectory
// distributions. Metrics accumulate while a trajectory is walked and
// report a single scalar summary.
package metrics

import (
	"github.com/san-kum/modeplan/internal/policy"
	"github.com/san-kum/modeplan/internal/rollout"
)

type Metric interface {
	Name() string
	// Observe consumes the state belief and control distribution at step
	// t. The final belief is observed with a nil control.
	Observe(state rollout.Belief, controlMean, controlVar []float64, t int)
	Value() float64
	Reset()
}

// Apply walks a trajectory through every metric and returns their values
// keyed by name.
func Apply(tr *rollout.Trajectory, p policy.Policy, ms []Metric) map[string]float64 {
	for _, m := range ms {
		m.Reset()
	}
	h := tr.Horizon()
	for t := 0; t < h; t++ {
		cm, cv := p.ControlAt(t)
		for _, m := range ms {
			m.Observe(tr.At(t), cm, cv, t)
		}
	}
	for _, m := range ms {
		m.Observe(tr.Last(), nil, nil, h)
	}
	out := make(map[string]float64, len(ms))
	for _, m := range ms {
		out[m.Name()] = m.Value()
	}
	return out
}
