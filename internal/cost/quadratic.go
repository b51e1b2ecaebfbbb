// Package cost provides expected quadratic cost functions over Gaussian
// beliefs: E[(x-t)' Q (x-t)] = (m-t)' Q (m-t) + tr(Q S).
package cost

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Quadratic is a quadratic form with an optional target offset.
type Quadratic struct {
	Q      *mat.SymDense
	Target []float64 // nil means the origin
}

// NewDiagQuadratic builds a quadratic cost with diagonal weights.
func NewDiagQuadratic(weights, target []float64) (*Quadratic, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("cost: empty weight vector")
	}
	if target != nil && len(target) != len(weights) {
		return nil, fmt.Errorf("cost: target dim %d, weight dim %d", len(target), len(weights))
	}
	q := mat.NewSymDense(len(weights), nil)
	for i, w := range weights {
		q.SetSym(i, i, w)
	}
	var t []float64
	if target != nil {
		t = make([]float64, len(target))
		copy(t, target)
	}
	return &Quadratic{Q: q, Target: t}, nil
}

func (q *Quadratic) Dim() int { return q.Q.SymmetricDim() }

// Expected evaluates the expectation of the quadratic form under a
// Gaussian with the given mean and diagonal variance (nil variance is a
// delta distribution).
func (q *Quadratic) Expected(mean, variance []float64) float64 {
	n := q.Dim()
	s := 0.0
	for i := 0; i < n; i++ {
		di := mean[i]
		if q.Target != nil {
			di -= q.Target[i]
		}
		for j := 0; j < n; j++ {
			dj := mean[j]
			if q.Target != nil {
				dj -= q.Target[j]
			}
			s += di * q.Q.At(i, j) * dj
		}
		if variance != nil {
			s += q.Q.At(i, i) * variance[i]
		}
	}
	return s
}

// Running scores one timestep of the trajectory distribution.
type Running func(stateMean, stateVar, controlMean, controlVar []float64) float64

// Terminal scores the final state belief.
type Terminal func(stateMean, stateVar []float64) float64

// QuadraticRunning sums expected state and control quadratic costs per
// step; either term may be nil.
func QuadraticRunning(state, control *Quadratic) Running {
	return func(sm, sv, cm, cv []float64) float64 {
		c := 0.0
		if state != nil {
			c += state.Expected(sm, sv)
		}
		if control != nil {
			c += control.Expected(cm, cv)
		}
		return c
	}
}

// QuadraticTerminal is the expected terminal state cost.
func QuadraticTerminal(state *Quadratic) Terminal {
	return func(sm, sv []float64) float64 {
		if state == nil {
			return 0
		}
		return state.Expected(sm, sv)
	}
}
