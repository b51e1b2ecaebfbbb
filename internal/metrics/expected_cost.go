package metrics

import (
	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/modeplan/internal/cost"
	"github.com/san-kum/modeplan/internal/rollout"
)

// ExpectedCost accumulates the expected running cost over the horizon plus
// the terminal cost at the final belief.
type ExpectedCost struct {
	name     string
	running  cost.Running
	terminal cost.Terminal
	total    float64
}

func NewExpectedCost(running cost.Running, terminal cost.Terminal) *ExpectedCost {
	return &ExpectedCost{
		name:     "expected_cost",
		running:  running,
		terminal: terminal,
	}
}

func (e *ExpectedCost) Name() string { return e.name }

func (e *ExpectedCost) Observe(x rollout.Belief, u, uVar []float64, t int) {
	if u == nil {
		if e.terminal != nil {
			e.total += e.terminal(x.Mean, x.Var)
		}
		return
	}
	if e.running != nil {
		e.total += e.running(x.Mean, x.Var, u, uVar)
	}
}

func (e *ExpectedCost) Value() float64 { return e.total }

func (e *ExpectedCost) Reset() { e.total = 0 }

// StateUncertainty is the mean total state variance along the trajectory,
// a summary of how far the plan strays from the model's training data.
type StateUncertainty struct {
	name    string
	sum     float64
	samples int
}

func NewStateUncertainty() *StateUncertainty {
	return &StateUncertainty{name: "state_uncertainty"}
}

func (s *StateUncertainty) Name() string { return s.name }

func (s *StateUncertainty) Observe(x rollout.Belief, u, uVar []float64, t int) {
	if x.Var != nil {
		s.sum += floats.Sum(x.Var)
	}
	s.samples++
}

func (s *StateUncertainty) Value() float64 {
	if s.samples == 0 {
		return 0
	}
	return s.sum / float64(s.samples)
}

func (s *StateUncertainty) Reset() {
	s.sum = 0
	s.samples = 0
}
