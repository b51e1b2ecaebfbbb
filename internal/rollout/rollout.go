// Package rollout propagates Gaussian state beliefs through a dynamics
// model under a sequence of control distributions. Rollouts are strictly
// sequential: step t+1 consumes the full output distribution of step t.
package rollout

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Belief is a Gaussian over a state or control vector with diagonal
// covariance. A nil Var denotes a delta (deterministic) distribution.
type Belief struct {
	Mean []float64
	Var  []float64
}

func (b Belief) Dim() int { return len(b.Mean) }

func (b Belief) Clone() Belief {
	c := Belief{Mean: make([]float64, len(b.Mean))}
	copy(c.Mean, b.Mean)
	if b.Var != nil {
		c.Var = make([]float64, len(b.Var))
		copy(c.Var, b.Var)
	}
	return c
}

// Dynamics is a one-step state transition over beliefs.
type Dynamics interface {
	Step(state, control Belief) (Belief, error)
	StateDim() int
	ControlDim() int
}

// Policy produces the control distribution for a timestep.
type Policy interface {
	ControlAt(t int) (mean, variance []float64)
	Horizon() int
}

// Trajectory is the ordered state belief sequence of one rollout; it is
// only ever extended by appending, never mutated in place, and holds
// exactly horizon+1 entries.
type Trajectory struct {
	Beliefs []Belief
}

func (tr *Trajectory) Len() int      { return len(tr.Beliefs) }
func (tr *Trajectory) Last() Belief  { return tr.Beliefs[len(tr.Beliefs)-1] }
func (tr *Trajectory) Horizon() int  { return len(tr.Beliefs) - 1 }
func (tr *Trajectory) At(t int) Belief { return tr.Beliefs[t] }

// Means stacks the state means as a [H+1, Dx] matrix.
func (tr *Trajectory) Means() *mat.Dense {
	n := tr.Len()
	d := tr.Beliefs[0].Dim()
	out := mat.NewDense(n, d, nil)
	for i, b := range tr.Beliefs {
		out.SetRow(i, b.Mean)
	}
	return out
}

// Vars stacks the state variances as a [H+1, Dx] matrix; delta beliefs
// contribute zeros.
func (tr *Trajectory) Vars() *mat.Dense {
	n := tr.Len()
	d := tr.Beliefs[0].Dim()
	out := mat.NewDense(n, d, nil)
	for i, b := range tr.Beliefs {
		if b.Var != nil {
			out.SetRow(i, b.Var)
		}
	}
	return out
}

// Controls rolls out an explicit control sequence. controlVars may be nil,
// in which case every control is a delta distribution. The returned
// trajectory has exactly len(controlMeans rows)+1 beliefs.
func Controls(dyn Dynamics, start Belief, controlMeans, controlVars *mat.Dense) (*Trajectory, error) {
	if start.Dim() != dyn.StateDim() {
		return nil, fmt.Errorf("rollout: start state dim %d, dynamics state dim %d", start.Dim(), dyn.StateDim())
	}
	horizon, du := 0, dyn.ControlDim()
	if controlMeans != nil {
		var dc int
		horizon, dc = controlMeans.Dims()
		if dc != du {
			return nil, fmt.Errorf("rollout: control dim %d, dynamics control dim %d", dc, du)
		}
	}
	if controlVars != nil {
		vh, vd := controlVars.Dims()
		if vh != horizon || vd != du {
			return nil, fmt.Errorf("rollout: control variance is %dx%d, controls are %dx%d", vh, vd, horizon, du)
		}
	}

	tr := &Trajectory{Beliefs: make([]Belief, 0, horizon+1)}
	tr.Beliefs = append(tr.Beliefs, start.Clone())
	for t := 0; t < horizon; t++ {
		control := Belief{Mean: mat.Row(nil, t, controlMeans)}
		if controlVars != nil {
			control.Var = mat.Row(nil, t, controlVars)
		}
		next, err := dyn.Step(tr.Last(), control)
		if err != nil {
			return nil, fmt.Errorf("rollout: step %d: %w", t, err)
		}
		tr.Beliefs = append(tr.Beliefs, next)
	}
	return tr, nil
}

// Run rolls a policy out in the dynamics for the policy's horizon.
func Run(dyn Dynamics, p Policy, start Belief) (*Trajectory, error) {
	if start.Dim() != dyn.StateDim() {
		return nil, fmt.Errorf("rollout: start state dim %d, dynamics state dim %d", start.Dim(), dyn.StateDim())
	}
	horizon := p.Horizon()
	tr := &Trajectory{Beliefs: make([]Belief, 0, horizon+1)}
	tr.Beliefs = append(tr.Beliefs, start.Clone())
	for t := 0; t < horizon; t++ {
		mean, variance := p.ControlAt(t)
		next, err := dyn.Step(tr.Last(), Belief{Mean: mean, Var: variance})
		if err != nil {
			return nil, fmt.Errorf("rollout: step %d: %w", t, err)
		}
		tr.Beliefs = append(tr.Beliefs, next)
	}
	return tr, nil
}
