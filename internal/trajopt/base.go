// Package trajopt assembles scalar objectives from belief-space rollouts
// and drives an external numerical optimiser over policy parameters. The
// dynamics model is frozen: the solver only ever sees the policy's
// parameter vector.
package trajopt

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/modeplan/internal/cost"
	"github.com/san-kum/modeplan/internal/dynamics"
	"github.com/san-kum/modeplan/internal/policy"
	"github.com/san-kum/modeplan/internal/rollout"
)

// Optimiser holds the collaborators shared by every objective variant.
type Optimiser struct {
	Policy       policy.Policy
	Dynamics     *dynamics.ModeDynamics
	RunningCost  cost.Running
	TerminalCost cost.Terminal
}

func (o *Optimiser) rollout(start rollout.Belief) (*rollout.Trajectory, error) {
	return rollout.Run(o.Dynamics, o.Policy, start)
}

// expectedCosts accumulates the expected running cost over steps 0..H-1
// and the expected terminal cost at the final belief.
func (o *Optimiser) expectedCosts(tr *rollout.Trajectory) (integral, terminal float64) {
	h := tr.Horizon()
	for t := 0; t < h; t++ {
		b := tr.At(t)
		cm, cv := o.Policy.ControlAt(t)
		if o.RunningCost != nil {
			integral += o.RunningCost(b.Mean, b.Var, cm, cv)
		}
	}
	last := tr.Last()
	if o.TerminalCost != nil {
		terminal = o.TerminalCost(last.Mean, last.Var)
	}
	return integral, terminal
}

// headStates returns the trajectory's state means and variances excluding
// the final belief, aligned with the control sequence.
func headStates(tr *rollout.Trajectory) (*mat.Dense, *mat.Dense) {
	h := tr.Horizon()
	d := tr.At(0).Dim()
	means := mat.NewDense(h, d, nil)
	vars := mat.NewDense(h, d, nil)
	for t := 0; t < h; t++ {
		b := tr.At(t)
		means.SetRow(t, b.Mean)
		if b.Var != nil {
			vars.SetRow(t, b.Var)
		}
	}
	return means, vars
}

// controlMatrices materialises the policy's control sequence; the variance
// matrix is zero-filled for deterministic policies.
func controlMatrices(p policy.Policy) (*mat.Dense, *mat.Dense) {
	means, vars := p.Controls()
	if vars == nil {
		h, d := means.Dims()
		vars = mat.NewDense(h, d, nil)
	}
	return means, vars
}

// ELBO is the plain variational lower bound:
// -terminal - sum(running) - entropy.
func (o *Optimiser) ELBO(start rollout.Belief) (float64, error) {
	entropy := o.Policy.Entropy()
	tr, err := o.rollout(start)
	if err != nil {
		return 0, err
	}
	integral, terminal := o.expectedCosts(tr)
	return -terminal - integral - entropy, nil
}

// ModeELBO conditions the bound on the mode indicator by adding the
// gating variational expectation term.
func (o *Optimiser) ModeELBO(start rollout.Belief) (float64, error) {
	entropy := o.Policy.Entropy()
	tr, err := o.rollout(start)
	if err != nil {
		return 0, err
	}
	integral, terminal := o.expectedCosts(tr)

	stateMeans, stateVars := headStates(tr)
	controlMeans, controlVars := controlMatrices(o.Policy)
	modeVarExp, err := o.Dynamics.ModeVariationalExpectation(stateMeans, controlMeans, stateVars, controlVars)
	if err != nil {
		return 0, err
	}
	return modeVarExp - terminal - integral - entropy, nil
}

// ModeChanceConstraint bounds the per-step desired-mode probability from
// below; the returned slacks are feasible when non-negative.
func (o *Optimiser) ModeChanceConstraint(start rollout.Belief, lower float64) Constraint {
	return func() ([]float64, error) {
		tr, err := o.rollout(start)
		if err != nil {
			return nil, err
		}
		stateMeans, stateVars := headStates(tr)
		controlMeans, controlVars := controlMatrices(o.Policy)
		probs, err := o.Dynamics.PredictModeProbability(stateMeans, controlMeans, stateVars, controlVars)
		if err != nil {
			return nil, err
		}
		slacks := make([]float64, len(probs))
		for i, p := range probs {
			slacks[i] = p - lower
		}
		return slacks, nil
	}
}

// guardGeneration pins the dynamics' desired mode for the lifetime of a
// loss closure: a mode switch mid-optimisation invalidates the rollout
// state and must fail loudly.
func (o *Optimiser) guardGeneration(loss func() (float64, error)) func() (float64, error) {
	gen := o.Dynamics.Generation()
	return func() (float64, error) {
		if o.Dynamics.Generation() != gen {
			return 0, fmt.Errorf("trajopt: desired mode changed during optimisation")
		}
		return loss()
	}
}
