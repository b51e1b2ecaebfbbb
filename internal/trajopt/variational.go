package trajopt

import (
	"github.com/san-kum/modeplan/internal/cost"
	"github.com/san-kum/modeplan/internal/dynamics"
	"github.com/san-kum/modeplan/internal/policy"
	"github.com/san-kum/modeplan/internal/rollout"
)

// Variational maximises the plain trajectory ELBO by minimising its
// negation with the external solver.
type Variational struct {
	Optimiser
}

func NewVariational(p policy.Policy, dyn *dynamics.ModeDynamics, running cost.Running, terminal cost.Terminal) *Variational {
	return &Variational{Optimiser{
		Policy:       p,
		Dynamics:     dyn,
		RunningCost:  running,
		TerminalCost: terminal,
	}}
}

func (v *Variational) Optimise(start rollout.Belief, spec Spec) (*Result, error) {
	loss := v.guardGeneration(func() (float64, error) {
		e, err := v.ELBO(start)
		return -e, err
	})
	return minimize(loss, v.Policy, v.constraints(start, spec), spec)
}

// ModeVariational conditions the bound on staying in the desired mode by
// adding the gating variational expectation to the ELBO.
type ModeVariational struct {
	Optimiser
}

func NewModeVariational(p policy.Policy, dyn *dynamics.ModeDynamics, running cost.Running, terminal cost.Terminal) *ModeVariational {
	return &ModeVariational{Optimiser{
		Policy:       p,
		Dynamics:     dyn,
		RunningCost:  running,
		TerminalCost: terminal,
	}}
}

func (v *ModeVariational) Optimise(start rollout.Belief, spec Spec) (*Result, error) {
	loss := v.guardGeneration(func() (float64, error) {
		e, err := v.ModeELBO(start)
		return -e, err
	})
	return minimize(loss, v.Policy, v.constraints(start, spec), spec)
}

func (o *Optimiser) constraints(start rollout.Belief, spec Spec) []Constraint {
	if spec.ModeChanceLower <= 0 {
		return nil
	}
	return []Constraint{o.ModeChanceConstraint(start, spec.ModeChanceLower)}
}
