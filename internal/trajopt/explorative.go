package trajopt

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/modeplan/internal/cost"
	"github.com/san-kum/modeplan/internal/dynamics"
	"github.com/san-kum/modeplan/internal/policy"
	"github.com/san-kum/modeplan/internal/rollout"
)

// EntropySource selects which gating uncertainty an explorative run may
// reward.
type EntropySource string

const (
	EntropyNone EntropySource = "none"
	// EntropyLatent treats each step's gating latent independently.
	EntropyLatent EntropySource = "latent"
	// EntropyConditional conditions each step on the previous one through
	// the posterior cross-covariance.
	EntropyConditional EntropySource = "conditional"
)

// ExplorativeSpec extends the solver settings with the exploration
// objective's weights.
type ExplorativeSpec struct {
	Spec

	// TargetModeProb is the per-step desired-mode probability the policy
	// is pulled toward: high enough to stay in mode, low enough to hug
	// the mode boundary where the gating is informative.
	TargetModeProb float64

	// VelocityWeight penalises large steps through the combined
	// state-control space.
	VelocityWeight float64

	// EntropySource optionally rewards gating uncertainty; EntropyWeight
	// scales the bonus.
	EntropySource EntropySource
	EntropyWeight float64
}

func DefaultExplorativeSpec() ExplorativeSpec {
	return ExplorativeSpec{
		Spec:           DefaultSpec(),
		TargetModeProb: 0.7,
		VelocityWeight: 0.001,
		EntropySource:  EntropyNone,
	}
}

// Explorative drives the policy toward the desired mode's boundary, where
// gating observations are most informative, while keeping steps small.
type Explorative struct {
	Optimiser
}

func NewExplorative(p policy.Policy, dyn *dynamics.ModeDynamics, running cost.Running, terminal cost.Terminal) *Explorative {
	return &Explorative{Optimiser{
		Policy:       p,
		Dynamics:     dyn,
		RunningCost:  running,
		TerminalCost: terminal,
	}}
}

// Objective is the explorative loss at the current policy parameters:
// quadratic velocity energy plus squared deviation of each step's
// desired-mode probability from the target, minus any entropy bonus.
func (e *Explorative) Objective(start rollout.Belief, spec ExplorativeSpec) (float64, error) {
	tr, err := e.rollout(start)
	if err != nil {
		return 0, err
	}
	stateMeans, stateVars := headStates(tr)
	controlMeans, controlVars := controlMatrices(e.Policy)

	loss := spec.VelocityWeight * velocityEnergy(stateMeans, controlMeans)

	probs, err := e.Dynamics.PredictModeProbability(stateMeans, controlMeans, stateVars, controlVars)
	if err != nil {
		return 0, err
	}
	for _, p := range probs {
		d := p - spec.TargetModeProb
		loss += d * d
	}

	bonus, err := e.entropyBonus(spec, stateMeans, controlMeans, stateVars, controlVars)
	if err != nil {
		return 0, err
	}
	loss -= spec.EntropyWeight * bonus
	return loss, nil
}

func (e *Explorative) entropyBonus(spec ExplorativeSpec, stateMeans, controlMeans, stateVars, controlVars *mat.Dense) (float64, error) {
	var ents []float64
	var err error
	switch spec.EntropySource {
	case EntropyNone, "":
		return 0, nil
	case EntropyLatent:
		ents, err = e.Dynamics.GatingEntropy(stateMeans, controlMeans, stateVars, controlVars)
	case EntropyConditional:
		ents, err = e.Dynamics.GatingConditionalEntropy(stateMeans, controlMeans)
	default:
		return 0, fmt.Errorf("trajopt: unknown entropy source %q", spec.EntropySource)
	}
	if err != nil {
		return 0, err
	}
	return floats.Sum(ents), nil
}

func (e *Explorative) Optimise(start rollout.Belief, spec ExplorativeSpec) (*Result, error) {
	loss := e.guardGeneration(func() (float64, error) {
		return e.Objective(start, spec)
	})
	return minimize(loss, e.Policy, e.constraints(start, spec.Spec), spec.Spec)
}

// velocityEnergy sums the squared step-to-step differences of the stacked
// state-control means.
func velocityEnergy(stateMeans, controlMeans *mat.Dense) float64 {
	h, _ := stateMeans.Dims()
	sum := 0.0
	for t := 1; t < h; t++ {
		dx := floats.Distance(stateMeans.RawRowView(t), stateMeans.RawRowView(t-1), 2)
		du := floats.Distance(controlMeans.RawRowView(t), controlMeans.RawRowView(t-1), 2)
		sum += dx*dx + du*du
	}
	return sum
}
