package experiment

import (
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"github.com/san-kum/modeplan/internal/config"
	"github.com/san-kum/modeplan/internal/cost"
	"github.com/san-kum/modeplan/internal/dynamics"
	"github.com/san-kum/modeplan/internal/policy"
	"github.com/san-kum/modeplan/internal/rollout"
	"github.com/san-kum/modeplan/internal/trajopt"
)

// runFunc runs one optimisation from a start belief; the policy is
// captured inside and mutated in place.
type runFunc func(start rollout.Belief) (*trajopt.Result, error)

type objectiveBuilder func(sc *config.Scenario, p policy.Policy, dyn *dynamics.ModeDynamics, running cost.Running, terminal cost.Terminal, logger *zap.Logger) (runFunc, error)

type policyBuilder func(sc *config.Scenario, controlDim int, rng *rand.Rand) (policy.Policy, error)

type Registry struct {
	objectives map[string]objectiveBuilder
	policies   map[string]policyBuilder
}

func NewRegistry() *Registry {
	r := &Registry{
		objectives: make(map[string]objectiveBuilder),
		policies:   make(map[string]policyBuilder),
	}

	r.objectives["variational"] = func(sc *config.Scenario, p policy.Policy, dyn *dynamics.ModeDynamics, running cost.Running, terminal cost.Terminal, logger *zap.Logger) (runFunc, error) {
		opt := trajopt.NewVariational(p, dyn, running, terminal)
		spec, err := solverSpec(sc, logger)
		if err != nil {
			return nil, err
		}
		return func(start rollout.Belief) (*trajopt.Result, error) {
			return opt.Optimise(start, spec)
		}, nil
	}
	r.objectives["mode"] = func(sc *config.Scenario, p policy.Policy, dyn *dynamics.ModeDynamics, running cost.Running, terminal cost.Terminal, logger *zap.Logger) (runFunc, error) {
		opt := trajopt.NewModeVariational(p, dyn, running, terminal)
		spec, err := solverSpec(sc, logger)
		if err != nil {
			return nil, err
		}
		return func(start rollout.Belief) (*trajopt.Result, error) {
			return opt.Optimise(start, spec)
		}, nil
	}
	r.objectives["explorative"] = func(sc *config.Scenario, p policy.Policy, dyn *dynamics.ModeDynamics, running cost.Running, terminal cost.Terminal, logger *zap.Logger) (runFunc, error) {
		opt := trajopt.NewExplorative(p, dyn, running, terminal)
		base, err := solverSpec(sc, logger)
		if err != nil {
			return nil, err
		}
		spec := trajopt.ExplorativeSpec{
			Spec:           base,
			TargetModeProb: sc.Explore.TargetModeProb,
			VelocityWeight: sc.Explore.VelocityWeight,
			EntropySource:  trajopt.EntropySource(sc.Explore.EntropySource),
			EntropyWeight:  sc.Explore.EntropyWeight,
		}
		return func(start rollout.Belief) (*trajopt.Result, error) {
			return opt.Optimise(start, spec)
		}, nil
	}

	r.policies["gaussian"] = func(sc *config.Scenario, controlDim int, rng *rand.Rand) (policy.Policy, error) {
		return policy.NewVariationalGaussian(sc.Horizon, controlDim, sc.InitControlVar, rng)
	}
	r.policies["deterministic"] = func(sc *config.Scenario, controlDim int, rng *rand.Rand) (policy.Policy, error) {
		return policy.NewDeterministic(sc.Horizon, controlDim, rng)
	}

	return r
}

func (r *Registry) BuildObjective(sc *config.Scenario, p policy.Policy, dyn *dynamics.ModeDynamics, running cost.Running, terminal cost.Terminal, logger *zap.Logger) (runFunc, error) {
	fn, ok := r.objectives[sc.Objective]
	if !ok {
		return nil, fmt.Errorf("unknown objective: %s", sc.Objective)
	}
	return fn(sc, p, dyn, running, terminal, logger)
}

func (r *Registry) BuildPolicy(sc *config.Scenario, controlDim int, rng *rand.Rand) (policy.Policy, error) {
	fn, ok := r.policies[sc.Policy]
	if !ok {
		return nil, fmt.Errorf("unknown policy: %s", sc.Policy)
	}
	return fn(sc, controlDim, rng)
}

func (r *Registry) ListObjectives() []string {
	names := make([]string, 0, len(r.objectives))
	for name := range r.objectives {
		names = append(names, name)
	}
	return names
}

func solverSpec(sc *config.Scenario, logger *zap.Logger) (trajopt.Spec, error) {
	spec := trajopt.DefaultSpec()
	if sc.Solver.MaxIterations > 0 {
		spec.MaxIterations = sc.Solver.MaxIterations
	}
	if sc.Solver.Method != "" {
		spec.Method = trajopt.Method(sc.Solver.Method)
	}
	if sc.Solver.ConstraintPenalty > 0 {
		spec.ConstraintPenalty = sc.Solver.ConstraintPenalty
	}
	spec.ModeChanceLower = sc.Solver.ModeChanceLower
	spec.Logger = logger
	if sc.Solver.CheckpointDir != "" {
		cp, err := trajopt.NewCheckpointer(sc.Solver.CheckpointDir, sc.Solver.CheckpointKeep)
		if err != nil {
			return trajopt.Spec{}, err
		}
		spec.Checkpoint = cp
		spec.Resume = sc.Solver.Resume
	}
	return spec, nil
}
