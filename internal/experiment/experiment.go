// Package experiment assembles a planning scenario end to end: model,
// desired-mode dynamics, policy, costs and objective, then runs the
// trajectory optimiser and evaluates the resulting plan.
package experiment

import (
	"context"
	"fmt"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/modeplan/internal/config"
	"github.com/san-kum/modeplan/internal/cost"
	"github.com/san-kum/modeplan/internal/dynamics"
	"github.com/san-kum/modeplan/internal/gp"
	"github.com/san-kum/modeplan/internal/metrics"
	"github.com/san-kum/modeplan/internal/policy"
	"github.com/san-kum/modeplan/internal/rollout"
	"github.com/san-kum/modeplan/internal/trajopt"
)

type Experiment struct {
	scenario *config.Scenario
	logger   *zap.Logger

	dyn      *dynamics.ModeDynamics
	pol      policy.Policy
	running  cost.Running
	terminal cost.Terminal
	optimise runFunc
}

// Result is one completed planning run.
type Result struct {
	Scenario     string
	Trajectory   *rollout.Trajectory
	ControlMeans *mat.Dense
	ControlVars  *mat.Dense
	Solver       *trajopt.Result
	Metrics      map[string]float64
}

func New(sc *config.Scenario, logger *zap.Logger) *Experiment {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Experiment{scenario: sc, logger: logger}
}

// Setup loads or synthesises the model and builds the scenario's
// dynamics, policy, costs and objective.
func (e *Experiment) Setup() error {
	sc := e.scenario
	if err := sc.Validate(); err != nil {
		return err
	}

	moe, err := e.loadModel()
	if err != nil {
		return err
	}

	nominal := dynamics.VelocityPointMass{Dt: sc.Dt}
	dyn, err := dynamics.New(moe, sc.DesiredMode, nominal, gp.DefaultNumerics())
	if err != nil {
		return err
	}
	e.dyn = dyn

	if len(sc.Start) != moe.StateDim {
		return fmt.Errorf("experiment: start state dim %d, model state dim %d", len(sc.Start), moe.StateDim)
	}

	registry := NewRegistry()
	rng := rand.New(rand.NewSource(sc.Seed))
	e.pol, err = registry.BuildPolicy(sc, moe.ControlDim, rng)
	if err != nil {
		return err
	}

	e.running, e.terminal, err = buildCosts(sc)
	if err != nil {
		return err
	}

	e.optimise, err = registry.BuildObjective(sc, e.pol, e.dyn, e.running, e.terminal, e.logger)
	if err != nil {
		return err
	}

	e.logger.Info("scenario ready",
		zap.String("scenario", sc.Name),
		zap.String("objective", sc.Objective),
		zap.Int("desired_mode", sc.DesiredMode),
		zap.Int("horizon", sc.Horizon),
	)
	return nil
}

func (e *Experiment) loadModel() (*dynamics.MixtureOfExperts, error) {
	if e.scenario.Model != "" {
		return dynamics.LoadModel(e.scenario.Model)
	}
	return dynamics.FromSpec(config.SyntheticModel(e.scenario.Seed))
}

// Run executes the optimiser and rolls out the optimised policy.
func (e *Experiment) Run(ctx context.Context) (*Result, error) {
	if e.optimise == nil {
		return nil, fmt.Errorf("experiment not setup")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := e.startBelief()
	solved, err := e.optimise(start)
	if err != nil {
		return nil, err
	}
	e.logger.Info("optimisation finished",
		zap.String("status", solved.Status),
		zap.Float64("loss", solved.Loss),
		zap.Int("iterations", solved.Iterations),
	)
	if solved.EvalErr != nil {
		e.logger.Warn("objective evaluations failed during run", zap.Error(solved.EvalErr))
	}

	tr, err := rollout.Run(e.dyn, e.pol, start)
	if err != nil {
		return nil, err
	}

	cm, cv := e.pol.Controls()
	modeProb := metrics.NewModeProbability(e.dyn)
	vals := metrics.Apply(tr, e.pol, []metrics.Metric{
		metrics.NewExpectedCost(e.running, e.terminal),
		metrics.NewControlEffort(),
		metrics.NewStateUncertainty(),
		modeProb,
	})
	vals["mode_prob_mean"] = modeProb.Mean()

	res := &Result{
		Scenario:     e.scenario.Name,
		Trajectory:   tr,
		ControlMeans: cm,
		ControlVars:  cv,
		Solver:       solved,
		Metrics:      vals,
	}
	return res, nil
}

func (e *Experiment) startBelief() rollout.Belief {
	b := rollout.Belief{Mean: append([]float64(nil), e.scenario.Start...)}
	if e.scenario.StartVar != nil {
		b.Var = append([]float64(nil), e.scenario.StartVar...)
	}
	return b
}

// Dynamics exposes the mode-restricted dynamics for extra evaluation.
func (e *Experiment) Dynamics() *dynamics.ModeDynamics { return e.dyn }

// Policy exposes the (post-optimisation) policy.
func (e *Experiment) Policy() policy.Policy { return e.pol }

func buildCosts(sc *config.Scenario) (cost.Running, cost.Terminal, error) {
	var stateQ, controlQ, terminalQ *cost.Quadratic
	var err error
	if len(sc.Weights.State) > 0 {
		stateQ, err = cost.NewDiagQuadratic(sc.Weights.State, sc.Target)
		if err != nil {
			return nil, nil, err
		}
	}
	if len(sc.Weights.Control) > 0 {
		controlQ, err = cost.NewDiagQuadratic(sc.Weights.Control, nil)
		if err != nil {
			return nil, nil, err
		}
	}
	if len(sc.Weights.Terminal) > 0 {
		terminalQ, err = cost.NewDiagQuadratic(sc.Weights.Terminal, sc.Target)
		if err != nil {
			return nil, nil, err
		}
	}
	return cost.QuadraticRunning(stateQ, controlQ), cost.QuadraticTerminal(terminalQ), nil
}
