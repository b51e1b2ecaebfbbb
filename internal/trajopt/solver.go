package trajopt

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"

	"github.com/san-kum/modeplan/internal/policy"
)

// Method selects the gradient scheme of the external solver.
type Method string

const (
	MethodLBFGS      Method = "lbfgs"
	MethodBFGS       Method = "bfgs"
	MethodNelderMead Method = "neldermead"
)

// Constraint evaluates inequality slacks at the current policy parameters;
// the point is feasible when every slack is non-negative. Infeasible slacks
// are folded into the objective as exterior quadratic penalties.
type Constraint func() ([]float64, error)

// Spec configures one optimisation run.
type Spec struct {
	MaxIterations     int
	Method            Method
	ConstraintPenalty float64

	// ModeChanceLower enables the per-step desired-mode probability
	// constraint when positive.
	ModeChanceLower float64

	// StepCallback fires after every major iteration.
	StepCallback func(step int, loss float64, params []float64)

	Checkpoint *Checkpointer

	// Resume restores the policy from the newest checkpoint before the
	// first iteration, when one exists.
	Resume bool

	Logger *zap.Logger
}

// DefaultSpec mirrors the settings used across the experiment presets.
func DefaultSpec() Spec {
	return Spec{
		MaxIterations:     100,
		Method:            MethodLBFGS,
		ConstraintPenalty: 1e3,
	}
}

// Result reports the solver outcome. Status is the solver's own verdict,
// reported verbatim; EvalErr holds the first objective evaluation failure,
// if any occurred during the run.
type Result struct {
	Loss       float64
	Params     []float64
	Status     string
	Iterations int
	FuncEvals  int
	EvalErr    error
	SolverErr  error
}

func (s Spec) method() (optimize.Method, error) {
	switch s.Method {
	case MethodLBFGS, "":
		return &optimize.LBFGS{}, nil
	case MethodBFGS:
		return &optimize.BFGS{}, nil
	case MethodNelderMead:
		return &optimize.NelderMead{}, nil
	default:
		return nil, fmt.Errorf("trajopt: unknown method %q", s.Method)
	}
}

// minimize runs the external solver over the policy's parameter vector.
// Objective failures surface as NaN losses so the solver can back off; the
// first such error is captured on the Result.
func minimize(loss func() (float64, error), pol policy.Policy, constraints []Constraint, spec Spec) (*Result, error) {
	method, err := spec.method()
	if err != nil {
		return nil, err
	}
	if spec.Resume {
		if err := resumeFromCheckpoint(pol, spec); err != nil {
			return nil, err
		}
	}

	var evalErr error
	fn := func(x []float64) float64 {
		if err := pol.SetParams(x); err != nil {
			if evalErr == nil {
				evalErr = err
			}
			return math.NaN()
		}
		v, err := loss()
		if err != nil {
			if evalErr == nil {
				evalErr = err
			}
			return math.NaN()
		}
		for _, c := range constraints {
			slacks, err := c()
			if err != nil {
				if evalErr == nil {
					evalErr = err
				}
				return math.NaN()
			}
			for _, s := range slacks {
				if s < 0 {
					v += spec.ConstraintPenalty * s * s
				}
			}
		}
		return v
	}

	problem := optimize.Problem{
		Func: fn,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, fn, x, nil)
		},
	}
	settings := &optimize.Settings{
		MajorIterations: spec.MaxIterations,
	}
	if spec.StepCallback != nil || spec.Checkpoint != nil || spec.Logger != nil {
		settings.Recorder = &stepRecorder{spec: spec}
	}

	x0 := pol.Params()
	res, solverErr := optimize.Minimize(problem, x0, settings, method)

	out := &Result{EvalErr: evalErr, SolverErr: solverErr}
	if res != nil {
		out.Loss = res.F
		out.Params = res.X
		out.Status = res.Status.String()
		out.Iterations = res.MajorIterations
		out.FuncEvals = res.FuncEvaluations
		if err := pol.SetParams(res.X); err != nil {
			return out, err
		}
	}
	return out, nil
}

// resumeFromCheckpoint restores the policy parameters from the newest saved
// step. An empty checkpoint directory is a cold start, not an error; a
// parameter-count mismatch means the checkpoint belongs to another run and
// is fatal.
func resumeFromCheckpoint(pol policy.Policy, spec Spec) error {
	if spec.Checkpoint == nil {
		return nil
	}
	step, loss, params, err := spec.Checkpoint.Latest()
	if errors.Is(err, ErrNoCheckpoint) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(params) != len(pol.Params()) {
		return fmt.Errorf("trajopt: checkpoint has %d parameters, policy has %d", len(params), len(pol.Params()))
	}
	if err := pol.SetParams(params); err != nil {
		return err
	}
	if spec.Logger != nil {
		spec.Logger.Info("resumed from checkpoint",
			zap.Int("step", step),
			zap.Float64("loss", loss),
		)
	}
	return nil
}

// stepRecorder bridges the solver's iteration stream to the progress
// callback, logger and checkpointer.
type stepRecorder struct {
	spec Spec
	step int
}

func (r *stepRecorder) Init() error {
	r.step = 0
	return nil
}

func (r *stepRecorder) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if op != optimize.MajorIteration {
		return nil
	}
	r.step++
	if r.spec.Logger != nil {
		r.spec.Logger.Info("optimiser step",
			zap.Int("step", r.step),
			zap.Float64("loss", loc.F),
			zap.Int("evals", stats.FuncEvaluations),
		)
	}
	if r.spec.StepCallback != nil {
		r.spec.StepCallback(r.step, loc.F, loc.X)
	}
	if r.spec.Checkpoint != nil {
		r.spec.Checkpoint.Save(r.step, loc.F, loc.X)
	}
	return nil
}
