package config

import (
	"math/rand"

	"github.com/san-kum/modeplan/internal/dynamics"
)

var Presets = map[string]*Scenario{
	"reach": {
		Name: "reach", Objective: "mode", Policy: "gaussian",
		DesiredMode: 0, Horizon: 15, Dt: 0.25, Seed: 42,
		Start:          []float64{-2.0, -1.5},
		Target:         []float64{1.5, 1.0},
		InitControlVar: 0.04,
		Weights: WeightConfig{
			Control:  []float64{0.1},
			Terminal: []float64{100.0, 100.0},
		},
		Solver: SolverConfig{MaxIterations: 200, Method: "lbfgs", ConstraintPenalty: 1e3},
	},
	"constrained": {
		Name: "constrained", Objective: "mode", Policy: "gaussian",
		DesiredMode: 0, Horizon: 15, Dt: 0.25, Seed: 42,
		Start:          []float64{-2.0, -1.5},
		Target:         []float64{1.5, 1.0},
		InitControlVar: 0.04,
		Weights: WeightConfig{
			Control:  []float64{0.1},
			Terminal: []float64{100.0, 100.0},
		},
		Solver: SolverConfig{MaxIterations: 200, Method: "lbfgs", ConstraintPenalty: 1e3, ModeChanceLower: 0.6},
	},
	"explore": {
		Name: "explore", Objective: "explorative", Policy: "gaussian",
		DesiredMode: 0, Horizon: 10, Dt: 0.25, Seed: 7,
		Start:          []float64{-1.0, 0.0},
		Target:         []float64{0.0, 0.0},
		InitControlVar: 0.09,
		Solver:         SolverConfig{MaxIterations: 100, Method: "lbfgs", ConstraintPenalty: 1e3},
		Explore:        ExploreConfig{TargetModeProb: 0.7, VelocityWeight: 0.001},
	},
}

func GetPreset(name string) *Scenario {
	sc, ok := Presets[name]
	if !ok {
		return nil
	}
	out := *sc
	if out.InitControlVar == 0 {
		out.InitControlVar = DefaultInitControlVar
	}
	if out.Explore.TargetModeProb == 0 {
		out.Explore.TargetModeProb = DefaultTargetModeProb
	}
	if out.Explore.VelocityWeight == 0 {
		out.Explore.VelocityWeight = DefaultVelocityWeight
	}
	return &out
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	return names
}

// SyntheticModel builds a small two-expert point-mass model for scenarios
// that name no model file. The gating latent grows with the first state
// coordinate, so mode 0 occupies the left half-plane; expert 1 drifts
// downward to make the modes distinguishable.
func SyntheticModel(seed int64) *dynamics.ModelSpec {
	rng := rand.New(rand.NewSource(seed))

	const (
		stateDim   = 2
		controlDim = 1
		m          = 16
	)
	din := stateDim + controlDim

	inducing := make([][]float64, m)
	for i := range inducing {
		z := make([]float64, din)
		z[0] = -3 + 6*rng.Float64()
		z[1] = -3 + 6*rng.Float64()
		z[2] = -1 + 2*rng.Float64()
		inducing[i] = z
	}

	expertGP := func(drift float64) GPSpecBuilder {
		return GPSpecBuilder{
			Variance:     0.25,
			Lengthscales: []float64{1.5, 1.5, 1.0},
			Inducing:     inducing,
			OutputDim:    stateDim,
			SqrtScale:    0.05,
			QMu: func(z []float64, d int) float64 {
				if d == 1 {
					return drift
				}
				return 0.02 * rng.NormFloat64()
			},
		}
	}

	gatingGP := GPSpecBuilder{
		Variance:     1.0,
		Lengthscales: []float64{2.0, 2.0, 2.0},
		Inducing:     inducing,
		OutputDim:    1,
		SqrtScale:    0.1,
		QMu: func(z []float64, d int) float64 {
			return 1.5 * z[0]
		},
	}

	return &dynamics.ModelSpec{
		StateDim:   stateDim,
		ControlDim: controlDim,
		Experts: []dynamics.GPSpec{
			expertGP(0.0).Build(),
			expertGP(-0.3).Build(),
		},
		Gating: gatingGP.Build(),
	}
}

// GPSpecBuilder fills a serialisable GP block with shared inducing points,
// a scaled-identity variational square root and per-point q_mu values.
type GPSpecBuilder struct {
	Variance     float64
	Lengthscales []float64
	Inducing     [][]float64
	OutputDim    int
	SqrtScale    float64
	QMu          func(z []float64, outputDim int) float64
}

func (b GPSpecBuilder) Build() dynamics.GPSpec {
	m := len(b.Inducing)
	qmu := make([][]float64, m)
	for i := range qmu {
		row := make([]float64, b.OutputDim)
		for d := range row {
			row[d] = b.QMu(b.Inducing[i], d)
		}
		qmu[i] = row
	}
	qsqrt := make([][][]float64, b.OutputDim)
	for d := range qsqrt {
		factor := make([][]float64, m)
		for i := range factor {
			row := make([]float64, m)
			row[i] = b.SqrtScale
			factor[i] = row
		}
		qsqrt[d] = factor
	}
	return dynamics.GPSpec{
		Kernel:   dynamics.KernelSpec{Variance: b.Variance, Lengthscales: b.Lengthscales},
		Inducing: b.Inducing,
		QMu:      qmu,
		QSqrt:    qsqrt,
		Whiten:   true,
	}
}
