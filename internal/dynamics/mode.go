package dynamics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/san-kum/modeplan/internal/gp"
	"github.com/san-kum/modeplan/internal/rollout"
)

// ModeDynamics is a mixture-of-experts model restricted to one desired
// operating mode. It implements rollout.Dynamics through the selected
// expert and scores mode consistency through the gating network.
type ModeDynamics struct {
	moe     *MixtureOfExperts
	desired int
	expert  *gp.SVGP
	nominal Nominal
	num     gp.Numerics
	gen     uint64
}

// New builds a mode-restricted view of the mixture. nominal may be nil.
func New(moe *MixtureOfExperts, desiredMode int, nominal Nominal, num gp.Numerics) (*ModeDynamics, error) {
	if err := moe.Validate(); err != nil {
		return nil, err
	}
	d := &ModeDynamics{moe: moe, nominal: nominal, num: num}
	if err := d.SetDesiredMode(desiredMode); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *ModeDynamics) DesiredMode() int { return d.desired }
func (d *ModeDynamics) StateDim() int    { return d.moe.StateDim }
func (d *ModeDynamics) ControlDim() int  { return d.moe.ControlDim }
func (d *ModeDynamics) NumExperts() int  { return d.moe.NumExperts() }

// Generation changes whenever the desired mode is switched. Consumers that
// cache rollout state must treat a generation change as invalidating it.
func (d *ModeDynamics) Generation() uint64 { return d.gen }

// SetDesiredMode selects the expert whose dynamics the rollout follows.
// Out-of-range indices are rejected, never clamped.
func (d *ModeDynamics) SetDesiredMode(k int) error {
	if k < 0 || k >= d.moe.NumExperts() {
		return fmt.Errorf("%w: %d with %d experts", ErrInvalidMode, k, d.moe.NumExperts())
	}
	d.desired = k
	d.expert = d.moe.Experts[k]
	d.gen++
	return nil
}

// Step predicts the next-state belief through the desired expert: the GP
// models the state difference, with the nominal offset added to the mean.
// The cross-covariance between the current state and the predicted
// difference is neglected, so variances add.
func (d *ModeDynamics) Step(state, control rollout.Belief) (rollout.Belief, error) {
	if state.Dim() != d.moe.StateDim {
		return rollout.Belief{}, fmt.Errorf("%w: state dim %d, want %d", gp.ErrShapeMismatch, state.Dim(), d.moe.StateDim)
	}
	if control.Dim() != d.moe.ControlDim {
		return rollout.Belief{}, fmt.Errorf("%w: control dim %d, want %d", gp.ErrShapeMismatch, control.Dim(), d.moe.ControlDim)
	}

	in, err := d.uncertainInput(
		matFromRow(state.Mean), matFromRow(control.Mean),
		matFromRowOrNil(state.Var, state.Dim()), matFromRowOrNil(control.Var, control.Dim()),
		state.Var != nil || control.Var != nil,
	)
	if err != nil {
		return rollout.Belief{}, err
	}
	pred, err := d.expert.UncertainConditional(in, gp.ConditionalOptions{}, d.num)
	if err != nil {
		return rollout.Belief{}, err
	}

	dx := d.moe.StateDim
	next := rollout.Belief{Mean: make([]float64, dx), Var: make([]float64, dx)}
	var nom []float64
	if d.nominal != nil {
		nom = d.nominal.Delta(state.Mean, control.Mean)
	}
	for i := 0; i < dx; i++ {
		next.Mean[i] = state.Mean[i] + pred.Mean.At(0, i)
		if nom != nil {
			next.Mean[i] += nom[i]
		}
		next.Var[i] = pred.Var.At(0, i)
		if state.Var != nil {
			next.Var[i] += state.Var[i]
		}
	}
	return next, nil
}

// UncertainPredictGating predicts the gating latent distribution at the
// given state/control beliefs. When either variance is absent the plain
// (deterministic-input) posterior is used instead.
func (d *ModeDynamics) UncertainPredictGating(stateMeans, controlMeans, stateVars, controlVars *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	inMean, err := d.concat(stateMeans, controlMeans)
	if err != nil {
		return nil, nil, err
	}
	if stateVars == nil || controlVars == nil {
		return d.moe.Gating.PredictF(inMean, d.num)
	}
	inVar, err := d.concat(stateVars, controlVars)
	if err != nil {
		return nil, nil, err
	}
	pred, err := d.moe.Gating.UncertainConditional(
		gp.UncertainInput{Mean: inMean, Var: inVar}, gp.ConditionalOptions{}, d.num)
	if err != nil {
		return nil, nil, err
	}
	return pred.Mean, pred.Var, nil
}

// ModeVariationalExpectation is the summed variational expectation of the
// gating log-likelihood against a pseudo-target equal to the desired mode:
//
//	sum_t E_{p(x_t, u_t, h)}[log Pr(alpha = k* | h(x_t, u_t))]
func (d *ModeDynamics) ModeVariationalExpectation(stateMeans, controlMeans, stateVars, controlVars *mat.Dense) (float64, error) {
	hMean, hVar, err := d.UncertainPredictGating(stateMeans, controlMeans, stateVars, controlVars)
	if err != nil {
		return 0, err
	}
	n, _ := hMean.Dims()
	y := float64(d.desired)
	sum := 0.0
	for t := 0; t < n; t++ {
		ve, err := d.moe.GatingLik.VariationalExpectations(hMean.At(t, 0), hVar.At(t, 0), y)
		if err != nil {
			return 0, err
		}
		sum += ve
	}
	return sum, nil
}

// PredictModeProbability returns the per-step probability of the desired
// mode under the gating predictive distribution.
func (d *ModeDynamics) PredictModeProbability(stateMeans, controlMeans, stateVars, controlVars *mat.Dense) ([]float64, error) {
	hMean, hVar, err := d.UncertainPredictGating(stateMeans, controlMeans, stateVars, controlVars)
	if err != nil {
		return nil, err
	}
	n, _ := hMean.Dims()
	probs := make([]float64, n)
	for t := 0; t < n; t++ {
		p, err := d.moe.GatingLik.PredictMeanProb(hMean.At(t, 0), hVar.At(t, 0))
		if err != nil {
			return nil, err
		}
		if d.desired == 0 {
			p = 1 - p
		}
		probs[t] = p
	}
	return probs, nil
}

// GatingEntropy treats the predicted gating latent mean/variance directly
// as Gaussian parameters and returns the per-step entropy.
func (d *ModeDynamics) GatingEntropy(stateMeans, controlMeans, stateVars, controlVars *mat.Dense) ([]float64, error) {
	hMean, hVar, err := d.UncertainPredictGating(stateMeans, controlMeans, stateVars, controlVars)
	if err != nil {
		return nil, err
	}
	n, _ := hMean.Dims()
	out := make([]float64, n)
	for t := 0; t < n; t++ {
		out[t] = distuv.Normal{Mu: hMean.At(t, 0), Sigma: math.Sqrt(hVar.At(t, 0))}.Entropy()
	}
	return out, nil
}

// GatingConditionalEntropy conditions each step's gating latent on the
// previous step through the posterior cross-covariance and returns the
// entropy of the conditional. The first step is unconditioned.
func (d *ModeDynamics) GatingConditionalEntropy(stateMeans, controlMeans *mat.Dense) ([]float64, error) {
	X, err := d.concat(stateMeans, controlMeans)
	if err != nil {
		return nil, err
	}
	covs, err := d.moe.Gating.CovarianceConditional(X, X, d.num)
	if err != nil {
		return nil, err
	}
	C := covs[0]
	n, _ := X.Dims()
	out := make([]float64, n)
	for t := 0; t < n; t++ {
		v := C.At(t, t)
		if t > 0 && C.At(t-1, t-1) > 0 {
			c := C.At(t, t-1)
			v -= c * c / C.At(t-1, t-1)
		}
		out[t] = distuv.Normal{Mu: 0, Sigma: math.Sqrt(math.Max(v, 1e-300))}.Entropy()
	}
	return out, nil
}

func (d *ModeDynamics) concat(state, control *mat.Dense) (*mat.Dense, error) {
	sn, sd := state.Dims()
	cn, cd := control.Dims()
	if sn != cn {
		return nil, fmt.Errorf("%w: %d state rows, %d control rows", gp.ErrShapeMismatch, sn, cn)
	}
	if sd != d.moe.StateDim || cd != d.moe.ControlDim {
		return nil, fmt.Errorf("%w: state/control dims %d/%d, want %d/%d", gp.ErrShapeMismatch, sd, cd, d.moe.StateDim, d.moe.ControlDim)
	}
	out := mat.NewDense(sn, sd+cd, nil)
	for i := 0; i < sn; i++ {
		for j := 0; j < sd; j++ {
			out.Set(i, j, state.At(i, j))
		}
		for j := 0; j < cd; j++ {
			out.Set(i, sd+j, control.At(i, j))
		}
	}
	return out, nil
}

func (d *ModeDynamics) uncertainInput(stateMean, controlMean, stateVar, controlVar *mat.Dense, uncertain bool) (gp.UncertainInput, error) {
	mean, err := d.concat(stateMean, controlMean)
	if err != nil {
		return gp.UncertainInput{}, err
	}
	in := gp.UncertainInput{Mean: mean}
	if uncertain {
		if in.Var, err = d.concat(stateVar, controlVar); err != nil {
			return gp.UncertainInput{}, err
		}
	}
	return in, nil
}

func matFromRow(v []float64) *mat.Dense {
	row := make([]float64, len(v))
	copy(row, v)
	return mat.NewDense(1, len(v), row)
}

func matFromRowOrNil(v []float64, dim int) *mat.Dense {
	if v == nil {
		return mat.NewDense(1, dim, nil)
	}
	return matFromRow(v)
}
