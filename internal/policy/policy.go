// Package policy defines the control-distribution sequences optimised by
// the trajectory optimiser. A policy produces one control distribution per
// timestep and exposes its trainable parameters as a flat vector for the
// external solver.
package policy

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Policy is the capability required of a control sequence: produce
// controls, expose entropy and trainable parameters, and copy itself.
type Policy interface {
	// ControlAt returns the control distribution at timestep t. A nil
	// variance denotes a deterministic control.
	ControlAt(t int) (mean, variance []float64)
	// Controls returns the full sequence; variances may be nil.
	Controls() (means, variances *mat.Dense)
	Horizon() int
	ControlDim() int
	Entropy() float64
	Params() []float64
	SetParams(p []float64) error
	Copy() Policy
}

// VariationalGaussian holds an independent Gaussian control distribution
// per timestep. Trainable parameters are the means and log-variances.
type VariationalGaussian struct {
	means   *mat.Dense // [H, Du]
	logVars *mat.Dense // [H, Du]
}

// NewVariationalGaussian initialises a stochastic policy with small random
// control means and a fixed initial variance.
func NewVariationalGaussian(horizon, controlDim int, initVar float64, rng *rand.Rand) (*VariationalGaussian, error) {
	if horizon <= 0 || controlDim <= 0 {
		return nil, fmt.Errorf("policy: horizon %d and control dim %d must be positive", horizon, controlDim)
	}
	if initVar <= 0 {
		return nil, fmt.Errorf("policy: initial variance %v must be positive", initVar)
	}
	means := mat.NewDense(horizon, controlDim, nil)
	logVars := mat.NewDense(horizon, controlDim, nil)
	lv := math.Log(initVar)
	for t := 0; t < horizon; t++ {
		for d := 0; d < controlDim; d++ {
			means.Set(t, d, 0.01*rng.NormFloat64())
			logVars.Set(t, d, lv)
		}
	}
	return &VariationalGaussian{means: means, logVars: logVars}, nil
}

func (p *VariationalGaussian) Horizon() int {
	h, _ := p.means.Dims()
	return h
}

func (p *VariationalGaussian) ControlDim() int {
	_, d := p.means.Dims()
	return d
}

func (p *VariationalGaussian) ControlAt(t int) ([]float64, []float64) {
	d := p.ControlDim()
	mean := make([]float64, d)
	vr := make([]float64, d)
	for i := 0; i < d; i++ {
		mean[i] = p.means.At(t, i)
		vr[i] = math.Exp(p.logVars.At(t, i))
	}
	return mean, vr
}

func (p *VariationalGaussian) Controls() (*mat.Dense, *mat.Dense) {
	h, d := p.means.Dims()
	vars := mat.NewDense(h, d, nil)
	for t := 0; t < h; t++ {
		for i := 0; i < d; i++ {
			vars.Set(t, i, math.Exp(p.logVars.At(t, i)))
		}
	}
	return mat.DenseCopyOf(p.means), vars
}

// Entropy is the summed differential entropy of the per-step Gaussians.
func (p *VariationalGaussian) Entropy() float64 {
	h, d := p.means.Dims()
	s := 0.0
	for t := 0; t < h; t++ {
		for i := 0; i < d; i++ {
			n := distuv.Normal{Mu: 0, Sigma: math.Exp(0.5 * p.logVars.At(t, i))}
			s += n.Entropy()
		}
	}
	return s
}

func (p *VariationalGaussian) Params() []float64 {
	h, d := p.means.Dims()
	out := make([]float64, 0, 2*h*d)
	out = append(out, p.means.RawMatrix().Data...)
	out = append(out, p.logVars.RawMatrix().Data...)
	return out
}

func (p *VariationalGaussian) SetParams(params []float64) error {
	h, d := p.means.Dims()
	if len(params) != 2*h*d {
		return fmt.Errorf("policy: got %d parameters, want %d", len(params), 2*h*d)
	}
	copy(p.means.RawMatrix().Data, params[:h*d])
	copy(p.logVars.RawMatrix().Data, params[h*d:])
	return nil
}

func (p *VariationalGaussian) Copy() Policy {
	return &VariationalGaussian{
		means:   mat.DenseCopyOf(p.means),
		logVars: mat.DenseCopyOf(p.logVars),
	}
}

// Deterministic is a delta policy: only the control means are trainable
// and controls carry no variance.
type Deterministic struct {
	means *mat.Dense // [H, Du]
}

func NewDeterministic(horizon, controlDim int, rng *rand.Rand) (*Deterministic, error) {
	if horizon <= 0 || controlDim <= 0 {
		return nil, fmt.Errorf("policy: horizon %d and control dim %d must be positive", horizon, controlDim)
	}
	means := mat.NewDense(horizon, controlDim, nil)
	for t := 0; t < horizon; t++ {
		for d := 0; d < controlDim; d++ {
			means.Set(t, d, 0.01*rng.NormFloat64())
		}
	}
	return &Deterministic{means: means}, nil
}

func (p *Deterministic) Horizon() int {
	h, _ := p.means.Dims()
	return h
}

func (p *Deterministic) ControlDim() int {
	_, d := p.means.Dims()
	return d
}

func (p *Deterministic) ControlAt(t int) ([]float64, []float64) {
	d := p.ControlDim()
	mean := make([]float64, d)
	for i := 0; i < d; i++ {
		mean[i] = p.means.At(t, i)
	}
	return mean, nil
}

func (p *Deterministic) Controls() (*mat.Dense, *mat.Dense) {
	return mat.DenseCopyOf(p.means), nil
}

func (p *Deterministic) Entropy() float64 { return 0 }

func (p *Deterministic) Params() []float64 {
	out := make([]float64, len(p.means.RawMatrix().Data))
	copy(out, p.means.RawMatrix().Data)
	return out
}

func (p *Deterministic) SetParams(params []float64) error {
	want := len(p.means.RawMatrix().Data)
	if len(params) != want {
		return fmt.Errorf("policy: got %d parameters, want %d", len(params), want)
	}
	copy(p.means.RawMatrix().Data, params)
	return nil
}

func (p *Deterministic) Copy() Policy {
	return &Deterministic{means: mat.DenseCopyOf(p.means)}
}
