// Package likelihood implements the gating network's classification
// likelihood: a Bernoulli observation model with a probit link, with the
// variational expectation and predictive integrals evaluated by fixed
// Gauss-Hermite quadrature.
package likelihood

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// ghNode is one abscissa/weight pair of the 20-point Gauss-Hermite rule
// for integrals of the form int exp(-x^2) f(x) dx.
type ghNode struct {
	x, w float64
}

var ghTable = [20]ghNode{
	{-5.3874808900112328e+00, 2.2293936455341523e-13},
	{-4.6036824495507442e+00, 4.3993409922731799e-10},
	{-3.9447640401156252e+00, 1.0860693707692815e-07},
	{-3.3478545673832163e+00, 7.8025564785320666e-06},
	{-2.7888060584281305e+00, 2.2833863601635264e-04},
	{-2.2549740020892757e+00, 3.2437733422378528e-03},
	{-1.7385377121165861e+00, 2.4810520887463626e-02},
	{-1.2340762153953231e+00, 1.0901720602002152e-01},
	{-7.3747372854539428e-01, 2.8667550536283404e-01},
	{-2.4534070830090124e-01, 4.6224366960061009e-01},
	{2.4534070830090124e-01, 4.6224366960061009e-01},
	{7.3747372854539428e-01, 2.8667550536283404e-01},
	{1.2340762153953231e+00, 1.0901720602002152e-01},
	{1.7385377121165861e+00, 2.4810520887463626e-02},
	{2.2549740020892757e+00, 3.2437733422378528e-03},
	{2.7888060584281305e+00, 2.2833863601635264e-04},
	{3.3478545673832163e+00, 7.8025564785320666e-06},
	{3.9447640401156252e+00, 1.0860693707692815e-07},
	{4.6036824495507442e+00, 4.3993409922731799e-10},
	{5.3874808900112328e+00, 2.2293936455341523e-13},
}

const invSqrtPi = 0.5641895835477563

// gaussHermite evaluates E_{f ~ N(mean, variance)}[fn(f)].
func gaussHermite(fn func(float64) float64, mean, variance float64) float64 {
	scale := math.Sqrt(2 * variance)
	s := 0.0
	for _, n := range ghTable {
		s += n.w * fn(mean+scale*n.x)
	}
	return s * invSqrtPi
}

// Bernoulli is a binary classification likelihood with probit link:
// p(y=1|f) = Phi(f).
type Bernoulli struct{}

func probit(f float64) float64 {
	// Clamped away from {0,1} so the log stays finite.
	p := distuv.UnitNormal.CDF(f)
	const eps = 1e-12
	if p < eps {
		return eps
	}
	if p > 1-eps {
		return 1 - eps
	}
	return p
}

// LogProb is the log observation density log p(y|f) for y in {0, 1}.
func (Bernoulli) LogProb(f, y float64) float64 {
	if y > 0.5 {
		return math.Log(probit(f))
	}
	return math.Log(probit(-f))
}

// VariationalExpectations computes E_{f ~ N(mean, variance)}[log p(y|f)],
// the per-sample term of the classification evidence lower bound.
func (b Bernoulli) VariationalExpectations(mean, variance, y float64) (float64, error) {
	if variance < 0 {
		return 0, fmt.Errorf("likelihood: negative variance %v", variance)
	}
	if variance == 0 {
		return b.LogProb(mean, y), nil
	}
	return gaussHermite(func(f float64) float64 { return b.LogProb(f, y) }, mean, variance), nil
}

// PredictMeanProb computes p(y=1) = E_{f ~ N(mean, variance)}[Phi(f)],
// which for the probit link has the closed form Phi(mean/sqrt(1+variance)).
func (Bernoulli) PredictMeanProb(mean, variance float64) (float64, error) {
	if variance < 0 {
		return 0, fmt.Errorf("likelihood: negative variance %v", variance)
	}
	return probit(mean / math.Sqrt(1+variance)), nil
}
