package gp

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// CovarianceConditional computes the posterior cross-covariance between
// f(X1) and f(X2) under the variational inducing approximation, one
// [N1, N2] matrix per output dimension:
//
//	cov = K(X1,X2) - A1' A2 + (S' A1)' (S' A2)
//
// with A_i = L^-1 K(Z,X_i) and S the (whitened) variational factor of the
// output. X1 and X2 need not coincide; trailing dimensions are validated
// and never silently broadcast.
func (g *SVGP) CovarianceConditional(X1, X2 *mat.Dense, num Numerics) ([]*mat.Dense, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	n1, d1 := X1.Dims()
	n2, d2 := X2.Dims()
	din := g.Kernel.InputDim()
	if d1 != din || d2 != din {
		return nil, fmt.Errorf("%w: query dims %d/%d, kernel dim %d", ErrShapeMismatch, d1, d2, din)
	}

	L, err := g.luu(num)
	if err != nil {
		return nil, err
	}
	Km1 := g.Kernel.Matrix(g.Inducing.Z, X1) // [M, N1]
	Km2 := g.Kernel.Matrix(g.Inducing.Z, X2) // [M, N2]
	K12 := g.Kernel.Matrix(X1, X2)           // [N1, N2]

	A1, err := triSolve(L, Km1)
	if err != nil {
		return nil, err
	}
	A2, err := triSolve(L, Km2)
	if err != nil {
		return nil, err
	}

	base := mat.NewDense(n1, n2, nil)
	base.Mul(A1.T(), A2)
	base.Sub(K12, base)

	_, sqrts, err := g.whitened(L)
	if err != nil {
		return nil, err
	}

	out := make([]*mat.Dense, g.OutputDim())
	for d, s := range sqrts {
		var lta1, lta2, corr mat.Dense
		lta1.Mul(s.T(), A1) // [M, N1]
		lta2.Mul(s.T(), A2) // [M, N2]
		corr.Mul(lta1.T(), &lta2)
		c := mat.NewDense(n1, n2, nil)
		c.Add(base, &corr)
		out[d] = c
	}
	return out, nil
}
