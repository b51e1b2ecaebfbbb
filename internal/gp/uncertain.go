package gp

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// UncertainInput is a batch of Gaussian-distributed inputs with diagonal
// covariance. A nil Var marks every input as deterministic.
type UncertainInput struct {
	Mean *mat.Dense // [N, Din]
	Var  *mat.Dense // [N, Din] per-dimension variances, or nil
}

// ConditionalOptions selects the output form of the uncertain conditional.
type ConditionalOptions struct {
	// FullOutputCov requests the covariance between output dimensions.
	FullOutputCov bool
	// FullCov requests joint covariance over the query axis; unsupported
	// for uncertain inputs.
	FullCov bool
}

// Prediction is a moment-matched output Gaussian. Var is populated for the
// diagonal path, Cov for the full-output-covariance path; the two paths are
// distinct formulas, not projections of one another.
type Prediction struct {
	Mean *mat.Dense   // [N, Dout]
	Var  *mat.Dense   // [N, Dout]
	Cov  []*mat.Dense // N matrices of [Dout, Dout]
}

// UncertainConditional propagates Gaussian inputs through the SVGP
// posterior by moment matching. The kernel expectations (psi statistics)
// are whitened against the inducing Cholesky factor and combined with the
// variational parameters:
//
//	mean = (L^-1 psi1')' q_mu
//	var  = psi0 - tr(P) + tr(P S S') + q_mu' P q_mu - mean^2
//
// with P = L^-1 psi2 L^-T evaluated per input point.
func (g *SVGP) UncertainConditional(in UncertainInput, opts ConditionalOptions, num Numerics) (*Prediction, error) {
	if opts.FullCov {
		return nil, fmt.Errorf("%w: uncertain conditional with full joint covariance over the query axis", ErrNotImplemented)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	n, din := in.Mean.Dims()
	if din != g.Kernel.InputDim() {
		return nil, fmt.Errorf("%w: input dim %d, kernel dim %d", ErrShapeMismatch, din, g.Kernel.InputDim())
	}
	if in.Var != nil {
		vn, vd := in.Var.Dims()
		if vn != n || vd != din {
			return nil, fmt.Errorf("%w: input variance is %dx%d, mean is %dx%d", ErrShapeMismatch, vn, vd, n, din)
		}
	}
	offset, hasMean, err := meanOffset(g.Mean)
	if err != nil {
		return nil, fmt.Errorf("%w: mean function %T in uncertain conditional", err, g.Mean)
	}

	m := g.Inducing.Len()
	dout := g.OutputDim()

	L, err := g.luu(num)
	if err != nil {
		return nil, err
	}
	mu, sqrts, err := g.whitened(L)
	if err != nil {
		return nil, err
	}
	// Per-output covariances S S' of the whitened factors.
	covs := make([]*mat.Dense, dout)
	for d, s := range sqrts {
		c := mat.NewDense(m, m, nil)
		c.Mul(s, s.T())
		covs[d] = c
	}

	pred := &Prediction{Mean: mat.NewDense(n, dout, nil)}
	if opts.FullOutputCov {
		pred.Cov = make([]*mat.Dense, n)
	} else {
		pred.Var = mat.NewDense(n, dout, nil)
	}

	mvec := make([]float64, din)
	qcol := make([]*mat.VecDense, dout)
	for d := 0; d < dout; d++ {
		qcol[d] = mat.NewVecDense(m, nil)
		for i := 0; i < m; i++ {
			qcol[d].SetVec(i, mu.At(i, d))
		}
	}

	for t := 0; t < n; t++ {
		rowInto(mvec, in.Mean, t)
		var cov mat.Symmetric
		if in.Var != nil {
			cov = DiagCov(mat.Row(nil, t, in.Var))
		}
		psi0, psi1, psi2, err := g.Kernel.Psi(mvec, cov, g.Inducing.Z)
		if err != nil {
			return nil, err
		}

		a, err := triSolve(L, mat.NewVecDense(m, psi1)) // [M, 1]
		if err != nil {
			return nil, err
		}
		half, err := triSolve(L, psi2) // L^-1 psi2
		if err != nil {
			return nil, err
		}
		P, err := triSolve(L, half.T()) // L^-1 psi2 L^-T (psi2 symmetric)
		if err != nil {
			return nil, err
		}

		// GP part of the mean; a constant mean function only shifts the
		// mean, its symmetrised cross terms cancel against the squared
		// total mean in the variance.
		gpMean := make([]float64, dout)
		for d := 0; d < dout; d++ {
			gpMean[d] = mat.Dot(a.ColView(0), qcol[d])
			total := gpMean[d]
			if hasMean {
				total += offset[d]
			}
			pred.Mean.Set(t, d, total)
		}

		trP := mat.Trace(P)
		if opts.FullOutputCov {
			C := mat.NewDense(dout, dout, nil)
			pq := make([]*mat.VecDense, dout)
			for d := 0; d < dout; d++ {
				pq[d] = mat.NewVecDense(m, nil)
				pq[d].MulVec(P, qcol[d])
			}
			for gIdx := 0; gIdx < dout; gIdx++ {
				for h := 0; h < dout; h++ {
					v := mat.Dot(qcol[gIdx], pq[h]) - gpMean[gIdx]*gpMean[h]
					if gIdx == h {
						v += psi0 - trP + traceProd(P, covs[gIdx])
					}
					C.Set(gIdx, h, v)
				}
			}
			pred.Cov[t] = C
		} else {
			pq := mat.NewVecDense(m, nil)
			for d := 0; d < dout; d++ {
				pq.MulVec(P, qcol[d])
				v := psi0 - trP + traceProd(P, covs[d]) + mat.Dot(qcol[d], pq) - gpMean[d]*gpMean[d]
				pred.Var.Set(t, d, v)
			}
		}
	}
	return pred, nil
}

// traceProd computes tr(A B) for square matrices of equal size with B
// symmetric.
func traceProd(A, B *mat.Dense) float64 {
	n, _ := A.Dims()
	s := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			s += A.At(i, j) * B.At(i, j)
		}
	}
	return s
}
