package gp

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Inducing holds the fixed inducing point locations of a sparse GP.
type Inducing struct {
	Z *mat.Dense // [M, Din]
}

func NewInducing(Z *mat.Dense) *Inducing {
	return &Inducing{Z: Z}
}

func (iv *Inducing) Len() int {
	m, _ := iv.Z.Dims()
	return m
}

// Variational holds the variational posterior over inducing outputs: a mean
// per output dimension and a lower-triangular covariance factor per output
// dimension.
type Variational struct {
	Mu   *mat.Dense      // [M, Dout]
	Sqrt []*mat.TriDense // Dout factors, each [M, M] lower triangular
}

func (v *Variational) OutputDim() int {
	_, d := v.Mu.Dims()
	return d
}

func (v *Variational) Validate(numInducing int) error {
	m, dout := v.Mu.Dims()
	if m != numInducing {
		return fmt.Errorf("%w: q_mu has %d rows, %d inducing points", ErrShapeMismatch, m, numInducing)
	}
	if len(v.Sqrt) != dout {
		return fmt.Errorf("%w: %d q_sqrt factors for %d outputs", ErrShapeMismatch, len(v.Sqrt), dout)
	}
	for d, s := range v.Sqrt {
		n, kind := s.Triangle()
		if n != numInducing {
			return fmt.Errorf("%w: q_sqrt[%d] is %dx%d, want %dx%d", ErrShapeMismatch, d, n, n, numInducing, numInducing)
		}
		if kind != mat.Lower {
			return fmt.Errorf("%w: q_sqrt[%d] is not lower triangular", ErrShapeMismatch, d)
		}
	}
	return nil
}

// SVGP is a frozen sparse variational GP: kernel, inducing representation
// and variational parameters. All fields are read-only during trajectory
// optimisation.
type SVGP struct {
	Kernel   ExpectationKernel
	Mean     MeanFunction
	Inducing *Inducing
	Q        *Variational
	Whiten   bool
}

func (g *SVGP) OutputDim() int { return g.Q.OutputDim() }

func (g *SVGP) Validate() error {
	_, zc := g.Inducing.Z.Dims()
	if zc != g.Kernel.InputDim() {
		return fmt.Errorf("%w: inducing dim %d, kernel dim %d", ErrShapeMismatch, zc, g.Kernel.InputDim())
	}
	if err := g.Q.Validate(g.Inducing.Len()); err != nil {
		return err
	}
	if g.Mean != nil && g.Mean.OutputDim() != g.OutputDim() {
		return fmt.Errorf("%w: mean function dim %d, output dim %d", ErrShapeMismatch, g.Mean.OutputDim(), g.OutputDim())
	}
	return nil
}

// luu factors the jittered inducing kernel matrix. A failed factorization is
// fatal for the enclosing conditional; there is no retry.
func (g *SVGP) luu(num Numerics) (*mat.TriDense, error) {
	m := g.Inducing.Len()
	K := g.Kernel.Matrix(g.Inducing.Z, g.Inducing.Z)
	sym := mat.NewSymDense(m, nil)
	for i := 0; i < m; i++ {
		for j := 0; j <= i; j++ {
			v := 0.5 * (K.At(i, j) + K.At(j, i))
			if i == j {
				v += num.Jitter
			}
			sym.SetSym(i, j, v)
		}
	}
	var ch mat.Cholesky
	if !ch.Factorize(sym) {
		return nil, fmt.Errorf("%w: inducing kernel matrix", ErrNotPositiveDefinite)
	}
	L := &mat.TriDense{}
	ch.LTo(L)
	return L, nil
}

// whitened returns the variational parameters in whitened form, solving
// against the Cholesky factor when the model stores them unwhitened.
func (g *SVGP) whitened(L *mat.TriDense) (*mat.Dense, []*mat.Dense, error) {
	dout := g.OutputDim()
	sqrts := make([]*mat.Dense, dout)
	if g.Whiten {
		mu := mat.DenseCopyOf(g.Q.Mu)
		for d, s := range g.Q.Sqrt {
			sqrts[d] = mat.DenseCopyOf(s)
		}
		return mu, sqrts, nil
	}
	mu, err := triSolve(L, g.Q.Mu)
	if err != nil {
		return nil, nil, err
	}
	for d, s := range g.Q.Sqrt {
		w, err := triSolve(L, s)
		if err != nil {
			return nil, nil, err
		}
		sqrts[d] = w
	}
	return mu, sqrts, nil
}

// PredictF computes the standard SVGP posterior mean and (diagonal)
// variance at deterministic inputs X.
func (g *SVGP) PredictF(X *mat.Dense, num Numerics) (*mat.Dense, *mat.Dense, error) {
	if err := g.Validate(); err != nil {
		return nil, nil, err
	}
	n, din := X.Dims()
	if din != g.Kernel.InputDim() {
		return nil, nil, fmt.Errorf("%w: input dim %d, kernel dim %d", ErrShapeMismatch, din, g.Kernel.InputDim())
	}
	dout := g.OutputDim()

	L, err := g.luu(num)
	if err != nil {
		return nil, nil, err
	}
	Kuf := g.Kernel.Matrix(g.Inducing.Z, X) // [M, N]
	A, err := triSolve(L, Kuf)              // [M, N]
	if err != nil {
		return nil, nil, err
	}
	mu, sqrts, err := g.whitened(L)
	if err != nil {
		return nil, nil, err
	}

	mean := mat.NewDense(n, dout, nil)
	mean.Mul(A.T(), mu)
	if g.Mean != nil {
		mean.Add(mean, g.Mean.Eval(X))
	}

	vr := mat.NewDense(n, dout, nil)
	x := make([]float64, din)
	m := g.Inducing.Len()
	for d := 0; d < dout; d++ {
		var sa mat.Dense
		sa.Mul(sqrts[d].T(), A) // [M, N]
		for t := 0; t < n; t++ {
			rowInto(x, X, t)
			kff := g.Kernel.Eval(x, x)
			v := kff
			for i := 0; i < m; i++ {
				a := A.At(i, t)
				s := sa.At(i, t)
				v += s*s - a*a
			}
			vr.Set(t, d, v)
		}
	}
	return mean, vr, nil
}

// triSolve solves L X = B for a triangular L.
func triSolve(L mat.Matrix, b mat.Matrix) (*mat.Dense, error) {
	var x mat.Dense
	if err := x.Solve(L, b); err != nil {
		return nil, fmt.Errorf("%w: triangular solve: %v", ErrNotPositiveDefinite, err)
	}
	return &x, nil
}
