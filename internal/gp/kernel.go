package gp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Kernel evaluates covariances between input points. Rows of the matrix
// arguments are points.
type Kernel interface {
	Eval(x1, x2 []float64) float64
	Matrix(X1, X2 mat.Matrix) *mat.Dense
	Variance() float64
	InputDim() int
}

// ExpectationKernel additionally provides the analytic expectation
// integrals of the kernel under a Gaussian input distribution.
type ExpectationKernel interface {
	Kernel

	// Psi returns, for a single uncertain input x ~ N(mean, cov),
	//
	//	psi0 = E[k(x,x)]
	//	psi1 = E[k(x,Z)]          length M
	//	psi2 = E[k(x,Z) k(Z,x)]   M x M
	//
	// A nil cov denotes a deterministic input, for which the
	// expectations collapse to plain kernel evaluations.
	Psi(mean []float64, cov mat.Symmetric, Z mat.Matrix) (float64, []float64, *mat.Dense, error)
}

// RBF is the squared exponential kernel with ARD lengthscales.
type RBF struct {
	variance     float64
	lengthscales []float64
}

func NewRBF(variance float64, lengthscales []float64) (*RBF, error) {
	if variance <= 0 {
		return nil, fmt.Errorf("rbf: variance must be positive, got %v", variance)
	}
	if len(lengthscales) == 0 {
		return nil, fmt.Errorf("rbf: at least one lengthscale required")
	}
	ls := make([]float64, len(lengthscales))
	for i, l := range lengthscales {
		if l <= 0 {
			return nil, fmt.Errorf("rbf: lengthscale %d must be positive, got %v", i, l)
		}
		ls[i] = l
	}
	return &RBF{variance: variance, lengthscales: ls}, nil
}

func (k *RBF) Variance() float64 { return k.variance }
func (k *RBF) InputDim() int     { return len(k.lengthscales) }

func (k *RBF) Eval(x1, x2 []float64) float64 {
	r2 := 0.0
	for i, l := range k.lengthscales {
		d := (x1[i] - x2[i]) / l
		r2 += d * d
	}
	return k.variance * math.Exp(-0.5*r2)
}

func (k *RBF) Matrix(X1, X2 mat.Matrix) *mat.Dense {
	n1, _ := X1.Dims()
	n2, _ := X2.Dims()
	out := mat.NewDense(n1, n2, nil)
	r1 := make([]float64, k.InputDim())
	r2 := make([]float64, k.InputDim())
	for i := 0; i < n1; i++ {
		rowInto(r1, X1, i)
		for j := 0; j < n2; j++ {
			rowInto(r2, X2, j)
			out.Set(i, j, k.Eval(r1, r2))
		}
	}
	return out
}

// Psi implements the closed-form RBF expectation integrals. With
// Lambda = diag(lengthscales^2) and input x ~ N(m, S):
//
//	psi0   = sigma^2
//	psi1_i = sigma^2 sqrt(|Lambda|/|S+Lambda|) exp(-1/2 (m-z_i)' (S+Lambda)^-1 (m-z_i))
//	psi2_ij = sigma^4 sqrt(|Lambda|/|2S+Lambda|)
//	          exp(-1/4 (z_i-z_j)' Lambda^-1 (z_i-z_j) - (m-zbar)' (2S+Lambda)^-1 (m-zbar))
//
// with zbar = (z_i+z_j)/2.
func (k *RBF) Psi(mean []float64, cov mat.Symmetric, Z mat.Matrix) (float64, []float64, *mat.Dense, error) {
	din := k.InputDim()
	if len(mean) != din {
		return 0, nil, nil, fmt.Errorf("%w: input dim %d, kernel dim %d", ErrShapeMismatch, len(mean), din)
	}
	m, zc := Z.Dims()
	if zc != din {
		return 0, nil, nil, fmt.Errorf("%w: inducing dim %d, kernel dim %d", ErrShapeMismatch, zc, din)
	}
	psi0 := k.variance

	if cov == nil {
		// Deterministic input.
		psi1 := make([]float64, m)
		zi := make([]float64, din)
		for i := 0; i < m; i++ {
			rowInto(zi, Z, i)
			psi1[i] = k.Eval(mean, zi)
		}
		psi2 := mat.NewDense(m, m, nil)
		for i := 0; i < m; i++ {
			for j := 0; j <= i; j++ {
				v := psi1[i] * psi1[j]
				psi2.Set(i, j, v)
				psi2.Set(j, i, v)
			}
		}
		return psi0, psi1, psi2, nil
	}

	if cov.SymmetricDim() != din {
		return 0, nil, nil, fmt.Errorf("%w: input covariance dim %d, kernel dim %d", ErrShapeMismatch, cov.SymmetricDim(), din)
	}

	lam := make([]float64, din)
	logDetLam := 0.0
	for i, l := range k.lengthscales {
		lam[i] = l * l
		logDetLam += math.Log(lam[i])
	}

	// B = S + Lambda, C = 2S + Lambda.
	B := mat.NewSymDense(din, nil)
	C := mat.NewSymDense(din, nil)
	for i := 0; i < din; i++ {
		for j := 0; j <= i; j++ {
			s := cov.At(i, j)
			b, c := s, 2*s
			if i == j {
				b += lam[i]
				c += lam[i]
			}
			B.SetSym(i, j, b)
			C.SetSym(i, j, c)
		}
	}
	var chB, chC mat.Cholesky
	if !chB.Factorize(B) {
		return 0, nil, nil, fmt.Errorf("%w: psi1 scale matrix", ErrNotPositiveDefinite)
	}
	if !chC.Factorize(C) {
		return 0, nil, nil, fmt.Errorf("%w: psi2 scale matrix", ErrNotPositiveDefinite)
	}
	c1 := math.Exp(0.5 * (logDetLam - chB.LogDet()))
	c2 := math.Exp(0.5 * (logDetLam - chC.LogDet()))

	d := mat.NewVecDense(din, nil)
	sol := mat.NewVecDense(din, nil)

	psi1 := make([]float64, m)
	for i := 0; i < m; i++ {
		for p := 0; p < din; p++ {
			d.SetVec(p, mean[p]-Z.At(i, p))
		}
		if err := chB.SolveVecTo(sol, d); err != nil {
			return 0, nil, nil, fmt.Errorf("%w: psi1 solve: %v", ErrNotPositiveDefinite, err)
		}
		psi1[i] = k.variance * c1 * math.Exp(-0.5*mat.Dot(d, sol))
	}

	psi2 := mat.NewDense(m, m, nil)
	for i := 0; i < m; i++ {
		for j := 0; j <= i; j++ {
			q1 := 0.0
			for p := 0; p < din; p++ {
				dz := Z.At(i, p) - Z.At(j, p)
				q1 += dz * dz / lam[p]
				d.SetVec(p, mean[p]-0.5*(Z.At(i, p)+Z.At(j, p)))
			}
			if err := chC.SolveVecTo(sol, d); err != nil {
				return 0, nil, nil, fmt.Errorf("%w: psi2 solve: %v", ErrNotPositiveDefinite, err)
			}
			v := k.variance * k.variance * c2 * math.Exp(-0.25*q1-mat.Dot(d, sol))
			psi2.Set(i, j, v)
			psi2.Set(j, i, v)
		}
	}
	return psi0, psi1, psi2, nil
}

// DiagCov wraps per-dimension variances as a diagonal covariance.
func DiagCov(variances []float64) mat.Symmetric {
	v := make([]float64, len(variances))
	copy(v, variances)
	return mat.NewDiagDense(len(v), v)
}

func rowInto(dst []float64, m mat.Matrix, i int) {
	for j := range dst {
		dst[j] = m.At(i, j)
	}
}
