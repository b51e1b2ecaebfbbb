package gp

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestNewRBFValidation(t *testing.T) {
	cases := []struct {
		name         string
		variance     float64
		lengthscales []float64
	}{
		{"zero variance", 0, []float64{1}},
		{"negative variance", -1, []float64{1}},
		{"no lengthscales", 1, nil},
		{"zero lengthscale", 1, []float64{1, 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewRBF(tc.variance, tc.lengthscales); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRBFEval(t *testing.T) {
	k, err := NewRBF(0.8, []float64{1.2, 0.9})
	if err != nil {
		t.Fatal(err)
	}
	x := []float64{0.3, -0.7}
	y := []float64{-0.4, 1.1}

	if got := k.Eval(x, x); math.Abs(got-0.8) > 1e-12 {
		t.Errorf("k(x,x) = %v, want variance 0.8", got)
	}
	if k.Eval(x, y) != k.Eval(y, x) {
		t.Error("kernel not symmetric")
	}
	if k.Eval(x, y) >= k.Eval(x, x) {
		t.Error("off-diagonal value not below variance")
	}

	// Hand-computed: r2 = (0.7/1.2)^2 + (-1.8/0.9)^2.
	r2 := math.Pow(0.7/1.2, 2) + math.Pow(1.8/0.9, 2)
	want := 0.8 * math.Exp(-0.5*r2)
	if got := k.Eval(x, y); math.Abs(got-want) > 1e-12 {
		t.Errorf("k(x,y) = %v, want %v", got, want)
	}
}

func TestRBFMatrix(t *testing.T) {
	k, _ := NewRBF(1.0, []float64{1, 1})
	X1 := mat.NewDense(3, 2, []float64{0, 0, 1, 0, 0, 1})
	X2 := mat.NewDense(2, 2, []float64{0.5, 0.5, -1, 2})
	K := k.Matrix(X1, X2)
	r, c := K.Dims()
	if r != 3 || c != 2 {
		t.Fatalf("matrix is %dx%d, want 3x2", r, c)
	}
	if got, want := K.At(1, 0), k.Eval([]float64{1, 0}, []float64{0.5, 0.5}); math.Abs(got-want) > 1e-12 {
		t.Errorf("K[1,0] = %v, want %v", got, want)
	}
}

func TestPsiDeterministic(t *testing.T) {
	k, _ := NewRBF(0.8, []float64{1.2, 0.9})
	Z := mat.NewDense(3, 2, []float64{0, 0, 1, 0.5, -0.5, 1})
	m := []float64{0.2, -0.3}

	psi0, psi1, psi2, err := k.Psi(m, nil, Z)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(psi0-0.8) > 1e-12 {
		t.Errorf("psi0 = %v, want variance", psi0)
	}
	zi := make([]float64, 2)
	for i := 0; i < 3; i++ {
		rowInto(zi, Z, i)
		if want := k.Eval(m, zi); math.Abs(psi1[i]-want) > 1e-12 {
			t.Errorf("psi1[%d] = %v, want k(m,z) = %v", i, psi1[i], want)
		}
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if want := psi1[i] * psi1[j]; math.Abs(psi2.At(i, j)-want) > 1e-12 {
				t.Errorf("psi2[%d,%d] = %v, want %v", i, j, psi2.At(i, j), want)
			}
		}
	}
}

func TestPsiZeroVarianceMatchesDeterministic(t *testing.T) {
	k, _ := NewRBF(0.8, []float64{1.2, 0.9})
	Z := mat.NewDense(3, 2, []float64{0, 0, 1, 0.5, -0.5, 1})
	m := []float64{0.2, -0.3}

	_, det1, det2, err := k.Psi(m, nil, Z)
	if err != nil {
		t.Fatal(err)
	}
	_, unc1, unc2, err := k.Psi(m, DiagCov([]float64{0, 0}), Z)
	if err != nil {
		t.Fatal(err)
	}
	for i := range det1 {
		if math.Abs(det1[i]-unc1[i]) > 1e-10 {
			t.Errorf("psi1[%d]: deterministic %v, zero-variance %v", i, det1[i], unc1[i])
		}
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(det2.At(i, j)-unc2.At(i, j)) > 1e-10 {
				t.Errorf("psi2[%d,%d]: deterministic %v, zero-variance %v", i, j, det2.At(i, j), unc2.At(i, j))
			}
		}
	}
}

func TestPsiShrinksWithInputVariance(t *testing.T) {
	k, _ := NewRBF(1.0, []float64{1, 1})
	Z := mat.NewDense(2, 2, []float64{0, 0, 1, 1})
	m := []float64{0, 0}

	_, tight, _, err := k.Psi(m, DiagCov([]float64{0.01, 0.01}), Z)
	if err != nil {
		t.Fatal(err)
	}
	_, wide, _, err := k.Psi(m, DiagCov([]float64{1.0, 1.0}), Z)
	if err != nil {
		t.Fatal(err)
	}
	// The expected kernel value at the co-located inducing point decays as
	// the input smears out.
	if wide[0] >= tight[0] {
		t.Errorf("psi1 did not shrink with input variance: tight %v, wide %v", tight[0], wide[0])
	}
}

func TestPsiShapeMismatch(t *testing.T) {
	k, _ := NewRBF(1.0, []float64{1, 1})
	Z := mat.NewDense(2, 2, nil)
	if _, _, _, err := k.Psi([]float64{0}, nil, Z); err == nil {
		t.Error("expected error for wrong mean dim")
	}
	if _, _, _, err := k.Psi([]float64{0, 0}, DiagCov([]float64{1}), Z); err == nil {
		t.Error("expected error for wrong covariance dim")
	}
	Zbad := mat.NewDense(2, 3, nil)
	if _, _, _, err := k.Psi([]float64{0, 0}, nil, Zbad); err == nil {
		t.Error("expected error for wrong inducing dim")
	}
}
