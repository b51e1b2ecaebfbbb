package gp

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestCovarianceConditionalDiagonalMatchesPredictF(t *testing.T) {
	for _, whiten := range []bool{true, false} {
		g := testSVGP(t, 2, whiten)
		X := testInputs()
		num := DefaultNumerics()

		_, wantVar, err := g.PredictF(X, num)
		if err != nil {
			t.Fatal(err)
		}
		covs, err := g.CovarianceConditional(X, X, num)
		if err != nil {
			t.Fatal(err)
		}
		if len(covs) != 2 {
			t.Fatalf("got %d output covariances, want 2", len(covs))
		}
		for d, C := range covs {
			for i := 0; i < 2; i++ {
				if diff := math.Abs(C.At(i, i) - wantVar.At(i, d)); diff > 1e-8 {
					t.Errorf("whiten=%v output %d point %d: diagonal differs from variance by %v", whiten, d, i, diff)
				}
			}
		}
	}
}

func TestCovarianceConditionalTranspose(t *testing.T) {
	g := testSVGP(t, 1, true)
	num := DefaultNumerics()
	X1 := testInputs()
	X2 := mat.NewDense(3, 2, []float64{0, 0, 0.5, 0.5, -0.2, 1.1})

	c12, err := g.CovarianceConditional(X1, X2, num)
	if err != nil {
		t.Fatal(err)
	}
	c21, err := g.CovarianceConditional(X2, X1, num)
	if err != nil {
		t.Fatal(err)
	}
	r, c := c12[0].Dims()
	if r != 2 || c != 3 {
		t.Fatalf("cov is %dx%d, want 2x3", r, c)
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			if diff := math.Abs(c12[0].At(i, j) - c21[0].At(j, i)); diff > 1e-10 {
				t.Errorf("cov(X1,X2)[%d,%d] != cov(X2,X1)[%d,%d]", i, j, j, i)
			}
		}
	}
}

func TestCovarianceConditionalShapeMismatch(t *testing.T) {
	g := testSVGP(t, 1, true)
	bad := mat.NewDense(2, 3, nil)
	if _, err := g.CovarianceConditional(bad, testInputs(), DefaultNumerics()); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("got %v, want ErrShapeMismatch", err)
	}
}
