package gp

import "gonum.org/v1/gonum/mat"

// MeanFunction is the GP prior mean over outputs.
type MeanFunction interface {
	Eval(X mat.Matrix) *mat.Dense // [N, Dout]
	OutputDim() int
}

// Zero is the zero mean function.
type Zero struct {
	Dim int
}

func (z Zero) Eval(X mat.Matrix) *mat.Dense {
	n, _ := X.Dims()
	return mat.NewDense(n, z.Dim, nil)
}

func (z Zero) OutputDim() int { return z.Dim }

// Constant is a constant mean function.
type Constant struct {
	C []float64
}

func (c Constant) Eval(X mat.Matrix) *mat.Dense {
	n, _ := X.Dims()
	out := mat.NewDense(n, len(c.C), nil)
	for i := 0; i < n; i++ {
		out.SetRow(i, c.C)
	}
	return out
}

func (c Constant) OutputDim() int { return len(c.C) }

// meanOffset returns the constant offset for supported mean functions and
// reports whether the mean function contributes anything. Mean functions
// other than nil, Zero and Constant are not supported by the uncertain
// conditional.
func meanOffset(m MeanFunction) ([]float64, bool, error) {
	switch mf := m.(type) {
	case nil:
		return nil, false, nil
	case Zero:
		return nil, false, nil
	case *Zero:
		return nil, false, nil
	case Constant:
		return mf.C, true, nil
	case *Constant:
		return mf.C, true, nil
	default:
		return nil, false, ErrNotImplemented
	}
}
