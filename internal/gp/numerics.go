package gp

import "errors"

// Numerics carries the numerical settings threaded explicitly through every
// factorization. There is no mutable package-level default.
type Numerics struct {
	// Jitter is added once to the diagonal of the inducing kernel matrix
	// before Cholesky factorization. No retry loop beyond this.
	Jitter float64
}

func DefaultNumerics() Numerics {
	return Numerics{Jitter: 1e-6}
}

var (
	// ErrShapeMismatch reports a configuration error: supplied tensor
	// dimensions disagree with the model's declared shapes.
	ErrShapeMismatch = errors.New("gp: shape mismatch")

	// ErrNotImplemented reports an unsupported conditional configuration.
	ErrNotImplemented = errors.New("gp: unsupported configuration")

	// ErrNotPositiveDefinite reports a failed Cholesky factorization.
	ErrNotPositiveDefinite = errors.New("gp: matrix not positive definite")
)
