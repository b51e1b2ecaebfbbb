// Package gp implements the sparse variational GP machinery used by the
// dynamics model: kernels with analytic expectation integrals, inducing
// point representations, and the conditional computations (plain,
// uncertain-input, and cross-covariance) that propagate Gaussian beliefs
// through a posterior.
package gp
