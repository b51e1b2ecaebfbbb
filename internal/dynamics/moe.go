// Package dynamics wraps a frozen mixture-of-experts SVGP dynamics model:
// per-mode expert GPs predicting state differences and a gating network
// scoring mode membership. The desired-mode wrapper exposes one-step
// transition prediction over beliefs plus the gating scores used by the
// trajectory objectives.
package dynamics

import (
	"errors"
	"fmt"

	"github.com/san-kum/modeplan/internal/gp"
	"github.com/san-kum/modeplan/internal/likelihood"
)

// ErrInvalidMode reports a desired-mode index outside [0, NumExperts).
var ErrInvalidMode = errors.New("dynamics: desired mode out of range")

// MixtureOfExperts holds the trained model. All parameters are read-only
// during trajectory optimisation.
type MixtureOfExperts struct {
	Experts    []*gp.SVGP
	Gating     *gp.SVGP
	GatingLik  likelihood.Bernoulli
	StateDim   int
	ControlDim int
}

func (m *MixtureOfExperts) NumExperts() int { return len(m.Experts) }

func (m *MixtureOfExperts) InputDim() int { return m.StateDim + m.ControlDim }

func (m *MixtureOfExperts) Validate() error {
	if m.StateDim <= 0 || m.ControlDim <= 0 {
		return fmt.Errorf("dynamics: state dim %d and control dim %d must be positive", m.StateDim, m.ControlDim)
	}
	if len(m.Experts) != 2 {
		return fmt.Errorf("dynamics: binary gating requires exactly 2 experts, got %d", len(m.Experts))
	}
	din := m.InputDim()
	for k, e := range m.Experts {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("dynamics: expert %d: %w", k, err)
		}
		if e.Kernel.InputDim() != din {
			return fmt.Errorf("%w: expert %d input dim %d, want %d", gp.ErrShapeMismatch, k, e.Kernel.InputDim(), din)
		}
		if e.OutputDim() != m.StateDim {
			return fmt.Errorf("%w: expert %d output dim %d, want %d", gp.ErrShapeMismatch, k, e.OutputDim(), m.StateDim)
		}
	}
	if m.Gating == nil {
		return fmt.Errorf("dynamics: gating network missing")
	}
	if err := m.Gating.Validate(); err != nil {
		return fmt.Errorf("dynamics: gating: %w", err)
	}
	if m.Gating.Kernel.InputDim() != din {
		return fmt.Errorf("%w: gating input dim %d, want %d", gp.ErrShapeMismatch, m.Gating.Kernel.InputDim(), din)
	}
	if m.Gating.OutputDim() != 1 {
		return fmt.Errorf("%w: gating output dim %d, want 1", gp.ErrShapeMismatch, m.Gating.OutputDim())
	}
	return nil
}
