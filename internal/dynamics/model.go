package dynamics

import (
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/modeplan/internal/gp"
)

// Model files hold a trained mixture serialised as plain nested lists, one
// expert block per mode plus the gating block.
type KernelSpec struct {
	Variance     float64   `yaml:"variance"`
	Lengthscales []float64 `yaml:"lengthscales"`
}

type GPSpec struct {
	Kernel   KernelSpec    `yaml:"kernel"`
	Inducing [][]float64   `yaml:"inducing"`
	QMu      [][]float64   `yaml:"q_mu"`
	QSqrt    [][][]float64 `yaml:"q_sqrt"`
	Mean     []float64     `yaml:"mean,omitempty"`
	Whiten   bool          `yaml:"whiten"`
}

type ModelSpec struct {
	StateDim   int      `yaml:"state_dim"`
	ControlDim int      `yaml:"control_dim"`
	Experts    []GPSpec `yaml:"experts"`
	Gating     GPSpec   `yaml:"gating"`
}

// LoadModel reads a serialised mixture-of-experts model.
func LoadModel(path string) (*MixtureOfExperts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var spec ModelSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("dynamics: parse model %s: %w", path, err)
	}
	return FromSpec(&spec)
}

// SaveModel serialises a model spec.
func SaveModel(path string, spec *ModelSpec) error {
	data, err := yaml.Marshal(spec)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// FromSpec materialises a mixture model and validates its shapes.
func FromSpec(spec *ModelSpec) (*MixtureOfExperts, error) {
	moe := &MixtureOfExperts{
		StateDim:   spec.StateDim,
		ControlDim: spec.ControlDim,
	}
	for k := range spec.Experts {
		e, err := buildSVGP(&spec.Experts[k])
		if err != nil {
			return nil, fmt.Errorf("dynamics: expert %d: %w", k, err)
		}
		moe.Experts = append(moe.Experts, e)
	}
	g, err := buildSVGP(&spec.Gating)
	if err != nil {
		return nil, fmt.Errorf("dynamics: gating: %w", err)
	}
	moe.Gating = g
	if err := moe.Validate(); err != nil {
		return nil, err
	}
	return moe, nil
}

func buildSVGP(spec *GPSpec) (*gp.SVGP, error) {
	kern, err := gp.NewRBF(spec.Kernel.Variance, spec.Kernel.Lengthscales)
	if err != nil {
		return nil, err
	}
	Z, err := denseFromRows(spec.Inducing)
	if err != nil {
		return nil, fmt.Errorf("inducing: %w", err)
	}
	qmu, err := denseFromRows(spec.QMu)
	if err != nil {
		return nil, fmt.Errorf("q_mu: %w", err)
	}
	m, dout := qmu.Dims()
	if len(spec.QSqrt) != dout {
		return nil, fmt.Errorf("%w: %d q_sqrt factors for %d outputs", gp.ErrShapeMismatch, len(spec.QSqrt), dout)
	}
	sqrts := make([]*mat.TriDense, dout)
	for d, rows := range spec.QSqrt {
		if len(rows) != m {
			return nil, fmt.Errorf("%w: q_sqrt[%d] has %d rows, want %d", gp.ErrShapeMismatch, d, len(rows), m)
		}
		tri := mat.NewTriDense(m, mat.Lower, nil)
		for i, row := range rows {
			if len(row) != m {
				return nil, fmt.Errorf("%w: q_sqrt[%d] row %d has %d entries, want %d", gp.ErrShapeMismatch, d, i, len(row), m)
			}
			for j := 0; j <= i; j++ {
				tri.SetTri(i, j, row[j])
			}
		}
		sqrts[d] = tri
	}
	var meanFn gp.MeanFunction
	if spec.Mean != nil {
		meanFn = gp.Constant{C: spec.Mean}
	} else {
		meanFn = gp.Zero{Dim: dout}
	}
	svgp := &gp.SVGP{
		Kernel:   kern,
		Mean:     meanFn,
		Inducing: gp.NewInducing(Z),
		Q:        &gp.Variational{Mu: qmu, Sqrt: sqrts},
		Whiten:   spec.Whiten,
	}
	if err := svgp.Validate(); err != nil {
		return nil, err
	}
	return svgp, nil
}

func denseFromRows(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty matrix", gp.ErrShapeMismatch)
	}
	c := len(rows[0])
	out := mat.NewDense(len(rows), c, nil)
	for i, row := range rows {
		if len(row) != c {
			return nil, fmt.Errorf("%w: ragged row %d (%d entries, want %d)", gp.ErrShapeMismatch, i, len(row), c)
		}
		out.SetRow(i, row)
	}
	return out, nil
}
