package dynamics

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/modeplan/internal/gp"
	"github.com/san-kum/modeplan/internal/rollout"
)

func testGPSpec(outputDim int, qmuScale float64) GPSpec {
	inducing := [][]float64{
		{0, 0, 0},
		{1, 0.5, -0.5},
		{-1, 1, 0.5},
		{0.5, -1, 1},
	}
	m := len(inducing)
	qmu := make([][]float64, m)
	for i := range qmu {
		row := make([]float64, outputDim)
		for d := range row {
			row[d] = qmuScale * inducing[i][0]
		}
		qmu[i] = row
	}
	qsqrt := make([][][]float64, outputDim)
	for d := range qsqrt {
		factor := make([][]float64, m)
		for i := range factor {
			row := make([]float64, m)
			row[i] = 0.1
			factor[i] = row
		}
		qsqrt[d] = factor
	}
	return GPSpec{
		Kernel:   KernelSpec{Variance: 0.5, Lengthscales: []float64{1.5, 1.5, 1.0}},
		Inducing: inducing,
		QMu:      qmu,
		QSqrt:    qsqrt,
		Whiten:   true,
	}
}

func testModelSpec() *ModelSpec {
	return &ModelSpec{
		StateDim:   2,
		ControlDim: 1,
		Experts:    []GPSpec{testGPSpec(2, 0.1), testGPSpec(2, -0.1)},
		Gating:     testGPSpec(1, 1.0),
	}
}

func testModeDynamics(t *testing.T, desired int) *ModeDynamics {
	t.Helper()
	moe, err := FromSpec(testModelSpec())
	if err != nil {
		t.Fatal(err)
	}
	d, err := New(moe, desired, VelocityPointMass{Dt: 0.1}, gp.DefaultNumerics())
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestFromSpecValidates(t *testing.T) {
	spec := testModelSpec()
	spec.Experts = spec.Experts[:1]
	if _, err := FromSpec(spec); err == nil {
		t.Error("expected error for single expert")
	}

	spec = testModelSpec()
	spec.Gating = testGPSpec(2, 1.0)
	if _, err := FromSpec(spec); err == nil {
		t.Error("expected error for multi-output gating")
	}

	spec = testModelSpec()
	spec.Experts[0].QMu = spec.Experts[0].QMu[:2]
	if _, err := FromSpec(spec); err == nil {
		t.Error("expected error for q_mu row mismatch")
	}
}

func TestSetDesiredModeRejectsOutOfRange(t *testing.T) {
	d := testModeDynamics(t, 0)
	for _, k := range []int{-1, 2, 100} {
		if err := d.SetDesiredMode(k); !errors.Is(err, ErrInvalidMode) {
			t.Errorf("mode %d: got %v, want ErrInvalidMode", k, err)
		}
	}
	// A rejected switch leaves the selection untouched.
	if d.DesiredMode() != 0 {
		t.Errorf("desired mode = %d after rejected switches, want 0", d.DesiredMode())
	}
}

func TestGenerationBumpsOnModeSwitch(t *testing.T) {
	d := testModeDynamics(t, 0)
	gen := d.Generation()
	if err := d.SetDesiredMode(1); err != nil {
		t.Fatal(err)
	}
	if d.Generation() == gen {
		t.Error("generation unchanged after mode switch")
	}
}

func TestStepShapesAndVarianceGrowth(t *testing.T) {
	d := testModeDynamics(t, 0)
	state := rollout.Belief{Mean: []float64{0.2, -0.1}, Var: []float64{0.05, 0.05}}
	control := rollout.Belief{Mean: []float64{0.3}, Var: []float64{0.01}}

	next, err := d.Step(state, control)
	if err != nil {
		t.Fatal(err)
	}
	if next.Dim() != 2 {
		t.Fatalf("next state dim %d, want 2", next.Dim())
	}
	for i, v := range next.Var {
		if v <= state.Var[i] {
			t.Errorf("var[%d] = %v did not grow past carried-over %v", i, v, state.Var[i])
		}
	}
}

func TestStepAppliesNominalOffset(t *testing.T) {
	moe, err := FromSpec(testModelSpec())
	if err != nil {
		t.Fatal(err)
	}
	bare, err := New(moe, 0, nil, gp.DefaultNumerics())
	if err != nil {
		t.Fatal(err)
	}
	nominal, err := New(moe, 0, VelocityPointMass{Dt: 0.5}, gp.DefaultNumerics())
	if err != nil {
		t.Fatal(err)
	}

	state := rollout.Belief{Mean: []float64{0, 0}}
	control := rollout.Belief{Mean: []float64{1.0}}

	a, err := bare.Step(state, control)
	if err != nil {
		t.Fatal(err)
	}
	b, err := nominal.Step(state, control)
	if err != nil {
		t.Fatal(err)
	}
	// First state coordinate shifts by dt*u, second is untouched by the
	// nominal model.
	if diff := math.Abs((b.Mean[0] - a.Mean[0]) - 0.5); diff > 1e-10 {
		t.Errorf("nominal offset differs from dt*u by %v", diff)
	}
	if diff := math.Abs(b.Mean[1] - a.Mean[1]); diff > 1e-10 {
		t.Errorf("second coordinate shifted by %v", diff)
	}
}

func TestStepShapeMismatch(t *testing.T) {
	d := testModeDynamics(t, 0)
	_, err := d.Step(rollout.Belief{Mean: []float64{0}}, rollout.Belief{Mean: []float64{0}})
	if !errors.Is(err, gp.ErrShapeMismatch) {
		t.Errorf("got %v, want ErrShapeMismatch", err)
	}
}

func TestPredictModeProbabilityComplement(t *testing.T) {
	d0 := testModeDynamics(t, 0)
	d1 := testModeDynamics(t, 1)

	states := mat.NewDense(3, 2, []float64{-1, 0, 0, 0, 1, 0})
	controls := mat.NewDense(3, 1, []float64{0, 0, 0})

	p0, err := d0.PredictModeProbability(states, controls, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	p1, err := d1.PredictModeProbability(states, controls, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := range p0 {
		if diff := math.Abs(p0[i] + p1[i] - 1); diff > 1e-9 {
			t.Errorf("step %d: p0+p1 = %v, want 1", i, p0[i]+p1[i])
		}
	}
	// The gating latent grows with x0, so mode 1 is likelier on the right.
	if !(p1[2] > p1[0]) {
		t.Errorf("mode-1 probability %v at x0=1 not above %v at x0=-1", p1[2], p1[0])
	}
}

func TestModeVariationalExpectationNegative(t *testing.T) {
	d := testModeDynamics(t, 0)
	states := mat.NewDense(2, 2, []float64{-0.5, 0, 0.5, 0})
	controls := mat.NewDense(2, 1, nil)
	stateVars := mat.NewDense(2, 2, []float64{0.01, 0.01, 0.01, 0.01})
	controlVars := mat.NewDense(2, 1, []float64{0.01, 0.01})

	ve, err := d.ModeVariationalExpectation(states, controls, stateVars, controlVars)
	if err != nil {
		t.Fatal(err)
	}
	// Sum of log probabilities is strictly negative.
	if ve >= 0 {
		t.Errorf("variational expectation %v, want negative", ve)
	}
}

func TestModeVariationalExpectationRepeatable(t *testing.T) {
	d := testModeDynamics(t, 0)
	states := mat.NewDense(2, 2, []float64{-0.5, 0, 0.5, 0})
	controls := mat.NewDense(2, 1, nil)
	stateVars := mat.NewDense(2, 2, []float64{0.01, 0.01, 0.01, 0.01})
	controlVars := mat.NewDense(2, 1, []float64{0.01, 0.01})

	first, err := d.ModeVariationalExpectation(states, controls, stateVars, controlVars)
	if err != nil {
		t.Fatal(err)
	}
	second, err := d.ModeVariationalExpectation(states, controls, stateVars, controlVars)
	if err != nil {
		t.Fatal(err)
	}
	// The model is frozen, so the score is a pure function of its inputs.
	if first != second {
		t.Errorf("repeated evaluation differs: %v vs %v", first, second)
	}
}

func TestGatingEntropyLength(t *testing.T) {
	d := testModeDynamics(t, 0)
	states := mat.NewDense(3, 2, nil)
	controls := mat.NewDense(3, 1, nil)

	ents, err := d.GatingEntropy(states, controls, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(ents) != 3 {
		t.Fatalf("got %d entropies, want 3", len(ents))
	}

	cond, err := d.GatingConditionalEntropy(states, controls)
	if err != nil {
		t.Fatal(err)
	}
	if len(cond) != 3 {
		t.Fatalf("got %d conditional entropies, want 3", len(cond))
	}
	// Conditioning on the previous step cannot raise the entropy.
	for i := 1; i < 3; i++ {
		if cond[i] > ents[i]+1e-9 {
			t.Errorf("step %d: conditional entropy %v above marginal %v", i, cond[i], ents[i])
		}
	}
}

func TestModelRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yaml")
	if err := SaveModel(path, testModelSpec()); err != nil {
		t.Fatal(err)
	}
	moe, err := LoadModel(path)
	if err != nil {
		t.Fatal(err)
	}
	if moe.NumExperts() != 2 || moe.StateDim != 2 || moe.ControlDim != 1 {
		t.Errorf("loaded model has %d experts, dims %d/%d", moe.NumExperts(), moe.StateDim, moe.ControlDim)
	}
}
