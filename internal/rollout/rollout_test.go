package rollout

import (
	"errors"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// shiftDynamics adds the control to the state and accumulates variances.
type shiftDynamics struct {
	failAt int // step index that errors, -1 for never
	steps  int
}

func (d *shiftDynamics) StateDim() int   { return 2 }
func (d *shiftDynamics) ControlDim() int { return 2 }

func (d *shiftDynamics) Step(state, control Belief) (Belief, error) {
	if d.steps == d.failAt {
		return Belief{}, errors.New("boom")
	}
	d.steps++
	next := Belief{Mean: make([]float64, 2), Var: make([]float64, 2)}
	for i := 0; i < 2; i++ {
		next.Mean[i] = state.Mean[i] + control.Mean[i]
		if state.Var != nil {
			next.Var[i] += state.Var[i]
		}
		if control.Var != nil {
			next.Var[i] += control.Var[i]
		}
	}
	return next, nil
}

type constPolicy struct {
	horizon int
}

func (p constPolicy) Horizon() int { return p.horizon }
func (p constPolicy) ControlAt(t int) ([]float64, []float64) {
	return []float64{1, -1}, []float64{0.1, 0.2}
}

func TestRunLengthInvariant(t *testing.T) {
	for _, horizon := range []int{0, 1, 5} {
		dyn := &shiftDynamics{failAt: -1}
		tr, err := Run(dyn, constPolicy{horizon: horizon}, Belief{Mean: []float64{0, 0}})
		if err != nil {
			t.Fatal(err)
		}
		if tr.Len() != horizon+1 {
			t.Errorf("horizon %d: got %d beliefs, want %d", horizon, tr.Len(), horizon+1)
		}
		if tr.Horizon() != horizon {
			t.Errorf("horizon %d: Horizon() = %d", horizon, tr.Horizon())
		}
	}
}

func TestRunAccumulates(t *testing.T) {
	dyn := &shiftDynamics{failAt: -1}
	tr, err := Run(dyn, constPolicy{horizon: 3}, Belief{Mean: []float64{0, 0}})
	if err != nil {
		t.Fatal(err)
	}
	last := tr.Last()
	if last.Mean[0] != 3 || last.Mean[1] != -3 {
		t.Errorf("final mean = %v, want [3 -3]", last.Mean)
	}
	// Variances add step over step.
	if diff := last.Var[0] - 0.3; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("final var[0] = %v, want 0.3", last.Var[0])
	}
}

func TestRunStepErrorCarriesIndex(t *testing.T) {
	dyn := &shiftDynamics{failAt: 2}
	_, err := Run(dyn, constPolicy{horizon: 5}, Belief{Mean: []float64{0, 0}})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "step 2") {
		t.Errorf("error %q does not name the failing step", err)
	}
}

func TestRunStartDimMismatch(t *testing.T) {
	dyn := &shiftDynamics{failAt: -1}
	if _, err := Run(dyn, constPolicy{horizon: 1}, Belief{Mean: []float64{0}}); err == nil {
		t.Error("expected error for wrong start dim")
	}
}

func TestControlsRollout(t *testing.T) {
	dyn := &shiftDynamics{failAt: -1}
	means := mat.NewDense(4, 2, []float64{
		1, 0,
		0, 1,
		-1, 0,
		0, -1,
	})
	tr, err := Controls(dyn, Belief{Mean: []float64{0, 0}}, means, nil)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Len() != 5 {
		t.Fatalf("got %d beliefs, want 5", tr.Len())
	}
	last := tr.Last()
	if last.Mean[0] != 0 || last.Mean[1] != 0 {
		t.Errorf("final mean = %v, want [0 0]", last.Mean)
	}
}

func TestControlsVarianceShapeMismatch(t *testing.T) {
	dyn := &shiftDynamics{failAt: -1}
	means := mat.NewDense(2, 2, nil)
	vars := mat.NewDense(3, 2, nil)
	if _, err := Controls(dyn, Belief{Mean: []float64{0, 0}}, means, vars); err == nil {
		t.Error("expected error for mismatched variance rows")
	}
}

func TestTrajectoryStacks(t *testing.T) {
	dyn := &shiftDynamics{failAt: -1}
	tr, err := Run(dyn, constPolicy{horizon: 2}, Belief{Mean: []float64{1, 2}})
	if err != nil {
		t.Fatal(err)
	}
	means := tr.Means()
	vars := tr.Vars()
	if r, c := means.Dims(); r != 3 || c != 2 {
		t.Fatalf("means is %dx%d, want 3x2", r, c)
	}
	if means.At(0, 0) != 1 || means.At(0, 1) != 2 {
		t.Error("first row does not match start")
	}
	// Start belief is a delta, so its stacked variance row is zero.
	if vars.At(0, 0) != 0 || vars.At(0, 1) != 0 {
		t.Error("delta start contributed nonzero variance")
	}
}

func TestBeliefCloneIndependent(t *testing.T) {
	b := Belief{Mean: []float64{1, 2}, Var: []float64{0.1, 0.2}}
	c := b.Clone()
	c.Mean[0] = 99
	c.Var[0] = 99
	if b.Mean[0] != 1 || b.Var[0] != 0.1 {
		t.Error("clone shares backing arrays")
	}
}
