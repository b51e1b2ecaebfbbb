package cost

import (
	"math"
	"testing"
)

func TestExpectedQuadratic(t *testing.T) {
	q, err := NewDiagQuadratic([]float64{2, 3}, []float64{1, -1})
	if err != nil {
		t.Fatal(err)
	}

	// (m-t)' Q (m-t) = 2*(2-1)^2 + 3*(0-(-1))^2 = 5; trace term 2*0.5 + 3*0.25.
	got := q.Expected([]float64{2, 0}, []float64{0.5, 0.25})
	want := 5.0 + 1.0 + 0.75
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("Expected = %v, want %v", got, want)
	}

	// Delta distribution drops the trace term.
	if got := q.Expected([]float64{2, 0}, nil); math.Abs(got-5.0) > 1e-12 {
		t.Errorf("delta Expected = %v, want 5", got)
	}
}

func TestExpectedQuadraticOrigin(t *testing.T) {
	q, err := NewDiagQuadratic([]float64{1, 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := q.Expected([]float64{3, 4}, nil); math.Abs(got-25) > 1e-12 {
		t.Errorf("Expected = %v, want 25", got)
	}
}

func TestNewDiagQuadraticValidation(t *testing.T) {
	if _, err := NewDiagQuadratic(nil, nil); err == nil {
		t.Error("expected error for empty weights")
	}
	if _, err := NewDiagQuadratic([]float64{1, 2}, []float64{0}); err == nil {
		t.Error("expected error for mismatched target")
	}
}

func TestQuadraticRunningSumsTerms(t *testing.T) {
	state, _ := NewDiagQuadratic([]float64{1}, nil)
	control, _ := NewDiagQuadratic([]float64{2}, nil)
	running := QuadraticRunning(state, control)

	got := running([]float64{2}, nil, []float64{1}, []float64{0.5})
	want := 4.0 + 2.0 + 1.0
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("running = %v, want %v", got, want)
	}

	// Either term may be nil.
	stateOnly := QuadraticRunning(state, nil)
	if got := stateOnly([]float64{2}, nil, []float64{1}, nil); math.Abs(got-4) > 1e-12 {
		t.Errorf("state-only running = %v, want 4", got)
	}
}

func TestQuadraticTerminal(t *testing.T) {
	q, _ := NewDiagQuadratic([]float64{1, 1}, []float64{1, 1})
	terminal := QuadraticTerminal(q)
	if got := terminal([]float64{1, 1}, nil); got != 0 {
		t.Errorf("terminal at target = %v, want 0", got)
	}
	empty := QuadraticTerminal(nil)
	if got := empty([]float64{5, 5}, nil); got != 0 {
		t.Errorf("nil terminal = %v, want 0", got)
	}
}
