package experiment

import (
	"context"
	"math"
	"testing"

	"github.com/san-kum/modeplan/internal/config"
)

func testScenario() *config.Scenario {
	sc := config.GetPreset("reach")
	sc.Horizon = 4
	sc.Solver.MaxIterations = 3
	return sc
}

func TestExperimentSetupAndRun(t *testing.T) {
	exp := New(testScenario(), nil)
	if err := exp.Setup(); err != nil {
		t.Fatal(err)
	}

	result, err := exp.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if result.Trajectory.Len() != 5 {
		t.Errorf("trajectory has %d beliefs, want 5", result.Trajectory.Len())
	}
	if result.Solver.Status == "" {
		t.Error("solver status missing")
	}
	if math.IsNaN(result.Solver.Loss) {
		t.Error("solver loss is NaN")
	}
	for _, name := range []string{"expected_cost", "control_effort", "state_uncertainty", "mode_prob_min", "mode_prob_mean"} {
		v, ok := result.Metrics[name]
		if !ok {
			t.Errorf("metric %s missing", name)
			continue
		}
		if math.IsNaN(v) {
			t.Errorf("metric %s is NaN", name)
		}
	}
	if result.Metrics["mode_prob_mean"] < result.Metrics["mode_prob_min"] {
		t.Errorf("mean mode probability %v below the per-step minimum %v",
			result.Metrics["mode_prob_mean"], result.Metrics["mode_prob_min"])
	}
	if result.ControlMeans == nil {
		t.Error("control means missing")
	}
}

func TestExperimentRunBeforeSetup(t *testing.T) {
	exp := New(testScenario(), nil)
	if _, err := exp.Run(context.Background()); err == nil {
		t.Error("expected error before Setup")
	}
}

func TestExperimentRunCancelled(t *testing.T) {
	exp := New(testScenario(), nil)
	if err := exp.Setup(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := exp.Run(ctx); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestExperimentRejectsBadStartDim(t *testing.T) {
	sc := testScenario()
	sc.Start = []float64{0}
	sc.Target = []float64{1, 1}
	sc.Weights.Terminal = nil
	exp := New(sc, nil)
	if err := exp.Setup(); err == nil {
		t.Error("expected error for start dim mismatch")
	}
}

func TestRegistryUnknownNames(t *testing.T) {
	r := NewRegistry()
	sc := testScenario()
	sc.Objective = "greedy"
	if _, err := r.BuildObjective(sc, nil, nil, nil, nil, nil); err == nil {
		t.Error("expected error for unknown objective")
	}
	sc = testScenario()
	sc.Policy = "bang-bang"
	if _, err := r.BuildPolicy(sc, 1, nil); err == nil {
		t.Error("expected error for unknown policy")
	}
	if len(r.ListObjectives()) != 3 {
		t.Errorf("got %d objectives, want 3", len(r.ListObjectives()))
	}
}

func TestExplorativeScenarioRuns(t *testing.T) {
	sc := config.GetPreset("explore")
	sc.Horizon = 3
	sc.Solver.MaxIterations = 2
	exp := New(sc, nil)
	if err := exp.Setup(); err != nil {
		t.Fatal(err)
	}
	result, err := exp.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if math.IsNaN(result.Solver.Loss) {
		t.Error("explorative loss is NaN")
	}
}
