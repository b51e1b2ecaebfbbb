// Package optim sweeps scenario parameters over a grid, rerunning the
// planning experiment for each combination and keeping the best metric.
package optim

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/modeplan/internal/config"
	"github.com/san-kum/modeplan/internal/experiment"
)

type GridSearch struct {
	paramNames []string
	ranges     [][]float64
}

func NewGridSearch(params []string, ranges [][]float64) (*GridSearch, error) {
	if len(params) != len(ranges) {
		return nil, fmt.Errorf("optim: %d parameter names, %d ranges", len(params), len(ranges))
	}
	return &GridSearch{paramNames: params, ranges: ranges}, nil
}

// Search minimises the named metric over the grid. Each grid point clones
// the scenario, applies the overrides and runs a fresh experiment; failed
// runs are skipped.
func (g *GridSearch) Search(ctx context.Context, base *config.Scenario, metricName string, build func(*config.Scenario) (*experiment.Experiment, error)) (map[string]float64, float64, error) {
	best := math.Inf(1)
	var bestParams map[string]float64

	err := g.searchRecursive(ctx, 0, make(map[string]float64), base, metricName, build, &best, &bestParams)
	if err != nil {
		return nil, 0, err
	}
	if bestParams == nil {
		return nil, 0, fmt.Errorf("optim: no grid point produced metric %q", metricName)
	}
	return bestParams, best, nil
}

func (g *GridSearch) searchRecursive(
	ctx context.Context,
	depth int,
	current map[string]float64,
	base *config.Scenario,
	metricName string,
	build func(*config.Scenario) (*experiment.Experiment, error),
	best *float64,
	bestParams *map[string]float64,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth == len(g.paramNames) {
		sc := *base
		for name, val := range current {
			if err := applyParam(&sc, name, val); err != nil {
				return err
			}
		}

		exp, err := build(&sc)
		if err != nil {
			return nil
		}
		if err := exp.Setup(); err != nil {
			return nil
		}
		result, err := exp.Run(ctx)
		if err != nil {
			return nil
		}

		val, ok := result.Metrics[metricName]
		if !ok {
			return fmt.Errorf("optim: unknown metric %q", metricName)
		}
		if val < *best {
			*best = val
			*bestParams = make(map[string]float64)
			for k, v := range current {
				(*bestParams)[k] = v
			}
		}
		return nil
	}

	paramName := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		newParams := make(map[string]float64)
		for k, v := range current {
			newParams[k] = v
		}
		newParams[paramName] = val

		if err := g.searchRecursive(ctx, depth+1, newParams, base, metricName, build, best, bestParams); err != nil {
			return err
		}
	}
	return nil
}

func applyParam(sc *config.Scenario, name string, val float64) error {
	switch name {
	case "init_control_var":
		sc.InitControlVar = val
	case "constraint_penalty":
		sc.Solver.ConstraintPenalty = val
	case "mode_chance_lower":
		sc.Solver.ModeChanceLower = val
	case "target_mode_prob":
		sc.Explore.TargetModeProb = val
	case "velocity_weight":
		sc.Explore.VelocityWeight = val
	case "entropy_weight":
		sc.Explore.EntropyWeight = val
	case "seed":
		sc.Seed = int64(val)
	case "horizon":
		sc.Horizon = int(val)
	case "max_iterations":
		sc.Solver.MaxIterations = int(val)
	default:
		return fmt.Errorf("optim: unknown parameter %q", name)
	}
	return nil
}
