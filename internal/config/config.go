// Package config defines planning scenario configuration: which model to
// plan in, the desired mode, horizon, costs and solver settings.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultDt             = 0.25
	DefaultHorizon        = 15
	DefaultDesiredMode    = 0
	DefaultInitControlVar = 0.04
	DefaultMaxIterations  = 100
	DefaultPenalty        = 1e3
	DefaultTargetModeProb = 0.7
	DefaultVelocityWeight = 0.001
)

type Scenario struct {
	Name        string `yaml:"name"`
	Model       string `yaml:"model"` // model file; empty uses the synthetic preset model
	DesiredMode int    `yaml:"desired_mode"`

	Horizon int     `yaml:"horizon"`
	Dt      float64 `yaml:"dt"`
	Seed    int64   `yaml:"seed"`

	Start    []float64 `yaml:"start"`
	StartVar []float64 `yaml:"start_var,omitempty"`
	Target   []float64 `yaml:"target"`

	Objective string `yaml:"objective"` // variational | mode | explorative
	Policy    string `yaml:"policy"`    // gaussian | deterministic

	InitControlVar float64 `yaml:"init_control_var"`

	Weights WeightConfig  `yaml:"weights"`
	Solver  SolverConfig  `yaml:"solver"`
	Explore ExploreConfig `yaml:"explore"`
}

type WeightConfig struct {
	State    []float64 `yaml:"state"`
	Control  []float64 `yaml:"control"`
	Terminal []float64 `yaml:"terminal"`
}

type SolverConfig struct {
	MaxIterations     int     `yaml:"max_iterations"`
	Method            string  `yaml:"method"`
	ConstraintPenalty float64 `yaml:"constraint_penalty"`
	ModeChanceLower   float64 `yaml:"mode_chance_lower"`
	CheckpointDir     string  `yaml:"checkpoint_dir,omitempty"`
	CheckpointKeep    int     `yaml:"checkpoint_keep,omitempty"`
	Resume            bool    `yaml:"resume,omitempty"`
}

type ExploreConfig struct {
	TargetModeProb float64 `yaml:"target_mode_prob"`
	VelocityWeight float64 `yaml:"velocity_weight"`
	EntropySource  string  `yaml:"entropy_source,omitempty"`
	EntropyWeight  float64 `yaml:"entropy_weight,omitempty"`
}

func DefaultScenario() *Scenario {
	return &Scenario{
		Name:           "default",
		DesiredMode:    DefaultDesiredMode,
		Horizon:        DefaultHorizon,
		Dt:             DefaultDt,
		Seed:           42,
		Objective:      "mode",
		Policy:         "gaussian",
		InitControlVar: DefaultInitControlVar,
		Solver: SolverConfig{
			MaxIterations:     DefaultMaxIterations,
			Method:            "lbfgs",
			ConstraintPenalty: DefaultPenalty,
		},
		Explore: ExploreConfig{
			TargetModeProb: DefaultTargetModeProb,
			VelocityWeight: DefaultVelocityWeight,
		},
	}
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sc := DefaultScenario()
	if err := yaml.Unmarshal(data, sc); err != nil {
		return nil, err
	}
	return sc, sc.Validate()
}

func Save(path string, sc *Scenario) error {
	data, err := yaml.Marshal(sc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (s *Scenario) Validate() error {
	if s.Horizon <= 0 {
		return fmt.Errorf("config: horizon %d must be positive", s.Horizon)
	}
	if s.Dt <= 0 {
		return fmt.Errorf("config: dt %v must be positive", s.Dt)
	}
	if len(s.Start) == 0 {
		return fmt.Errorf("config: start state missing")
	}
	if s.StartVar != nil && len(s.StartVar) != len(s.Start) {
		return fmt.Errorf("config: start_var dim %d, start dim %d", len(s.StartVar), len(s.Start))
	}
	switch s.Objective {
	case "variational", "mode", "explorative":
	default:
		return fmt.Errorf("config: unknown objective %q", s.Objective)
	}
	switch s.Policy {
	case "gaussian", "deterministic":
	default:
		return fmt.Errorf("config: unknown policy %q", s.Policy)
	}
	return nil
}
