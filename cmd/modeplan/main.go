package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/modeplan/internal/config"
	"github.com/san-kum/modeplan/internal/dynamics"
	"github.com/san-kum/modeplan/internal/experiment"
	"github.com/san-kum/modeplan/internal/optim"
	"github.com/san-kum/modeplan/internal/rollout"
	"github.com/san-kum/modeplan/internal/storage"
)

var (
	dataDir    string
	configFile string
	modelFile  string
	verbose    bool

	desiredMode int
	horizon     int
	seed        int64
	objective   string
	policyKind  string
	maxIters    int
	chanceLower float64

	sweepParams string
	sweepValues string
	sweepMetric string

	genSeed int64
	genOut  string

	rolloutControl float64

	checkpointDir string
	resumeRun     bool
)

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
var valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))

func main() {
	rootCmd := &cobra.Command{
		Use:   "modeplan",
		Short: "mode-aware trajectory planning over learned dynamics",
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".modeplan", "data directory")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose logging")

	planCmd := &cobra.Command{
		Use:     "optimise [preset]",
		Aliases: []string{"plan"},
		Short:   "optimise a trajectory for a scenario",
		Args:    cobra.MaximumNArgs(1),
		RunE:    runPlan,
	}
	planCmd.Flags().StringVar(&configFile, "config", "", "scenario file (yaml)")
	planCmd.Flags().StringVar(&modelFile, "model", "", "model file (yaml), overrides scenario")
	planCmd.Flags().IntVar(&desiredMode, "mode", -1, "desired mode index")
	planCmd.Flags().IntVar(&horizon, "horizon", 0, "planning horizon")
	planCmd.Flags().Int64Var(&seed, "seed", 0, "random seed")
	planCmd.Flags().StringVar(&objective, "objective", "", "objective: variational, mode, explorative")
	planCmd.Flags().StringVar(&policyKind, "policy", "", "policy: gaussian, deterministic")
	planCmd.Flags().IntVar(&maxIters, "iters", 0, "solver iteration limit")
	planCmd.Flags().Float64Var(&chanceLower, "chance-lower", -1, "mode probability lower bound")
	planCmd.Flags().StringVar(&checkpointDir, "checkpoints", "", "checkpoint directory")
	planCmd.Flags().BoolVar(&resumeRun, "resume", false, "resume from the newest checkpoint")

	rolloutCmd := &cobra.Command{
		Use:   "rollout [preset]",
		Short: "roll out a constant control sequence without optimising",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRollout,
	}
	rolloutCmd.Flags().StringVar(&configFile, "config", "", "scenario file (yaml)")
	rolloutCmd.Flags().StringVar(&modelFile, "model", "", "model file (yaml), overrides scenario")
	rolloutCmd.Flags().IntVar(&desiredMode, "mode", -1, "desired mode index")
	rolloutCmd.Flags().IntVar(&horizon, "horizon", 0, "rollout horizon")
	rolloutCmd.Flags().Float64Var(&rolloutControl, "control", 0, "constant control value")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a planned trajectory",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export run metadata as json",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list scenario presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range config.ListPresets() {
				fmt.Println(p)
			}
			return nil
		},
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep [preset]",
		Short: "grid-search scenario parameters",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSweep,
	}
	sweepCmd.Flags().StringVar(&configFile, "config", "", "scenario file (yaml)")
	sweepCmd.Flags().StringVar(&sweepParams, "params", "init_control_var", "comma-separated parameter names")
	sweepCmd.Flags().StringVar(&sweepValues, "values", "0.01,0.04,0.09", "semicolon-separated value lists, comma-separated within")
	sweepCmd.Flags().StringVar(&sweepMetric, "metric", "expected_cost", "metric to minimise")

	genModelCmd := &cobra.Command{
		Use:   "gen-model",
		Short: "write the synthetic two-mode model to a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := config.SyntheticModel(genSeed)
			if err := dynamics.SaveModel(genOut, spec); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", genOut)
			return nil
		},
	}
	genModelCmd.Flags().Int64Var(&genSeed, "seed", 42, "random seed")
	genModelCmd.Flags().StringVar(&genOut, "out", "model.yaml", "output path")

	rootCmd.AddCommand(planCmd, rolloutCmd, listCmd, plotCmd, exportCmd, presetsCmd, sweepCmd, genModelCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func loadScenario(cmd *cobra.Command, args []string) (*config.Scenario, error) {
	var sc *config.Scenario
	switch {
	case configFile != "":
		var err error
		sc, err = config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load scenario: %w", err)
		}
	case len(args) > 0:
		sc = config.GetPreset(args[0])
		if sc == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", args[0], config.ListPresets())
		}
	default:
		sc = config.GetPreset("reach")
	}

	if modelFile != "" {
		sc.Model = modelFile
	}
	if cmd.Flags().Changed("mode") {
		sc.DesiredMode = desiredMode
	}
	if cmd.Flags().Changed("horizon") {
		sc.Horizon = horizon
	}
	if cmd.Flags().Changed("seed") {
		sc.Seed = seed
	}
	if cmd.Flags().Changed("objective") {
		sc.Objective = objective
	}
	if cmd.Flags().Changed("policy") {
		sc.Policy = policyKind
	}
	if cmd.Flags().Changed("iters") {
		sc.Solver.MaxIterations = maxIters
	}
	if cmd.Flags().Changed("chance-lower") {
		sc.Solver.ModeChanceLower = chanceLower
	}
	if cmd.Flags().Changed("checkpoints") {
		sc.Solver.CheckpointDir = checkpointDir
	}
	if cmd.Flags().Changed("resume") {
		sc.Solver.Resume = resumeRun
	}
	return sc, sc.Validate()
}

func runPlan(cmd *cobra.Command, args []string) error {
	sc, err := loadScenario(cmd, args)
	if err != nil {
		return err
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}

	exp := experiment.New(sc, logger)
	if err := exp.Setup(); err != nil {
		return err
	}

	fmt.Printf("optimising scenario %s (%s objective, mode %d)...\n", sc.Name, sc.Objective, sc.DesiredMode)
	start := time.Now()

	result, err := exp.Run(context.Background())
	if err != nil {
		return err
	}

	elapsed := time.Since(start)

	runID, err := st.Save(sc, result.Trajectory, result.ControlMeans, result.ControlVars,
		result.Solver.Status, result.Solver.Loss, result.Solver.Iterations, result.Metrics)
	if err != nil {
		return err
	}

	fmt.Printf("completed in %v\n\n", elapsed)
	fmt.Println(headerStyle.Render("run ") + valueStyle.Render(runID))
	fmt.Println(headerStyle.Render("status ") + valueStyle.Render(result.Solver.Status))
	fmt.Println(headerStyle.Render("loss ") + valueStyle.Render(strconv.FormatFloat(result.Solver.Loss, 'g', 6, 64)))
	if result.Solver.EvalErr != nil {
		fmt.Println(headerStyle.Render("eval error ") + valueStyle.Render(result.Solver.EvalErr.Error()))
	}
	fmt.Println("\nmetrics:")
	for name, val := range result.Metrics {
		fmt.Printf("  %s: %.6f\n", name, val)
	}

	fmt.Println()
	plotTrajectory(result)
	return nil
}

func runRollout(cmd *cobra.Command, args []string) error {
	sc, err := loadScenario(cmd, args)
	if err != nil {
		return err
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	exp := experiment.New(sc, logger)
	if err := exp.Setup(); err != nil {
		return err
	}
	dyn := exp.Dynamics()

	controls := mat.NewDense(sc.Horizon, dyn.ControlDim(), nil)
	for t := 0; t < sc.Horizon; t++ {
		for j := 0; j < dyn.ControlDim(); j++ {
			controls.Set(t, j, rolloutControl)
		}
	}

	start := rollout.Belief{Mean: append([]float64(nil), sc.Start...)}
	if len(sc.StartVar) > 0 {
		start.Var = append([]float64(nil), sc.StartVar...)
	}

	tr, err := rollout.Controls(dyn, start, controls, nil)
	if err != nil {
		return err
	}

	fmt.Printf("rolled out %d steps under constant control %g (mode %d)\n\n",
		sc.Horizon, rolloutControl, sc.DesiredMode)

	means := tr.Means()
	n, dx := means.Dims()
	for i := 0; i < dx && i < 6; i++ {
		data := make([]float64, n)
		for t := 0; t < n; t++ {
			data[t] = means.At(t, i)
		}
		graph := asciigraph.Plot(data,
			asciigraph.Height(8),
			asciigraph.Width(70),
			asciigraph.Caption(fmt.Sprintf("x%d mean vs step", i)),
		)
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}

func plotTrajectory(result *experiment.Result) {
	means := result.Trajectory.Means()
	n, dx := means.Dims()
	for i := 0; i < dx && i < 6; i++ {
		data := make([]float64, n)
		for t := 0; t < n; t++ {
			data[t] = means.At(t, i)
		}
		graph := asciigraph.Plot(data,
			asciigraph.Height(8),
			asciigraph.Width(70),
			asciigraph.Caption(fmt.Sprintf("x%d mean vs step", i)),
		)
		fmt.Println(graph)
		fmt.Println()
	}
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSCENARIO\tOBJECTIVE\tMODE\tH\tTIME\tSTATUS\tLOSS")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\t%.4g\n",
			run.ID,
			run.Scenario,
			run.Objective,
			run.DesiredMode,
			run.Horizon,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Status,
			run.Loss,
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}

	rows, err := st.LoadTrajectory(runID)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("scenario: %s (%s)\n", meta.Scenario, meta.Objective)
	fmt.Printf("steps: %d\n\n", len(rows))

	numVars := len(rows[0])
	maxPlots := 6
	if numVars > maxPlots {
		numVars = maxPlots
	}

	for varIdx := 0; varIdx < numVars; varIdx++ {
		data := make([]float64, len(rows))
		for i := range rows {
			if varIdx < len(rows[i]) {
				data[i] = rows[i][varIdx]
			}
		}

		graph := asciigraph.Plot(data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(fmt.Sprintf("column %d vs step", varIdx)),
		)
		fmt.Println(graph)
		fmt.Println()
	}

	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func runSweep(cmd *cobra.Command, args []string) error {
	sc, err := loadScenario(cmd, args)
	if err != nil {
		return err
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	params := strings.Split(sweepParams, ",")
	valueLists := strings.Split(sweepValues, ";")
	if len(valueLists) != len(params) {
		return fmt.Errorf("%d parameters but %d value lists", len(params), len(valueLists))
	}
	ranges := make([][]float64, len(valueLists))
	for i, list := range valueLists {
		for _, s := range strings.Split(list, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return fmt.Errorf("bad sweep value %q: %w", s, err)
			}
			ranges[i] = append(ranges[i], v)
		}
	}

	search, err := optim.NewGridSearch(params, ranges)
	if err != nil {
		return err
	}

	fmt.Printf("sweeping %v over scenario %s...\n", params, sc.Name)
	bestParams, best, err := search.Search(context.Background(), sc, sweepMetric,
		func(s *config.Scenario) (*experiment.Experiment, error) {
			return experiment.New(s, logger), nil
		})
	if err != nil {
		return err
	}

	fmt.Printf("best %s: %.6f\n", sweepMetric, best)
	for name, val := range bestParams {
		fmt.Printf("  %s: %g\n", name, val)
	}
	return nil
}
