package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/montanaflynn/stats"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"gocausal/adapters/dataset"
	"gocausal/adapters/memory"
	"gocausal/app"
	"gocausal/domain/causal"
	"gocausal/domain/core"
	"gocausal/internal/testkit"
	"gocausal/ports"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gocausal",
		Short: "Semiparametric average treatment effect estimation",
	}

	rootCmd.AddCommand(
		newEstimateCmd(),
		newSimulateCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type estimateFlags struct {
	outcome    string
	treatment  string
	covariates []string
	sheet      string

	kernel        string
	dim           int
	threads       int
	maxIterations int
	level         float64
	datasetID     string
}

func newEstimateCmd() *cobra.Command {
	var flags estimateFlags

	cmd := &cobra.Command{
		Use:   "estimate [data-file]",
		Short: "Estimate the average treatment effect from a CSV or XLSX file",
		Long: `Run the imputation, IPW and doubly-robust estimators over an
observational dataset and print the resulting record as JSON.

The file needs one outcome column, one binary treatment column, and at
least two covariate columns.

Example: gocausal estimate study.csv --outcome y --treatment t --dim 1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEstimate(cmd.Context(), args[0], flags)
		},
	}

	cmd.Flags().StringVar(&flags.outcome, "outcome", "y", "Outcome column name")
	cmd.Flags().StringVar(&flags.treatment, "treatment", "t", "Treatment column name (values 0/1)")
	cmd.Flags().StringSliceVar(&flags.covariates, "covariates", nil, "Covariate column names (default: all remaining columns)")
	cmd.Flags().StringVar(&flags.sheet, "sheet", "Sheet1", "Worksheet name for XLSX files")
	cmd.Flags().StringVar(&flags.kernel, "kernel", string(causal.KernelEpanechnikov), "Smoothing kernel: epanechnikov or gaussian_cutoff")
	cmd.Flags().IntVar(&flags.dim, "dim", 1, "Dimension of the reduced index")
	cmd.Flags().IntVar(&flags.threads, "threads", 1, "Worker threads inside the optimizer")
	cmd.Flags().IntVar(&flags.maxIterations, "max-iterations", 2000, "Optimizer iteration budget per arm")
	cmd.Flags().Float64Var(&flags.level, "level", 0.95, "Confidence level for Wald intervals")
	cmd.Flags().StringVar(&flags.datasetID, "dataset-id", "", "Dataset identifier stamped into the record")

	return cmd
}

func runEstimate(ctx context.Context, path string, flags estimateFlags) error {
	var source ports.DatasetSource = dataset.NewReader(path, dataset.Options{
		Outcome:    flags.outcome,
		Treatment:  flags.treatment,
		Covariates: flags.covariates,
		Sheet:      flags.sheet,
	})

	sample, err := source.LoadSample(ctx)
	if err != nil {
		return fmt.Errorf("failed to load dataset: %w", err)
	}

	cfg := causal.DefaultConfig()
	cfg.Kernel = causal.KernelSpec(flags.kernel)
	cfg.Dim = flags.dim
	cfg.NThreads = flags.threads
	cfg.MaxIterations = flags.maxIterations

	service := app.NewEstimationService(memory.NewEstimateLedger())
	record, err := service.Estimate(ctx, app.EstimateRequest{
		Sample:    sample,
		Config:    cfg,
		DatasetID: core.DatasetID(flags.datasetID),
		Level:     flags.level,
	})
	if err != nil {
		return fmt.Errorf("estimation failed: %w", err)
	}

	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render record: %w", err)
	}
	fmt.Println(string(payload))

	return nil
}

type simulateFlags struct {
	reps    int
	n       int
	p       int
	tau     float64
	seed    int64
	workers int
	level   float64
	kernel  string
}

func newSimulateCmd() *cobra.Command {
	var flags simulateFlags

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run replicated synthetic studies and report estimator calibration",
		Long: `Generate seeded synthetic observational studies with a known
treatment effect, estimate each one, and summarize bias and Wald
interval coverage across replications.

Example: gocausal simulate --reps 100 --n 200 --tau 2 --workers 4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.Context(), flags)
		},
	}

	cmd.Flags().IntVar(&flags.reps, "reps", 100, "Number of replications")
	cmd.Flags().IntVar(&flags.n, "n", 200, "Observations per replication")
	cmd.Flags().IntVar(&flags.p, "p", 5, "Covariate dimension")
	cmd.Flags().Float64Var(&flags.tau, "tau", 2.0, "True additive treatment effect")
	cmd.Flags().Int64Var(&flags.seed, "seed", 1000, "Base random seed; replication r uses seed+r")
	cmd.Flags().IntVar(&flags.workers, "workers", 1, "Replications run concurrently")
	cmd.Flags().Float64Var(&flags.level, "level", 0.95, "Confidence level scored for coverage")
	cmd.Flags().StringVar(&flags.kernel, "kernel", string(causal.KernelGaussianCutoff), "Smoothing kernel: epanechnikov or gaussian_cutoff")

	return cmd
}

// simulationSummary is the JSON report of one simulate run
type simulationSummary struct {
	Reps     int     `json:"reps"`
	N        int     `json:"n"`
	P        int     `json:"p"`
	Tau      float64 `json:"tau"`
	Level    float64 `json:"level"`
	Coverage float64 `json:"coverage"`

	ImpMean  float64 `json:"imp_mean"`
	ImpSD    float64 `json:"imp_sd"`
	AIPWMean float64 `json:"aipw_mean"`
	AIPWSD   float64 `json:"aipw_sd"`
	MeanSE   float64 `json:"mean_se"`
}

func runSimulate(ctx context.Context, flags simulateFlags) error {
	if flags.reps < 1 {
		return fmt.Errorf("reps must be at least 1, got %d", flags.reps)
	}
	if flags.workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", flags.workers)
	}

	base := testkit.DefaultScenario()
	base.N = flags.n
	base.P = flags.p
	base.Tau = flags.tau
	base.OutcomeDirection = padDirection(base.OutcomeDirection, flags.p)
	base.PropensityDirection = padDirection(base.PropensityDirection, flags.p)

	cfg := causal.DefaultConfig()
	cfg.Kernel = causal.KernelSpec(flags.kernel)
	// concurrency lives at the replication level here
	cfg.NThreads = 1

	outcomeGuess := directionRows(base.OutcomeDirection)
	propensityGuess := directionRows(base.PropensityDirection)

	service := app.NewEstimationService(memory.NewEstimateLedger())

	fmt.Printf("Running %d replications (n=%d, p=%d, tau=%v, workers=%d)...\n",
		flags.reps, flags.n, flags.p, flags.tau, flags.workers)

	impATE := make([]float64, flags.reps)
	aipwATE := make([]float64, flags.reps)
	se := make([]float64, flags.reps)
	covered := make([]bool, flags.reps)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(flags.workers)
	for r := 0; r < flags.reps; r++ {
		r := r
		g.Go(func() error {
			scen := base
			scen.Seed = flags.seed + int64(r)
			sample, truth, err := testkit.Generate(scen)
			if err != nil {
				return fmt.Errorf("replication %d: %w", r, err)
			}

			record, err := service.Estimate(gctx, app.EstimateRequest{
				Sample: sample,
				Config: cfg,
				Level:  flags.level,
				Guess1: outcomeGuess,
				Guess0: outcomeGuess,
				GuessP: propensityGuess,
			})
			if err != nil {
				return fmt.Errorf("replication %d: %w", r, err)
			}

			impATE[r] = record.Imp.ATE
			aipwATE[r] = record.AIPW.ATE
			se[r] = record.Imp.StdErr
			covered[r] = record.Imp.Interval.Lower <= truth.Tau && truth.Tau <= record.Imp.Interval.Upper
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	hits := 0
	for _, c := range covered {
		if c {
			hits++
		}
	}

	summary := simulationSummary{
		Reps:     flags.reps,
		N:        flags.n,
		P:        flags.p,
		Tau:      flags.tau,
		Level:    flags.level,
		Coverage: float64(hits) / float64(flags.reps),
	}
	summary.ImpMean, _ = stats.Mean(impATE)
	summary.AIPWMean, _ = stats.Mean(aipwATE)
	summary.MeanSE, _ = stats.Mean(se)
	if flags.reps > 1 {
		summary.ImpSD, _ = stats.StandardDeviationSample(impATE)
		summary.AIPWSD, _ = stats.StandardDeviationSample(aipwATE)
	}

	payload, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render summary: %w", err)
	}
	fmt.Println(string(payload))

	return nil
}

// padDirection resizes a direction vector to length p, padding with zeros.
// The leading entries always stay, so the index remains non-degenerate.
func padDirection(dir []float64, p int) []float64 {
	out := make([]float64, p)
	copy(out, dir)
	return out
}

// directionRows scales a direction to a leading 1 and shapes it as the
// p×1 starting guess the estimators expect.
func directionRows(dir []float64) [][]float64 {
	rows := make([][]float64, len(dir))
	lead := dir[0]
	for i, v := range dir {
		rows[i] = []float64{v / lead}
	}
	return rows
}
