// Package sdr estimates sufficient-dimension-reduction directions: the p×d
// projection beta that collapses the covariates of one treatment arm into a
// d-dimensional index carrying all regression information about the
// response. The direction solves a kernel-weighted semiparametric
// least-squares problem; the per-observation criterion and gradient
// contributions are accumulated across a worker pool.
package sdr

import (
	"fmt"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"gocausal/domain/causal"
	"gocausal/internal/errors"
	"gocausal/internal/kernel"
	"gocausal/internal/smoothing"
)

// ============================================================================
// PROBLEM AND OPTIONS
// ============================================================================

// Problem is one dimension-reduction fit: a response smoothed over the index
// of the subset rows. The outcome estimators pass one treatment arm and Y;
// the propensity estimator passes every row and the treatment indicator.
type Problem struct {
	X        *mat.Dense // n×p covariates, full sample
	Response []float64  // length n, the smoothed target
	Subset   []int      // row indices forming the estimation arm
	Dim      int        // d, index dimension
	Guess    *mat.Dense // p×d initial direction
}

// Options carries the optimizer knobs of one fit, resolved from a Config
// and the bandwidth set for the arm being fitted.
type Options struct {
	Kernel            kernel.Kernel
	Bandwidths        causal.Bandwidths // literal values, or Silverman scales
	ExplicitBandwidth bool

	Penalty      float64 // criterion contribution of a low-support point
	MinNeighbors int     // leave-one-out neighbors required before the penalty applies

	Threads       int
	MaxIterations int

	// published-surface policy for full-sample evaluation
	Truncate           bool
	Extrapolate        bool
	ExtrapolationBasis int
}

// NewOptions resolves estimator options from a run configuration and the
// bandwidth set of the arm being fitted.
func NewOptions(cfg causal.Config, bw causal.Bandwidths) (Options, error) {
	kern, err := kernel.FromSpec(cfg.Kernel, cfg.GaussCutoff)
	if err != nil {
		return Options{}, err
	}
	if err := bw.Validate(); err != nil {
		return Options{}, err
	}
	if cfg.Penalty < 0 {
		return Options{}, &causal.ValidationError{Field: "penalty", Reason: "penalty must be non-negative"}
	}
	if cfg.NBeforePen < 1 {
		return Options{}, &causal.ValidationError{Field: "n_before_pen", Reason: "neighbor threshold must be at least 1"}
	}
	if cfg.NThreads < 1 {
		return Options{}, &causal.ValidationError{Field: "n_threads", Reason: "thread count must be at least 1"}
	}
	if cfg.MaxIterations < 1 {
		return Options{}, &causal.ValidationError{Field: "max_iterations", Reason: "iteration budget must be at least 1"}
	}
	return Options{
		Kernel:             kern,
		Bandwidths:         bw,
		ExplicitBandwidth:  cfg.ExplicitBandwidth,
		Penalty:            cfg.Penalty,
		MinNeighbors:       cfg.NBeforePen,
		Threads:            cfg.NThreads,
		MaxIterations:      cfg.MaxIterations,
		Truncate:           cfg.Truncate,
		Extrapolate:        cfg.Extrapolate,
		ExtrapolationBasis: cfg.ExtrapolationBasis,
	}, nil
}

// Fit is one converged dimension-reduction estimate. M and DM are evaluated
// at every observation of the full sample, including rows outside the fitted
// arm, with the observation's own kernel weight included where the
// evaluation point is an arm point.
type Fit struct {
	Beta       *mat.Dense // p×d, upper d×d block is the identity
	M          []float64  // n fitted responses
	DM         *mat.Dense // n×d index derivatives
	Bandwidths causal.Bandwidths
	Iterations int
}

// ============================================================================
// ESTIMATION
// ============================================================================

// Estimate solves for the projection direction of one arm and publishes the
// fitted surface and its index derivative over the full sample.
//
// The direction is parametrized as beta = [I_d ; B] with the upper d×d block
// fixed to the identity, so the free parameter vector is vec(B) of length
// (p−d)·d and the guess must carry an invertible upper block. With derived
// bandwidths the Silverman rule is applied once, to the index at the
// normalized guess, before optimization starts.
func Estimate(prob Problem, opts Options) (*Fit, error) {
	n, p, err := prob.validate()
	if err != nil {
		return nil, err
	}
	d := prob.Dim
	armN := len(prob.Subset)

	armX := mat.NewDense(armN, p, nil)
	armY := make([]float64, armN)
	for i, row := range prob.Subset {
		for j := 0; j < p; j++ {
			armX.Set(i, j, prob.X.At(row, j))
		}
		armY[i] = prob.Response[row]
	}

	free, err := normalizeGuess(prob.Guess, p, d)
	if err != nil {
		return nil, err
	}

	bw := opts.Bandwidths
	if !opts.ExplicitBandwidth {
		idx0 := projectArm(armX, free, p, d)
		bw, err = opts.Bandwidths.Derive(flatten(idx0), armN)
		if err != nil {
			return nil, err
		}
	}

	ev := &evaluator{
		kern:         opts.Kernel,
		armX:         armX,
		armY:         armY,
		lower:        lowerBlock(armX, d),
		p:            p,
		d:            d,
		bw:           bw,
		penalty:      opts.Penalty,
		minNeighbors: opts.MinNeighbors,
		workers:      opts.Threads,
	}

	objective := optimize.Problem{
		Func: func(x []float64) float64 {
			return ev.evaluate(x, nil)
		},
		Grad: func(grad, x []float64) {
			ev.evaluate(x, grad)
		},
	}
	settings := &optimize.Settings{
		GradientThreshold: 1e-6,
		MajorIterations:   opts.MaxIterations,
	}

	result, err := minimizeWithRescue(objective, free, settings)
	if err != nil {
		return nil, err
	}
	if result.Status == optimize.IterationLimit {
		return nil, errors.NoConvergence(fmt.Sprintf("no convergence after %d iterations", opts.MaxIterations))
	}
	if serr := result.Status.Err(); serr != nil {
		return nil, errors.WithCode(errors.CodeNoConvergence, errors.Wrap(serr, "dimension reduction terminated abnormally"))
	}

	beta := betaFromFree(result.X, p, d)
	armIdx := mat.NewDense(armN, d, nil)
	armIdx.Mul(armX, beta)
	fullIdx := mat.NewDense(n, d, nil)
	fullIdx.Mul(prob.X, beta)

	sm := smoothing.New(opts.Kernel)
	pol := smoothing.Policy{
		Truncate:    opts.Truncate,
		Extrapolate: opts.Extrapolate,
		Basis:       opts.ExtrapolationBasis,
	}
	m, err := sm.RegressVector(armY, armIdx, fullIdx, bw.H13, pol)
	if err != nil {
		return nil, err
	}
	dm, err := sm.Slope(armY, armIdx, fullIdx, bw.H14, pol)
	if err != nil {
		return nil, err
	}

	return &Fit{
		Beta:       beta,
		M:          m,
		DM:         dm,
		Bandwidths: bw,
		Iterations: result.Stats.MajorIterations,
	}, nil
}

// minimizeWithRescue runs BFGS with a MoreThuente line search and retries
// derivative-free on method failure. The analytic gradient is the
// estimating-equation form, not the exact criterion derivative, so the line
// search can fail near degenerate configurations; hitting the iteration
// budget is not rescued.
func minimizeWithRescue(p optimize.Problem, start []float64, settings *optimize.Settings) (*optimize.Result, error) {
	bfgs := &optimize.BFGS{Linesearcher: &optimize.MoreThuente{}}
	result, err := optimize.Minimize(p, start, settings, bfgs)
	if err == nil && result != nil && result.Status != optimize.Failure {
		return result, nil
	}

	nm, nmErr := optimize.Minimize(p, start, settings, &optimize.NelderMead{})
	if nmErr == nil && nm != nil && nm.Status != optimize.Failure {
		return nm, nil
	}

	if err == nil {
		err = nmErr
	}
	if err != nil {
		return nil, errors.WithCode(errors.CodeNoConvergence, errors.Wrap(err, "dimension reduction optimizer failed"))
	}
	return nil, errors.NoConvergence("dimension reduction optimizer failed")
}

// ============================================================================
// VALIDATION AND PARAMETRIZATION
// ============================================================================

func (prob *Problem) validate() (n, p int, err error) {
	if prob.X == nil {
		return 0, 0, &causal.ValidationError{Field: "x", Reason: "covariate matrix must be set"}
	}
	n, p = prob.X.Dims()
	if n == 0 || p == 0 {
		return 0, 0, &causal.ValidationError{Field: "x", Reason: "covariate matrix must be non-empty"}
	}
	if len(prob.Response) != n {
		return 0, 0, &causal.ValidationError{Field: "response", Reason: "response length must match covariate rows"}
	}
	if prob.Dim < 1 || prob.Dim > p-1 {
		return 0, 0, &causal.ValidationError{Field: "dim", Reason: "index dimension must be in [1, p-1]"}
	}
	if prob.Guess == nil {
		return 0, 0, &causal.ValidationError{Field: "beta_guess", Reason: "initial direction must be set"}
	}
	if gr, gc := prob.Guess.Dims(); gr != p || gc != prob.Dim {
		return 0, 0, &causal.ValidationError{Field: "beta_guess", Reason: "initial direction must be p×d"}
	}
	if len(prob.Subset) == 0 {
		return 0, 0, &causal.ValidationError{Field: "subset", Reason: "estimation arm must be non-empty"}
	}
	for _, row := range prob.Subset {
		if row < 0 || row >= n {
			return 0, 0, &causal.ValidationError{Field: "subset", Reason: "arm index out of range"}
		}
	}
	if len(prob.Subset) < p {
		return 0, 0, &causal.ValidationError{Field: "subset", Reason: "arm has fewer observations than covariates"}
	}

	// the gradient centers the lower covariate block, so a constant column
	// there makes the estimating equation degenerate
	col := make([]float64, len(prob.Subset))
	for q := prob.Dim; q < p; q++ {
		for i, row := range prob.Subset {
			col[i] = prob.X.At(row, q)
		}
		sd, sdErr := stats.StandardDeviationSample(col)
		if sdErr != nil || sd <= 0 {
			return 0, 0, &causal.ValidationError{Field: "x", Reason: "lower covariate block has a zero-variance column"}
		}
	}
	return n, p, nil
}

// normalizeGuess re-expresses an arbitrary p×d guess in the identity-block
// parametrization and returns the free vector vec(B), row-major over the
// p−d lower rows.
func normalizeGuess(guess *mat.Dense, p, d int) ([]float64, error) {
	var upper mat.Dense
	upper.CloneFrom(guess.Slice(0, d, 0, d))
	var inv mat.Dense
	if err := inv.Inverse(&upper); err != nil {
		return nil, &causal.ValidationError{Field: "beta_guess", Reason: "upper d×d block must be invertible"}
	}
	var lower mat.Dense
	lower.Mul(guess.Slice(d, p, 0, d), &inv)

	free := make([]float64, (p-d)*d)
	for j := 0; j < p-d; j++ {
		for l := 0; l < d; l++ {
			free[j*d+l] = lower.At(j, l)
		}
	}
	return free, nil
}

// betaFromFree rebuilds the p×d direction from the free vector
func betaFromFree(free []float64, p, d int) *mat.Dense {
	beta := mat.NewDense(p, d, nil)
	for l := 0; l < d; l++ {
		beta.Set(l, l, 1)
	}
	for j := 0; j < p-d; j++ {
		for l := 0; l < d; l++ {
			beta.Set(d+j, l, free[j*d+l])
		}
	}
	return beta
}

// projectArm computes the arm index at a free parameter vector
func projectArm(armX *mat.Dense, free []float64, p, d int) *mat.Dense {
	armN, _ := armX.Dims()
	idx := mat.NewDense(armN, d, nil)
	idx.Mul(armX, betaFromFree(free, p, d))
	return idx
}

// lowerBlock copies covariate columns d..p-1 of the arm
func lowerBlock(armX *mat.Dense, d int) *mat.Dense {
	armN, p := armX.Dims()
	lower := mat.NewDense(armN, p-d, nil)
	for i := 0; i < armN; i++ {
		for q := 0; q < p-d; q++ {
			lower.Set(i, q, armX.At(i, d+q))
		}
	}
	return lower
}

// flatten copies a matrix row-major into one slice
func flatten(m *mat.Dense) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out = append(out, m.At(i, j))
		}
	}
	return out
}
