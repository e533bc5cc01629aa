// Package ate implements the average-treatment-effect estimators built on
// the dimension-reduction fits: the imputation estimator, the
// inverse-probability-weighted estimator, their doubly-robust combination,
// and the closed-form variance of each.
package ate

import (
	"fmt"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"

	"gocausal/domain/causal"
	"gocausal/internal/errors"
	"gocausal/internal/sdr"
)

// DefaultGuess returns the neutral starting direction: the upper d×d block
// is the identity and the lower block is zero, so the initial index is the
// first d covariates.
func DefaultGuess(p, d int) *mat.Dense {
	guess := mat.NewDense(p, d, nil)
	for l := 0; l < d; l++ {
		guess.Set(l, l, 1)
	}
	return guess
}

// Imp computes the imputation estimate: one dimension-reduction fit per
// treatment arm, each outcome surface evaluated over the full sample, and
// ATE = mean(m1) − mean(m0). Nil guesses start from DefaultGuess. The two
// arm fits run sequentially; parallelism lives inside the optimizer.
func Imp(sample *causal.Sample, cfg causal.Config, guess1, guess0 *mat.Dense) (*causal.ImpResult, error) {
	if sample == nil {
		return nil, &causal.ValidationError{Field: "sample", Reason: "sample must be set"}
	}
	if err := cfg.Validate(sample.P()); err != nil {
		return nil, err
	}
	if guess1 == nil {
		guess1 = DefaultGuess(sample.P(), cfg.Dim)
	}
	if guess0 == nil {
		guess0 = DefaultGuess(sample.P(), cfg.Dim)
	}

	treated, err := fitArm(sample, cfg, cfg.TreatedBandwidths, sample.ArmIndices(1), sample.Y, guess1)
	if err != nil {
		return nil, err
	}
	control, err := fitArm(sample, cfg, cfg.ControlBandwidths, sample.ArmIndices(0), sample.Y, guess0)
	if err != nil {
		return nil, err
	}

	m1Mean, err := stats.Mean(treated.M)
	if err != nil {
		return nil, errors.Wrap(err, "treated surface mean")
	}
	m0Mean, err := stats.Mean(control.M)
	if err != nil {
		return nil, errors.Wrap(err, "control surface mean")
	}

	return &causal.ImpResult{
		ATE:     m1Mean - m0Mean,
		Treated: armFitRecord(treated),
		Control: armFitRecord(control),
	}, nil
}

// IPW computes the inverse-probability-weighted estimate: the propensity is
// the treatment indicator smoothed on its own dimension-reduction index over
// the full sample, and ATE = mean(T·Y/pr) − mean((1−T)·Y/(1−pr)). A fitted
// propensity within PropensityFloor of {0, 1} is an error, never a clamp.
func IPW(sample *causal.Sample, cfg causal.Config, guess *mat.Dense) (*causal.IPWResult, error) {
	if sample == nil {
		return nil, &causal.ValidationError{Field: "sample", Reason: "sample must be set"}
	}
	if err := cfg.Validate(sample.P()); err != nil {
		return nil, err
	}
	if guess == nil {
		guess = DefaultGuess(sample.P(), cfg.Dim)
	}

	fit, err := fitArm(sample, cfg, cfg.PropensityBandwidths, sample.Indices(), sample.TreatmentVector(), guess)
	if err != nil {
		return nil, err
	}

	pr := fit.M
	for i, ps := range pr {
		if ps <= cfg.PropensityFloor || ps >= 1-cfg.PropensityFloor {
			return nil, errors.PropensityBoundary(fmt.Sprintf(
				"fitted propensity %.4f at observation %d leaves (%.3f, %.3f)",
				ps, i, cfg.PropensityFloor, 1-cfg.PropensityFloor))
		}
	}

	n := float64(sample.N())
	sumTreated, sumControl := 0.0, 0.0
	for i := range pr {
		if sample.T[i] == 1 {
			sumTreated += sample.Y[i] / pr[i]
		} else {
			sumControl += sample.Y[i] / (1 - pr[i])
		}
	}

	return &causal.IPWResult{
		ATE: sumTreated/n - sumControl/n,
		Fit: armFitRecord(fit),
	}, nil
}

// AIPW combines the imputation surfaces with propensity weighting into the
// doubly-robust estimate
//
//	ATE = mean(m1 + T·(Y−m1)/pr) − mean(m0 + (1−T)·(Y−m0)/(1−pr))
func AIPW(sample *causal.Sample, imp *causal.ImpResult, pr []float64) (*causal.AIPWResult, error) {
	if sample == nil {
		return nil, &causal.ValidationError{Field: "sample", Reason: "sample must be set"}
	}
	if imp == nil {
		return nil, &causal.ValidationError{Field: "imp", Reason: "imputation result must be set"}
	}
	n := sample.N()
	if err := validatePropensity(pr, n); err != nil {
		return nil, err
	}
	m1, m0 := imp.Treated.M, imp.Control.M
	if len(m1) != n || len(m0) != n {
		return nil, &causal.ValidationError{Field: "imp", Reason: "fitted surfaces must cover the full sample"}
	}

	sumTreated, sumControl := 0.0, 0.0
	for i := 0; i < n; i++ {
		t := float64(sample.T[i])
		sumTreated += m1[i] + t*(sample.Y[i]-m1[i])/pr[i]
		sumControl += m0[i] + (1-t)*(sample.Y[i]-m0[i])/(1-pr[i])
	}
	treatedMean := sumTreated / float64(n)
	controlMean := sumControl / float64(n)

	return &causal.AIPWResult{
		ATE:         treatedMean - controlMean,
		TreatedMean: treatedMean,
		ControlMean: controlMean,
	}, nil
}

func fitArm(sample *causal.Sample, cfg causal.Config, bw causal.Bandwidths, subset []int, response []float64, guess *mat.Dense) (*sdr.Fit, error) {
	opts, err := sdr.NewOptions(cfg, bw)
	if err != nil {
		return nil, err
	}
	return sdr.Estimate(sdr.Problem{
		X:        sample.X,
		Response: response,
		Subset:   subset,
		Dim:      cfg.Dim,
		Guess:    guess,
	}, opts)
}

func armFitRecord(fit *sdr.Fit) causal.ArmFit {
	return causal.ArmFit{
		Beta:       causal.RowsFromDense(fit.Beta),
		M:          fit.M,
		DM:         causal.RowsFromDense(fit.DM),
		Bandwidths: fit.Bandwidths,
		Iterations: fit.Iterations,
	}
}

// validatePropensity enforces the open-interval contract on supplied
// propensity scores before any division happens
func validatePropensity(pr []float64, n int) error {
	if len(pr) != n {
		return &causal.ValidationError{Field: "pr", Reason: "propensity length must match sample size"}
	}
	for _, ps := range pr {
		if !(ps > 0 && ps < 1) {
			return &causal.ValidationError{Field: "pr", Reason: "propensity scores must lie strictly inside (0, 1)"}
		}
	}
	return nil
}
