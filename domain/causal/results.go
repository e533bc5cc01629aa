package causal

import (
	"math"

	"gocausal/domain/core"
)

// ============================================================================
// FIT RECORDS (per-arm dimension-reduction outputs)
// ============================================================================

// ArmFit captures one fitted dimension-reduction surface: the direction
// matrix, the smoothed outcome and its index derivative at every observation
// of the full sample, and the bandwidths actually used.
type ArmFit struct {
	Beta       [][]float64 `json:"beta"`       // p×d, upper d×d block fixed to the identity
	M          []float64   `json:"m"`          // n fitted values
	DM         [][]float64 `json:"dm"`         // n×d index derivatives
	Bandwidths Bandwidths  `json:"bandwidths"` // literal values after any derivation
	Iterations int         `json:"iterations"` // optimizer major iterations consumed
}

// ImpResult is the imputation estimate: per-arm fits plus the ATE
type ImpResult struct {
	ATE     float64 `json:"ate"`
	Treated ArmFit  `json:"treated"`
	Control ArmFit  `json:"control"`
}

// IPWResult is the inverse-probability-weighted estimate. The fit smooths
// the treatment indicator on its own index, so Fit.M is the propensity.
type IPWResult struct {
	ATE float64 `json:"ate"`
	Fit ArmFit  `json:"fit"`
}

// Propensity returns the fitted propensity score per observation
func (r IPWResult) Propensity() []float64 {
	return r.Fit.M
}

// AIPWResult is the doubly-robust combination of Imp and IPW
type AIPWResult struct {
	ATE         float64 `json:"ate"`
	TreatedMean float64 `json:"treated_mean"` // mean(m1 + T*(Y-m1)/pr)
	ControlMean float64 `json:"control_mean"` // mean(m0 + (1-T)*(Y-m0)/(1-pr))
}

// ============================================================================
// SUMMARIES AND PERSISTED RECORD
// ============================================================================

// Interval is a two-sided Wald confidence interval
type Interval struct {
	Level float64 `json:"level"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// EstimateSummary pairs a point estimate with its variance-based interval
type EstimateSummary struct {
	ATE      float64   `json:"ate"`
	Variance float64   `json:"variance,omitempty"`
	StdErr   float64   `json:"std_err,omitempty"`
	Interval *Interval `json:"interval,omitempty"`
}

// NewEstimateSummary builds a summary with a Wald interval at the given
// level from an estimate and its variance. zQuantile is the standard normal
// quantile matching the level (1.96 for 95%).
func NewEstimateSummary(ate, variance, level, zQuantile float64) EstimateSummary {
	se := math.Sqrt(variance)
	return EstimateSummary{
		ATE:      ate,
		Variance: variance,
		StdErr:   se,
		Interval: &Interval{
			Level: level,
			Lower: ate - zQuantile*se,
			Upper: ate + zQuantile*se,
		},
	}
}

// EstimateRecord is the persisted artifact of one estimation run. Only the
// final estimates, directions, and configuration are recorded; fitted
// surfaces stay in memory with the result values.
type EstimateRecord struct {
	ID        core.EstimateID `json:"id"`
	DatasetID core.DatasetID  `json:"dataset_id,omitempty"`
	N         int             `json:"n"`
	P         int             `json:"p"`
	Config    Config          `json:"config"`

	Imp  *EstimateSummary `json:"imp,omitempty"`
	IPW  *EstimateSummary `json:"ipw,omitempty"`
	AIPW *EstimateSummary `json:"aipw,omitempty"`

	Beta1 [][]float64 `json:"beta1,omitempty"`  // treated-arm direction
	Beta0 [][]float64 `json:"beta0,omitempty"`  // control-arm direction
	BetaP [][]float64 `json:"beta_p,omitempty"` // propensity direction

	RuntimeMs int64          `json:"runtime_ms"`
	CreatedAt core.Timestamp `json:"created_at"`
}

// NewEstimateRecord stamps a fresh record for a run over an n×p sample
func NewEstimateRecord(n, p int, cfg Config) *EstimateRecord {
	return &EstimateRecord{
		ID:        core.NewEstimateID(),
		N:         n,
		P:         p,
		Config:    cfg,
		CreatedAt: core.Now(),
	}
}
