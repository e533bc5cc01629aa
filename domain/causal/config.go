package causal

import (
	"math"

	"github.com/montanaflynn/stats"
)

// ============================================================================
// KERNEL SPECIFICATION
// ============================================================================

// KernelSpec selects the kernel family used by every regression in a run
type KernelSpec string

const (
	KernelEpanechnikov   KernelSpec = "epanechnikov"    // 0.75*(1-u^2) on |u|<1
	KernelGaussianCutoff KernelSpec = "gaussian_cutoff" // exp(-u^2/2) truncated at a density cutoff
)

// Valid reports whether k names a supported kernel family
func (k KernelSpec) Valid() bool {
	return k == KernelEpanechnikov || k == KernelGaussianCutoff
}

// ============================================================================
// BANDWIDTHS
// ============================================================================

// Bandwidths holds the five smoothing bandwidths of one dimension-reduction
// fit. With ExplicitBandwidth=false the fields are Silverman scales instead
// of literal bandwidths (see Derive).
type Bandwidths struct {
	H0  float64 `json:"h0"`  // criterion regression
	H11 float64 `json:"h11"` // local slope inside the gradient
	H12 float64 `json:"h12"` // lower-block conditional mean inside the gradient
	H13 float64 `json:"h13"` // published fitted outcome m
	H14 float64 `json:"h14"` // published index derivative dm
}

// Validate checks that every bandwidth (or scale) is positive
func (b Bandwidths) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"h0", b.H0}, {"h11", b.H11}, {"h12", b.H12}, {"h13", b.H13}, {"h14", b.H14},
	} {
		if f.v <= 0 || math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return &ValidationError{Field: f.name, Reason: "bandwidth must be positive and finite"}
		}
	}
	return nil
}

// Derive applies the Silverman reference rule to each scale:
// h = scale * sd(index) * armSize^(-1/5). Doubling a scale doubles the
// derived bandwidth. The index is the projection restricted to the arm the
// bandwidth will smooth over.
func (b Bandwidths) Derive(index []float64, armSize int) (Bandwidths, error) {
	if armSize < 2 {
		return Bandwidths{}, &ValidationError{Field: "armSize", Reason: "bandwidth derivation needs at least two observations"}
	}
	sd, err := stats.StandardDeviationSample(index)
	if err != nil {
		return Bandwidths{}, &ValidationError{Field: "index", Reason: "bandwidth derivation needs a non-empty index"}
	}
	if sd <= 0 {
		return Bandwidths{}, &ValidationError{Field: "index", Reason: "index has zero variance"}
	}
	factor := sd * math.Pow(float64(armSize), -0.2)
	return Bandwidths{
		H0:  b.H0 * factor,
		H11: b.H11 * factor,
		H12: b.H12 * factor,
		H13: b.H13 * factor,
		H14: b.H14 * factor,
	}, nil
}

// DefaultBandwidthScales returns unit scales for the criterion and gradient
// smoothers and a wider 1.25 for the published surfaces
func DefaultBandwidthScales() Bandwidths {
	return Bandwidths{H0: 1.0, H11: 1.0, H12: 1.0, H13: 1.25, H14: 1.25}
}

// ============================================================================
// ESTIMATION CONFIG (explicit value object threaded through every call)
// ============================================================================

// Config carries every knob of an estimation run. There is no process-wide
// default: callers thread one Config through all regressions and fits.
type Config struct {
	Dim               int        `json:"dim"`                // d, number of index directions
	Kernel            KernelSpec `json:"kernel"`             // kernel family for all regressions
	GaussCutoff       float64    `json:"gauss_cutoff"`       // density threshold for the truncated Gaussian
	ExplicitBandwidth bool       `json:"explicit_bandwidth"` // treat bandwidth fields as literal values, not scales

	TreatedBandwidths    Bandwidths `json:"treated_bandwidths"`
	ControlBandwidths    Bandwidths `json:"control_bandwidths"`
	PropensityBandwidths Bandwidths `json:"propensity_bandwidths"`

	Penalty    float64 `json:"penalty"`      // objective contribution of a low-support point
	NBeforePen int     `json:"n_before_pen"` // minimum kernel neighbors before the penalty applies

	NThreads      int `json:"n_threads"`      // worker count for criterion/gradient chunks
	MaxIterations int `json:"max_iterations"` // optimizer major-iteration budget

	Truncate           bool `json:"truncate"`            // clamp cross-arm evaluation indexes into the fitted range
	Extrapolate        bool `json:"extrapolate"`         // linear extrapolation for zero-support evaluations
	ExtrapolationBasis int  `json:"extrapolation_basis"` // nearest in-range points for the linear fit

	PropensityFloor float64 `json:"propensity_floor"` // minimum distance of fitted propensity from {0,1}
}

// DefaultConfig returns the estimation defaults
func DefaultConfig() Config {
	return Config{
		Dim:                  1,
		Kernel:               KernelEpanechnikov,
		GaussCutoff:          1e-3,
		ExplicitBandwidth:    false,
		TreatedBandwidths:    DefaultBandwidthScales(),
		ControlBandwidths:    DefaultBandwidthScales(),
		PropensityBandwidths: DefaultBandwidthScales(),
		Penalty:              10,
		NBeforePen:           5,
		NThreads:             1,
		MaxIterations:        2000,
		Truncate:             true,
		Extrapolate:          true,
		ExtrapolationBasis:   5,
		PropensityFloor:      0.01,
	}
}

// Validate checks the config against the covariate dimension p
func (c Config) Validate(p int) error {
	if c.Dim < 1 || c.Dim > p-1 {
		return &ValidationError{Field: "dim", Reason: "index dimension must be in [1, p-1]"}
	}
	if !c.Kernel.Valid() {
		return &ValidationError{Field: "kernel", Reason: "unknown kernel specification"}
	}
	if c.Kernel == KernelGaussianCutoff && (c.GaussCutoff <= 0 || c.GaussCutoff >= 1) {
		return &ValidationError{Field: "gauss_cutoff", Reason: "cutoff must lie strictly inside (0, 1)"}
	}
	for _, bw := range []struct {
		name string
		b    Bandwidths
	}{
		{"treated_bandwidths", c.TreatedBandwidths},
		{"control_bandwidths", c.ControlBandwidths},
		{"propensity_bandwidths", c.PropensityBandwidths},
	} {
		if err := bw.b.Validate(); err != nil {
			return &ValidationError{Field: bw.name, Reason: err.Error()}
		}
	}
	if c.Penalty < 0 || math.IsNaN(c.Penalty) {
		return &ValidationError{Field: "penalty", Reason: "penalty must be non-negative"}
	}
	if c.NBeforePen < 1 {
		return &ValidationError{Field: "n_before_pen", Reason: "neighbor threshold must be at least 1"}
	}
	if c.NThreads < 1 {
		return &ValidationError{Field: "n_threads", Reason: "thread count must be at least 1"}
	}
	if c.MaxIterations < 1 {
		return &ValidationError{Field: "max_iterations", Reason: "iteration budget must be at least 1"}
	}
	if c.Extrapolate && c.ExtrapolationBasis < 2 {
		return &ValidationError{Field: "extrapolation_basis", Reason: "linear extrapolation needs at least 2 basis points"}
	}
	if c.PropensityFloor < 0 || c.PropensityFloor >= 0.5 {
		return &ValidationError{Field: "propensity_floor", Reason: "propensity floor must lie in [0, 0.5)"}
	}
	return nil
}
