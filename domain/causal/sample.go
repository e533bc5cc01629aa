// Package causal defines the observational-study sample, estimation
// configuration, and estimate records shared by all estimators.
package causal

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// ============================================================================
// SAMPLE (canonical estimation input)
// ============================================================================

// Sample is an observational study: an n×p covariate matrix, n outcomes,
// and n binary treatment indicators.
// INVARIANTS:
// - X, Y, T share the same n and contain only finite values
// - T holds only 0 (control) and 1 (treated), with both arms non-empty
type Sample struct {
	X *mat.Dense // n×p covariates
	Y []float64  // n observed outcomes
	T []int      // n treatment indicators (1 treated, 0 control)
}

// NewSample creates a sample with validation
func NewSample(x *mat.Dense, y []float64, t []int) (*Sample, error) {
	if x == nil {
		return nil, &ValidationError{Field: "x", Reason: "covariate matrix must be set"}
	}
	n, p := x.Dims()
	if n == 0 || p == 0 {
		return nil, &ValidationError{Field: "x", Reason: "covariate matrix must be non-empty"}
	}
	if len(y) != n {
		return nil, &ValidationError{Field: "y", Reason: "outcome length must match covariate rows"}
	}
	if len(t) != n {
		return nil, &ValidationError{Field: "t", Reason: "treatment length must match covariate rows"}
	}
	treated, control := 0, 0
	for i, ti := range t {
		switch ti {
		case 1:
			treated++
		case 0:
			control++
		default:
			return nil, &ValidationError{Field: "t", Reason: "treatment indicators must be 0 or 1"}
		}
		if math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			return nil, &ValidationError{Field: "y", Reason: "outcomes must be finite"}
		}
	}
	if treated == 0 || control == 0 {
		return nil, &ValidationError{Field: "t", Reason: "both treatment arms must be non-empty"}
	}
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			if v := x.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, &ValidationError{Field: "x", Reason: "covariates must be finite"}
			}
		}
	}
	return &Sample{X: x, Y: y, T: t}, nil
}

// MustNewSample creates a sample (panics on invalid input)
// Use only in tests and development - production code should handle validation errors
func MustNewSample(x *mat.Dense, y []float64, t []int) *Sample {
	s, err := NewSample(x, y, t)
	if err != nil {
		panic(err)
	}
	return s
}

// N returns the number of observations
func (s *Sample) N() int {
	n, _ := s.X.Dims()
	return n
}

// P returns the number of covariates
func (s *Sample) P() int {
	_, p := s.X.Dims()
	return p
}

// ArmIndices returns the observation indices with the given treatment value,
// in ascending order
func (s *Sample) ArmIndices(treated int) []int {
	idx := make([]int, 0, len(s.T))
	for i, ti := range s.T {
		if ti == treated {
			idx = append(idx, i)
		}
	}
	return idx
}

// Indices returns all observation indices 0..n-1
func (s *Sample) Indices() []int {
	idx := make([]int, s.N())
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// TreatmentVector returns T as float64, the response for the propensity fit
func (s *Sample) TreatmentVector() []float64 {
	tv := make([]float64, len(s.T))
	for i, ti := range s.T {
		tv[i] = float64(ti)
	}
	return tv
}

// ============================================================================
// MATRIX CONVERSIONS (domain records hold plain rows; internals use gonum)
// ============================================================================

// RowsFromDense copies a gonum matrix into row-major [][]float64
func RowsFromDense(m mat.Matrix) [][]float64 {
	r, c := m.Dims()
	rows := make([][]float64, r)
	for i := 0; i < r; i++ {
		row := make([]float64, c)
		for j := 0; j < c; j++ {
			row[j] = m.At(i, j)
		}
		rows[i] = row
	}
	return rows
}

// DenseFromRows builds a gonum matrix from row-major data
func DenseFromRows(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, &ValidationError{Field: "rows", Reason: "matrix data must be non-empty"}
	}
	c := len(rows[0])
	out := mat.NewDense(len(rows), c, nil)
	for i, row := range rows {
		if len(row) != c {
			return nil, &ValidationError{Field: "rows", Reason: "matrix rows must have equal length"}
		}
		out.SetRow(i, row)
	}
	return out, nil
}
