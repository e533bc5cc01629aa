// Package smoothing implements the Nadaraya–Watson kernel regressions shared
// by the dimension-reduction optimizer and the treatment-effect estimators:
// local averages of arbitrary target columns over a low-dimensional index,
// their index derivatives, and the leave-one-out variants the optimization
// criterion is built from.
package smoothing

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/viterin/vek"

	"gocausal/domain/causal"
	"gocausal/internal/errors"
	"gocausal/internal/kernel"
)

// Smoother evaluates kernel-weighted local averages over a shared index.
// The kernel family is fixed at construction; every call supplies its own
// bandwidth so the five bandwidths of a dimension-reduction fit can share
// one Smoother.
type Smoother struct {
	kern kernel.Kernel
}

// New creates a smoother for the given kernel
func New(kern kernel.Kernel) *Smoother {
	return &Smoother{kern: kern}
}

// Policy guards evaluation points that leave the fitted index range.
// Truncate clamps evaluation coordinates into the observed source range
// before weighting; Extrapolate replaces zero-support evaluations with a
// linear fit over the Basis nearest source points. With both disabled a
// zero-support point is a degeneracy error.
type Policy struct {
	Truncate    bool
	Extrapolate bool
	Basis       int
}

// Strict returns the policy that turns any zero-support evaluation into an
// error instead of repairing it
func Strict() Policy {
	return Policy{}
}

// ============================================================================
// REGRESSION (weighted local average)
// ============================================================================

// Regress smooths every column of targets over the source index and
// evaluates at each row of eval. targets is n×k aligned with the n rows of
// src; the result is m×k for the m rows of eval. Rows of eval with no kernel
// support are handled per the policy.
func (s *Smoother) Regress(targets mat.Matrix, src, eval mat.Matrix, bw float64, pol Policy) (*mat.Dense, error) {
	n, d, m, err := checkDims(targets, src, eval, bw)
	if err != nil {
		return nil, err
	}
	_, k := targets.Dims()

	cols := columnsOf(targets)
	lo, hi := indexRange(src, d)

	out := mat.NewDense(m, k, nil)
	w := make([]float64, n)
	point := make([]float64, d)
	for i := 0; i < m; i++ {
		evalRow(eval, i, point, lo, hi, pol.Truncate)
		total := s.weightsInto(w, src, point, bw)
		if total <= 0 {
			if !pol.Extrapolate {
				return nil, errors.ZeroKernelWeight("no kernel support at evaluation point")
			}
			fit, err := s.extrapolate(cols, src, point, pol.Basis)
			if err != nil {
				return nil, err
			}
			for c := 0; c < k; c++ {
				out.Set(i, c, fit[c].value)
			}
			continue
		}
		for c := 0; c < k; c++ {
			out.Set(i, c, vek.Dot(w, cols[c])/total)
		}
	}
	return out, nil
}

// RegressVector smooths a single target column; see Regress
func (s *Smoother) RegressVector(target []float64, src, eval mat.Matrix, bw float64, pol Policy) ([]float64, error) {
	if len(target) == 0 {
		return nil, &causal.ValidationError{Field: "target", Reason: "target must be non-empty"}
	}
	out, err := s.Regress(mat.NewDense(len(target), 1, append([]float64(nil), target...)), src, eval, bw, pol)
	if err != nil {
		return nil, err
	}
	return mat.Col(nil, 0, out), nil
}

// ============================================================================
// INDEX DERIVATIVE (local slope of the fitted surface)
// ============================================================================

// Slope returns the derivative of the smoothed target with respect to each
// index coordinate, evaluated at every row of eval: an m×d matrix. The
// derivative follows from the quotient rule on the Nadaraya–Watson ratio,
// with the product-kernel factor for the differentiated coordinate replaced
// by the kernel derivative.
func (s *Smoother) Slope(target []float64, src, eval mat.Matrix, bw float64, pol Policy) (*mat.Dense, error) {
	if len(target) == 0 {
		return nil, &causal.ValidationError{Field: "target", Reason: "target must be non-empty"}
	}
	tm := mat.NewDense(len(target), 1, append([]float64(nil), target...))
	n, d, m, err := checkDims(tm, src, eval, bw)
	if err != nil {
		return nil, err
	}

	lo, hi := indexRange(src, d)
	out := mat.NewDense(m, d, nil)
	w := make([]float64, n)
	dw := make([]float64, n*d)
	point := make([]float64, d)
	for i := 0; i < m; i++ {
		evalRow(eval, i, point, lo, hi, pol.Truncate)
		total := s.weightsAndDerivsInto(w, dw, src, point, bw)
		if total <= 0 {
			if !pol.Extrapolate {
				return nil, errors.ZeroKernelWeight("no kernel support at evaluation point")
			}
			fit, err := s.extrapolate([][]float64{target}, src, point, pol.Basis)
			if err != nil {
				return nil, err
			}
			out.SetRow(i, fit[0].slope)
			continue
		}
		fit := vek.Dot(w, target) / total
		for l := 0; l < d; l++ {
			dwl := dw[l*n : (l+1)*n]
			out.Set(i, l, (vek.Dot(dwl, target)-fit*vek.Sum(dwl))/total)
		}
	}
	return out, nil
}

// ============================================================================
// LEAVE-ONE-OUT VARIANTS (optimization criterion internals)
// ============================================================================

// LeaveOneOut smooths target over idx at the source points themselves with
// each point's own weight removed. Zero-support points are reported through
// the neighbor count, not an error: the optimizer criterion converts them
// into a penalty and never reads the fit there.
func (s *Smoother) LeaveOneOut(target []float64, idx mat.Matrix, bw float64) ([]float64, []int, error) {
	if len(target) == 0 {
		return nil, nil, &causal.ValidationError{Field: "target", Reason: "target must be non-empty"}
	}
	n, d, _, err := checkDims(mat.NewDense(len(target), 1, nil), idx, idx, bw)
	if err != nil {
		return nil, nil, err
	}

	fit := make([]float64, n)
	neighbors := make([]int, n)
	w := make([]float64, n)
	point := make([]float64, d)
	for i := 0; i < n; i++ {
		for l := 0; l < d; l++ {
			point[l] = idx.At(i, l)
		}
		total := s.weightsInto(w, idx, point, bw)
		self := w[i]
		w[i] = 0
		total -= self
		count := 0
		for j := 0; j < n; j++ {
			if w[j] > 0 {
				count++
			}
		}
		neighbors[i] = count
		if count > 0 && total > 0 {
			fit[i] = vek.Dot(w, target) / total
		}
	}
	return fit, neighbors, nil
}

// LeaveOneOutSlope is the leave-one-out form of Slope at the source points:
// the n×d local derivative consumed by the criterion gradient. Zero-support
// rows are zero and flagged through the neighbor count.
func (s *Smoother) LeaveOneOutSlope(target []float64, idx mat.Matrix, bw float64) (*mat.Dense, []int, error) {
	if len(target) == 0 {
		return nil, nil, &causal.ValidationError{Field: "target", Reason: "target must be non-empty"}
	}
	n, d, _, err := checkDims(mat.NewDense(len(target), 1, nil), idx, idx, bw)
	if err != nil {
		return nil, nil, err
	}

	out := mat.NewDense(n, d, nil)
	neighbors := make([]int, n)
	w := make([]float64, n)
	dw := make([]float64, n*d)
	point := make([]float64, d)
	for i := 0; i < n; i++ {
		for l := 0; l < d; l++ {
			point[l] = idx.At(i, l)
		}
		total := s.weightsAndDerivsInto(w, dw, idx, point, bw)
		total -= w[i]
		w[i] = 0
		count := 0
		for j := 0; j < n; j++ {
			if w[j] > 0 {
				count++
			}
		}
		for l := 0; l < d; l++ {
			dw[l*n+i] = 0
		}
		neighbors[i] = count
		if count == 0 || total <= 0 {
			continue
		}
		fit := vek.Dot(w, target) / total
		for l := 0; l < d; l++ {
			dwl := dw[l*n : (l+1)*n]
			out.Set(i, l, (vek.Dot(dwl, target)-fit*vek.Sum(dwl))/total)
		}
	}
	return out, neighbors, nil
}

// LeaveOneOutColumns is LeaveOneOut over every column of targets at once,
// sharing one weight pass per point: the n×k conditional-mean matrix used to
// center the lower covariate block inside the criterion gradient.
func (s *Smoother) LeaveOneOutColumns(targets mat.Matrix, idx mat.Matrix, bw float64) (*mat.Dense, []int, error) {
	n, d, _, err := checkDims(targets, idx, idx, bw)
	if err != nil {
		return nil, nil, err
	}
	_, k := targets.Dims()

	cols := columnsOf(targets)
	out := mat.NewDense(n, k, nil)
	neighbors := make([]int, n)
	w := make([]float64, n)
	point := make([]float64, d)
	for i := 0; i < n; i++ {
		for l := 0; l < d; l++ {
			point[l] = idx.At(i, l)
		}
		total := s.weightsInto(w, idx, point, bw)
		total -= w[i]
		w[i] = 0
		count := 0
		for j := 0; j < n; j++ {
			if w[j] > 0 {
				count++
			}
		}
		neighbors[i] = count
		if count == 0 || total <= 0 {
			continue
		}
		for c := 0; c < k; c++ {
			out.Set(i, c, vek.Dot(w, cols[c])/total)
		}
	}
	return out, neighbors, nil
}

// ============================================================================
// KERNEL WEIGHT ACCUMULATION
// ============================================================================

// weightsInto fills w[j] with the product kernel between the evaluation
// point and source row j and returns the total weight. A pair farther apart
// than the support radius in any coordinate is skipped without evaluating
// the kernel; its weight is an exact zero.
func (s *Smoother) weightsInto(w []float64, src mat.Matrix, point []float64, bw float64) float64 {
	n := len(w)
	d := len(point)
	sup := s.kern.Support(bw)
	total := 0.0
	for j := 0; j < n; j++ {
		wj := 1.0
		for l := 0; l < d; l++ {
			diff := point[l] - src.At(j, l)
			if math.Abs(diff) >= sup {
				wj = 0
				break
			}
			wj *= s.kern.Weight(diff / bw)
		}
		w[j] = wj
		total += wj
	}
	return total
}

// weightsAndDerivsInto fills w like weightsInto and additionally fills
// dw[l*n+j] with the derivative of w[j] with respect to evaluation
// coordinate l. Returns the total weight. Skipped pairs zero their
// derivative entries too, since the buffers are reused across rows.
func (s *Smoother) weightsAndDerivsInto(w, dw []float64, src mat.Matrix, point []float64, bw float64) float64 {
	n := len(w)
	d := len(point)
	sup := s.kern.Support(bw)
	total := 0.0
	u := make([]float64, d)
	kw := make([]float64, d)
	for j := 0; j < n; j++ {
		wj := 1.0
		for l := 0; l < d; l++ {
			diff := point[l] - src.At(j, l)
			if math.Abs(diff) >= sup {
				wj = 0
				break
			}
			u[l] = diff / bw
			kw[l] = s.kern.Weight(u[l])
			wj *= kw[l]
		}
		w[j] = wj
		if wj == 0 {
			for l := 0; l < d; l++ {
				dw[l*n+j] = 0
			}
			continue
		}
		total += wj
		for l := 0; l < d; l++ {
			// product over the other coordinates times dK(u_l)/du / bw
			rest := 1.0
			for o := 0; o < d; o++ {
				if o != l {
					rest *= kw[o]
				}
			}
			dw[l*n+j] = rest * s.kern.Deriv(u[l]) / bw
		}
	}
	return total
}

// ============================================================================
// RANGE GUARDS (truncation and linear extrapolation)
// ============================================================================

// indexRange returns the per-coordinate min and max of the source index
func indexRange(src mat.Matrix, d int) ([]float64, []float64) {
	n, _ := src.Dims()
	lo := make([]float64, d)
	hi := make([]float64, d)
	for l := 0; l < d; l++ {
		lo[l] = math.Inf(1)
		hi[l] = math.Inf(-1)
		for j := 0; j < n; j++ {
			v := src.At(j, l)
			if v < lo[l] {
				lo[l] = v
			}
			if v > hi[l] {
				hi[l] = v
			}
		}
	}
	return lo, hi
}

// evalRow copies eval row i into point, clamping into [lo, hi] when truncate
// is set
func evalRow(eval mat.Matrix, i int, point, lo, hi []float64, truncate bool) {
	for l := range point {
		v := eval.At(i, l)
		if truncate {
			if v < lo[l] {
				v = lo[l]
			}
			if v > hi[l] {
				v = hi[l]
			}
		}
		point[l] = v
	}
}

// linearFit is the value and index-gradient of a local linear fallback fit
type linearFit struct {
	value float64
	slope []float64
}

// extrapolate fits target ~ 1 + index over the basis source points nearest
// to the evaluation point and predicts there. Used only for evaluation rows
// with no kernel support.
func (s *Smoother) extrapolate(cols [][]float64, src mat.Matrix, point []float64, basis int) ([]linearFit, error) {
	n, d := src.Dims()
	if basis < d+1 {
		basis = d + 1
	}
	if basis > n {
		basis = n
	}
	if basis < d+1 {
		return nil, errors.ZeroKernelWeight("too few observations for linear extrapolation")
	}

	// nearest source rows by squared index distance
	type distRow struct {
		dist float64
		row  int
	}
	rows := make([]distRow, n)
	for j := 0; j < n; j++ {
		dist := 0.0
		for l := 0; l < d; l++ {
			diff := src.At(j, l) - point[l]
			dist += diff * diff
		}
		rows[j] = distRow{dist: dist, row: j}
	}
	sort.Slice(rows, func(a, b int) bool { return rows[a].dist < rows[b].dist })

	design := mat.NewDense(basis, d+1, nil)
	for r := 0; r < basis; r++ {
		design.Set(r, 0, 1)
		for l := 0; l < d; l++ {
			design.Set(r, l+1, src.At(rows[r].row, l))
		}
	}

	var qr mat.QR
	qr.Factorize(design)

	fits := make([]linearFit, len(cols))
	rhs := mat.NewDense(basis, 1, nil)
	coef := mat.NewDense(d+1, 1, nil)
	for c, col := range cols {
		for r := 0; r < basis; r++ {
			rhs.Set(r, 0, col[rows[r].row])
		}
		if err := qr.SolveTo(coef, false, rhs); err != nil {
			return nil, errors.WithCode(errors.CodeSingularSystem, errors.Wrap(err, "extrapolation basis is rank deficient"))
		}
		value := coef.At(0, 0)
		slope := make([]float64, d)
		for l := 0; l < d; l++ {
			slope[l] = coef.At(l+1, 0)
			value += slope[l] * point[l]
		}
		fits[c] = linearFit{value: value, slope: slope}
	}
	return fits, nil
}

// ============================================================================
// VALIDATION HELPERS
// ============================================================================

// checkDims validates the shared preconditions of every smoothing call and
// returns (sourceRows, indexDims, evalRows)
func checkDims(targets mat.Matrix, src, eval mat.Matrix, bw float64) (int, int, int, error) {
	if bw <= 0 || math.IsNaN(bw) || math.IsInf(bw, 0) {
		return 0, 0, 0, &causal.ValidationError{Field: "bandwidth", Reason: "bandwidth must be positive and finite"}
	}
	n, d := src.Dims()
	if n == 0 || d == 0 {
		return 0, 0, 0, &causal.ValidationError{Field: "index", Reason: "source index must be non-empty"}
	}
	tn, _ := targets.Dims()
	if tn != n {
		return 0, 0, 0, &causal.ValidationError{Field: "targets", Reason: "target rows must match source index rows"}
	}
	m, ed := eval.Dims()
	if ed != d {
		return 0, 0, 0, &causal.ValidationError{Field: "eval", Reason: "evaluation index width must match source index width"}
	}
	return n, d, m, nil
}

// columnsOf copies a matrix into per-column slices for contiguous dot
// products
func columnsOf(m mat.Matrix) [][]float64 {
	_, k := m.Dims()
	cols := make([][]float64, k)
	for c := 0; c < k; c++ {
		cols[c] = mat.Col(nil, c, m)
	}
	return cols
}
