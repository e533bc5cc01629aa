package ate

import (
	"fmt"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/mat"

	"gocausal/domain/causal"
	"gocausal/internal/errors"
	"gocausal/internal/kernel"
	"gocausal/internal/smoothing"
)

// ImpVariance assembles the plug-in asymptotic variance of the imputation
// estimate from the two fitted arms and a propensity vector. Five terms per
// observation:
//
//	term1 = m1 − m0 − (mean(naive1) − mean(naive0))
//	term2 = T · NW[1/pr | beta1 index] · (Y − m1)
//	term3 = (1−T) · NW[1/(1−pr) | beta0 index] · (Y − m0)
//	term4 = T · (Y − m1) · ⟨s1, b1⟩
//	term5 = (1−T) · (Y − m0) · ⟨s0, b0⟩
//
// where naive splices the observed outcome over the fitted surface in the
// arm actually received, s carries the centered lower covariate block
// contracted against the surface Jacobian, and b1/b0 solve the per-arm
// bias-correction system. The result is mean((t1+t2−t3−t4+t5)²)/n; the
// extra /n is the variance-of-the-mean scaling.
//
// Each arm's auxiliary smoothing runs on that arm's published bandwidth
// (H13) over the full sample, so every evaluation point carries its own
// kernel weight and zero support cannot occur.
func ImpVariance(sample *causal.Sample, imp *causal.ImpResult, pr []float64, cfg causal.Config) (float64, error) {
	if sample == nil {
		return 0, &causal.ValidationError{Field: "sample", Reason: "sample must be set"}
	}
	if imp == nil {
		return 0, &causal.ValidationError{Field: "imp", Reason: "imputation result must be set"}
	}
	n, p := sample.N(), sample.P()
	if err := cfg.Validate(p); err != nil {
		return 0, err
	}
	if err := validatePropensity(pr, n); err != nil {
		return 0, err
	}
	if err := validateArmFit(imp.Treated, "treated", n, p, cfg.Dim); err != nil {
		return 0, err
	}
	if err := validateArmFit(imp.Control, "control", n, p, cfg.Dim); err != nil {
		return 0, err
	}

	kern, err := kernel.FromSpec(cfg.Kernel, cfg.GaussCutoff)
	if err != nil {
		return 0, err
	}
	sm := smoothing.New(kern)

	idx1, err := fittedIndex(sample.X, imp.Treated.Beta)
	if err != nil {
		return 0, err
	}
	idx0, err := fittedIndex(sample.X, imp.Control.Beta)
	if err != nil {
		return 0, err
	}
	bw1 := imp.Treated.Bandwidths.H13
	bw0 := imp.Control.Bandwidths.H13

	invPr := make([]float64, n)
	invQr := make([]float64, n)
	for i, ps := range pr {
		invPr[i] = 1 / ps
		invQr[i] = 1 / (1 - ps)
	}
	w1, err := sm.RegressVector(invPr, idx1, idx1, bw1, smoothing.Strict())
	if err != nil {
		return 0, err
	}
	w0, err := sm.RegressVector(invQr, idx0, idx0, bw0, smoothing.Strict())
	if err != nil {
		return 0, err
	}

	lower := lowerColumns(sample.X, cfg.Dim)
	corr1, err := biasCorrection(sample, lower, idx1, imp.Treated, sm, bw1, 1)
	if err != nil {
		return 0, err
	}
	corr0, err := biasCorrection(sample, lower, idx0, imp.Control, sm, bw0, 0)
	if err != nil {
		return 0, err
	}

	m1, m0 := imp.Treated.M, imp.Control.M
	naive1Mean, naive0Mean := 0.0, 0.0
	for i := 0; i < n; i++ {
		if sample.T[i] == 1 {
			naive1Mean += sample.Y[i]
			naive0Mean += m0[i]
		} else {
			naive1Mean += m1[i]
			naive0Mean += sample.Y[i]
		}
	}
	naive1Mean /= float64(n)
	naive0Mean /= float64(n)
	center := naive1Mean - naive0Mean

	total := 0.0
	for i := 0; i < n; i++ {
		t := float64(sample.T[i])
		r1 := sample.Y[i] - m1[i]
		r0 := sample.Y[i] - m0[i]
		term1 := m1[i] - m0[i] - center
		term2 := t * w1[i] * r1
		term3 := (1 - t) * w0[i] * r0
		term4 := t * r1 * corr1[i]
		term5 := (1 - t) * r0 * corr0[i]
		infl := term1 + term2 - term3 - term4 + term5
		total += infl * infl
	}
	return total / float64(n) / float64(n), nil
}

// IPWVariance is the plug-in influence variance of the IPW estimate,
// mean((T·Y/pr − (1−T)·Y/(1−pr) − ATE)²)/n. It treats the propensity as
// known: the propensity-estimation correction is not included.
func IPWVariance(sample *causal.Sample, ateIPW float64, pr []float64) (float64, error) {
	if sample == nil {
		return 0, &causal.ValidationError{Field: "sample", Reason: "sample must be set"}
	}
	n := sample.N()
	if err := validatePropensity(pr, n); err != nil {
		return 0, err
	}

	total := 0.0
	for i := 0; i < n; i++ {
		var infl float64
		if sample.T[i] == 1 {
			infl = sample.Y[i]/pr[i] - ateIPW
		} else {
			infl = -sample.Y[i]/(1-pr[i]) - ateIPW
		}
		total += infl * infl
	}
	return total / float64(n) / float64(n), nil
}

// biasCorrection returns ⟨s_i, b⟩ for every observation, where
// s_i[q·d+l] = (x_lower[i,q] − Ê[x_lower,q | idx_i]) · dm[i,l] and b solves
// A·b = g with A the arm-restricted second moment of s and g its full-sample
// mean. The Kronecker structure of s is kept as explicit loops over
// (observation, lower column, index column) triples.
func biasCorrection(sample *causal.Sample, lower *mat.Dense, idx *mat.Dense, fit causal.ArmFit, sm *smoothing.Smoother, bw float64, arm int) ([]float64, error) {
	n, width := lower.Dims()
	d := len(fit.DM[0])
	k := width * d

	cond, err := sm.Regress(lower, idx, idx, bw, smoothing.Strict())
	if err != nil {
		return nil, err
	}

	s := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		for q := 0; q < width; q++ {
			xc := lower.At(i, q) - cond.At(i, q)
			for l := 0; l < d; l++ {
				s.Set(i, q*d+l, xc*fit.DM[i][l])
			}
		}
	}

	second := make([]float64, k*k)
	g := make([]float64, k)
	armN := 0
	for i := 0; i < n; i++ {
		row := s.RawRowView(i)
		for q := 0; q < k; q++ {
			g[q] += row[q]
		}
		if sample.T[i] != arm {
			continue
		}
		armN++
		for q := 0; q < k; q++ {
			for r := q; r < k; r++ {
				second[q*k+r] += row[q] * row[r]
			}
		}
	}
	for q := 0; q < k; q++ {
		g[q] /= float64(n)
	}
	a := mat.NewSymDense(k, nil)
	for q := 0; q < k; q++ {
		for r := q; r < k; r++ {
			a.SetSym(q, r, second[q*k+r]/float64(armN))
		}
	}

	var chol mat.Cholesky
	if !chol.Factorize(a) {
		return nil, errors.SingularSystem(fmt.Sprintf(
			"bias-correction system for arm %d is not positive definite", arm))
	}
	b := mat.NewVecDense(k, nil)
	if err := chol.SolveVecTo(b, mat.NewVecDense(k, g)); err != nil {
		return nil, errors.WithCode(errors.CodeSingularSystem,
			errors.Wrap(err, fmt.Sprintf("bias-correction solve for arm %d", arm)))
	}

	bv := b.RawVector().Data
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = vek.Dot(s.RawRowView(i), bv)
	}
	return out, nil
}

func fittedIndex(x *mat.Dense, beta [][]float64) (*mat.Dense, error) {
	bm, err := causal.DenseFromRows(beta)
	if err != nil {
		return nil, err
	}
	n, _ := x.Dims()
	_, d := bm.Dims()
	idx := mat.NewDense(n, d, nil)
	idx.Mul(x, bm)
	return idx, nil
}

func lowerColumns(x *mat.Dense, d int) *mat.Dense {
	n, p := x.Dims()
	lower := mat.NewDense(n, p-d, nil)
	for i := 0; i < n; i++ {
		for q := d; q < p; q++ {
			lower.Set(i, q-d, x.At(i, q))
		}
	}
	return lower
}

func validateArmFit(fit causal.ArmFit, name string, n, p, d int) error {
	if len(fit.M) != n {
		return &causal.ValidationError{Field: name, Reason: "fitted surface must cover the full sample"}
	}
	if len(fit.DM) != n || len(fit.DM[0]) != d {
		return &causal.ValidationError{Field: name, Reason: "surface Jacobian must be n×d over the full sample"}
	}
	if len(fit.Beta) != p || len(fit.Beta[0]) != d {
		return &causal.ValidationError{Field: name, Reason: "projection must be p×d"}
	}
	if fit.Bandwidths.H13 <= 0 {
		return &causal.ValidationError{Field: name, Reason: "published bandwidth must be positive"}
	}
	return nil
}
