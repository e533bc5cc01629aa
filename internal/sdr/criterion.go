package sdr

import (
	"sync"

	"gonum.org/v1/gonum/mat"

	"gocausal/domain/causal"
	"gocausal/internal/kernel"
)

// evaluator computes the semiparametric least-squares criterion
//
//	C(B) = Σ_i (y_i − m̂_{-i}(beta'x_i))²
//
// over one arm, with the leave-one-out Nadaraya–Watson fit m̂_{-i} smoothed
// at bandwidth h0. An observation whose leave-one-out neighborhood holds
// fewer than minNeighbors points contributes the penalty instead of its
// squared residual. The gradient is the estimating-equation form
//
//	g[j*d+l] = Σ_i −2·r_i·m̂'_{i,l}·(x_lower[i,j] − Ê[x_lower,j | beta'x_i])
//
// with the local slope m̂' smoothed at h11 and the lower-block conditional
// mean at h12, both leave-one-out. Arm data is read-only across workers;
// each worker owns a contiguous chunk of rows and a private accumulator.
type evaluator struct {
	kern  kernel.Kernel
	armX  *mat.Dense // armN×p, estimation arm rows
	armY  []float64  // armN responses
	lower *mat.Dense // armN×(p−d) lower covariate block

	p, d         int
	bw           causal.Bandwidths
	penalty      float64
	minNeighbors int
	workers      int
}

// evaluate computes the criterion at the free vector x. When grad is
// non-nil it is overwritten with the criterion gradient. Chunks are folded
// in worker order, so a fixed thread count reproduces sums exactly.
func (e *evaluator) evaluate(x []float64, grad []float64) float64 {
	idx := projectArm(e.armX, x, e.p, e.d)
	armN, _ := idx.Dims()

	workers := e.workers
	if workers > armN {
		workers = armN
	}
	chunkSize := (armN + workers - 1) / workers

	type partial struct {
		obj  float64
		grad []float64
	}
	parts := make([]partial, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * chunkSize
		hi := lo + chunkSize
		if hi > armN {
			hi = armN
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			var g []float64
			if grad != nil {
				g = make([]float64, len(x))
			}
			parts[w] = partial{obj: e.chunk(idx, lo, hi, g), grad: g}
		}(w, lo, hi)
	}
	wg.Wait()

	if grad != nil {
		for k := range grad {
			grad[k] = 0
		}
	}
	obj := 0.0
	for _, part := range parts {
		obj += part.obj
		if grad != nil && part.grad != nil {
			for k := range grad {
				grad[k] += part.grad[k]
			}
		}
	}
	return obj
}

// chunk accumulates criterion rows lo..hi-1. With g nil only the objective
// is computed; otherwise gradient contributions are added into g.
func (e *evaluator) chunk(idx *mat.Dense, lo, hi int, g []float64) float64 {
	armN, _ := idx.Dims()
	d := e.d
	width := e.p - e.d

	diff := make([]float64, d)
	kw1 := make([]float64, d)
	sdw1 := make([]float64, d)
	sdwy1 := make([]float64, d)
	swx2 := make([]float64, width)

	obj := 0.0
	for i := lo; i < hi; i++ {
		var sw0, swy0 float64
		neighbors := 0
		var sw1, swy1, sw2 float64
		for l := 0; l < d; l++ {
			sdw1[l] = 0
			sdwy1[l] = 0
		}
		for q := 0; q < width; q++ {
			swx2[q] = 0
		}

		for j := 0; j < armN; j++ {
			if j == i {
				continue
			}
			yj := e.armY[j]

			if g == nil {
				w0 := 1.0
				for l := 0; l < d; l++ {
					w0 *= e.kern.Weight((idx.At(i, l) - idx.At(j, l)) / e.bw.H0)
					if w0 == 0 {
						break
					}
				}
				if w0 > 0 {
					neighbors++
					sw0 += w0
					swy0 += w0 * yj
				}
				continue
			}

			w0, w1, w2 := 1.0, 1.0, 1.0
			for l := 0; l < d; l++ {
				diff[l] = idx.At(i, l) - idx.At(j, l)
				w0 *= e.kern.Weight(diff[l] / e.bw.H0)
				kw1[l] = e.kern.Weight(diff[l] / e.bw.H11)
				w1 *= kw1[l]
				w2 *= e.kern.Weight(diff[l] / e.bw.H12)
			}
			if w0 > 0 {
				neighbors++
				sw0 += w0
				swy0 += w0 * yj
			}
			if w1 > 0 {
				sw1 += w1
				swy1 += w1 * yj
				for l := 0; l < d; l++ {
					rest := 1.0
					for o := 0; o < d; o++ {
						if o != l {
							rest *= kw1[o]
						}
					}
					dw := rest * e.kern.Deriv(diff[l]/e.bw.H11) / e.bw.H11
					sdw1[l] += dw
					sdwy1[l] += dw * yj
				}
			}
			if w2 > 0 {
				sw2 += w2
				for q := 0; q < width; q++ {
					swx2[q] += w2 * e.lower.At(j, q)
				}
			}
		}

		if neighbors < e.minNeighbors {
			obj += e.penalty
			continue
		}
		fit0 := swy0 / sw0
		r := e.armY[i] - fit0
		obj += r * r

		if g == nil || sw1 <= 0 || sw2 <= 0 {
			continue
		}
		fit1 := swy1 / sw1
		for l := 0; l < d; l++ {
			dm := (sdwy1[l] - fit1*sdw1[l]) / sw1
			for q := 0; q < width; q++ {
				xc := e.lower.At(i, q) - swx2[q]/sw2
				g[q*d+l] += -2 * r * dm * xc
			}
		}
	}
	return obj
}
