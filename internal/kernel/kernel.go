// Package kernel evaluates the smoothing kernels shared by every regression:
// Epanechnikov and the Gaussian truncated at a density cutoff.
package kernel

import (
	"math"

	"gocausal/domain/causal"
)

type kind int

const (
	epanechnikov kind = iota
	gaussianCutoff
)

// Kernel is a closed kernel-family variant. The family and its support
// radius are fixed once at configuration time; there is no dispatch on
// names afterwards.
type Kernel struct {
	kind   kind
	radius float64 // support half-width at unit bandwidth
}

// Epanechnikov returns the kernel 0.75*(1-u^2) on |u| < 1
func Epanechnikov() Kernel {
	return Kernel{kind: epanechnikov, radius: 1}
}

// GaussianCutoff returns the kernel exp(-u^2/2) truncated where its value
// falls below cutoff. The density threshold converts into a support radius
// sqrt(-2*ln(cutoff)), so pairs beyond it are skipped entirely.
func GaussianCutoff(cutoff float64) (Kernel, error) {
	if cutoff <= 0 || cutoff >= 1 || math.IsNaN(cutoff) {
		return Kernel{}, &causal.ValidationError{Field: "gauss_cutoff", Reason: "cutoff must lie strictly inside (0, 1)"}
	}
	return Kernel{kind: gaussianCutoff, radius: math.Sqrt(-2 * math.Log(cutoff))}, nil
}

// FromSpec builds the kernel named by an estimation config
func FromSpec(spec causal.KernelSpec, cutoff float64) (Kernel, error) {
	switch spec {
	case causal.KernelEpanechnikov:
		return Epanechnikov(), nil
	case causal.KernelGaussianCutoff:
		return GaussianCutoff(cutoff)
	default:
		return Kernel{}, &causal.ValidationError{Field: "kernel", Reason: "unknown kernel specification"}
	}
}

// Weight evaluates the kernel at u. Outside the support the weight is
// exactly zero, never a small positive number.
func (k Kernel) Weight(u float64) float64 {
	switch k.kind {
	case gaussianCutoff:
		if math.Abs(u) >= k.radius {
			return 0
		}
		return math.Exp(-0.5 * u * u)
	default:
		if math.Abs(u) >= 1 {
			return 0
		}
		return 0.75 * (1 - u*u)
	}
}

// Deriv evaluates dWeight/du at u, zero outside the support
func (k Kernel) Deriv(u float64) float64 {
	switch k.kind {
	case gaussianCutoff:
		if math.Abs(u) >= k.radius {
			return 0
		}
		return -u * math.Exp(-0.5*u*u)
	default:
		if math.Abs(u) >= 1 {
			return 0
		}
		return -1.5 * u
	}
}

// Support returns the half-width of the kernel support after scaling by a
// bandwidth. Index pairs farther apart than this contribute nothing and can
// be skipped without evaluating the kernel.
func (k Kernel) Support(bw float64) float64 {
	return k.radius * bw
}

// String names the kernel family
func (k Kernel) String() string {
	if k.kind == gaussianCutoff {
		return string(causal.KernelGaussianCutoff)
	}
	return string(causal.KernelEpanechnikov)
}
