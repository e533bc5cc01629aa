package testkit

import (
	"math"
	"testing"
)

func TestGenerateIsDeterministic(t *testing.T) {
	cfg := DefaultScenario()

	first, truthA, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	second, truthB, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	for i := range first.Y {
		if first.Y[i] != second.Y[i] {
			t.Fatalf("outcomes diverge at row %d: %v vs %v", i, first.Y[i], second.Y[i])
		}
		if first.T[i] != second.T[i] {
			t.Fatalf("treatments diverge at row %d", i)
		}
		if truthA.Propensity[i] != truthB.Propensity[i] {
			t.Fatalf("true propensities diverge at row %d", i)
		}
	}
}

func TestGeneratePropensityStaysInterior(t *testing.T) {
	sample, truth, err := Generate(DefaultScenario())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(truth.Propensity) != sample.N() {
		t.Fatalf("propensity length %d does not match sample size %d", len(truth.Propensity), sample.N())
	}
	for i, ps := range truth.Propensity {
		if ps <= 0.05 || ps >= 0.95 {
			t.Fatalf("true propensity %v at row %d leaves the interior band", ps, i)
		}
	}
}

func TestGenerateAdditiveEffect(t *testing.T) {
	cfg := DefaultScenario()
	cfg.OutcomeNoise = 0
	sample, truth, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// with zero noise the outcome is exactly z + 0.4z² + tau·T
	for i := 0; i < sample.N(); i++ {
		z := truth.Index[i]
		want := z + 0.4*z*z + cfg.Tau*float64(sample.T[i])
		if math.Abs(sample.Y[i]-want) > 1e-12 {
			t.Fatalf("outcome at row %d: got %v want %v", i, sample.Y[i], want)
		}
	}
}

func TestGenerateValidatesConfig(t *testing.T) {
	bad := DefaultScenario()
	bad.N = 1
	if _, _, err := Generate(bad); err == nil {
		t.Fatal("expected error for a single-observation scenario")
	}

	bad = DefaultScenario()
	bad.OutcomeDirection = []float64{1}
	if _, _, err := Generate(bad); err == nil {
		t.Fatal("expected error for a direction length mismatch")
	}

	bad = DefaultScenario()
	bad.OutcomeNoise = -1
	if _, _, err := Generate(bad); err == nil {
		t.Fatal("expected error for negative noise")
	}
}
