package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gocausal/domain/causal"
	"gocausal/internal/errors"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")
	t.Setenv("ESTIMATION_KERNEL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Empty(t, cfg.Database.URL)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, string(causal.KernelEpanechnikov), cfg.Estimation.Kernel)
	assert.Equal(t, 1, cfg.Estimation.Dim)
	assert.Equal(t, 0.95, cfg.Estimation.Level)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ESTIMATION_KERNEL", "gaussian_cutoff")
	t.Setenv("ESTIMATION_DIM", "2")
	t.Setenv("ESTIMATION_THREADS", "4")
	t.Setenv("CONFIDENCE_LEVEL", "0.9")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "gaussian_cutoff", cfg.Estimation.Kernel)
	assert.Equal(t, 2, cfg.Estimation.Dim)
	assert.Equal(t, 4, cfg.Estimation.Threads)
	assert.Equal(t, 0.9, cfg.Estimation.Level)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("ESTIMATION_KERNEL", "triangular")

	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestCausalConfigExpansion(t *testing.T) {
	e := EstimationConfig{
		Kernel:        "gaussian_cutoff",
		GaussCutoff:   1e-4,
		Dim:           2,
		Threads:       3,
		MaxIterations: 50,
		Level:         0.95,
	}

	cfg := e.CausalConfig()
	assert.Equal(t, causal.KernelGaussianCutoff, cfg.Kernel)
	assert.Equal(t, 1e-4, cfg.GaussCutoff)
	assert.Equal(t, 2, cfg.Dim)
	assert.Equal(t, 3, cfg.NThreads)
	assert.Equal(t, 50, cfg.MaxIterations)
	// untouched defaults survive the expansion
	assert.True(t, cfg.Truncate)
	assert.Equal(t, 10.0, cfg.Penalty)
}
