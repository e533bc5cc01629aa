package app

import (
	"context"
	goerrors "errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gocausal/adapters/memory"
	"gocausal/domain/causal"
	"gocausal/domain/core"
	"gocausal/internal/errors"
	"gocausal/internal/testkit"
)

func scenarioSample(t *testing.T) *causal.Sample {
	t.Helper()
	sample, _, err := testkit.Generate(testkit.DefaultScenario())
	require.NoError(t, err)
	return sample
}

// starting directions matching the default scenario, scaled to a leading 1
func scenarioGuesses() (outcome, propensity [][]float64) {
	outcome = [][]float64{{1}, {0.8}, {-0.5}, {0}, {0}}
	propensity = [][]float64{{1}, {-0.8}, {0}, {0}, {0}}
	return outcome, propensity
}

// estimationConfig leaves the iteration budget at the shipped default, which
// the reference scenario nearly exhausts when the derivative-free rescue runs.
func estimationConfig() causal.Config {
	cfg := causal.DefaultConfig()
	// full-support weights keep the fitted propensity off the floor
	cfg.Kernel = causal.KernelGaussianCutoff
	cfg.NThreads = 2
	return cfg
}

func TestEstimateStoresRecord(t *testing.T) {
	if testing.Short() {
		t.Skip("full estimation pipeline")
	}

	ledger := memory.NewEstimateLedger()
	service := NewEstimationService(ledger)
	sample := scenarioSample(t)
	datasetID := core.NewDatasetID()
	outcome, propensity := scenarioGuesses()

	record, err := service.Estimate(context.Background(), EstimateRequest{
		Sample:    sample,
		Config:    estimationConfig(),
		DatasetID: datasetID,
		Guess1:    outcome,
		Guess0:    outcome,
		GuessP:    propensity,
	})
	require.NoError(t, err)

	assert.Equal(t, sample.N(), record.N)
	assert.Equal(t, sample.P(), record.P)
	assert.Equal(t, datasetID, record.DatasetID)

	require.NotNil(t, record.Imp)
	require.NotNil(t, record.IPW)
	require.NotNil(t, record.AIPW)
	assert.InDelta(t, 2.0, record.Imp.ATE, 0.8)
	assert.InDelta(t, 2.0, record.AIPW.ATE, 0.8)

	require.NotNil(t, record.Imp.Interval)
	assert.Equal(t, 0.95, record.Imp.Interval.Level)
	assert.Less(t, record.Imp.Interval.Lower, record.Imp.ATE)
	assert.Greater(t, record.Imp.Interval.Upper, record.Imp.ATE)
	assert.True(t, record.Imp.StdErr > 0 && !math.IsNaN(record.Imp.StdErr))

	// the doubly-robust summary carries the point estimate alone
	assert.Zero(t, record.AIPW.Variance)
	assert.Nil(t, record.AIPW.Interval)

	assert.NotEmpty(t, record.Beta1)
	assert.NotEmpty(t, record.Beta0)
	assert.NotEmpty(t, record.BetaP)
	assert.GreaterOrEqual(t, record.RuntimeMs, int64(0))

	stored, err := ledger.GetEstimate(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, stored.ID)
	assert.Equal(t, record.Imp.ATE, stored.Imp.ATE)
}

func TestEstimateCustomLevel(t *testing.T) {
	if testing.Short() {
		t.Skip("full estimation pipeline")
	}

	service := NewEstimationService(memory.NewEstimateLedger())
	outcome, propensity := scenarioGuesses()
	record, err := service.Estimate(context.Background(), EstimateRequest{
		Sample: scenarioSample(t),
		Config: estimationConfig(),
		Level:  0.9,
		Guess1: outcome,
		Guess0: outcome,
		GuessP: propensity,
	})
	require.NoError(t, err)

	require.NotNil(t, record.Imp.Interval)
	assert.Equal(t, 0.9, record.Imp.Interval.Level)
	// a 90% interval is narrower than the 95% one would be
	z90 := (record.Imp.Interval.Upper - record.Imp.ATE) / record.Imp.StdErr
	assert.InDelta(t, 1.6448536269514722, z90, 1e-9)
}

func TestEstimateValidatesRequest(t *testing.T) {
	service := NewEstimationService(memory.NewEstimateLedger())
	ctx := context.Background()

	var vErr *causal.ValidationError

	_, err := service.Estimate(ctx, EstimateRequest{Sample: nil, Config: causal.DefaultConfig()})
	require.Error(t, err)
	assert.True(t, goerrors.As(err, &vErr))

	sample := scenarioSample(t)

	_, err = service.Estimate(ctx, EstimateRequest{Sample: sample, Config: causal.DefaultConfig(), Level: 1.2})
	require.Error(t, err)
	assert.True(t, goerrors.As(err, &vErr))

	bad := causal.DefaultConfig()
	bad.Dim = sample.P()
	_, err = service.Estimate(ctx, EstimateRequest{Sample: sample, Config: bad})
	require.Error(t, err)
	assert.True(t, goerrors.As(err, &vErr))

	ragged := [][]float64{{1}, {0.5, 0.2}}
	_, err = service.Estimate(ctx, EstimateRequest{Sample: sample, Config: causal.DefaultConfig(), Guess1: ragged})
	require.Error(t, err)
	assert.True(t, goerrors.As(err, &vErr))
}

type failingWriter struct{}

func (failingWriter) StoreEstimate(ctx context.Context, record *causal.EstimateRecord) error {
	return errors.DatabaseError("ledger down")
}

func TestEstimateSurfacesLedgerFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("full estimation pipeline")
	}

	service := NewEstimationService(failingWriter{})
	outcome, propensity := scenarioGuesses()
	_, err := service.Estimate(context.Background(), EstimateRequest{
		Sample: scenarioSample(t),
		Config: estimationConfig(),
		Guess1: outcome,
		Guess0: outcome,
		GuessP: propensity,
	})
	require.Error(t, err)
	assert.Equal(t, errors.CodeDatabaseError, errors.GetCode(err))
}
