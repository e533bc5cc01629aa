package causal

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEstimateSummary(t *testing.T) {
	summary := NewEstimateSummary(2.0, 0.25, 0.95, 1.96)

	assert.Equal(t, 2.0, summary.ATE)
	assert.Equal(t, 0.25, summary.Variance)
	assert.Equal(t, 0.5, summary.StdErr)
	require.NotNil(t, summary.Interval)
	assert.Equal(t, 0.95, summary.Interval.Level)
	assert.InDelta(t, 2.0-1.96*0.5, summary.Interval.Lower, 1e-12)
	assert.InDelta(t, 2.0+1.96*0.5, summary.Interval.Upper, 1e-12)
}

func TestNewEstimateRecordStampsIdentity(t *testing.T) {
	cfg := DefaultConfig()
	record := NewEstimateRecord(200, 5, cfg)

	assert.NotEmpty(t, record.ID.String())
	assert.Equal(t, 200, record.N)
	assert.Equal(t, 5, record.P)
	assert.Equal(t, cfg.Dim, record.Config.Dim)
	assert.False(t, record.CreatedAt.IsZero())

	other := NewEstimateRecord(200, 5, cfg)
	assert.NotEqual(t, record.ID, other.ID)
}

func TestEstimateRecordJSONRoundTrip(t *testing.T) {
	record := NewEstimateRecord(100, 4, DefaultConfig())
	record.DatasetID = "study-7"
	imp := NewEstimateSummary(1.5, 0.04, 0.95, 1.96)
	record.Imp = &imp
	record.AIPW = &EstimateSummary{ATE: 1.6}
	record.Beta1 = [][]float64{{1}, {0.5}, {-0.2}, {0}}
	record.RuntimeMs = 42

	payload, err := json.Marshal(record)
	require.NoError(t, err)

	var decoded EstimateRecord
	require.NoError(t, json.Unmarshal(payload, &decoded))

	assert.Equal(t, record.ID, decoded.ID)
	assert.Equal(t, record.DatasetID, decoded.DatasetID)
	assert.Equal(t, record.Imp.ATE, decoded.Imp.ATE)
	assert.Equal(t, record.Imp.Interval.Upper, decoded.Imp.Interval.Upper)
	assert.Equal(t, record.Beta1, decoded.Beta1)
	// the AIPW summary has no variance, so the optional fields stay empty
	assert.Nil(t, decoded.AIPW.Interval)
	assert.Zero(t, decoded.AIPW.Variance)
	assert.Nil(t, decoded.IPW)
}

func TestIPWResultPropensity(t *testing.T) {
	res := IPWResult{
		ATE: 1.0,
		Fit: ArmFit{M: []float64{0.4, 0.6, 0.5}},
	}
	assert.Equal(t, []float64{0.4, 0.6, 0.5}, res.Propensity())
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Field: "dim", Reason: "index dimension must be in [1, p-1]"}
	assert.Contains(t, err.Error(), "dim")
	assert.Contains(t, err.Error(), "index dimension")
}
