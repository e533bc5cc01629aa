package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gocausal/domain/causal"
	"gocausal/domain/core"
	"gocausal/internal/errors"
)

func newRecord(t *testing.T) *causal.EstimateRecord {
	t.Helper()
	record := causal.NewEstimateRecord(100, 5, causal.DefaultConfig())
	imp := causal.NewEstimateSummary(1.2, 0.04, 0.95, 1.96)
	record.Imp = &imp
	return record
}

func TestStoreAndGetEstimate(t *testing.T) {
	ledger := NewEstimateLedger()
	ctx := context.Background()

	record := newRecord(t)
	require.NoError(t, ledger.StoreEstimate(ctx, record))

	got, err := ledger.GetEstimate(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, record.Imp.ATE, got.Imp.ATE)
}

func TestStoreEstimateRejectsDuplicates(t *testing.T) {
	ledger := NewEstimateLedger()
	ctx := context.Background()

	record := newRecord(t)
	require.NoError(t, ledger.StoreEstimate(ctx, record))

	err := ledger.StoreEstimate(ctx, record)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestGetEstimateNotFound(t *testing.T) {
	ledger := NewEstimateLedger()

	_, err := ledger.GetEstimate(context.Background(), core.NewEstimateID())
	require.Error(t, err)
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
}

func TestListEstimatesNewestFirst(t *testing.T) {
	ledger := NewEstimateLedger()
	ctx := context.Background()

	first := newRecord(t)
	second := newRecord(t)
	third := newRecord(t)
	require.NoError(t, ledger.StoreEstimate(ctx, first))
	require.NoError(t, ledger.StoreEstimate(ctx, second))
	require.NoError(t, ledger.StoreEstimate(ctx, third))

	all, err := ledger.ListEstimates(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, third.ID, all[0].ID)
	assert.Equal(t, first.ID, all[2].ID)

	limited, err := ledger.ListEstimates(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, third.ID, limited[0].ID)
	assert.Equal(t, second.ID, limited[1].ID)
}
