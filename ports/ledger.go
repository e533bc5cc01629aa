package ports

import (
	"context"

	"gocausal/domain/causal"
	"gocausal/domain/core"
)

// EstimateWriterPort provides append-only write access to estimate records.
// This is the ONLY way to persist estimates - prevents read-after-write coupling
type EstimateWriterPort interface {
	StoreEstimate(ctx context.Context, record *causal.EstimateRecord) error
}

// EstimateReaderPort provides read-only access to stored estimates.
// Use this for queries and UI/API access
type EstimateReaderPort interface {
	GetEstimate(ctx context.Context, id core.EstimateID) (*causal.EstimateRecord, error)
	ListEstimates(ctx context.Context, limit int) ([]*causal.EstimateRecord, error)
}

// EstimateLedger combines read and write access for adapters that back both
type EstimateLedger interface {
	EstimateWriterPort
	EstimateReaderPort
}
