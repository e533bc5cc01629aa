package memory

import (
	"context"
	"fmt"
	"sync"

	"gocausal/domain/causal"
	"gocausal/domain/core"
	"gocausal/internal/errors"
)

// EstimateLedger is an in-memory, append-only store of estimate records.
// It backs the CLI and tests, and the API server when no database URL is
// configured. Safe for concurrent use.
type EstimateLedger struct {
	records map[core.EstimateID]*causal.EstimateRecord
	order   []core.EstimateID
	mu      sync.RWMutex
}

// NewEstimateLedger creates an empty in-memory ledger.
func NewEstimateLedger() *EstimateLedger {
	return &EstimateLedger{
		records: make(map[core.EstimateID]*causal.EstimateRecord),
	}
}

// StoreEstimate appends a record. IDs are write-once.
func (l *EstimateLedger) StoreEstimate(ctx context.Context, record *causal.EstimateRecord) error {
	if record == nil {
		return errors.InvalidInput("estimate record is nil")
	}
	if record.ID.String() == "" {
		return errors.InvalidInput("estimate record has no ID")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.records[record.ID]; exists {
		return errors.InvalidInput(fmt.Sprintf("estimate %s already stored", record.ID))
	}
	l.records[record.ID] = record
	l.order = append(l.order, record.ID)
	return nil
}

// GetEstimate returns the record with the given ID.
func (l *EstimateLedger) GetEstimate(ctx context.Context, id core.EstimateID) (*causal.EstimateRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	record, ok := l.records[id]
	if !ok {
		return nil, errors.NotFound("estimate")
	}
	return record, nil
}

// ListEstimates returns records newest-first. limit <= 0 means all.
func (l *EstimateLedger) ListEstimates(ctx context.Context, limit int) ([]*causal.EstimateRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.order)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]*causal.EstimateRecord, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.records[l.order[i]])
	}
	return out, nil
}
