package ports

import (
	"context"

	"gocausal/domain/causal"
)

// DatasetSource loads an observational sample from an external source
// (file, database, generator). Implementations own column mapping and
// type coercion; the returned sample is already validated.
type DatasetSource interface {
	LoadSample(ctx context.Context) (*causal.Sample, error)
}
