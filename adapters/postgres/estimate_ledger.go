package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"gocausal/domain/causal"
	"gocausal/domain/core"
	"gocausal/internal/errors"
	"gocausal/ports"
)

// EstimateLedgerImpl implements the estimate ledger for PostgreSQL.
// The full record is stored as JSONB next to a few queryable columns.
type EstimateLedgerImpl struct {
	db *sqlx.DB
}

// NewEstimateLedger creates a new PostgreSQL estimate ledger
func NewEstimateLedger(db *sqlx.DB) ports.EstimateLedger {
	return &EstimateLedgerImpl{db: db}
}

// EnsureSchema creates the estimates table if it does not exist.
// The ledger persists final results only, so a single table suffices.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS estimates (
			id TEXT PRIMARY KEY,
			dataset_id TEXT,
			n INTEGER NOT NULL,
			p INTEGER NOT NULL,
			record JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to create estimates table"))
	}
	return nil
}

// StoreEstimate appends a record. IDs are write-once; a duplicate insert fails.
func (r *EstimateLedgerImpl) StoreEstimate(ctx context.Context, record *causal.EstimateRecord) error {
	if record == nil {
		return errors.InvalidInput("estimate record is nil")
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "failed to marshal estimate record")
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO estimates (id, dataset_id, n, p, record, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6)
	`, record.ID.String(), record.DatasetID.String(), record.N, record.P, payload, record.CreatedAt.Time())

	if err != nil {
		return errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to insert estimate"))
	}
	return nil
}

// GetEstimate retrieves a record by ID
func (r *EstimateLedgerImpl) GetEstimate(ctx context.Context, id core.EstimateID) (*causal.EstimateRecord, error) {
	var row estimateRow
	err := r.db.GetContext(ctx, &row, `
		SELECT record
		FROM estimates
		WHERE id = $1
	`, id.String())

	if err == sql.ErrNoRows {
		return nil, errors.NotFound("estimate")
	}
	if err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to query estimate"))
	}

	return row.decode()
}

// ListEstimates returns records newest-first. limit <= 0 means all.
func (r *EstimateLedgerImpl) ListEstimates(ctx context.Context, limit int) ([]*causal.EstimateRecord, error) {
	query := `
		SELECT record
		FROM estimates
		ORDER BY created_at DESC
	`

	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	var rows []estimateRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to list estimates"))
	}

	records := make([]*causal.EstimateRecord, 0, len(rows))
	for _, row := range rows {
		record, err := row.decode()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

type estimateRow struct {
	Record []byte `db:"record"`
}

func (row estimateRow) decode() (*causal.EstimateRecord, error) {
	var record causal.EstimateRecord
	if err := json.Unmarshal(row.Record, &record); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal estimate record")
	}
	return &record, nil
}
