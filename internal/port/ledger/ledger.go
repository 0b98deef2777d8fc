// Package ledger defines the pending-corrections ledger port. The
// ledger is the sole interface exposed to external knowledge-base
// ingestion; the orchestrator never mutates KB content directly.
package ledger

import (
	"context"
	"time"

	"github.com/expertloop/expertloop/internal/domain/correction"
)

// Ledger is an append-only record of expert corrections.
type Ledger interface {
	Append(ctx context.Context, rec *correction.Record) error
	List(ctx context.Context, since time.Time, limit int) ([]correction.Record, error)
}
