package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/expertloop/expertloop/internal/domain/correction"
)

// AppendCorrection inserts a ledger record. The query_id unique index
// makes the append idempotent; a replayed decision is absorbed, never
// duplicated.
func (s *Store) AppendCorrection(ctx context.Context, rec *correction.Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO corrections (id, query_id, query_text, original_draft, source_id,
		   final_text, outcome, expert_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (query_id) DO NOTHING`,
		rec.ID, rec.QueryID, rec.QueryText, rec.OriginalDraft, nullIfEmpty(rec.SourceID),
		rec.FinalText, rec.Outcome, rec.ExpertID, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("append correction: %w", err)
	}
	return nil
}

func (s *Store) ListCorrections(ctx context.Context, since time.Time, limit int) ([]correction.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, query_id, query_text, original_draft, COALESCE(source_id, ''),
		   final_text, outcome, expert_id, created_at
		 FROM corrections WHERE created_at >= $1
		 ORDER BY created_at ASC LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list corrections: %w", err)
	}
	defer rows.Close()

	var records []correction.Record
	for rows.Next() {
		var r correction.Record
		if err := rows.Scan(&r.ID, &r.QueryID, &r.QueryText, &r.OriginalDraft, &r.SourceID,
			&r.FinalText, &r.Outcome, &r.ExpertID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan correction: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Ledger narrows the Store to the append-only corrections ledger port.
type Ledger struct {
	store *Store
}

// NewLedger wraps the store for consumers that only append and read
// correction records.
func NewLedger(s *Store) *Ledger {
	return &Ledger{store: s}
}

func (l *Ledger) Append(ctx context.Context, rec *correction.Record) error {
	return l.store.AppendCorrection(ctx, rec)
}

func (l *Ledger) List(ctx context.Context, since time.Time, limit int) ([]correction.Record, error) {
	return l.store.ListCorrections(ctx, since, limit)
}
