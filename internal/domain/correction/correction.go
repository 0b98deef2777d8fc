// Package correction provides the immutable ledger record for expert
// edits and rejections, consumed by external knowledge-base ingestion.
package correction

import "time"

// Record captures one expert correction. Records are append-only; the
// orchestrator never mutates knowledge-base content directly.
type Record struct {
	ID            string    `json:"id"`
	QueryID       string    `json:"query_id"`
	QueryText     string    `json:"query_text"`
	OriginalDraft string    `json:"original_draft"`
	SourceID      string    `json:"source_id,omitempty"`
	FinalText     string    `json:"final_text,omitempty"` // empty for rejections without replacement
	Outcome       string    `json:"outcome"`              // "edited" or "rejected"
	ExpertID      string    `json:"expert_id"`
	CreatedAt     time.Time `json:"created_at"`
}
