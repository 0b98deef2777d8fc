package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/expertloop/expertloop/internal/domain/correction"
	"github.com/expertloop/expertloop/internal/domain/query"
	"github.com/expertloop/expertloop/internal/port/ledger"
	"github.com/expertloop/expertloop/internal/port/messagequeue"
)

// FeedbackService appends expert corrections to the pending-corrections
// ledger. The ledger is the only surface external KB ingestion reads;
// the engine never writes knowledge-base content itself.
type FeedbackService struct {
	ledger ledger.Ledger
	queue  messagequeue.Queue
	log    *slog.Logger
	now    func() time.Time
}

// NewFeedbackService creates a FeedbackService.
func NewFeedbackService(l ledger.Ledger, queue messagequeue.Queue, log *slog.Logger) *FeedbackService {
	return &FeedbackService{ledger: l, queue: queue, log: log, now: time.Now}
}

// Record appends a correction for an edited or rejected query. Called
// exactly once from the decision commit path; the ledger additionally
// enforces uniqueness per query.
func (s *FeedbackService) Record(ctx context.Context, q *query.Query) (*correction.Record, error) {
	if q.Outcome != query.OutcomeEdited && q.Outcome != query.OutcomeRejected {
		return nil, fmt.Errorf("outcome %s does not produce a correction", q.Outcome)
	}

	rec := &correction.Record{
		ID:            uuid.NewString(),
		QueryID:       q.ID,
		QueryText:     q.RawText,
		OriginalDraft: q.DraftAnswer,
		FinalText:     q.FinalText,
		Outcome:       string(q.Outcome),
		ExpertID:      q.ExpertID,
		CreatedAt:     s.now(),
	}
	if len(q.Candidates) > 0 {
		rec.SourceID = q.Candidates[0].SourceID
	}

	if err := s.ledger.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("append correction: %w", err)
	}

	s.publish(ctx, rec)
	return rec, nil
}

// List returns correction records for ingestion tooling.
func (s *FeedbackService) List(ctx context.Context, since time.Time, limit int) ([]correction.Record, error) {
	return s.ledger.List(ctx, since, limit)
}

func (s *FeedbackService) publish(ctx context.Context, rec *correction.Record) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(messagequeue.CorrectionPayload{
		CorrectionID: rec.ID,
		QueryID:      rec.QueryID,
		Outcome:      rec.Outcome,
		ExpertID:     rec.ExpertID,
		At:           rec.CreatedAt,
	})
	if err != nil {
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectCorrectionLogged, data); err != nil {
		s.log.Warn("correction event publish failed", "correction_id", rec.ID, "error", err)
	}
}
