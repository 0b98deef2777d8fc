package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/expertloop/expertloop/internal/domain"
	"github.com/expertloop/expertloop/internal/domain/query"
)

const queryColumns = `id, conversation_id, raw_text, normalized_text, state, outcome,
	COALESCE(reject_reason, ''), candidates, draft_answer, final_text, COALESCE(expert_id::text, ''),
	decided_at, COALESCE(representation, ''), template_name, delivery_tries, created_at, updated_at, closed_at`

func (s *Store) GetQuery(ctx context.Context, id string) (*query.Query, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+queryColumns+` FROM queries WHERE id = $1`, id)

	q, err := scanQuery(row)
	if err != nil {
		return nil, notFoundWrap(err, "get query %s", id)
	}
	return &q, nil
}

func (s *Store) CreateQuery(ctx context.Context, q *query.Query) error {
	candidatesJSON, err := marshalCandidates(q.Candidates)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO queries (id, conversation_id, raw_text, normalized_text, state, outcome,
		   reject_reason, candidates, draft_answer, final_text, expert_id, decided_at,
		   representation, template_name, delivery_tries, created_at, updated_at, closed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		q.ID, q.ConversationID, q.RawText, q.NormalizedText, string(q.State), string(q.Outcome),
		nullIfEmpty(string(q.RejectReason)), candidatesJSON, q.DraftAnswer, q.FinalText,
		nullIfEmpty(q.ExpertID), q.DecidedAt, nullIfEmpty(string(q.Representation)),
		q.TemplateName, q.DeliveryTries, q.CreatedAt, q.UpdatedAt, q.ClosedAt)
	if uniqueViolation(err) {
		// The partial index on open queries fired: another submit won.
		return fmt.Errorf("create query %s: %w", q.ID, domain.ErrDuplicatePending)
	}
	if err != nil {
		return fmt.Errorf("create query: %w", err)
	}
	return nil
}

func (s *Store) UpdateQuery(ctx context.Context, q *query.Query) error {
	candidatesJSON, err := marshalCandidates(q.Candidates)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE queries SET state = $2, outcome = $3, reject_reason = $4, candidates = $5,
		   draft_answer = $6, final_text = $7, expert_id = $8, decided_at = $9,
		   representation = $10, template_name = $11, delivery_tries = $12, updated_at = $13, closed_at = $14
		 WHERE id = $1`,
		q.ID, string(q.State), string(q.Outcome), nullIfEmpty(string(q.RejectReason)), candidatesJSON,
		q.DraftAnswer, q.FinalText, nullIfEmpty(q.ExpertID), q.DecidedAt,
		nullIfEmpty(string(q.Representation)), q.TemplateName, q.DeliveryTries, q.UpdatedAt, q.ClosedAt)
	return execExpectOne(tag, err, "update query %s", q.ID)
}

// TransitionQuery persists q only while the stored row still holds the
// expected state. The guarded UPDATE is the commit point for every race
// between expert decisions and scheduler timeouts.
func (s *Store) TransitionQuery(ctx context.Context, q *query.Query, expected query.State) error {
	candidatesJSON, err := marshalCandidates(q.Candidates)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE queries SET state = $2, outcome = $3, reject_reason = $4, candidates = $5,
		   draft_answer = $6, final_text = $7, expert_id = $8, decided_at = $9,
		   representation = $10, template_name = $11, delivery_tries = $12, updated_at = $13, closed_at = $14
		 WHERE id = $1 AND state = $15`,
		q.ID, string(q.State), string(q.Outcome), nullIfEmpty(string(q.RejectReason)), candidatesJSON,
		q.DraftAnswer, q.FinalText, nullIfEmpty(q.ExpertID), q.DecidedAt,
		nullIfEmpty(string(q.Representation)), q.TemplateName, q.DeliveryTries, q.UpdatedAt, q.ClosedAt,
		string(expected))
	if err != nil {
		return fmt.Errorf("transition query %s: %w", q.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transition query %s from %s: %w", q.ID, expected, domain.ErrConflict)
	}
	return nil
}

func (s *Store) ListUndelivered(ctx context.Context, limit int) ([]query.Query, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+queryColumns+` FROM queries
		 WHERE state IN ('approved', 'edited', 'rejected')
		 ORDER BY updated_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list undelivered queries: %w", err)
	}
	defer rows.Close()

	var queries []query.Query
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, err
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

func marshalCandidates(cands []query.Candidate) ([]byte, error) {
	if cands == nil {
		return nil, nil
	}
	data, err := json.Marshal(cands)
	if err != nil {
		return nil, fmt.Errorf("marshal candidates: %w", err)
	}
	return data, nil
}

func scanQuery(row scannable) (query.Query, error) {
	var q query.Query
	var candidatesJSON []byte
	err := row.Scan(&q.ID, &q.ConversationID, &q.RawText, &q.NormalizedText, &q.State, &q.Outcome,
		&q.RejectReason, &candidatesJSON, &q.DraftAnswer, &q.FinalText, &q.ExpertID,
		&q.DecidedAt, &q.Representation, &q.TemplateName, &q.DeliveryTries,
		&q.CreatedAt, &q.UpdatedAt, &q.ClosedAt)
	if err != nil {
		return q, err
	}
	if candidatesJSON != nil {
		if err := json.Unmarshal(candidatesJSON, &q.Candidates); err != nil {
			return q, fmt.Errorf("unmarshal candidates: %w", err)
		}
	}
	return q, nil
}
