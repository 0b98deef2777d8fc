package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/expertloop/expertloop/internal/domain/reviewtask"
)

const taskColumns = `id, query_id, conversation_id, expert_id, escalation_level,
	deadline, sla_seconds, reminders_sent, active, created_at, updated_at`

func (s *Store) GetReviewTask(ctx context.Context, queryID string) (*reviewtask.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM review_tasks WHERE query_id = $1`, queryID)

	t, err := scanReviewTask(row)
	if err != nil {
		return nil, notFoundWrap(err, "get review task for query %s", queryID)
	}
	return &t, nil
}

func (s *Store) CreateReviewTask(ctx context.Context, t *reviewtask.Task) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO review_tasks (id, query_id, conversation_id, expert_id, escalation_level,
		   deadline, sla_seconds, reminders_sent, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.QueryID, t.ConversationID, t.ExpertID, t.EscalationLevel,
		t.Deadline, int64(t.SLA.Seconds()), t.RemindersSent, t.Active, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create review task: %w", err)
	}
	return nil
}

func (s *Store) UpdateReviewTask(ctx context.Context, t *reviewtask.Task) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE review_tasks SET expert_id = $2, escalation_level = $3, deadline = $4,
		   sla_seconds = $5, reminders_sent = $6, active = $7, updated_at = $8
		 WHERE id = $1`,
		t.ID, t.ExpertID, t.EscalationLevel, t.Deadline,
		int64(t.SLA.Seconds()), t.RemindersSent, t.Active, t.UpdatedAt)
	return execExpectOne(tag, err, "update review task %s", t.ID)
}

func (s *Store) CancelReviewTask(ctx context.Context, queryID string, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE review_tasks SET active = FALSE, updated_at = $2
		 WHERE query_id = $1 AND active = TRUE`, queryID, now)
	return execExpectOne(tag, err, "cancel review task for query %s", queryID)
}

func (s *Store) ListDueReviewTasks(ctx context.Context, now time.Time, limit int) ([]reviewtask.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM review_tasks
		 WHERE active = TRUE AND deadline < $1
		 ORDER BY deadline ASC LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due review tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *Store) ListActiveReviewTasks(ctx context.Context, limit int) ([]reviewtask.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM review_tasks
		 WHERE active = TRUE ORDER BY deadline ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list active review tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows pgx.Rows) ([]reviewtask.Task, error) {
	var tasks []reviewtask.Task
	for rows.Next() {
		t, err := scanReviewTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanReviewTask(row scannable) (reviewtask.Task, error) {
	var t reviewtask.Task
	var slaSeconds int64
	err := row.Scan(&t.ID, &t.QueryID, &t.ConversationID, &t.ExpertID, &t.EscalationLevel,
		&t.Deadline, &slaSeconds, &t.RemindersSent, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	t.SLA = time.Duration(slaSeconds) * time.Second
	return t, nil
}
