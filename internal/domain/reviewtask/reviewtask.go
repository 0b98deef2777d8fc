// Package reviewtask defines the scheduler-tracked unit for a pending
// human verification: deadlines, escalation tiers and reminder flags.
package reviewtask

import (
	"errors"
	"fmt"
	"time"
)

// Task tracks one pending review. Exactly one active task exists per
// pending query; it is cancelled atomically with the query's terminal
// transition out of pending review.
type Task struct {
	ID              string        `json:"id"`
	QueryID         string        `json:"query_id"`
	ConversationID  string        `json:"conversation_id"`
	ExpertID        string        `json:"expert_id"`
	EscalationLevel int           `json:"escalation_level"`
	Deadline        time.Time     `json:"deadline"`
	SLA             time.Duration `json:"sla"`
	RemindersSent   []bool        `json:"reminders_sent"` // one flag per configured tier
	Active          bool          `json:"active"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

var (
	ErrMaxLevel   = errors.New("task already at max escalation level")
	ErrNotActive  = errors.New("task is not active")
	ErrBadBackoff = errors.New("backoff factor must be >= 1")
	ErrBadSLA     = errors.New("review SLA must be positive")
)

// New creates an active level-0 task with a deadline one SLA from now.
func New(id, queryID, conversationID, expertID string, sla time.Duration, tiers int, now time.Time) (*Task, error) {
	if sla <= 0 {
		return nil, ErrBadSLA
	}
	return &Task{
		ID:              id,
		QueryID:         queryID,
		ConversationID:  conversationID,
		ExpertID:        expertID,
		EscalationLevel: 0,
		Deadline:        now.Add(sla),
		SLA:             sla,
		RemindersSent:   make([]bool, tiers),
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Overdue reports whether the deadline has passed.
func (t *Task) Overdue(now time.Time) bool {
	return now.After(t.Deadline)
}

// Escalate reassigns the task to the next-tier expert with a fresh
// deadline scaled by the backoff factor. The escalation level strictly
// increases and the deadline strictly extends. Reminder flags reset for
// the new window. Valid only below maxLevel.
func (t *Task) Escalate(nextExpertID string, backoff float64, maxLevel int, now time.Time) error {
	if !t.Active {
		return ErrNotActive
	}
	if t.EscalationLevel >= maxLevel {
		return ErrMaxLevel
	}
	if backoff < 1 {
		return ErrBadBackoff
	}
	t.EscalationLevel++
	t.SLA = time.Duration(float64(t.SLA) * backoff)
	t.Deadline = now.Add(t.SLA)
	t.ExpertID = nextExpertID
	for i := range t.RemindersSent {
		t.RemindersSent[i] = false
	}
	t.UpdatedAt = now
	return nil
}

// CanExpire reports whether the task is eligible for expiry: active, at
// max escalation level, deadline passed.
func (t *Task) CanExpire(maxLevel int, now time.Time) bool {
	return t.Active && t.EscalationLevel >= maxLevel && t.Overdue(now)
}

// DueReminderTier returns the highest-index reminder tier whose mark has
// been reached but not yet sent, or -1. Tiers are fractions of the
// current SLA window (e.g. 0.5, 0.9).
func (t *Task) DueReminderTier(tiers []float64, now time.Time) int {
	if !t.Active || len(tiers) != len(t.RemindersSent) {
		return -1
	}
	windowStart := t.Deadline.Add(-t.SLA)
	due := -1
	for i, frac := range tiers {
		if t.RemindersSent[i] {
			continue
		}
		mark := windowStart.Add(time.Duration(frac * float64(t.SLA)))
		if !now.Before(mark) {
			due = i
		}
	}
	return due
}

// MarkReminderSent flags a tier as sent. Idempotent per tier.
func (t *Task) MarkReminderSent(tier int, now time.Time) error {
	if tier < 0 || tier >= len(t.RemindersSent) {
		return fmt.Errorf("reminder tier %d out of range", tier)
	}
	t.RemindersSent[tier] = true
	t.UpdatedAt = now
	return nil
}

// Cancel deactivates the task. Called atomically with the query leaving
// pending review so a racing tick observes the inactive flag.
func (t *Task) Cancel(now time.Time) {
	t.Active = false
	t.UpdatedAt = now
}
