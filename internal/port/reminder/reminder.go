// Package reminder defines the fire-and-forget expert notification port.
package reminder

import "context"

// Summary describes the pending review a reminder points at.
type Summary struct {
	QueryID         string `json:"query_id"`
	QuestionText    string `json:"question_text"`
	EscalationLevel int    `json:"escalation_level"`
	Tier            int    `json:"tier"` // reminder tier index that fired
}

// Sink delivers reminders to experts. Implementations must not block
// the scheduler tick; failures are logged, never propagated as fatal.
type Sink interface {
	Notify(ctx context.Context, expertID string, s Summary) error
}
