package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/expertloop/expertloop/internal/port/messagequeue"
	"github.com/expertloop/expertloop/internal/port/reminder"
)

// ReminderSink publishes reminder events onto the stream. A consumer
// process (or the channel bridge) fans them out to expert chats.
type ReminderSink struct {
	queue messagequeue.Queue
	now   func() time.Time
}

func NewReminderSink(queue messagequeue.Queue) *ReminderSink {
	return &ReminderSink{queue: queue, now: time.Now}
}

func (r *ReminderSink) Notify(ctx context.Context, expertID string, sum reminder.Summary) error {
	data, err := json.Marshal(messagequeue.ReminderPayload{
		ExpertID:        expertID,
		QueryID:         sum.QueryID,
		QuestionText:    sum.QuestionText,
		EscalationLevel: sum.EscalationLevel,
		Tier:            sum.Tier,
		At:              r.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal reminder: %w", err)
	}
	return r.queue.Publish(ctx, messagequeue.SubjectReviewReminder, data)
}
