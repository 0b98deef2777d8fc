package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/expertloop/expertloop/internal/config"
	"github.com/expertloop/expertloop/internal/domain"
	"github.com/expertloop/expertloop/internal/port/database"
	"github.com/expertloop/expertloop/internal/port/reminder"

	otelx "github.com/expertloop/expertloop/internal/adapter/otel"
)

// agendaBatch caps each list fetched per pass; the leftovers are picked
// up on the next tick.
const agendaBatch = 200

// TickReport summarizes one scheduler pass for ops visibility.
type TickReport struct {
	Escalated            int `json:"escalated"`
	Expired              int `json:"expired"`
	RemindersSent        int `json:"reminders_sent"`
	Redelivered          int `json:"redelivered"`
	ConversationsExpired int `json:"conversations_expired"`
	UserReminders        int `json:"user_reminders"`
	Errors               int `json:"errors"`
}

// Scheduler owns the time-driven agenda: overdue reviews escalate or
// expire, reminder tiers fire, stranded deliveries retry, and idle
// conversations close. One Tick is one full pass; callers drive it from
// a ticker or the internal HTTP trigger, and concurrent passes are safe
// because every mutation funnels through the verification service's
// per-query locks.
type Scheduler struct {
	store      database.Store
	verifier   *VerificationService
	reminders  reminder.Sink
	metrics    *otelx.Metrics
	reviewCfg  config.Review
	requeueMax int
	log        *slog.Logger
	now        func() time.Time
}

func NewScheduler(
	store database.Store,
	verifier *VerificationService,
	reminders reminder.Sink,
	metrics *otelx.Metrics,
	reviewCfg config.Review,
	requeueMax int,
	log *slog.Logger,
) *Scheduler {
	return &Scheduler{
		store:      store,
		verifier:   verifier,
		reminders:  reminders,
		metrics:    metrics,
		reviewCfg:  reviewCfg,
		requeueMax: requeueMax,
		log:        log,
		now:        time.Now,
	}
}

// Run drives Tick on the given interval until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			report := s.Tick(ctx)
			if report.Errors > 0 {
				s.log.Warn("scheduler tick completed with errors",
					"escalated", report.Escalated, "expired", report.Expired,
					"reminders", report.RemindersSent, "redelivered", report.Redelivered,
					"errors", report.Errors)
			}
		}
	}
}

// Tick runs one pass of the agenda. Per-item failures are isolated so a
// single bad row never starves the rest of the queue.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	var report TickReport
	s.runOverdue(ctx, &report)
	s.runReminders(ctx, &report)
	s.runRedelivery(ctx, &report)
	s.runIdleConversations(ctx, &report)
	s.runUserReminders(ctx, &report)
	return report
}

// runOverdue escalates tasks past their deadline, or expires those that
// already sit at the max escalation level.
func (s *Scheduler) runOverdue(ctx context.Context, report *TickReport) {
	now := s.now()

	tasks, err := s.store.ListDueReviewTasks(ctx, now, agendaBatch)
	if err != nil {
		s.log.Error("list due review tasks", "error", err)
		report.Errors++
		return
	}

	for _, task := range tasks {
		if task.EscalationLevel >= s.reviewCfg.MaxEscalationLevel {
			err = s.verifier.Expire(ctx, task.QueryID)
			if err == nil {
				report.Expired++
			}
		} else {
			err = s.verifier.Escalate(ctx, task.QueryID)
			if err == nil {
				report.Escalated++
			}
		}
		if err != nil && !errors.Is(err, domain.ErrStaleReviewAction) {
			s.log.Error("overdue task handling failed",
				"query_id", task.QueryID, "level", task.EscalationLevel, "error", err)
			report.Errors++
		}
	}
}

// runReminders fires the highest due unsent reminder tier for each
// active task. The sent flag is persisted before counting success, so a
// tier fires at most once even across racing ticks.
func (s *Scheduler) runReminders(ctx context.Context, report *TickReport) {
	now := s.now()

	tasks, err := s.store.ListActiveReviewTasks(ctx, agendaBatch)
	if err != nil {
		s.log.Error("list active review tasks", "error", err)
		report.Errors++
		return
	}

	for _, task := range tasks {
		tier := task.DueReminderTier(s.reviewCfg.ReminderTiers, now)
		if tier < 0 {
			continue
		}
		if err := task.MarkReminderSent(tier, now); err != nil {
			continue
		}
		if err := s.store.UpdateReviewTask(ctx, &task); err != nil {
			s.log.Error("persist reminder flag", "query_id", task.QueryID, "error", err)
			report.Errors++
			continue
		}

		q, err := s.store.GetQuery(ctx, task.QueryID)
		if err != nil {
			continue
		}
		sum := reminder.Summary{
			QueryID:         task.QueryID,
			QuestionText:    q.RawText,
			EscalationLevel: task.EscalationLevel,
			Tier:            tier,
		}
		if err := s.reminders.Notify(ctx, task.ExpertID, sum); err != nil {
			// The flag stays set: a reminder is best effort and never
			// replays on the next pass.
			s.log.Warn("reminder notify failed",
				"query_id", task.QueryID, "expert_id", task.ExpertID, "error", err)
			report.Errors++
			continue
		}
		if s.metrics != nil {
			s.metrics.RemindersSent.Add(ctx, 1)
		}
		report.RemindersSent++
	}
}

// runRedelivery retries queries whose verdict committed but whose
// dispatch failed. Queries past the attempt cap are left for manual
// intervention and logged once per pass.
func (s *Scheduler) runRedelivery(ctx context.Context, report *TickReport) {
	queries, err := s.store.ListUndelivered(ctx, agendaBatch)
	if err != nil {
		s.log.Error("list undelivered queries", "error", err)
		report.Errors++
		return
	}

	for _, q := range queries {
		if q.DeliveryTries > s.requeueMax {
			s.log.Error("delivery attempts exhausted",
				"query_id", q.ID, "attempts", q.DeliveryTries, "state", q.State)
			continue
		}
		if err := s.verifier.Redeliver(ctx, q.ID); err != nil {
			if !errors.Is(err, domain.ErrDeliveryFailed) {
				report.Errors++
			}
			s.log.Warn("redelivery failed", "query_id", q.ID, "error", err)
			continue
		}
		report.Redelivered++
	}
}

// runIdleConversations expires accounts idle past the conversation TTL.
func (s *Scheduler) runIdleConversations(ctx context.Context, report *TickReport) {
	if s.reviewCfg.ConversationTTL <= 0 {
		return
	}
	cutoff := s.now().Add(-s.reviewCfg.ConversationTTL)

	convs, err := s.store.ListIdleConversations(ctx, cutoff, agendaBatch)
	if err != nil {
		s.log.Error("list idle conversations", "error", err)
		report.Errors++
		return
	}

	for _, conv := range convs {
		if err := s.verifier.ExpireConversation(ctx, conv.ID); err != nil {
			s.log.Error("expire conversation", "conversation_id", conv.ID, "error", err)
			report.Errors++
			continue
		}
		report.ConversationsExpired++
	}
}

// runUserReminders nudges users who went quiet but are not yet past the
// conversation TTL. The verifier re-checks eligibility and stamps the
// conversation, so a racing tick sends at most one nudge.
func (s *Scheduler) runUserReminders(ctx context.Context, report *TickReport) {
	if s.reviewCfg.UserReminderAfter <= 0 {
		return
	}
	now := s.now()
	cutoff := now.Add(-s.reviewCfg.UserReminderAfter)

	convs, err := s.store.ListIdleConversations(ctx, cutoff, agendaBatch)
	if err != nil {
		s.log.Error("list conversations for user reminders", "error", err)
		report.Errors++
		return
	}

	for _, conv := range convs {
		if !conv.DueUserReminder(s.reviewCfg.UserReminderAfter, now) {
			continue
		}
		if err := s.verifier.RemindUser(ctx, conv.ID); err != nil {
			s.log.Error("user reminder failed", "conversation_id", conv.ID, "error", err)
			report.Errors++
			continue
		}
		report.UserReminders++
	}
}
