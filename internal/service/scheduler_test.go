package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/expertloop/expertloop/internal/domain/conversation"
	"github.com/expertloop/expertloop/internal/domain/query"
	"github.com/expertloop/expertloop/internal/port/reminder"
)

// mockSink records reminder notifications.
type mockSink struct {
	mu        sync.Mutex
	notified  []reminder.Summary
	notifyErr error
}

func (s *mockSink) Notify(_ context.Context, _ string, sum reminder.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notifyErr != nil {
		return s.notifyErr
	}
	s.notified = append(s.notified, sum)
	return nil
}

func (s *mockSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notified)
}

func newTestScheduler(f *engineFixture, sink reminder.Sink) *Scheduler {
	return NewScheduler(f.store, f.svc, sink, nil, testReviewCfg(), 3, testLogger())
}

func TestTickEscalatesOverdueTask(t *testing.T) {
	f := newEngine(t, true)
	q, task := seedPendingReview(t, f)

	sched := newTestScheduler(f, &mockSink{})
	after := task.Deadline.Add(time.Minute)
	sched.now = func() time.Time { return after }

	report := sched.Tick(context.Background())
	if report.Escalated != 1 || report.Errors != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	got, _ := f.store.GetReviewTask(context.Background(), q.ID)
	if got.EscalationLevel != 1 || got.ExpertID != "exp-1" {
		t.Fatalf("unexpected task: level=%d expert=%s", got.EscalationLevel, got.ExpertID)
	}
}

func TestTickExpiresTaskAtMaxLevel(t *testing.T) {
	f := newEngine(t, false)
	q, _ := seedPendingReview(t, f)
	ctx := context.Background()

	stored, _ := f.store.GetReviewTask(ctx, q.ID)
	now := time.Now()
	for stored.EscalationLevel < testReviewCfg().MaxEscalationLevel {
		if err := stored.Escalate("exp-1", 2.0, testReviewCfg().MaxEscalationLevel, now); err != nil {
			t.Fatalf("escalate: %v", err)
		}
	}
	if err := f.store.UpdateReviewTask(ctx, stored); err != nil {
		t.Fatalf("update task: %v", err)
	}

	sched := newTestScheduler(f, &mockSink{})
	after := stored.Deadline.Add(time.Minute)
	sched.now = func() time.Time { return after }
	f.svc.now = func() time.Time { return after }

	report := sched.Tick(ctx)
	if report.Expired != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	gotQ, _ := f.store.GetQuery(ctx, q.ID)
	if gotQ.State != query.StateExpired {
		t.Fatalf("expected expired, got %s", gotQ.State)
	}
	gotT, _ := f.store.GetReviewTask(ctx, q.ID)
	if gotT.Active {
		t.Fatal("expected task cancelled")
	}
}

func TestTickIgnoresRaceWithDecision(t *testing.T) {
	f := newEngine(t, true)
	q, task := seedPendingReview(t, f)
	ctx := context.Background()

	// Expert decides, then an agenda pass still holds the stale task row.
	if err := f.svc.RecordExpertDecision(ctx, q.ID, "exp-0", DecisionApprove, ""); err != nil {
		t.Fatalf("decision: %v", err)
	}
	// Reactivate the cancelled row to simulate a pass that listed it
	// before the cancellation committed.
	f.store.mu.Lock()
	f.store.tasks[q.ID].Active = true
	f.store.mu.Unlock()

	sched := newTestScheduler(f, &mockSink{})
	sched.now = func() time.Time { return task.Deadline.Add(time.Minute) }

	report := sched.Tick(ctx)
	if report.Escalated != 0 || report.Expired != 0 || report.Errors != 0 {
		t.Fatalf("stale task must be a silent no-op, got %+v", report)
	}
	got, _ := f.store.GetQuery(ctx, q.ID)
	if got.State != query.StateDelivered {
		t.Fatalf("decision result disturbed: %s", got.State)
	}
}

func TestTickFiresReminderOnce(t *testing.T) {
	f := newEngine(t, true)
	q, task := seedPendingReview(t, f)

	sink := &mockSink{}
	sched := newTestScheduler(f, sink)
	// Past the 0.5 mark, before the 0.9 mark of the 10 minute window.
	at := task.Deadline.Add(-4 * time.Minute)
	sched.now = func() time.Time { return at }

	report := sched.Tick(context.Background())
	if report.RemindersSent != 1 {
		t.Fatalf("expected 1 reminder, got %+v", report)
	}
	if sink.count() != 1 || sink.notified[0].QueryID != q.ID || sink.notified[0].Tier != 0 {
		t.Fatalf("unexpected notifications: %+v", sink.notified)
	}

	// Same instant again: the persisted flag suppresses a replay.
	report = sched.Tick(context.Background())
	if report.RemindersSent != 0 || sink.count() != 1 {
		t.Fatalf("reminder replayed: %+v", report)
	}

	// Past the 0.9 mark the next tier fires.
	sched.now = func() time.Time { return task.Deadline.Add(-30 * time.Second) }
	report = sched.Tick(context.Background())
	if report.RemindersSent != 1 || sink.count() != 2 {
		t.Fatalf("expected second tier, got %+v", report)
	}
	if sink.notified[1].Tier != 1 {
		t.Fatalf("expected tier 1, got %d", sink.notified[1].Tier)
	}
}

func TestTickReminderFailureDoesNotReplay(t *testing.T) {
	f := newEngine(t, true)
	q, task := seedPendingReview(t, f)

	sink := &mockSink{notifyErr: errors.New("sink down")}
	sched := newTestScheduler(f, sink)
	sched.now = func() time.Time { return task.Deadline.Add(-4 * time.Minute) }

	report := sched.Tick(context.Background())
	if report.RemindersSent != 0 || report.Errors != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	// The flag persisted before the failed notify, so the tier never replays.
	got, _ := f.store.GetReviewTask(context.Background(), q.ID)
	if !got.RemindersSent[0] {
		t.Fatal("expected tier 0 flag set despite notify failure")
	}
	sink.notifyErr = nil
	report = sched.Tick(context.Background())
	if report.RemindersSent != 0 {
		t.Fatalf("failed tier replayed: %+v", report)
	}
}

func TestTickRedeliversStrandedQuery(t *testing.T) {
	f := newEngine(t, true)
	q, _ := seedPendingReview(t, f)
	ctx := context.Background()

	f.adapter.setSendErr(errors.New("provider down"))
	if err := f.svc.RecordExpertDecision(ctx, q.ID, "exp-0", DecisionApprove, ""); err != nil {
		t.Fatalf("decision: %v", err)
	}
	f.adapter.setSendErr(nil)

	sched := newTestScheduler(f, &mockSink{})
	report := sched.Tick(ctx)
	if report.Redelivered != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	got, _ := f.store.GetQuery(ctx, q.ID)
	if got.State != query.StateDelivered {
		t.Fatalf("expected delivered, got %s", got.State)
	}
}

func TestTickSkipsExhaustedDeliveries(t *testing.T) {
	f := newEngine(t, true)
	q, _ := seedPendingReview(t, f)
	ctx := context.Background()

	f.adapter.setSendErr(errors.New("provider down"))
	if err := f.svc.RecordExpertDecision(ctx, q.ID, "exp-0", DecisionApprove, ""); err != nil {
		t.Fatalf("decision: %v", err)
	}

	// Push the attempt count past the requeue cap.
	f.store.mu.Lock()
	f.store.queries[q.ID].DeliveryTries = 10
	f.store.mu.Unlock()
	f.adapter.setSendErr(nil)

	sched := newTestScheduler(f, &mockSink{})
	report := sched.Tick(ctx)
	if report.Redelivered != 0 {
		t.Fatalf("exhausted query must be skipped, got %+v", report)
	}
	got, _ := f.store.GetQuery(ctx, q.ID)
	if got.State != query.StateApproved {
		t.Fatalf("expected untouched approved state, got %s", got.State)
	}
}

func TestTickExpiresIdleConversations(t *testing.T) {
	f := newEngine(t, true)
	ctx := context.Background()
	old := time.Now().Add(-2 * testReviewCfg().ConversationTTL)

	idle, _ := conversation.New("c-idle", "whatsapp", "user-idle", "en", old)
	if err := f.store.CreateConversation(ctx, idle); err != nil {
		t.Fatalf("seed: %v", err)
	}
	fresh, _ := conversation.New("c-fresh", "whatsapp", "user-fresh", "en", time.Now())
	if err := f.store.CreateConversation(ctx, fresh); err != nil {
		t.Fatalf("seed: %v", err)
	}

	sched := newTestScheduler(f, &mockSink{})
	report := sched.Tick(ctx)
	if report.ConversationsExpired != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	got, _ := f.store.GetConversation(ctx, "c-idle")
	if got.Status != conversation.StatusExpired {
		t.Fatalf("expected expired, got %s", got.Status)
	}
	got, _ = f.store.GetConversation(ctx, "c-fresh")
	if got.Status != conversation.StatusActive {
		t.Fatalf("fresh conversation disturbed: %s", got.Status)
	}
}

func TestTickNudgesIdleUsers(t *testing.T) {
	f := newEngine(t, true)
	ctx := context.Background()
	// Quiet past the nudge threshold but well inside the conversation TTL.
	quietSince := time.Now().Add(-8 * 24 * time.Hour)

	conv, _ := conversation.New("c-quiet", "whatsapp", "user-quiet", "en", quietSince)
	if err := f.store.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("seed: %v", err)
	}

	sched := newTestScheduler(f, &mockSink{})
	report := sched.Tick(ctx)
	if report.UserReminders != 1 || report.ConversationsExpired != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	last, ok := f.adapter.lastSent()
	if !ok || last.to != "c-quiet" {
		t.Fatalf("expected nudge to user, got %+v", last)
	}

	got, _ := f.store.GetConversation(ctx, "c-quiet")
	if got.RemindedAt.IsZero() {
		t.Fatal("expected reminder stamp persisted")
	}
	if got.Status != conversation.StatusActive {
		t.Fatalf("nudge must not change status, got %s", got.Status)
	}

	// Same pass again: the stamp suppresses a second nudge until the
	// user writes back.
	sent := f.adapter.sentCount()
	report = sched.Tick(ctx)
	if report.UserReminders != 0 || f.adapter.sentCount() != sent {
		t.Fatalf("nudge replayed: %+v", report)
	}
}
