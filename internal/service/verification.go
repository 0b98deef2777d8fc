package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	otelx "github.com/expertloop/expertloop/internal/adapter/otel"
	"github.com/expertloop/expertloop/internal/config"
	"github.com/expertloop/expertloop/internal/domain"
	"github.com/expertloop/expertloop/internal/domain/conversation"
	"github.com/expertloop/expertloop/internal/domain/delivery"
	"github.com/expertloop/expertloop/internal/domain/query"
	"github.com/expertloop/expertloop/internal/domain/reviewtask"
	"github.com/expertloop/expertloop/internal/port/broadcast"
	"github.com/expertloop/expertloop/internal/port/database"
	"github.com/expertloop/expertloop/internal/port/messagequeue"
	"github.com/expertloop/expertloop/internal/port/retriever"
)

// Decision is an expert verdict submitted through the decision API.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionEdit    Decision = "edit"
	DecisionReject  Decision = "reject"
)

// User-facing notice texts for the non-answer categories. The template
// catalog carries the pre-approved equivalents for closed windows.
const (
	noticePleaseWait   = "Please wait for the answer to your previous question."
	noticeNoAnswer     = "Sorry, we could not find an answer to your question right now. Our team has been notified."
	noticeStillWorking = "We are still working on your question. An expert will get back to you as soon as possible."
	noticeReEngagement = "It has been a while since your last question. We are here whenever you need us."
)

const lockStripes = 64

// VerificationService is the per-query lifecycle engine. Every state
// transition goes through here under the query's transition lock; the
// store's conditional update is the commit point, so a racing expert
// decision and scheduler timeout resolve to exactly one winner.
type VerificationService struct {
	store     database.Store
	retriever retriever.Retriever
	deliver   *DeliveryService
	feedback  *FeedbackService
	composer  *Composer
	queue     messagequeue.Queue
	hub       broadcast.Broadcaster
	metrics   *otelx.Metrics
	reviewCfg config.Review
	retrCfg   config.Retrieval
	log       *slog.Logger
	now       func() time.Time

	locks     [lockStripes]sync.Mutex
	convLocks [lockStripes]sync.Mutex

	// Retrieval tasks outlive the submitting request; they are tied to
	// taskCtx so shutdown can cancel them, and wg waits for the drain.
	taskCtx  context.Context
	taskStop context.CancelFunc
	wg       sync.WaitGroup
}

// NewVerificationService creates the engine with all dependencies.
// hub, queue and metrics may be nil (events are then skipped).
func NewVerificationService(
	store database.Store,
	retr retriever.Retriever,
	deliver *DeliveryService,
	feedback *FeedbackService,
	queue messagequeue.Queue,
	hub broadcast.Broadcaster,
	metrics *otelx.Metrics,
	reviewCfg config.Review,
	retrCfg config.Retrieval,
	log *slog.Logger,
) *VerificationService {
	ctx, cancel := context.WithCancel(context.Background())
	return &VerificationService{
		store:     store,
		retriever: retr,
		deliver:   deliver,
		feedback:  feedback,
		composer:  NewComposer(),
		queue:     queue,
		hub:       hub,
		metrics:   metrics,
		reviewCfg: reviewCfg,
		retrCfg:   retrCfg,
		log:       log,
		now:       time.Now,
		taskCtx:   ctx,
		taskStop:  cancel,
	}
}

// Close cancels in-flight retrieval tasks and waits for them to drain.
func (s *VerificationService) Close() {
	s.taskStop()
	s.wg.Wait()
}

// lockFor returns the transition lock striped by query id.
func (s *VerificationService) lockFor(queryID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(queryID))
	return &s.locks[h.Sum32()%lockStripes]
}

// lockForIdentity returns the submit lock striped by channel identity.
// Concurrent submits for the same user serialize here so the pending
// check and the query insert are one atomic step.
func (s *VerificationService) lockForIdentity(channelName, userExternalID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(channelName))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(userExternalID))
	return &s.convLocks[h.Sum32()%lockStripes]
}

// Submit accepts an inbound user question. It enforces the single
// pending query invariant, creates the query, and starts retrieval as a
// cancellable background task so a slow knowledge base never stalls the
// caller.
func (s *VerificationService) Submit(ctx context.Context, channelName, userExternalID, text, locale string) (*query.Query, error) {
	mu := s.lockForIdentity(channelName, userExternalID)
	mu.Lock()
	defer mu.Unlock()

	now := s.now()

	conv, err := s.store.GetConversationByIdentity(ctx, channelName, userExternalID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		conv, err = conversation.New(uuid.NewString(), channelName, userExternalID, locale, now)
		if err != nil {
			return nil, err
		}
		if err := s.store.CreateConversation(ctx, conv); err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	conv.TouchInbound(now)
	s.deliver.InvalidateWindow(ctx, conv.Channel, conv.ID)

	if conv.HasPendingQuery() {
		open, closeErr := s.pendingStillOpen(ctx, conv.PendingQueryID)
		if closeErr != nil {
			return nil, closeErr
		}
		if open {
			if err := s.store.UpdateConversation(ctx, conv); err != nil {
				return nil, fmt.Errorf("update conversation: %w", err)
			}
			if s.metrics != nil {
				s.metrics.QueriesDuplicate.Add(ctx, 1)
			}
			s.notifyUser(ctx, conv, delivery.CategoryPleaseWait, noticePleaseWait)
			return nil, domain.ErrDuplicatePending
		}
		conv.PendingQueryID = ""
	}

	q, err := query.New(uuid.NewString(), conv.ID, text, now)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateQuery(ctx, q); err != nil {
		return nil, fmt.Errorf("create query: %w", err)
	}

	conv.PendingQueryID = q.ID
	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}

	if err := q.Transition(query.StateRetrieving, now); err != nil {
		return nil, err
	}
	if err := s.store.TransitionQuery(ctx, q, query.StateReceived); err != nil {
		return nil, fmt.Errorf("start retrieval: %w", err)
	}

	if s.metrics != nil {
		s.metrics.QueriesSubmitted.Add(ctx, 1)
	}
	s.broadcast(ctx, "query.received", q)

	s.wg.Add(1)
	go s.runRetrieval(q.ID, conv.Locale)

	return q, nil
}

// pendingStillOpen reports whether the referenced query is still
// non-terminal. A dangling reference to a closed query is repaired by
// the caller rather than blocking new submissions.
func (s *VerificationService) pendingStillOpen(ctx context.Context, queryID string) (bool, error) {
	prev, err := s.store.GetQuery(ctx, queryID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load pending query: %w", err)
	}
	return !prev.IsClosed(), nil
}

// runRetrieval executes the knowledge-base search under its own timeout
// and commits either the pending-review transition or the no-answer
// fallback.
func (s *VerificationService) runRetrieval(queryID, locale string) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.taskCtx, s.retrCfg.Timeout)
	defer cancel()

	ctx, span := otelx.StartRetrievalSpan(ctx, queryID, len(s.retrCfg.Sources))
	defer span.End()

	q, err := s.store.GetQuery(ctx, queryID)
	if err != nil {
		s.log.Error("retrieval: load query failed", "query_id", queryID, "error", err)
		return
	}

	cands, searchErr := s.retriever.Search(ctx, q.NormalizedText, retriever.Options{
		TopK:     s.retrCfg.TopK,
		Language: locale,
	})
	if errors.Is(searchErr, context.DeadlineExceeded) {
		searchErr = domain.ErrRetrievalTimeout
	}

	mu := s.lockFor(queryID)
	mu.Lock()
	defer mu.Unlock()

	// Detached context: the commit must not be aborted by the search
	// timeout that may have just fired.
	commitCtx, commitCancel := context.WithTimeout(context.WithoutCancel(s.taskCtx), 30*time.Second)
	defer commitCancel()

	if searchErr != nil || len(cands) == 0 {
		s.failRetrieval(commitCtx, queryID, searchErr)
		return
	}
	s.finishRetrieval(commitCtx, queryID, cands)
}

// finishRetrieval moves the query to pending review and registers the
// review task with a deadline one SLA out.
func (s *VerificationService) finishRetrieval(ctx context.Context, queryID string, cands []query.Candidate) {
	now := s.now()

	q, err := s.store.GetQuery(ctx, queryID)
	if err != nil || q.State != query.StateRetrieving {
		return
	}

	if err := q.SetCandidates(cands); err != nil {
		s.log.Error("retrieval: set candidates", "query_id", queryID, "error", err)
		return
	}
	q.DraftAnswer = s.composer.Draft(cands)
	if err := q.Transition(query.StatePendingReview, now); err != nil {
		return
	}
	if err := s.store.TransitionQuery(ctx, q, query.StateRetrieving); err != nil {
		s.log.Warn("retrieval: pending-review commit lost", "query_id", queryID, "error", err)
		return
	}

	exp, err := s.store.GetExpertForTier(ctx, 0)
	if err != nil {
		// No reviewer configured is an operational gap, not a user-visible
		// crash: route through the no-answer fallback.
		s.log.Error("no tier-0 expert configured, falling back", "query_id", queryID)
		s.rejectPending(ctx, q, now)
		return
	}

	task, err := reviewtask.New(uuid.NewString(), q.ID, q.ConversationID, exp.ID,
		s.reviewCfg.SLA, len(s.reviewCfg.ReminderTiers), now)
	if err != nil {
		s.log.Error("create review task", "query_id", queryID, "error", err)
		return
	}
	if err := s.store.CreateReviewTask(ctx, task); err != nil {
		s.log.Error("persist review task", "query_id", queryID, "error", err)
		return
	}

	s.publishReview(ctx, messagequeue.SubjectReviewCreated, q, task)
	s.broadcast(ctx, "review.created", task)

	conv, err := s.store.GetConversation(ctx, q.ConversationID)
	if err == nil {
		packet := s.composer.ReviewPacket(q, false)
		if err := s.deliver.SendToExpert(ctx, conv.Channel, exp.ChannelID, packet); err != nil {
			s.log.Warn("review packet send failed", "query_id", q.ID, "expert_id", exp.ID, "error", err)
		}
	}
}

// failRetrieval commits the no-answer fallback: reject the query and
// deliver an apology. No review task is ever created on this path.
func (s *VerificationService) failRetrieval(ctx context.Context, queryID string, cause error) {
	now := s.now()

	q, err := s.store.GetQuery(ctx, queryID)
	if err != nil || q.State != query.StateRetrieving {
		return
	}

	if s.metrics != nil {
		s.metrics.RetrievalFailures.Add(ctx, 1)
	}
	s.log.Warn("retrieval failed, delivering fallback", "query_id", queryID, "error", cause)
	s.rejectPending(ctx, q, now)
}

// rejectPending moves a retrieving query to rejected/no-answer and
// attempts the apology delivery.
func (s *VerificationService) rejectPending(ctx context.Context, q *query.Query, now time.Time) {
	if err := q.RejectNoAnswer(now); err != nil {
		return
	}
	if err := q.Transition(query.StateRejected, now); err != nil {
		return
	}
	if err := s.store.TransitionQuery(ctx, q, query.StateRetrieving); err != nil {
		return
	}
	s.broadcast(ctx, "query.rejected", q)
	if err := s.deliverOutcome(ctx, q); err != nil {
		s.log.Warn("fallback delivery failed", "query_id", q.ID, "error", err)
	}
}

// RecordExpertDecision applies an expert verdict to a pending review.
// Any state other than pending review yields ErrStaleReviewAction: the
// review has been superseded by escalation or expiry and the decision
// is discarded, never retried.
func (s *VerificationService) RecordExpertDecision(ctx context.Context, queryID, expertID string, decision Decision, editedText string) error {
	mu := s.lockFor(queryID)
	mu.Lock()
	defer mu.Unlock()

	now := s.now()

	q, err := s.store.GetQuery(ctx, queryID)
	if err != nil {
		return err
	}
	if !q.IsPendingReview() {
		return s.staleAction(ctx, queryID, "decision")
	}

	var outcome query.Outcome
	var target query.State
	switch decision {
	case DecisionApprove:
		outcome, target = query.OutcomeApproved, query.StateApproved
	case DecisionEdit:
		outcome, target = query.OutcomeEdited, query.StateEdited
	case DecisionReject:
		outcome, target = query.OutcomeRejected, query.StateRejected
	default:
		return fmt.Errorf("invalid decision %q", decision)
	}

	if err := q.Decide(outcome, expertID, editedText, now); err != nil {
		return err
	}
	if err := q.Transition(target, now); err != nil {
		return err
	}
	if err := s.store.TransitionQuery(ctx, q, query.StatePendingReview); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return s.staleAction(ctx, queryID, "decision")
		}
		return err
	}

	// Cancel the review task under the same lock so a tick that lost the
	// CAS race observes either the cancelled task or the non-pending state.
	if err := s.store.CancelReviewTask(ctx, queryID, now); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.log.Error("cancel review task", "query_id", queryID, "error", err)
	}

	if s.metrics != nil {
		s.metrics.ReviewLatency.Record(ctx, now.Sub(q.CreatedAt).Seconds())
	}
	s.broadcast(ctx, "review.decided", q)

	if outcome == query.OutcomeEdited || outcome == query.OutcomeRejected {
		if _, err := s.feedback.Record(ctx, q); err != nil {
			// The decision stands even if the ledger write fails; the gap
			// is logged for reconciliation.
			s.log.Error("correction record failed", "query_id", queryID, "error", err)
		}
	}

	if err := s.deliverOutcome(ctx, q); err != nil {
		s.log.Warn("delivery deferred to next tick", "query_id", queryID, "error", err)
	}
	return nil
}

// Escalate promotes an overdue review to the next expert tier. Only the
// scheduler calls this. A query that already left pending review makes
// this a guaranteed no-op.
func (s *VerificationService) Escalate(ctx context.Context, queryID string) error {
	mu := s.lockFor(queryID)
	mu.Lock()
	defer mu.Unlock()

	now := s.now()

	q, err := s.store.GetQuery(ctx, queryID)
	if err != nil {
		return err
	}
	if !q.IsPendingReview() {
		return s.staleAction(ctx, queryID, "escalate")
	}

	task, err := s.store.GetReviewTask(ctx, queryID)
	if err != nil {
		return err
	}
	if !task.Active {
		return s.staleAction(ctx, queryID, "escalate")
	}

	nextTier := task.EscalationLevel + 1
	nextExpertID := task.ExpertID
	if next, err := s.store.GetExpertForTier(ctx, nextTier); err == nil {
		nextExpertID = next.ID
	} else {
		// Tier gap in the registry: keep the current assignee but still
		// extend the deadline so the agenda makes progress.
		s.log.Warn("no expert at tier, keeping assignee", "tier", nextTier, "query_id", queryID)
	}

	if err := task.Escalate(nextExpertID, s.reviewCfg.BackoffFactor, s.reviewCfg.MaxEscalationLevel, now); err != nil {
		return err
	}
	if err := s.store.UpdateReviewTask(ctx, task); err != nil {
		return fmt.Errorf("persist escalation: %w", err)
	}

	if s.metrics != nil {
		s.metrics.Escalations.Add(ctx, 1)
	}
	s.publishReview(ctx, messagequeue.SubjectReviewEscalated, q, task)
	s.broadcast(ctx, "review.escalated", task)

	if conv, cerr := s.store.GetConversation(ctx, q.ConversationID); cerr == nil {
		if exp, eerr := s.store.GetExpert(ctx, task.ExpertID); eerr == nil {
			packet := s.composer.ReviewPacket(q, true)
			if serr := s.deliver.SendToExpert(ctx, conv.Channel, exp.ChannelID, packet); serr != nil {
				s.log.Warn("escalation packet send failed", "query_id", q.ID, "error", serr)
			}
		}
	}
	return nil
}

// Expire closes a review that exhausted all escalation tiers. Only the
// scheduler calls this, and only for tasks at max escalation level.
func (s *VerificationService) Expire(ctx context.Context, queryID string) error {
	mu := s.lockFor(queryID)
	mu.Lock()
	defer mu.Unlock()

	now := s.now()

	q, err := s.store.GetQuery(ctx, queryID)
	if err != nil {
		return err
	}
	if !q.IsPendingReview() {
		return s.staleAction(ctx, queryID, "expire")
	}

	task, err := s.store.GetReviewTask(ctx, queryID)
	if err != nil {
		return err
	}
	if !task.CanExpire(s.reviewCfg.MaxEscalationLevel, now) {
		return reviewtask.ErrNotActive
	}

	if err := q.Transition(query.StateExpired, now); err != nil {
		return err
	}
	if err := s.store.TransitionQuery(ctx, q, query.StatePendingReview); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return s.staleAction(ctx, queryID, "expire")
		}
		return err
	}
	if err := s.store.CancelReviewTask(ctx, queryID, now); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.log.Error("cancel review task", "query_id", queryID, "error", err)
	}

	if s.metrics != nil {
		s.metrics.Expiries.Add(ctx, 1)
	}
	s.publishReview(ctx, messagequeue.SubjectReviewExpired, q, task)
	s.broadcast(ctx, "review.expired", task)

	conv, err := s.store.GetConversation(ctx, q.ConversationID)
	if err != nil {
		return nil
	}
	conv.PendingQueryID = ""
	s.notifyUser(ctx, conv, delivery.CategoryStillWorking, noticeStillWorking)
	conv.TouchOutbound(now)
	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		s.log.Error("update conversation after expiry", "conversation_id", conv.ID, "error", err)
	}
	return nil
}

// Redeliver retries dispatch for a query whose decision committed but
// whose delivery previously failed. Called from the scheduler tick.
func (s *VerificationService) Redeliver(ctx context.Context, queryID string) error {
	mu := s.lockFor(queryID)
	mu.Lock()
	defer mu.Unlock()

	q, err := s.store.GetQuery(ctx, queryID)
	if err != nil {
		return err
	}
	switch q.State {
	case query.StateApproved, query.StateEdited, query.StateRejected:
		return s.deliverOutcome(ctx, q)
	default:
		return nil
	}
}

// ExpireConversation marks an idle account expired. Conversations with
// an open query are skipped; their lifecycle is owned by the review flow.
func (s *VerificationService) ExpireConversation(ctx context.Context, conversationID string) error {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Status == conversation.StatusExpired || conv.HasPendingQuery() {
		return nil
	}
	conv.Status = conversation.StatusExpired
	conv.UpdatedAt = s.now()
	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		return err
	}
	s.broadcast(ctx, "conversation.expired", conv)
	return nil
}

// RemindUser sends a re-engagement nudge to a quiet user. The reminder
// stamp is persisted before the send so a crashed tick never replays
// the nudge; at most one is sent per inbound message.
func (s *VerificationService) RemindUser(ctx context.Context, conversationID string) error {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	now := s.now()
	if !conv.DueUserReminder(s.reviewCfg.UserReminderAfter, now) {
		return nil
	}

	conv.RemindedAt = now
	conv.UpdatedAt = now
	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		return fmt.Errorf("persist reminder stamp: %w", err)
	}

	s.notifyUser(ctx, conv, delivery.CategoryReEngagement, noticeReEngagement)
	conv.TouchOutbound(now)
	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		s.log.Error("update conversation after reminder", "conversation_id", conv.ID, "error", err)
	}
	s.broadcast(ctx, "conversation.reminded", conv)
	return nil
}

// GetConversationStatus returns the read-only diagnostic projection.
func (s *VerificationService) GetConversationStatus(ctx context.Context, conversationID string) (*conversation.StatusProjection, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	proj := &conversation.StatusProjection{
		ConversationID: conv.ID,
		Channel:        conv.Channel,
		Status:         conv.Status,
		PendingQueryID: conv.PendingQueryID,
		LastInboundAt:  conv.LastInboundAt,
		LastOutboundAt: conv.LastOutboundAt,
	}
	if conv.PendingQueryID != "" {
		if q, qerr := s.store.GetQuery(ctx, conv.PendingQueryID); qerr == nil {
			proj.QueryState = string(q.State)
		}
		if task, terr := s.store.GetReviewTask(ctx, conv.PendingQueryID); terr == nil {
			proj.EscalationLvl = task.EscalationLevel
		}
	}
	return proj, nil
}

// deliverOutcome selects the representation, dispatches and commits the
// delivered transition. Callers hold the query's transition lock. On a
// failed dispatch the query keeps its decided state and the attempt
// count grows; the scheduler re-queues it.
func (s *VerificationService) deliverOutcome(ctx context.Context, q *query.Query) error {
	now := s.now()

	conv, err := s.store.GetConversation(ctx, q.ConversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}

	category, freeForm := s.outcomeContent(q)
	vars := map[string]string{
		"question": q.RawText,
		"answer":   q.AnswerText(),
	}

	d, err := s.deliver.Select(ctx, conv, category, vars, freeForm)
	if err != nil {
		return err
	}

	dctx, span := otelx.StartDeliverySpan(ctx, q.ID, representationOf(d))
	receipt, sendErr := s.deliver.Dispatch(dctx, conv, d)
	span.End()

	if sendErr != nil {
		q.DeliveryTries++
		q.UpdatedAt = now
		if uerr := s.store.UpdateQuery(ctx, q); uerr != nil {
			s.log.Error("persist delivery attempt", "query_id", q.ID, "error", uerr)
		}
		if s.metrics != nil {
			s.metrics.DeliveryFailures.Add(ctx, 1)
		}
		return fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, sendErr)
	}

	prev := q.State
	q.Representation = query.Representation(representationOf(d))
	q.TemplateName = d.TemplateName
	q.DeliveryTries++
	if err := q.Transition(query.StateDelivered, now); err != nil {
		return err
	}
	if err := s.store.TransitionQuery(ctx, q, prev); err != nil {
		return err
	}

	conv.PendingQueryID = ""
	conv.TouchOutbound(now)
	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		s.log.Error("update conversation after delivery", "conversation_id", conv.ID, "error", err)
	}

	if s.metrics != nil {
		s.metrics.Deliveries.Add(ctx, 1)
	}
	s.log.Info("answer delivered",
		"query_id", q.ID, "conversation_id", conv.ID,
		"outcome", q.Outcome, "representation", q.Representation,
		"message_id", receipt.MessageID)
	s.publishDelivered(ctx, q)
	s.broadcast(ctx, "answer.delivered", q)
	return nil
}

// outcomeContent maps the review outcome to a content category and the
// free-form text used when the messaging window is open.
func (s *VerificationService) outcomeContent(q *query.Query) (delivery.Category, string) {
	switch q.Outcome {
	case query.OutcomeApproved:
		return delivery.CategoryVerifiedAnswer, q.AnswerText()
	case query.OutcomeEdited:
		return delivery.CategoryCorrectedAnswer, q.AnswerText()
	default:
		return delivery.CategoryApology, noticeNoAnswer
	}
}

// notifyUser sends a best-effort notice through the selector; failures
// are logged and never abort the surrounding transition.
func (s *VerificationService) notifyUser(ctx context.Context, conv *conversation.Conversation, category delivery.Category, text string) {
	vars := map[string]string{"question": "", "answer": text}
	d, err := s.deliver.Select(ctx, conv, category, vars, text)
	if err != nil {
		s.log.Warn("notice selection failed", "conversation_id", conv.ID, "error", err)
		return
	}
	if _, err := s.deliver.Dispatch(ctx, conv, d); err != nil {
		s.log.Warn("notice delivery failed", "conversation_id", conv.ID, "error", err)
	}
}

// staleAction records and returns the stale no-op result.
func (s *VerificationService) staleAction(ctx context.Context, queryID, action string) error {
	if s.metrics != nil {
		s.metrics.StaleActions.Add(ctx, 1)
	}
	s.log.Info("stale review action discarded", "query_id", queryID, "action", action)
	return domain.ErrStaleReviewAction
}

func (s *VerificationService) publishReview(ctx context.Context, subject string, q *query.Query, task *reviewtask.Task) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(messagequeue.ReviewEventPayload{
		QueryID:         q.ID,
		ConversationID:  q.ConversationID,
		ExpertID:        task.ExpertID,
		EscalationLevel: task.EscalationLevel,
		Deadline:        task.Deadline,
		At:              s.now(),
	})
	if err != nil {
		return
	}
	if err := s.queue.Publish(ctx, subject, data); err != nil {
		s.log.Warn("review event publish failed", "subject", subject, "query_id", q.ID, "error", err)
	}
}

func (s *VerificationService) publishDelivered(ctx context.Context, q *query.Query) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(messagequeue.DeliveredPayload{
		QueryID:        q.ID,
		ConversationID: q.ConversationID,
		Representation: string(q.Representation),
		TemplateName:   q.TemplateName,
		Outcome:        string(q.Outcome),
		At:             s.now(),
	})
	if err != nil {
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectAnswerDelivered, data); err != nil {
		s.log.Warn("delivered event publish failed", "query_id", q.ID, "error", err)
	}
}

func (s *VerificationService) broadcast(ctx context.Context, eventType string, payload any) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastEvent(ctx, eventType, payload)
}

func representationOf(d delivery.Decision) string {
	if d.FreeForm {
		return string(query.RepresentationFreeForm)
	}
	return string(query.RepresentationTemplate)
}
