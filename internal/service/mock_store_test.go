package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/expertloop/expertloop/internal/domain"
	"github.com/expertloop/expertloop/internal/domain/conversation"
	"github.com/expertloop/expertloop/internal/domain/correction"
	"github.com/expertloop/expertloop/internal/domain/delivery"
	"github.com/expertloop/expertloop/internal/domain/expert"
	"github.com/expertloop/expertloop/internal/domain/query"
	"github.com/expertloop/expertloop/internal/domain/reviewtask"
	"github.com/expertloop/expertloop/internal/port/channel"
	"github.com/expertloop/expertloop/internal/port/retriever"
)

// mockStore is an in-memory database.Store. Entities are copied on the
// way in and out so tests observe only committed writes, the same way a
// real store would.
type mockStore struct {
	mu            sync.Mutex
	conversations map[string]*conversation.Conversation
	queries       map[string]*query.Query
	tasks         map[string]*reviewtask.Task // keyed by query id
	corrections   map[string]correction.Record
	experts       map[string]*expert.Expert
}

func newMockStore() *mockStore {
	return &mockStore{
		conversations: make(map[string]*conversation.Conversation),
		queries:       make(map[string]*query.Query),
		tasks:         make(map[string]*reviewtask.Task),
		corrections:   make(map[string]correction.Record),
		experts:       make(map[string]*expert.Expert),
	}
}

func copyConversation(c *conversation.Conversation) *conversation.Conversation {
	cp := *c
	return &cp
}

func copyQuery(q *query.Query) *query.Query {
	cp := *q
	cp.Candidates = append([]query.Candidate(nil), q.Candidates...)
	return &cp
}

func copyTask(t *reviewtask.Task) *reviewtask.Task {
	cp := *t
	cp.RemindersSent = append([]bool(nil), t.RemindersSent...)
	return &cp
}

func (s *mockStore) GetConversation(_ context.Context, id string) (*conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyConversation(c), nil
}

func (s *mockStore) GetConversationByIdentity(_ context.Context, ch, userID string) (*conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.Channel == ch && c.UserExternalID == userID {
			return copyConversation(c), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *mockStore) CreateConversation(_ context.Context, c *conversation.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = copyConversation(c)
	return nil
}

func (s *mockStore) UpdateConversation(_ context.Context, c *conversation.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[c.ID]; !ok {
		return domain.ErrNotFound
	}
	s.conversations[c.ID] = copyConversation(c)
	return nil
}

func (s *mockStore) ListIdleConversations(_ context.Context, idleSince time.Time, limit int) ([]conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []conversation.Conversation
	for _, c := range s.conversations {
		if c.Status == conversation.StatusActive && c.PendingQueryID == "" && c.LastInboundAt.Before(idleSince) {
			out = append(out, *copyConversation(c))
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *mockStore) GetQuery(_ context.Context, id string) (*query.Query, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyQuery(q), nil
}

func (s *mockStore) CreateQuery(_ context.Context, q *query.Query) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries[q.ID] = copyQuery(q)
	return nil
}

func (s *mockStore) UpdateQuery(_ context.Context, q *query.Query) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queries[q.ID]; !ok {
		return domain.ErrNotFound
	}
	s.queries[q.ID] = copyQuery(q)
	return nil
}

func (s *mockStore) TransitionQuery(_ context.Context, q *query.Query, expected query.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.queries[q.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.State != expected {
		return domain.ErrConflict
	}
	s.queries[q.ID] = copyQuery(q)
	return nil
}

func (s *mockStore) ListUndelivered(_ context.Context, limit int) ([]query.Query, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []query.Query
	for _, q := range s.queries {
		switch q.State {
		case query.StateApproved, query.StateEdited, query.StateRejected:
			out = append(out, *copyQuery(q))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *mockStore) GetReviewTask(_ context.Context, queryID string) (*reviewtask.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[queryID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyTask(t), nil
}

func (s *mockStore) CreateReviewTask(_ context.Context, t *reviewtask.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.QueryID] = copyTask(t)
	return nil
}

func (s *mockStore) UpdateReviewTask(_ context.Context, t *reviewtask.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.QueryID]; !ok {
		return domain.ErrNotFound
	}
	s.tasks[t.QueryID] = copyTask(t)
	return nil
}

func (s *mockStore) CancelReviewTask(_ context.Context, queryID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[queryID]
	if !ok || !t.Active {
		return domain.ErrNotFound
	}
	t.Cancel(now)
	return nil
}

func (s *mockStore) ListDueReviewTasks(_ context.Context, now time.Time, limit int) ([]reviewtask.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []reviewtask.Task
	for _, t := range s.tasks {
		if t.Active && t.Overdue(now) {
			out = append(out, *copyTask(t))
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *mockStore) ListActiveReviewTasks(_ context.Context, limit int) ([]reviewtask.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []reviewtask.Task
	for _, t := range s.tasks {
		if t.Active {
			out = append(out, *copyTask(t))
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *mockStore) AppendCorrection(_ context.Context, rec *correction.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.corrections[rec.QueryID]; ok {
		return nil // absorbed, same as ON CONFLICT DO NOTHING
	}
	s.corrections[rec.QueryID] = *rec
	return nil
}

func (s *mockStore) ListCorrections(_ context.Context, since time.Time, limit int) ([]correction.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []correction.Record
	for _, rec := range s.corrections {
		if !rec.CreatedAt.Before(since) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Append and List let the mock double as the ledger port.
func (s *mockStore) Append(ctx context.Context, rec *correction.Record) error {
	return s.AppendCorrection(ctx, rec)
}

func (s *mockStore) List(ctx context.Context, since time.Time, limit int) ([]correction.Record, error) {
	return s.ListCorrections(ctx, since, limit)
}

func (s *mockStore) GetExpert(_ context.Context, id string) (*expert.Expert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.experts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *mockStore) GetExpertForTier(_ context.Context, tier int) (*expert.Expert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.experts {
		if e.Tier == tier && e.Enabled {
			cp := *e
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *mockStore) CreateExpert(_ context.Context, e *expert.Expert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.experts[e.ID] = &cp
	return nil
}

func (s *mockStore) UpdateExpert(_ context.Context, e *expert.Expert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.experts[e.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *e
	s.experts[e.ID] = &cp
	return nil
}

func (s *mockStore) ListExperts(_ context.Context) ([]expert.Expert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []expert.Expert
	for _, e := range s.experts {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// mockRetriever implements retriever.Retriever.
type mockRetriever struct {
	candidates []query.Candidate
	err        error
}

func (r *mockRetriever) Search(_ context.Context, _ string, _ retriever.Options) ([]query.Candidate, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.candidates, nil
}

// mockAdapter implements channel.Adapter and channel.InboundObserver.
type mockAdapter struct {
	mu         sync.Mutex
	windowOpen bool
	sendErr    error
	sent       []sentMessage
	inbound    map[string]time.Time
}

type sentMessage struct {
	to string
	d  delivery.Decision
}

func newMockAdapter(windowOpen bool) *mockAdapter {
	return &mockAdapter{windowOpen: windowOpen, inbound: make(map[string]time.Time)}
}

func (a *mockAdapter) Name() string { return "whatsapp" }

func (a *mockAdapter) IsFreeFormWindowOpen(_ context.Context, _ string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.windowOpen, nil
}

func (a *mockAdapter) Send(_ context.Context, to string, d delivery.Decision) (channel.Receipt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return channel.Receipt{}, a.sendErr
	}
	a.sent = append(a.sent, sentMessage{to: to, d: d})
	return channel.Receipt{MessageID: "wamid.test", SentAt: time.Now()}, nil
}

func (a *mockAdapter) NoteInbound(conversationID string, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inbound[conversationID] = at
}

func (a *mockAdapter) setSendErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sendErr = err
}

func (a *mockAdapter) sentCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sent)
}

func (a *mockAdapter) lastSent() (sentMessage, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sent) == 0 {
		return sentMessage{}, false
	}
	return a.sent[len(a.sent)-1], true
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTemplates() []delivery.Template {
	return []delivery.Template{
		{Name: "verified_v1", Category: delivery.CategoryVerifiedAnswer, Language: "en",
			Body: "Q: {question} A: {answer}", Slots: []string{"question", "answer"}},
		{Name: "corrected_v1", Category: delivery.CategoryCorrectedAnswer, Language: "en",
			Body: "Corrected: {answer}", Slots: []string{"answer"}},
		{Name: "apology_v1", Category: delivery.CategoryApology, Language: "en",
			Body: "Sorry, no answer was found."},
		{Name: "wait_v1", Category: delivery.CategoryPleaseWait, Language: "en",
			Body: "Please wait for your previous answer."},
		{Name: "working_v1", Category: delivery.CategoryStillWorking, Language: "en",
			Body: "We are still working on it."},
		{Name: "nudge_v1", Category: delivery.CategoryReEngagement, Language: "en",
			Body: "We are here whenever you need us."},
		{Name: "generic_v1", Category: delivery.CategoryGeneric, Language: "en",
			Body: "You have an update."},
	}
}
