// Package query defines the lifecycle of a single user question: from
// receipt through knowledge retrieval, expert verification and delivery.
package query

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// State represents the lifecycle state of a query.
type State string

const (
	StateReceived      State = "received"
	StateRetrieving    State = "retrieving"
	StatePendingReview State = "pending_review"
	StateApproved      State = "approved"
	StateEdited        State = "edited"
	StateRejected      State = "rejected"
	StateDelivered     State = "delivered"
	StateExpired       State = "expired"
)

// Outcome is the expert review verdict. Outcomes are monotonic:
// pending moves to exactly one of approved/edited/rejected and is
// never revisited.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeApproved Outcome = "approved"
	OutcomeEdited   Outcome = "edited"
	OutcomeRejected Outcome = "rejected"
)

// RejectReason explains a rejected outcome.
type RejectReason string

const (
	// ReasonNoAnswerAvailable marks the retrieval-failure fallback path.
	ReasonNoAnswerAvailable RejectReason = "no_answer_available"
	// ReasonExpertRejected marks an explicit expert rejection.
	ReasonExpertRejected RejectReason = "expert_rejected"
)

// Representation is the delivery format chosen at send time, stored for audit.
type Representation string

const (
	RepresentationFreeForm Representation = "free_form"
	RepresentationTemplate Representation = "template"
)

// Candidate is one ranked knowledge-base answer candidate. The candidate
// list is immutable once set on a query.
type Candidate struct {
	Content  string  `json:"content"`
	SourceID string  `json:"source_id"`
	Score    float64 `json:"score"`
}

// Query is one user question instance and its answer lifecycle.
type Query struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	RawText        string         `json:"raw_text"`
	NormalizedText string         `json:"normalized_text"`
	State          State          `json:"state"`
	Outcome        Outcome        `json:"outcome"`
	RejectReason   RejectReason   `json:"reject_reason,omitempty"`
	Candidates     []Candidate    `json:"candidates,omitempty"`
	DraftAnswer    string         `json:"draft_answer,omitempty"`
	FinalText      string         `json:"final_text,omitempty"`
	ExpertID       string         `json:"expert_id,omitempty"`
	DecidedAt      *time.Time     `json:"decided_at,omitempty"`
	Representation Representation `json:"representation,omitempty"`
	TemplateName   string         `json:"template_name,omitempty"`
	DeliveryTries  int            `json:"delivery_tries"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	ClosedAt       *time.Time     `json:"closed_at,omitempty"`
}

var ErrTextRequired = errors.New("query text is required")

// transitions is the allowed state graph.
var transitions = map[State][]State{
	StateReceived:      {StateRetrieving},
	StateRetrieving:    {StatePendingReview, StateRejected},
	StatePendingReview: {StateApproved, StateEdited, StateRejected, StateExpired},
	StateApproved:      {StateDelivered},
	StateEdited:        {StateDelivered},
	StateRejected:      {StateDelivered},
}

// New creates a query in the received state.
func New(id, conversationID, text string, now time.Time) (*Query, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrTextRequired
	}
	return &Query{
		ID:             id,
		ConversationID: conversationID,
		RawText:        text,
		NormalizedText: Normalize(text),
		State:          StateReceived,
		Outcome:        OutcomePending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Normalize collapses whitespace so retrieval and dedup see a stable form.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// CanTransition reports whether moving from -> to is a legal step.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the query to the given state, enforcing the state graph.
func (q *Query) Transition(to State, now time.Time) error {
	if !CanTransition(q.State, to) {
		return fmt.Errorf("illegal transition %s -> %s", q.State, to)
	}
	q.State = to
	q.UpdatedAt = now
	if q.IsClosed() {
		t := now
		q.ClosedAt = &t
	}
	return nil
}

// SetCandidates records the ranked retrieval result. The list is write-once.
func (q *Query) SetCandidates(cands []Candidate) error {
	if len(q.Candidates) > 0 {
		return errors.New("candidates already set")
	}
	q.Candidates = cands
	return nil
}

// Decide records the expert verdict. Valid only while the outcome is pending.
func (q *Query) Decide(outcome Outcome, expertID, editedText string, now time.Time) error {
	if q.Outcome != OutcomePending {
		return fmt.Errorf("outcome already %s", q.Outcome)
	}
	switch outcome {
	case OutcomeApproved, OutcomeRejected:
	case OutcomeEdited:
		if strings.TrimSpace(editedText) == "" {
			return errors.New("edited outcome requires edited text")
		}
		q.FinalText = editedText
	default:
		return fmt.Errorf("invalid outcome %q", outcome)
	}
	if outcome == OutcomeRejected {
		q.RejectReason = ReasonExpertRejected
	}
	q.Outcome = outcome
	q.ExpertID = expertID
	t := now
	q.DecidedAt = &t
	return nil
}

// RejectNoAnswer records the retrieval-failure verdict. No expert is
// involved; the outcome must still be pending.
func (q *Query) RejectNoAnswer(now time.Time) error {
	if q.Outcome != OutcomePending {
		return fmt.Errorf("outcome already %s", q.Outcome)
	}
	q.Outcome = OutcomeRejected
	q.RejectReason = ReasonNoAnswerAvailable
	t := now
	q.DecidedAt = &t
	return nil
}

// IsClosed reports whether the query reached a final resting state.
func (q *Query) IsClosed() bool {
	return q.State == StateDelivered || q.State == StateExpired
}

// IsPendingReview reports whether the query is awaiting an expert verdict.
func (q *Query) IsPendingReview() bool {
	return q.State == StatePendingReview
}

// AnswerText returns the text that should reach the user: the expert's
// edit when present, otherwise the draft composed from the top candidate.
func (q *Query) AnswerText() string {
	if q.FinalText != "" {
		return q.FinalText
	}
	return q.DraftAnswer
}
