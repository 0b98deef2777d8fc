// Package database defines the conversation store port (interface).
// All mutation of conversations, queries and review tasks goes through
// the verification engine's entry points; nothing writes fields directly.
package database

import (
	"context"
	"time"

	"github.com/expertloop/expertloop/internal/domain/conversation"
	"github.com/expertloop/expertloop/internal/domain/correction"
	"github.com/expertloop/expertloop/internal/domain/expert"
	"github.com/expertloop/expertloop/internal/domain/query"
	"github.com/expertloop/expertloop/internal/domain/reviewtask"
)

// Store is the port interface for the durable conversation store.
// Conditional methods return domain.ErrConflict when the expected
// state no longer holds, so racing transitions resolve to a no-op.
type Store interface {
	// Conversations
	GetConversation(ctx context.Context, id string) (*conversation.Conversation, error)
	GetConversationByIdentity(ctx context.Context, channel, userExternalID string) (*conversation.Conversation, error)
	CreateConversation(ctx context.Context, c *conversation.Conversation) error
	UpdateConversation(ctx context.Context, c *conversation.Conversation) error
	ListIdleConversations(ctx context.Context, idleSince time.Time, limit int) ([]conversation.Conversation, error)

	// Queries
	GetQuery(ctx context.Context, id string) (*query.Query, error)
	CreateQuery(ctx context.Context, q *query.Query) error
	UpdateQuery(ctx context.Context, q *query.Query) error
	// TransitionQuery persists q only if the stored state still equals
	// expected; otherwise it returns domain.ErrConflict and q is unchanged
	// in the store.
	TransitionQuery(ctx context.Context, q *query.Query, expected query.State) error
	ListUndelivered(ctx context.Context, limit int) ([]query.Query, error)

	// Review tasks
	GetReviewTask(ctx context.Context, queryID string) (*reviewtask.Task, error)
	CreateReviewTask(ctx context.Context, t *reviewtask.Task) error
	UpdateReviewTask(ctx context.Context, t *reviewtask.Task) error
	// CancelReviewTask deactivates the task for the query if still active.
	CancelReviewTask(ctx context.Context, queryID string, now time.Time) error
	ListDueReviewTasks(ctx context.Context, now time.Time, limit int) ([]reviewtask.Task, error)
	ListActiveReviewTasks(ctx context.Context, limit int) ([]reviewtask.Task, error)

	// Corrections
	AppendCorrection(ctx context.Context, rec *correction.Record) error
	ListCorrections(ctx context.Context, since time.Time, limit int) ([]correction.Record, error)

	// Experts
	GetExpert(ctx context.Context, id string) (*expert.Expert, error)
	GetExpertForTier(ctx context.Context, tier int) (*expert.Expert, error)
	CreateExpert(ctx context.Context, e *expert.Expert) error
	UpdateExpert(ctx context.Context, e *expert.Expert) error
	ListExperts(ctx context.Context) ([]expert.Expert, error)
}
