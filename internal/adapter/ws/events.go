package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for the ops feed. The payloads are the domain
// objects themselves; dashboards pick the fields they need.
const (
	EventQueryReceived       = "query.received"
	EventQueryRejected       = "query.rejected"
	EventReviewCreated       = "review.created"
	EventReviewDecided       = "review.decided"
	EventReviewEscalated     = "review.escalated"
	EventReviewExpired       = "review.expired"
	EventAnswerDelivered     = "answer.delivered"
	EventConversationExpired = "conversation.expired"
)

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
