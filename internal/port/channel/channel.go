// Package channel defines the chat channel adapter port (interface)
// and its capability surface. The core never branches on provider
// identity; provider behavior lives entirely behind this port.
package channel

import (
	"context"
	"time"

	"github.com/expertloop/expertloop/internal/domain/delivery"
)

// Receipt acknowledges an accepted outbound message.
type Receipt struct {
	MessageID string    `json:"message_id"`
	SentAt    time.Time `json:"sent_at"`
}

// InboundObserver is implemented by adapters that derive window state
// from inbound traffic. The engine notes every inbound message on the
// conversation's adapter before making delivery decisions.
type InboundObserver interface {
	NoteInbound(conversationID string, at time.Time)
}

// Adapter is the capability interface for one chat provider.
type Adapter interface {
	// Name returns the provider key (e.g. "whatsapp").
	Name() string

	// IsFreeFormWindowOpen reports whether the conversation is inside the
	// provider's free-form messaging window at this moment.
	IsFreeFormWindowOpen(ctx context.Context, conversationID string) (bool, error)

	// Send transports a rendered payload. Retries are bounded inside the
	// adapter; exhaustion surfaces domain.ErrDeliveryFailed.
	Send(ctx context.Context, conversationID string, d delivery.Decision) (Receipt, error)
}
