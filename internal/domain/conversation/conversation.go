// Package conversation defines the per-user, per-channel interaction context.
package conversation

import (
	"errors"
	"time"
)

// Status represents the lifecycle state of a conversation.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// Conversation is the durable context for one user on one channel.
// It is the single source of truth for last-interaction timestamps;
// only the verification engine mutates it.
type Conversation struct {
	ID             string    `json:"id"`
	Channel        string    `json:"channel"` // provider key, e.g. "whatsapp"
	UserExternalID string    `json:"user_external_id"`
	Status         Status    `json:"status"`
	Locale         string    `json:"locale"`
	PendingQueryID string    `json:"pending_query_id,omitempty"`
	LastInboundAt  time.Time `json:"last_inbound_at"`
	LastOutboundAt time.Time `json:"last_outbound_at"`
	RemindedAt     time.Time `json:"reminded_at,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

var (
	ErrChannelRequired = errors.New("channel is required")
	ErrUserIDRequired  = errors.New("user external id is required")
)

// New creates an active conversation for the given channel identity.
func New(id, channel, userExternalID, locale string, now time.Time) (*Conversation, error) {
	if channel == "" {
		return nil, ErrChannelRequired
	}
	if userExternalID == "" {
		return nil, ErrUserIDRequired
	}
	if locale == "" {
		locale = "en"
	}
	return &Conversation{
		ID:             id,
		Channel:        channel,
		UserExternalID: userExternalID,
		Status:         StatusActive,
		Locale:         locale,
		LastInboundAt:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// HasPendingQuery reports whether a non-terminal query is open on this conversation.
func (c *Conversation) HasPendingQuery() bool {
	return c.PendingQueryID != ""
}

// TouchInbound records an inbound user message at the given time.
// An inbound message always reactivates an expired conversation and
// clears any outstanding re-engagement nudge.
func (c *Conversation) TouchInbound(now time.Time) {
	c.LastInboundAt = now
	c.Status = StatusActive
	c.RemindedAt = time.Time{}
	c.UpdatedAt = now
}

// DueUserReminder reports whether the user is owed a re-engagement
// nudge: active, nothing pending, idle past the threshold and not yet
// nudged since their last message.
func (c *Conversation) DueUserReminder(after time.Duration, now time.Time) bool {
	if after <= 0 || c.Status != StatusActive || c.HasPendingQuery() {
		return false
	}
	if now.Sub(c.LastInboundAt) < after {
		return false
	}
	return c.RemindedAt.Before(c.LastInboundAt)
}

// TouchOutbound records an outbound delivery at the given time.
func (c *Conversation) TouchOutbound(now time.Time) {
	c.LastOutboundAt = now
	c.UpdatedAt = now
}

// StatusProjection is the read-only diagnostic view exposed to the front door.
type StatusProjection struct {
	ConversationID string    `json:"conversation_id"`
	Channel        string    `json:"channel"`
	Status         Status    `json:"status"`
	PendingQueryID string    `json:"pending_query_id,omitempty"`
	QueryState     string    `json:"query_state,omitempty"`
	EscalationLvl  int       `json:"escalation_level"`
	LastInboundAt  time.Time `json:"last_inbound_at"`
	LastOutboundAt time.Time `json:"last_outbound_at"`
}
