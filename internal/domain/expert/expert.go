// Package expert defines the expert registry: the humans who verify,
// edit or reject knowledge-base answers, organized in escalation tiers.
package expert

import (
	"errors"
	"time"
)

// Expert is one reviewer account. Tier 0 experts receive fresh review
// tasks; higher tiers receive escalations.
type Expert struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Tier       int       `json:"tier"`
	ChannelID  string    `json:"channel_id"` // external id on the chat channel, used for reminders
	APIKeyHash string    `json:"-"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

var (
	ErrNameRequired      = errors.New("expert name is required")
	ErrChannelIDRequired = errors.New("expert channel id is required")
	ErrNegativeTier      = errors.New("expert tier must be >= 0")
)

// CreateRequest holds the fields for registering a new expert.
type CreateRequest struct {
	Name      string `json:"name"`
	Tier      int    `json:"tier"`
	ChannelID string `json:"channel_id"`
}

// Validate checks the create request for correctness.
func (r *CreateRequest) Validate() error {
	if r.Name == "" {
		return ErrNameRequired
	}
	if r.ChannelID == "" {
		return ErrChannelIDRequired
	}
	if r.Tier < 0 {
		return ErrNegativeTier
	}
	return nil
}
