package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/expertloop/expertloop/internal/domain/conversation"
)

const conversationColumns = `id, channel, user_external_id, status, locale,
	COALESCE(pending_query_id::text, ''), last_inbound_at, last_outbound_at, reminded_at, created_at, updated_at`

func (s *Store) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)

	c, err := scanConversation(row)
	if err != nil {
		return nil, notFoundWrap(err, "get conversation %s", id)
	}
	return &c, nil
}

func (s *Store) GetConversationByIdentity(ctx context.Context, channel, userExternalID string) (*conversation.Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE channel = $1 AND user_external_id = $2`, channel, userExternalID)

	c, err := scanConversation(row)
	if err != nil {
		return nil, notFoundWrap(err, "get conversation %s/%s", channel, userExternalID)
	}
	return &c, nil
}

func (s *Store) CreateConversation(ctx context.Context, c *conversation.Conversation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, channel, user_external_id, status, locale, pending_query_id,
		   last_inbound_at, last_outbound_at, reminded_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.Channel, c.UserExternalID, string(c.Status), c.Locale, nullIfEmpty(c.PendingQueryID),
		nullTime(c.LastInboundAt), nullTime(c.LastOutboundAt), nullTime(c.RemindedAt), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *Store) UpdateConversation(ctx context.Context, c *conversation.Conversation) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET status = $2, locale = $3, pending_query_id = $4,
		   last_inbound_at = $5, last_outbound_at = $6, reminded_at = $7, updated_at = $8
		 WHERE id = $1`,
		c.ID, string(c.Status), c.Locale, nullIfEmpty(c.PendingQueryID),
		nullTime(c.LastInboundAt), nullTime(c.LastOutboundAt), nullTime(c.RemindedAt), c.UpdatedAt)
	return execExpectOne(tag, err, "update conversation %s", c.ID)
}

func (s *Store) ListIdleConversations(ctx context.Context, idleSince time.Time, limit int) ([]conversation.Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE status = 'active' AND pending_query_id IS NULL AND last_inbound_at < $1
		 ORDER BY last_inbound_at ASC LIMIT $2`, idleSince, limit)
	if err != nil {
		return nil, fmt.Errorf("list idle conversations: %w", err)
	}
	defer rows.Close()

	var convs []conversation.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func scanConversation(row scannable) (conversation.Conversation, error) {
	var c conversation.Conversation
	var lastIn, lastOut, reminded *time.Time
	err := row.Scan(&c.ID, &c.Channel, &c.UserExternalID, &c.Status, &c.Locale,
		&c.PendingQueryID, &lastIn, &lastOut, &reminded, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	if lastIn != nil {
		c.LastInboundAt = *lastIn
	}
	if lastOut != nil {
		c.LastOutboundAt = *lastOut
	}
	if reminded != nil {
		c.RemindedAt = *reminded
	}
	return c, nil
}
