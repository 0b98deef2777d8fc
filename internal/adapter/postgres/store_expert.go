package postgres

import (
	"context"
	"fmt"

	"github.com/expertloop/expertloop/internal/domain/expert"
)

const expertColumns = `id, name, tier, channel_id, api_key_hash, enabled, created_at, updated_at`

func (s *Store) GetExpert(ctx context.Context, id string) (*expert.Expert, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+expertColumns+` FROM experts WHERE id = $1`, id)

	e, err := scanExpert(row)
	if err != nil {
		return nil, notFoundWrap(err, "get expert %s", id)
	}
	return &e, nil
}

// GetExpertForTier returns the least recently assigned enabled expert
// at the given tier, spreading review load across the pool.
func (s *Store) GetExpertForTier(ctx context.Context, tier int) (*expert.Expert, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+expertColumns+` FROM experts
		 WHERE tier = $1 AND enabled = TRUE
		 ORDER BY updated_at ASC LIMIT 1`, tier)

	e, err := scanExpert(row)
	if err != nil {
		return nil, notFoundWrap(err, "get expert for tier %d", tier)
	}
	return &e, nil
}

func (s *Store) CreateExpert(ctx context.Context, e *expert.Expert) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO experts (id, name, tier, channel_id, api_key_hash, enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Name, e.Tier, e.ChannelID, e.APIKeyHash, e.Enabled, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create expert: %w", err)
	}
	return nil
}

func (s *Store) UpdateExpert(ctx context.Context, e *expert.Expert) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE experts SET name = $2, tier = $3, channel_id = $4, api_key_hash = $5,
		   enabled = $6, updated_at = $7
		 WHERE id = $1`,
		e.ID, e.Name, e.Tier, e.ChannelID, e.APIKeyHash, e.Enabled, e.UpdatedAt)
	return execExpectOne(tag, err, "update expert %s", e.ID)
}

func (s *Store) ListExperts(ctx context.Context) ([]expert.Expert, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+expertColumns+` FROM experts ORDER BY tier ASC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list experts: %w", err)
	}
	defer rows.Close()

	var experts []expert.Expert
	for rows.Next() {
		e, err := scanExpert(rows)
		if err != nil {
			return nil, err
		}
		experts = append(experts, e)
	}
	return experts, rows.Err()
}

func scanExpert(row scannable) (expert.Expert, error) {
	var e expert.Expert
	err := row.Scan(&e.ID, &e.Name, &e.Tier, &e.ChannelID, &e.APIKeyHash, &e.Enabled,
		&e.CreatedAt, &e.UpdatedAt)
	return e, err
}
