package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Priya8975/gh-bridge/internal/domain"
)

// GetChannelSubscriptions returns the channel's filters keyed by webhook
// source. A channel without any filters yields an empty map.
func (s *PostgresStore) GetChannelSubscriptions(ctx context.Context, channelID string) (domain.ChannelSubscriptions, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT github_webhooks FROM channels WHERE id = $1
	`, channelID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ChannelSubscriptions{}, nil
		}
		return nil, fmt.Errorf("querying channel subscriptions: %w", err)
	}

	subs := domain.ChannelSubscriptions{}
	if err := json.Unmarshal(raw, &subs); err != nil {
		return nil, fmt.Errorf("decoding channel subscriptions: %w", err)
	}
	return subs, nil
}

// SetChannelFilter stores the channel's filter for one source, replacing
// any previous filter for it.
func (s *PostgresStore) SetChannelFilter(ctx context.Context, channelID, source string, filter domain.Filter) error {
	data, err := json.Marshal(filter)
	if err != nil {
		return fmt.Errorf("encoding filter: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO channels (id, github_webhooks)
		VALUES ($1, jsonb_build_object($2::text, $3::jsonb))
		ON CONFLICT (id) DO UPDATE
		SET github_webhooks = channels.github_webhooks || jsonb_build_object($2::text, $3::jsonb)
	`, channelID, source, data)
	if err != nil {
		return fmt.Errorf("storing channel filter: %w", err)
	}
	return nil
}

// RemoveChannelFilter drops the channel's filter for source. It reports
// whether a filter was removed.
func (s *PostgresStore) RemoveChannelFilter(ctx context.Context, channelID, source string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE channels
		SET github_webhooks = github_webhooks - $2::text
		WHERE id = $1 AND github_webhooks -> $2::text IS NOT NULL
	`, channelID, source)
	if err != nil {
		return false, fmt.Errorf("removing channel filter: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FindSubscribedChannels returns every channel holding a filter for
// source, with that filter.
func (s *PostgresStore) FindSubscribedChannels(ctx context.Context, source string) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, github_webhooks -> $1::text
		FROM channels
		WHERE github_webhooks -> $1::text IS NOT NULL
		ORDER BY id
	`, source)
	if err != nil {
		return nil, fmt.Errorf("querying subscribed channels: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		var sub domain.Subscription
		var raw []byte
		if err := rows.Scan(&sub.ChannelID, &raw); err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		if err := json.Unmarshal(raw, &sub.Filter); err != nil {
			return nil, fmt.Errorf("decoding filter for channel %s: %w", sub.ChannelID, err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscriptions: %w", err)
	}

	if subs == nil {
		subs = []domain.Subscription{}
	}

	return subs, nil
}
