package store

import (
	"context"
	"fmt"
)

// Stats holds row counts for the dashboard.
type Stats struct {
	Identities           int `json:"identities"`
	AuthorizedIdentities int `json:"authorized_identities"`
	Channels             int `json:"channels"`
	Repositories         int `json:"repositories"`
}

func (s *PostgresStore) GetStats(ctx context.Context) (*Stats, error) {
	var st Stats

	// Identities and how many hold tokens
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE github_access_token IS NOT NULL)
		FROM users
	`).Scan(&st.Identities, &st.AuthorizedIdentities)
	if err != nil {
		return nil, fmt.Errorf("querying identity stats: %w", err)
	}

	// Channels with at least one filter
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM channels WHERE github_webhooks <> '{}'::jsonb
	`).Scan(&st.Channels)
	if err != nil {
		return nil, fmt.Errorf("querying channel count: %w", err)
	}

	err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM github`).Scan(&st.Repositories)
	if err != nil {
		return nil, fmt.Errorf("querying repository count: %w", err)
	}

	return &st, nil
}
