package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Priya8975/gh-bridge/internal/domain"
)

// maxTokenLength matches the users token columns.
const maxTokenLength = 255

var ErrIdentityNotFound = errors.New("identity not found")

func (s *PostgresStore) CreateIdentity(ctx context.Context, name string) (*domain.Identity, error) {
	var identity domain.Identity
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (name) VALUES ($1)
		RETURNING id, name
	`, name).Scan(&identity.ID, &identity.Name)
	if err != nil {
		return nil, fmt.Errorf("inserting identity: %w", err)
	}
	return &identity, nil
}

// GetIdentity returns nil when no identity has the given id.
func (s *PostgresStore) GetIdentity(ctx context.Context, id int64) (*domain.Identity, error) {
	var identity domain.Identity
	var access, refresh *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, github_access_token, github_refresh_token
		FROM users WHERE id = $1
	`, id).Scan(&identity.ID, &identity.Name, &access, &refresh)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying identity: %w", err)
	}

	if access != nil && refresh != nil {
		identity.AccessToken = *access
		identity.RefreshToken = *refresh
	}
	return &identity, nil
}

// UpdateTokens replaces both tokens of an identity in one statement.
func (s *PostgresStore) UpdateTokens(ctx context.Context, identityID int64, accessToken, refreshToken string) error {
	if accessToken == "" || refreshToken == "" {
		return fmt.Errorf("updating tokens: both tokens are required")
	}
	if len(accessToken) > maxTokenLength || len(refreshToken) > maxTokenLength {
		return fmt.Errorf("updating tokens: token exceeds %d characters", maxTokenLength)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET github_access_token = $2, github_refresh_token = $3
		WHERE id = $1
	`, identityID, accessToken, refreshToken)
	if err != nil {
		return fmt.Errorf("updating tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIdentityNotFound
	}
	return nil
}

// ClearTokens revokes the stored credentials of an identity.
func (s *PostgresStore) ClearTokens(ctx context.Context, identityID int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET github_access_token = NULL, github_refresh_token = NULL
		WHERE id = $1
	`, identityID)
	if err != nil {
		return fmt.Errorf("clearing tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIdentityNotFound
	}
	return nil
}
