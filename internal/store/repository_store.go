package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Priya8975/gh-bridge/internal/domain"
)

var ErrRepositoryExists = errors.New("repository already registered")

// CreateRepository registers a webhook source. A secret is generated when
// the request does not carry one.
func (s *PostgresStore) CreateRepository(ctx context.Context, req domain.CreateRepositoryRequest) (*domain.Repository, error) {
	secret := req.Secret
	if secret == "" {
		var err error
		secret, err = generateSecret()
		if err != nil {
			return nil, fmt.Errorf("generating secret: %w", err)
		}
	}

	var repo domain.Repository
	err := s.pool.QueryRow(ctx, `
		INSERT INTO github (name, secret)
		VALUES ($1, $2)
		RETURNING id, name, secret, created_at
	`, req.Name, secret).Scan(&repo.ID, &repo.Name, &repo.Secret, &repo.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrRepositoryExists
		}
		return nil, fmt.Errorf("inserting repository: %w", err)
	}
	return &repo, nil
}

// GetRepositoryByName returns nil when name is not registered.
func (s *PostgresStore) GetRepositoryByName(ctx context.Context, name string) (*domain.Repository, error) {
	var repo domain.Repository
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, secret, created_at
		FROM github WHERE name = $1
	`, name).Scan(&repo.ID, &repo.Name, &repo.Secret, &repo.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying repository: %w", err)
	}
	return &repo, nil
}

// ListRepositories returns every registration without its secret.
func (s *PostgresStore) ListRepositories(ctx context.Context) ([]domain.Repository, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, created_at
		FROM github
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("querying repositories: %w", err)
	}
	defer rows.Close()

	var repos []domain.Repository
	for rows.Next() {
		var repo domain.Repository
		if err := rows.Scan(&repo.ID, &repo.Name, &repo.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning repository: %w", err)
		}
		repos = append(repos, repo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating repositories: %w", err)
	}

	if repos == nil {
		repos = []domain.Repository{}
	}

	return repos, nil
}

func (s *PostgresStore) DeleteRepository(ctx context.Context, name string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM github WHERE name = $1`, name)
	if err != nil {
		return false, fmt.Errorf("deleting repository: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func generateSecret() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return "ghb_" + hex.EncodeToString(bytes), nil
}
