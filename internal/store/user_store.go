package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/issuebell/issuebell/internal/domain"
)

func (s *PostgresStore) CreateUser(ctx context.Context, req domain.CreateUserRequest) (*domain.User, error) {
	var user domain.User
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (discord_id, username, avatar, github_username, github_token)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (discord_id) DO UPDATE SET
			username = EXCLUDED.username,
			avatar = EXCLUDED.avatar,
			github_username = COALESCE(EXCLUDED.github_username, users.github_username),
			github_token = COALESCE(EXCLUDED.github_token, users.github_token)
		RETURNING id, discord_id, username, avatar, github_username, github_token, created_at
	`, req.DiscordID, req.Username, req.Avatar, req.GitHubUsername, req.GitHubToken).Scan(
		&user.ID, &user.DiscordID, &user.Username, &user.Avatar,
		&user.GitHubUsername, &user.GitHubToken, &user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}
	return &user, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	var user domain.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, discord_id, username, avatar, github_username, github_token, created_at
		FROM users WHERE id = $1
	`, id).Scan(
		&user.ID, &user.DiscordID, &user.Username, &user.Avatar,
		&user.GitHubUsername, &user.GitHubToken, &user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &user, nil
}

// ListUsers returns all users, optionally filtered by a case-insensitive
// substring of the Discord or GitHub username.
func (s *PostgresStore) ListUsers(ctx context.Context, q string) ([]domain.User, error) {
	query := `
		SELECT id, discord_id, username, avatar, github_username, github_token, created_at
		FROM users
	`
	args := []interface{}{}
	if q != "" {
		query += ` WHERE username ILIKE $1 OR github_username ILIKE $1`
		args = append(args, "%"+q+"%")
	}
	query += ` ORDER BY username`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	return scanUsers(rows)
}

// ListSubscribersWithTokens returns the users the polling path can act for:
// those with a GitHub token on record. Users without one are simply not
// polled; that is not an error.
func (s *PostgresStore) ListSubscribersWithTokens(ctx context.Context) ([]domain.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, discord_id, username, avatar, github_username, github_token, created_at
		FROM users
		WHERE github_token IS NOT NULL AND github_token <> ''
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying subscribers with tokens: %w", err)
	}
	defer rows.Close()

	return scanUsers(rows)
}

func scanUsers(rows pgx.Rows) ([]domain.User, error) {
	var users []domain.User
	for rows.Next() {
		var user domain.User
		err := rows.Scan(
			&user.ID, &user.DiscordID, &user.Username, &user.Avatar,
			&user.GitHubUsername, &user.GitHubToken, &user.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, user)
	}

	if users == nil {
		users = []domain.User{}
	}

	return users, nil
}
