package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/issuebell/issuebell/internal/domain"
)

// ErrDuplicateSubscription is returned when a (user, repo, pattern) triple
// already exists.
var ErrDuplicateSubscription = errors.New("subscription already exists")

const subscriptionColumns = "id, user_id, repo_full_name, label, last_checked_at, created_at"

func (s *PostgresStore) CreateSubscription(ctx context.Context, userID int64, req domain.CreateSubscriptionRequest) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (user_id, repo_full_name, label)
		VALUES ($1, $2, $3)
		RETURNING `+subscriptionColumns+`
	`, userID, req.RepoFullName, req.LabelPattern).Scan(
		&sub.ID, &sub.UserID, &sub.RepoFullName, &sub.LabelPattern,
		&sub.LastCheckedAt, &sub.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateSubscription
		}
		return nil, fmt.Errorf("inserting subscription: %w", err)
	}
	return &sub, nil
}

// ListSubscriptionsByRepo returns every subscription for a repository,
// system-wide, in creation order. The webhook path resolves against this set;
// the stable order makes dedup winners deterministic.
func (s *PostgresStore) ListSubscriptionsByRepo(ctx context.Context, repo string) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE repo_full_name = $1
		ORDER BY created_at, id
	`, repo)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions by repo: %w", err)
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

func (s *PostgresStore) ListSubscriptionsByUser(ctx context.Context, userID int64) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions by user: %w", err)
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

// DeleteSubscription removes a subscription owned by userID. Returns false
// when no such subscription exists (or it belongs to someone else).
func (s *PostgresStore) DeleteSubscription(ctx context.Context, userID, subscriptionID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM subscriptions WHERE id = $1 AND user_id = $2
	`, subscriptionID, userID)
	if err != nil {
		return false, fmt.Errorf("deleting subscription: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// AdvanceWatermarks sets last_checked_at on the given subscriptions in a
// single transaction. The poller calls this once per subscriber per cycle, so
// a crash mid-cycle leaves each subscriber either fully advanced or untouched.
func (s *PostgresStore) AdvanceWatermarks(ctx context.Context, ids []int64, ts time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE subscriptions SET last_checked_at = $1 WHERE id = ANY($2)
	`, ts, ids); err != nil {
		return fmt.Errorf("advancing watermarks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing watermark update: %w", err)
	}

	return nil
}

func scanSubscriptions(rows pgx.Rows) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	for rows.Next() {
		var sub domain.Subscription
		err := rows.Scan(
			&sub.ID, &sub.UserID, &sub.RepoFullName, &sub.LabelPattern,
			&sub.LastCheckedAt, &sub.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, sub)
	}

	if subs == nil {
		subs = []domain.Subscription{}
	}

	return subs, nil
}
