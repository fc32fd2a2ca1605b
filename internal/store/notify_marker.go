package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// NotifyMarker remembers which (subscriber, issue) pairs were already
// announced, across both ingestion paths. The webhook and the poller can both
// observe the same new issue; the marker lets whichever path arrives second
// skip the duplicate send. Markers are written only after a successful
// delivery, so a failed send stays retryable. It is best-effort: markers
// expire, Redis outages fail open, and the at-least-once delivery guarantee
// stands.
type NotifyMarker struct {
	client *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

func NewNotifyMarker(client *redis.Client, logger *slog.Logger) *NotifyMarker {
	return &NotifyMarker{
		client: client,
		logger: logger,
		ttl:    24 * time.Hour,
	}
}

func markerKey(subscriberID int64, repo string, issueNumber int) string {
	return fmt.Sprintf("notified:%d:%s#%d", subscriberID, repo, issueNumber)
}

// AlreadyNotified reports whether some path has already announced this issue
// to this subscriber. Redis failures report false so a marker outage never
// suppresses notifications.
func (m *NotifyMarker) AlreadyNotified(ctx context.Context, subscriberID int64, repo string, issueNumber int) bool {
	key := markerKey(subscriberID, repo, issueNumber)

	n, err := m.client.Exists(ctx, key).Result()
	if err != nil {
		m.logger.Error("notify marker check failed", "error", err, "key", key)
		return false // Fail open
	}

	return n > 0
}

// MarkNotified records a delivered announcement. Callers set the marker only
// after the message actually went out; a failed delivery leaves the pair
// retryable by either path.
func (m *NotifyMarker) MarkNotified(ctx context.Context, subscriberID int64, repo string, issueNumber int) {
	key := markerKey(subscriberID, repo, issueNumber)

	if err := m.client.Set(ctx, key, 1, m.ttl).Err(); err != nil {
		m.logger.Error("notify marker write failed", "error", err, "key", key)
	}
}
