package store

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestMarker(t *testing.T) *NotifyMarker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewNotifyMarker(client, logger)
}

func TestNotifyMarker_MarkThenDuplicate(t *testing.T) {
	m := setupTestMarker(t)
	ctx := context.Background()

	if m.AlreadyNotified(ctx, 7, "octocat/hello-world", 42) {
		t.Error("unmarked pair should not read as announced")
	}

	m.MarkNotified(ctx, 7, "octocat/hello-world", 42)

	if !m.AlreadyNotified(ctx, 7, "octocat/hello-world", 42) {
		t.Error("marked pair should read as announced")
	}
}

func TestNotifyMarker_CheckDoesNotMark(t *testing.T) {
	// A check alone must leave the pair retryable: only a successful delivery
	// writes the marker.
	m := setupTestMarker(t)
	ctx := context.Background()

	m.AlreadyNotified(ctx, 7, "octocat/hello-world", 42)

	if m.AlreadyNotified(ctx, 7, "octocat/hello-world", 42) {
		t.Error("checking must not mark the pair as announced")
	}
}

func TestNotifyMarker_IsolationBetweenPairs(t *testing.T) {
	m := setupTestMarker(t)
	ctx := context.Background()

	m.MarkNotified(ctx, 7, "octocat/hello-world", 42)

	if m.AlreadyNotified(ctx, 9, "octocat/hello-world", 42) {
		t.Error("different subscriber should not be suppressed")
	}
	if m.AlreadyNotified(ctx, 7, "octocat/hello-world", 43) {
		t.Error("different issue should not be suppressed")
	}
	if m.AlreadyNotified(ctx, 7, "other/repo", 42) {
		t.Error("same issue number in a different repo should not be suppressed")
	}
}

func TestNotifyMarker_FailsOpenWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	m := NewNotifyMarker(client, logger)

	mr.Close()

	if m.AlreadyNotified(context.Background(), 7, "octocat/hello-world", 42) {
		t.Error("marker outage must not suppress notifications")
	}
}
