// Package notify delivers notifications to subscribers' chat destinations.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/issuebell/issuebell/internal/domain"
	"github.com/issuebell/issuebell/internal/engine"
	"github.com/issuebell/issuebell/internal/websocket"
)

// Transport is the chat provider surface the dispatcher needs: open (or
// reuse) a direct channel to a destination, then post into it.
type Transport interface {
	OpenChannel(ctx context.Context, destinationID string) (string, error)
	Post(ctx context.Context, channelID, content string) error
}

// Marker suppresses duplicate announcements across the two ingestion paths.
// A pair is marked only after a successful send, so failures stay retryable.
type Marker interface {
	AlreadyNotified(ctx context.Context, subscriberID int64, repo string, issueNumber int) bool
	MarkNotified(ctx context.Context, subscriberID int64, repo string, issueNumber int)
}

// Dispatcher sends one formatted message per notification. A failed send is
// reported to the caller but must never be fatal to the calling loop: both
// ingestion paths log the error and move on to the remaining notifications.
type Dispatcher struct {
	transport     Transport
	breaker       *engine.CircuitBreaker
	limiter       *engine.RateLimiter
	marker        Marker
	hub           *websocket.Hub
	logger        *slog.Logger
	ratePerSecond int
}

// NewDispatcher wires the transport with its guards. breaker, limiter, marker
// and hub may each be nil, which disables that guard.
func NewDispatcher(transport Transport, breaker *engine.CircuitBreaker, limiter *engine.RateLimiter, marker Marker, hub *websocket.Hub, ratePerSecond int, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		transport:     transport,
		breaker:       breaker,
		limiter:       limiter,
		marker:        marker,
		hub:           hub,
		logger:        logger,
		ratePerSecond: ratePerSecond,
	}
}

// Dispatch sends the notification to the user's chat destination. source is
// "webhook" or "poll" and only feeds logging and the live feed.
func (d *Dispatcher) Dispatch(ctx context.Context, user domain.User, n domain.Notification, source string) error {
	dest := user.DiscordID

	if d.marker != nil && d.marker.AlreadyNotified(ctx, n.SubscriberID, n.RepoFullName, n.Issue.Number) {
		d.logger.Debug("already announced by the other path, skipping",
			"subscriber_id", n.SubscriberID,
			"repo", n.RepoFullName,
			"issue", n.Issue.Number,
			"source", source,
		)
		d.broadcast("notification_skipped", user, n, source, "")
		return nil
	}

	if d.breaker != nil {
		if state, allowed := d.breaker.AllowSend(ctx, dest); !allowed {
			err := fmt.Errorf("destination circuit %s", state)
			d.broadcast("notification_failed", user, n, source, err.Error())
			return err
		}
	}

	if d.limiter != nil && !d.limiter.Allow(ctx, dest, d.ratePerSecond) {
		err := fmt.Errorf("destination rate limited")
		d.broadcast("notification_failed", user, n, source, err.Error())
		return err
	}

	channelID, err := d.transport.OpenChannel(ctx, dest)
	if err != nil {
		d.recordFailure(ctx, dest)
		d.broadcast("notification_failed", user, n, source, err.Error())
		return fmt.Errorf("opening channel to %s: %w", dest, err)
	}

	if err := d.transport.Post(ctx, channelID, BuildMessage(n)); err != nil {
		d.recordFailure(ctx, dest)
		d.broadcast("notification_failed", user, n, source, err.Error())
		return fmt.Errorf("posting to channel %s: %w", channelID, err)
	}

	if d.breaker != nil {
		d.breaker.RecordSuccess(ctx, dest)
	}
	if d.marker != nil {
		d.marker.MarkNotified(ctx, n.SubscriberID, n.RepoFullName, n.Issue.Number)
	}
	d.broadcast("notification_sent", user, n, source, "")

	d.logger.Info("notification sent",
		"username", user.Username,
		"repo", n.RepoFullName,
		"issue", n.Issue.Number,
		"matched_label", n.MatchedLabel,
		"source", source,
	)

	return nil
}

func (d *Dispatcher) recordFailure(ctx context.Context, dest string) {
	if d.breaker != nil {
		d.breaker.RecordFailure(ctx, dest)
	}
}

func (d *Dispatcher) broadcast(eventType string, user domain.User, n domain.Notification, source, errMsg string) {
	if d.hub == nil {
		return
	}
	d.hub.Broadcast(websocket.NotificationEvent{
		Type:         eventType,
		RepoFullName: n.RepoFullName,
		IssueNumber:  n.Issue.Number,
		IssueTitle:   n.Issue.Title,
		MatchedLabel: n.MatchedLabel,
		Username:     user.Username,
		Source:       source,
		Error:        errMsg,
		Timestamp:    time.Now().UTC(),
	})
}
