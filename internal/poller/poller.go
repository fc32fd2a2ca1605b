// Package poller implements the reconciliation loop: the pull path that
// covers issues the webhook path missed or never saw.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/issuebell/issuebell/internal/domain"
	"github.com/issuebell/issuebell/internal/engine"
)

// Store is the persistence surface the poller needs.
type Store interface {
	ListSubscribersWithTokens(ctx context.Context) ([]domain.User, error)
	ListSubscriptionsByUser(ctx context.Context, userID int64) ([]domain.Subscription, error)
	AdvanceWatermarks(ctx context.Context, ids []int64, ts time.Time) error
}

// Fetcher retrieves candidate new issues for one repository.
type Fetcher interface {
	FetchNewIssues(ctx context.Context, repo, token string, since *time.Time) ([]domain.Issue, error)
}

// Dispatcher delivers one notification; failures are isolated by the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, user domain.User, n domain.Notification, source string) error
}

// Poller runs one reconciliation cycle per interval. Cycles never overlap: if
// a cycle overruns the interval, the next tick is skipped rather than queued.
// Within a cycle, subscribers are processed by a small worker pool; failure
// isolation is per repository group and per notification, and watermarks
// commit atomically per subscriber.
type Poller struct {
	store      Store
	fetcher    Fetcher
	dispatcher Dispatcher
	interval   time.Duration
	workers    int
	logger     *slog.Logger
	cron       *cron.Cron
}

func New(store Store, fetcher Fetcher, dispatcher Dispatcher, interval time.Duration, workers int, logger *slog.Logger) *Poller {
	if workers < 1 {
		workers = 1
	}
	return &Poller{
		store:      store,
		fetcher:    fetcher,
		dispatcher: dispatcher,
		interval:   interval,
		workers:    workers,
		logger:     logger,
	}
}

// Start schedules the loop. The first cycle fires one interval after startup.
func (p *Poller) Start(ctx context.Context) error {
	p.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(&cronLogger{p.logger}),
	))

	_, err := p.cron.AddFunc(fmt.Sprintf("@every %s", p.interval), func() {
		p.RunCycle(ctx)
	})
	if err != nil {
		return fmt.Errorf("scheduling poll cycle: %w", err)
	}

	p.cron.Start()
	p.logger.Info("poller started", "interval", p.interval, "workers", p.workers)
	return nil
}

// Stop cancels scheduling and waits for an in-flight cycle to finish. Already
// committed watermarks stand; uncommitted work is redone next boot.
func (p *Poller) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
	p.logger.Info("poller stopped")
}

// RunCycle executes one reconciliation pass over every subscriber that has a
// polling credential. Errors inside the cycle are contained; only a failure
// to load the subscriber list aborts the cycle (the next tick still fires).
func (p *Poller) RunCycle(ctx context.Context) {
	cycleStart := time.Now().UTC()

	users, err := p.store.ListSubscribersWithTokens(ctx)
	if err != nil {
		p.logger.Error("poll cycle aborted: loading subscribers failed", "error", err)
		return
	}
	if len(users) == 0 {
		return
	}

	workers := p.workers
	if workers > len(users) {
		workers = len(users)
	}

	jobs := make(chan domain.User)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for user := range jobs {
				p.pollSubscriber(ctx, user, cycleStart)
			}
		}()
	}

	for _, user := range users {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		case jobs <- user:
		}
	}
	close(jobs)
	wg.Wait()

	p.logger.Info("poll cycle finished",
		"subscribers", len(users),
		"duration", time.Since(cycleStart).String(),
	)
}

// pollSubscriber reconciles one subscriber: one provider call per repository
// group, and one watermark commit for everything that succeeded.
func (p *Poller) pollSubscriber(ctx context.Context, user domain.User, cycleStart time.Time) {
	subs, err := p.store.ListSubscriptionsByUser(ctx, user.ID)
	if err != nil {
		p.logger.Error("loading subscriptions failed, skipping subscriber",
			"username", user.Username, "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	groups := groupByRepo(subs)
	repos := make([]string, 0, len(groups))
	for repo := range groups {
		repos = append(repos, repo)
	}
	sort.Strings(repos)

	var advance []int64
	for _, repo := range repos {
		group := groups[repo]
		since := minWatermark(group)

		issues, err := p.fetcher.FetchNewIssues(ctx, repo, *user.GitHubToken, since)
		if err != nil {
			// This repository keeps its watermark and is retried next cycle.
			p.logger.Warn("fetch failed, skipping repository this cycle",
				"repo", repo, "username", user.Username, "error", err)
			continue
		}

		for _, issue := range newIssuesAscending(issues, since) {
			for _, n := range engine.Resolve(issue, group) {
				if err := p.dispatcher.Dispatch(ctx, user, n, "poll"); err != nil {
					p.logger.Warn("dispatch failed, dropping notification",
						"username", user.Username,
						"repo", repo,
						"issue", n.Issue.Number,
						"error", err)
				}
			}
		}

		for _, sub := range group {
			advance = append(advance, sub.ID)
		}
	}

	if len(advance) == 0 {
		return
	}
	if err := p.store.AdvanceWatermarks(ctx, advance, cycleStart); err != nil {
		// Nothing to undo: the whole commit is one transaction and the next
		// cycle re-covers the window.
		p.logger.Error("watermark commit failed",
			"username", user.Username, "error", err)
	}
}

func groupByRepo(subs []domain.Subscription) map[string][]domain.Subscription {
	groups := make(map[string][]domain.Subscription)
	for _, sub := range subs {
		groups[sub.RepoFullName] = append(groups[sub.RepoFullName], sub)
	}
	return groups
}

// minWatermark returns the lowest last_checked_at in the group, or nil when
// any subscription has never been checked (fetch without a time filter).
func minWatermark(group []domain.Subscription) *time.Time {
	var min *time.Time
	for _, sub := range group {
		if sub.LastCheckedAt == nil {
			return nil
		}
		if min == nil || sub.LastCheckedAt.Before(*min) {
			min = sub.LastCheckedAt
		}
	}
	return min
}

// newIssuesAscending applies the authoritative fine filter (strictly newer
// than since by creation time; the provider's since filter is coarse) and
// returns the survivors oldest first for deterministic processing.
func newIssuesAscending(issues []domain.Issue, since *time.Time) []domain.Issue {
	var fresh []domain.Issue
	for _, issue := range issues {
		if since != nil && !issue.CreatedAt.After(*since) {
			continue
		}
		fresh = append(fresh, issue)
	}
	sort.Slice(fresh, func(i, j int) bool {
		if fresh[i].CreatedAt.Equal(fresh[j].CreatedAt) {
			return fresh[i].Number < fresh[j].Number
		}
		return fresh[i].CreatedAt.Before(fresh[j].CreatedAt)
	})
	return fresh
}

// cronLogger adapts slog to the cron logger interface so skip-if-busy
// decisions land in the structured log.
type cronLogger struct {
	logger *slog.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
