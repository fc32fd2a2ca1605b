package poller

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/issuebell/issuebell/internal/domain"
)

type fakeStore struct {
	mu         sync.Mutex
	users      []domain.User
	usersErr   error
	subsByUser map[int64][]domain.Subscription
	advanced   []advanceCall
	advanceErr error
}

type advanceCall struct {
	ids []int64
	ts  time.Time
}

func (f *fakeStore) ListSubscribersWithTokens(ctx context.Context) ([]domain.User, error) {
	return f.users, f.usersErr
}

func (f *fakeStore) ListSubscriptionsByUser(ctx context.Context, userID int64) ([]domain.Subscription, error) {
	return f.subsByUser[userID], nil
}

func (f *fakeStore) AdvanceWatermarks(ctx context.Context, ids []int64, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.advanceErr != nil {
		return f.advanceErr
	}
	f.advanced = append(f.advanced, advanceCall{ids: ids, ts: ts})
	return nil
}

type fetchCall struct {
	repo  string
	token string
	since *time.Time
}

type fakeFetcher struct {
	mu     sync.Mutex
	issues map[string][]domain.Issue
	errs   map[string]error
	calls  []fetchCall
}

func (f *fakeFetcher) FetchNewIssues(ctx context.Context, repo, token string, since *time.Time) ([]domain.Issue, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{repo: repo, token: token, since: since})
	f.mu.Unlock()
	if err := f.errs[repo]; err != nil {
		return nil, err
	}
	return f.issues[repo], nil
}

type dispatchCall struct {
	userID int64
	issue  int
	label  string
}

type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []dispatchCall
	failFor int // issue number that fails to dispatch, 0 for none
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, user domain.User, n domain.Notification, source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor != 0 && n.Issue.Number == f.failFor {
		return errors.New("provider unreachable")
	}
	f.calls = append(f.calls, dispatchCall{userID: user.ID, issue: n.Issue.Number, label: n.MatchedLabel})
	return nil
}

func token(s string) *string { return &s }

func pollUser(id int64) domain.User {
	return domain.User{ID: id, DiscordID: "discord", Username: "alice", GitHubToken: token("ghp_test")}
}

func pollSub(id, userID int64, repo, pattern string, lastChecked *time.Time) domain.Subscription {
	return domain.Subscription{
		ID:            id,
		UserID:        userID,
		RepoFullName:  repo,
		LabelPattern:  pattern,
		LastCheckedAt: lastChecked,
	}
}

func issueAt(repo string, number int, created time.Time, labels ...string) domain.Issue {
	return domain.Issue{
		RepoFullName: repo,
		Number:       number,
		Title:        "issue",
		CreatedAt:    created,
		Labels:       labels,
	}
}

func newTestPoller(store Store, fetcher Fetcher, dispatcher Dispatcher) *Poller {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(store, fetcher, dispatcher, time.Minute, 2, logger)
}

func TestRunCycle_FetchFailureKeepsWatermark(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{
		users: []domain.User{pollUser(1)},
		subsByUser: map[int64][]domain.Subscription{
			1: {
				pollSub(10, 1, "x/y", "bug", &t0),
				pollSub(11, 1, "a/b", "bug", &t0),
			},
		},
	}
	fetcher := &fakeFetcher{
		issues: map[string][]domain.Issue{
			"a/b": {issueAt("a/b", 1, t0.Add(time.Hour), "bug")},
		},
		errs: map[string]error{"x/y": errors.New("transport error")},
	}
	dispatcher := &fakeDispatcher{}

	newTestPoller(store, fetcher, dispatcher).RunCycle(context.Background())

	if len(store.advanced) != 1 {
		t.Fatalf("expected 1 watermark commit, got %d", len(store.advanced))
	}
	got := store.advanced[0].ids
	if len(got) != 1 || got[0] != 11 {
		t.Errorf("advanced ids = %v, want [11] (x/y must keep its watermark)", got)
	}
	if len(dispatcher.calls) != 1 || dispatcher.calls[0].issue != 1 {
		t.Errorf("dispatch calls = %+v, want one for a/b issue 1", dispatcher.calls)
	}
}

func TestRunCycle_MinWatermarkAcrossGroup(t *testing.T) {
	early := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(2 * time.Hour)
	store := &fakeStore{
		users: []domain.User{pollUser(1)},
		subsByUser: map[int64][]domain.Subscription{
			1: {
				pollSub(10, 1, "x/y", "bug", &late),
				pollSub(11, 1, "x/y", "docs", &early),
			},
		},
	}
	fetcher := &fakeFetcher{}
	newTestPoller(store, fetcher, &fakeDispatcher{}).RunCycle(context.Background())

	if len(fetcher.calls) != 1 {
		t.Fatalf("expected 1 fetch per repository group, got %d", len(fetcher.calls))
	}
	if got := fetcher.calls[0].since; got == nil || !got.Equal(early) {
		t.Errorf("since = %v, want %v (minimum across group)", got, early)
	}
}

func TestRunCycle_UnsetWatermarkMeansNoLowerBound(t *testing.T) {
	checked := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{
		users: []domain.User{pollUser(1)},
		subsByUser: map[int64][]domain.Subscription{
			1: {
				pollSub(10, 1, "x/y", "bug", &checked),
				pollSub(11, 1, "x/y", "docs", nil),
			},
		},
	}
	fetcher := &fakeFetcher{}
	newTestPoller(store, fetcher, &fakeDispatcher{}).RunCycle(context.Background())

	if len(fetcher.calls) != 1 {
		t.Fatalf("expected 1 fetch, got %d", len(fetcher.calls))
	}
	if fetcher.calls[0].since != nil {
		t.Errorf("since = %v, want nil when any subscription is unchecked", fetcher.calls[0].since)
	}
}

func TestRunCycle_FineFilterDropsIssuesAtOrBeforeSince(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{
		users: []domain.User{pollUser(1)},
		subsByUser: map[int64][]domain.Subscription{
			1: {pollSub(10, 1, "x/y", ".*", &t0)},
		},
	}
	fetcher := &fakeFetcher{
		issues: map[string][]domain.Issue{
			"x/y": {
				issueAt("x/y", 1, t0.Add(-time.Hour), "bug"), // older than watermark
				issueAt("x/y", 2, t0, "bug"),                 // exactly at watermark
				issueAt("x/y", 3, t0.Add(time.Hour), "bug"),  // strictly newer
			},
		},
	}
	dispatcher := &fakeDispatcher{}

	newTestPoller(store, fetcher, dispatcher).RunCycle(context.Background())

	if len(dispatcher.calls) != 1 {
		t.Fatalf("expected 1 dispatch, got %d: %+v", len(dispatcher.calls), dispatcher.calls)
	}
	if dispatcher.calls[0].issue != 3 {
		t.Errorf("dispatched issue %d, want 3", dispatcher.calls[0].issue)
	}
}

func TestRunCycle_IssuesProcessedOldestFirst(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{
		users: []domain.User{pollUser(1)},
		subsByUser: map[int64][]domain.Subscription{
			1: {pollSub(10, 1, "x/y", ".*", nil)},
		},
	}
	fetcher := &fakeFetcher{
		issues: map[string][]domain.Issue{
			"x/y": {
				issueAt("x/y", 5, t0.Add(3*time.Hour), "bug"),
				issueAt("x/y", 3, t0.Add(time.Hour), "bug"),
				issueAt("x/y", 4, t0.Add(2*time.Hour), "bug"),
			},
		},
	}
	dispatcher := &fakeDispatcher{}

	newTestPoller(store, fetcher, dispatcher).RunCycle(context.Background())

	if len(dispatcher.calls) != 3 {
		t.Fatalf("expected 3 dispatches, got %d", len(dispatcher.calls))
	}
	for i, want := range []int{3, 4, 5} {
		if dispatcher.calls[i].issue != want {
			t.Errorf("dispatch %d = issue %d, want %d", i, dispatcher.calls[i].issue, want)
		}
	}
}

func TestRunCycle_DispatchFailureDoesNotStopBatchOrWatermark(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{
		users: []domain.User{pollUser(1)},
		subsByUser: map[int64][]domain.Subscription{
			1: {pollSub(10, 1, "x/y", ".*", nil)},
		},
	}
	fetcher := &fakeFetcher{
		issues: map[string][]domain.Issue{
			"x/y": {
				issueAt("x/y", 1, t0.Add(time.Hour), "bug"),
				issueAt("x/y", 2, t0.Add(2*time.Hour), "bug"),
			},
		},
	}
	dispatcher := &fakeDispatcher{failFor: 1}

	newTestPoller(store, fetcher, dispatcher).RunCycle(context.Background())

	// Issue 1's delivery failed; issue 2 still went out.
	if len(dispatcher.calls) != 1 || dispatcher.calls[0].issue != 2 {
		t.Errorf("dispatch calls = %+v, want only issue 2", dispatcher.calls)
	}
	// Dispatch failures never hold the watermark back.
	if len(store.advanced) != 1 {
		t.Fatalf("expected watermark commit despite dispatch failure, got %d commits", len(store.advanced))
	}
}

func TestRunCycle_StoreFailureAbortsCycle(t *testing.T) {
	store := &fakeStore{usersErr: errors.New("connection refused")}
	fetcher := &fakeFetcher{}
	dispatcher := &fakeDispatcher{}

	// Must not panic; nothing fetched or dispatched.
	newTestPoller(store, fetcher, dispatcher).RunCycle(context.Background())

	if len(fetcher.calls) != 0 {
		t.Errorf("expected no fetches after store failure, got %d", len(fetcher.calls))
	}
	if len(dispatcher.calls) != 0 {
		t.Errorf("expected no dispatches after store failure, got %d", len(dispatcher.calls))
	}
}

func TestRunCycle_OneCommitPerSubscriber(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{
		users: []domain.User{pollUser(1), pollUser(2)},
		subsByUser: map[int64][]domain.Subscription{
			1: {pollSub(10, 1, "x/y", "bug", &t0)},
			2: {pollSub(20, 2, "x/y", "bug", &t0)},
		},
	}
	fetcher := &fakeFetcher{}
	newTestPoller(store, fetcher, &fakeDispatcher{}).RunCycle(context.Background())

	if len(store.advanced) != 2 {
		t.Fatalf("expected one watermark commit per subscriber, got %d", len(store.advanced))
	}
	for _, call := range store.advanced {
		if len(call.ids) != 1 {
			t.Errorf("commit ids = %v, want exactly the subscriber's own subscriptions", call.ids)
		}
	}
}

func TestRunCycle_SubscriberWithoutSubscriptionsIsQuiet(t *testing.T) {
	store := &fakeStore{
		users:      []domain.User{pollUser(1)},
		subsByUser: map[int64][]domain.Subscription{},
	}
	fetcher := &fakeFetcher{}
	dispatcher := &fakeDispatcher{}

	newTestPoller(store, fetcher, dispatcher).RunCycle(context.Background())

	if len(fetcher.calls) != 0 {
		t.Errorf("expected no fetches, got %d", len(fetcher.calls))
	}
	if len(store.advanced) != 0 {
		t.Errorf("expected no watermark commits, got %d", len(store.advanced))
	}
}
