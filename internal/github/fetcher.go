// Package github talks to the GitHub API: webhook signature verification for
// the push path and issue retrieval for the polling path.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v41/github"
	"golang.org/x/oauth2"

	"github.com/issuebell/issuebell/internal/domain"
)

// Fetcher retrieves candidate new issues for a repository on behalf of a
// subscriber. A fresh API client is built per call from the subscriber's own
// token, so rate limits are spent from each subscriber's quota and a token
// never outlives the request that needed it.
type Fetcher struct {
	baseURL string // empty means api.github.com
	logger  *slog.Logger
}

func NewFetcher(baseURL string, logger *slog.Logger) *Fetcher {
	return &Fetcher{baseURL: baseURL, logger: logger}
}

// FetchNewIssues returns open issues in repo created since the given time,
// oldest first is NOT guaranteed; callers sort. Pull requests are stripped
// (the issues endpoint returns them too). The since filter is coarse: GitHub
// filters by updated_at, so callers must re-filter by creation time.
//
// Not-found, forbidden and unauthorized responses mean "nothing to report"
// and return an empty slice with a nil error; only transport-level and
// unexpected API failures surface as errors.
func (f *Fetcher) FetchNewIssues(ctx context.Context, repo, token string, since *time.Time) ([]domain.Issue, error) {
	parts := strings.Split(repo, "/")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid repository format %q, expected owner/repo", repo)
	}
	owner, name := parts[0], parts[1]

	client, err := f.newClient(ctx, token)
	if err != nil {
		return nil, err
	}

	opts := &gh.IssueListByRepoOptions{
		State:     "open",
		Sort:      "created",
		Direction: "desc",
		ListOptions: gh.ListOptions{
			PerPage: 50,
		},
	}
	if since != nil {
		opts.Since = since.UTC()
	}

	issues, resp, err := client.Issues.ListByRepo(ctx, owner, name, opts)
	if err != nil {
		if resp != nil && quietStatus(resp.StatusCode) {
			f.logger.Debug("repository not accessible, treating as empty",
				"repo", repo,
				"status_code", resp.StatusCode,
			)
			return nil, nil
		}
		return nil, fmt.Errorf("listing issues for %s: %w", repo, err)
	}

	var result []domain.Issue
	for _, issue := range issues {
		if issue.IsPullRequest() {
			continue
		}
		result = append(result, domain.Issue{
			RepoFullName: repo,
			Number:       issue.GetNumber(),
			Title:        issue.GetTitle(),
			URL:          issue.GetHTMLURL(),
			Author:       issue.GetUser().GetLogin(),
			CreatedAt:    issue.GetCreatedAt().UTC(),
			Labels:       labelNames(issue.Labels),
		})
	}

	return result, nil
}

// newClient builds a token-scoped GitHub client for a single call.
func (f *Fetcher) newClient(ctx context.Context, token string) (*gh.Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := gh.NewClient(oauth2.NewClient(ctx, ts))

	if f.baseURL != "" {
		// The client requires a trailing slash on the base URL.
		parsed, err := url.Parse(strings.TrimSuffix(f.baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid github api url: %w", err)
		}
		client.BaseURL = parsed
	}

	return client, nil
}

// quietStatus reports whether an API status means "nothing to report" rather
// than a real failure for the polling path.
func quietStatus(code int) bool {
	switch code {
	case http.StatusNotFound, http.StatusForbidden, http.StatusUnauthorized:
		return true
	}
	return false
}

func labelNames(labels []*gh.Label) []string {
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, l.GetName())
	}
	return names
}
