package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/issuebell/issuebell/internal/domain"
	"github.com/issuebell/issuebell/internal/engine"
	"github.com/issuebell/issuebell/internal/github"
)

// WebhookStore is the read-only persistence surface the push path needs.
type WebhookStore interface {
	ListSubscriptionsByRepo(ctx context.Context, repo string) ([]domain.Subscription, error)
	GetUser(ctx context.Context, id int64) (*domain.User, error)
}

// WebhookDispatcher delivers one notification.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, user domain.User, n domain.Notification, source string) error
}

// WebhookHandler ingests GitHub "issues" webhook events. It is stateless per
// request and never touches polling watermarks: a push event is evaluated
// regardless of what the poller has or has not seen.
type WebhookHandler struct {
	store      WebhookStore
	dispatcher WebhookDispatcher
	secret     string
	logger     *slog.Logger
}

func NewWebhookHandler(store WebhookStore, dispatcher WebhookDispatcher, secret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		store:      store,
		dispatcher: dispatcher,
		secret:     secret,
		logger:     logger,
	}
}

type webhookPayload struct {
	Action string `json:"action"`
	Issue  struct {
		Number    int       `json:"number"`
		Title     string    `json:"title"`
		HTMLURL   string    `json:"html_url"`
		CreatedAt time.Time `json:"created_at"`
		User      struct {
			Login string `json:"login"`
		} `json:"user"`
		Labels []struct {
			Name string `json:"name"`
		} `json:"labels"`
	} `json:"issue"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

type webhookResponse struct {
	OK       bool   `json:"ok"`
	Notified *int   `json:"notified,omitempty"`
	Skipped  string `json:"skipped,omitempty"`
}

func respondSkipped(w http.ResponseWriter, reason string) {
	respondJSON(w, http.StatusOK, webhookResponse{OK: true, Skipped: reason})
}

// Handle processes one webhook delivery. Unrelated event types and actions
// are an expected input, answered with success-and-skipped rather than an
// error; only a bad signature or a malformed body is rejected.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if !github.VerifySignature(h.secret, body, r.Header.Get("X-Hub-Signature-256")) {
		respondError(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	if event := r.Header.Get("X-GitHub-Event"); event != "issues" {
		respondSkipped(w, "not an issues event")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid event payload")
		return
	}

	if payload.Action != "opened" {
		respondSkipped(w, "action is not 'opened'")
		return
	}

	labels := make([]string, 0, len(payload.Issue.Labels))
	for _, l := range payload.Issue.Labels {
		labels = append(labels, l.Name)
	}

	// Subscriptions store repo names lowercase; GitHub delivers full_name
	// with the repository's original casing.
	repo := strings.ToLower(payload.Repository.FullName)

	h.logger.Info("new issue event",
		"repo", repo,
		"issue", payload.Issue.Number,
		"labels", labels,
	)

	// An unlabeled issue would trip every repo-wide wildcard pattern, which
	// is not what anyone subscribed for.
	if len(labels) == 0 {
		respondSkipped(w, "issue has no labels")
		return
	}

	subs, err := h.store.ListSubscriptionsByRepo(r.Context(), repo)
	if err != nil {
		h.logger.Error("loading subscriptions failed", "repo", repo, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load subscriptions")
		return
	}

	issue := domain.Issue{
		RepoFullName: repo,
		Number:       payload.Issue.Number,
		Title:        payload.Issue.Title,
		URL:          payload.Issue.HTMLURL,
		Author:       payload.Issue.User.Login,
		CreatedAt:    payload.Issue.CreatedAt,
		Labels:       labels,
	}

	notified := 0
	for _, n := range engine.Resolve(issue, subs) {
		user, err := h.store.GetUser(r.Context(), n.SubscriberID)
		if err != nil {
			h.logger.Error("loading user failed", "user_id", n.SubscriberID, "error", err)
			continue
		}
		if user == nil {
			continue
		}
		if err := h.dispatcher.Dispatch(r.Context(), *user, n, "webhook"); err != nil {
			// Dropped, but the rest of the batch still goes out.
			h.logger.Warn("dispatch failed",
				"username", user.Username,
				"repo", repo,
				"issue", issue.Number,
				"error", err)
			continue
		}
		notified++
	}

	respondJSON(w, http.StatusOK, webhookResponse{OK: true, Notified: &notified})
}
