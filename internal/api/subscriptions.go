package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/issuebell/issuebell/internal/domain"
	"github.com/issuebell/issuebell/internal/engine"
	"github.com/issuebell/issuebell/internal/store"
)

var repoNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

type SubscriptionHandler struct {
	store *store.PostgresStore
}

func NewSubscriptionHandler(s *store.PostgresStore) *SubscriptionHandler {
	return &SubscriptionHandler{store: s}
}

func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var req domain.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.RepoFullName = strings.ToLower(strings.TrimSpace(req.RepoFullName))
	if !repoNamePattern.MatchString(req.RepoFullName) {
		respondError(w, http.StatusBadRequest, "repo_full_name must look like owner/repo")
		return
	}
	if req.LabelPattern == "" || len(req.LabelPattern) > 200 {
		respondError(w, http.StatusBadRequest, "label must be 1-200 characters")
		return
	}
	// Same compilation rule the matcher uses, so the engine never sees a
	// pattern it cannot evaluate.
	if err := engine.ValidatePattern(req.LabelPattern); err != nil {
		respondError(w, http.StatusBadRequest, "label is not a valid regular expression")
		return
	}

	user, err := h.store.GetUser(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	if user == nil {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}

	sub, err := h.store.CreateSubscription(r.Context(), userID, req)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateSubscription) {
			respondError(w, http.StatusConflict, "subscription for this repo + label already exists")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to create subscription")
		return
	}

	respondJSON(w, http.StatusCreated, sub)
}

func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	subs, err := h.store.ListSubscriptionsByUser(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}

	respondJSON(w, http.StatusOK, subs)
}

func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	subID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid subscription id")
		return
	}

	deleted, err := h.store.DeleteSubscription(r.Context(), userID, subID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return id, true
}
