package api

import (
	"encoding/json"
	"net/http"

	"github.com/issuebell/issuebell/internal/domain"
	"github.com/issuebell/issuebell/internal/store"
)

type UserHandler struct {
	store *store.PostgresStore
}

func NewUserHandler(s *store.PostgresStore) *UserHandler {
	return &UserHandler{store: s}
}

func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.DiscordID == "" {
		respondError(w, http.StatusBadRequest, "discord_id is required")
		return
	}
	if req.Username == "" {
		respondError(w, http.StatusBadRequest, "username is required")
		return
	}

	user, err := h.store.CreateUser(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

type userListEntry struct {
	domain.User
	GitHubConnected bool                  `json:"github_connected"`
	Subscriptions   []domain.Subscription `json:"subscriptions"`
}

// List returns all users with their subscriptions, optionally filtered by a
// username substring (?q=).
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	entries := make([]userListEntry, 0, len(users))
	for _, user := range users {
		subs, err := h.store.ListSubscriptionsByUser(r.Context(), user.ID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to list subscriptions")
			return
		}
		entries = append(entries, userListEntry{
			User:            user,
			GitHubConnected: user.HasGitHubToken(),
			Subscriptions:   subs,
		})
	}

	respondJSON(w, http.StatusOK, entries)
}
