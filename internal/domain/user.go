package domain

import "time"

// User is a subscriber able to receive notifications. Identity and OAuth
// handling live outside this service; the engine only reads these records.
type User struct {
	ID             int64     `json:"id"`
	DiscordID      string    `json:"discord_id"`
	Username       string    `json:"username"`
	Avatar         *string   `json:"avatar,omitempty"`
	GitHubUsername *string   `json:"github_username,omitempty"`
	GitHubToken    *string   `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// HasGitHubToken reports whether the polling path can act for this user.
func (u *User) HasGitHubToken() bool {
	return u.GitHubToken != nil && *u.GitHubToken != ""
}

type CreateUserRequest struct {
	DiscordID      string  `json:"discord_id"`
	Username       string  `json:"username"`
	Avatar         *string `json:"avatar,omitempty"`
	GitHubUsername *string `json:"github_username,omitempty"`
	GitHubToken    *string `json:"github_token,omitempty"`
}
