package domain

import "time"

// Issue is an ephemeral record of a newly observed issue, produced by either
// the webhook or the polling path. It is never persisted; it exists only for
// the duration of one notification decision.
type Issue struct {
	RepoFullName string    `json:"repo_full_name"`
	Number       int       `json:"number"`
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	Author       string    `json:"author"`
	CreatedAt    time.Time `json:"created_at"`
	Labels       []string  `json:"labels"`
}
