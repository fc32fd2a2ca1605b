package domain

import "time"

// Subscription is a (user, repository, label pattern) triple. The pattern is a
// regular expression evaluated case-insensitively as a full-string match
// against a label name. LastCheckedAt is the polling watermark: issues created
// at or before it are considered already seen. It is advanced only by the
// poller; the webhook path never touches it.
type Subscription struct {
	ID            int64      `json:"id"`
	UserID        int64      `json:"user_id"`
	RepoFullName  string     `json:"repo_full_name"`
	LabelPattern  string     `json:"label"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type CreateSubscriptionRequest struct {
	RepoFullName string `json:"repo_full_name"`
	LabelPattern string `json:"label"`
}
