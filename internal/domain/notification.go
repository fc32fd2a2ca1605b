package domain

// Notification is the output unit of the resolver: tell one subscriber about
// one issue, with the label that triggered the match. At most one Notification
// per subscriber is produced for a single issue event, even when several of
// that subscriber's subscriptions match.
type Notification struct {
	SubscriberID int64  `json:"subscriber_id"`
	RepoFullName string `json:"repo_full_name"`
	Issue        Issue  `json:"issue"`
	MatchedLabel string `json:"matched_label"`
}
