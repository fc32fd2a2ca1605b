package engine

import (
	"github.com/issuebell/issuebell/internal/domain"
)

// Resolve fans one issue event out to the subscriptions that match it and
// deduplicates per subscriber: if several subscriptions of the same user match
// the issue, only the first one (in input order) produces a Notification.
//
// Callers pre-filter subs to the issue's repository. The input order is the
// order the store returns (creation time), which makes both the dedup winner
// and the reported match label deterministic. Resolve is pure: identical
// inputs yield identical output sequences.
func Resolve(issue domain.Issue, subs []domain.Subscription) []domain.Notification {
	var notifications []domain.Notification
	notified := make(map[int64]struct{}, len(subs))

	for _, sub := range subs {
		matched, ok := MatchLabel(sub.LabelPattern, issue.Labels)
		if !ok {
			continue
		}
		if _, seen := notified[sub.UserID]; seen {
			continue
		}
		notified[sub.UserID] = struct{}{}
		notifications = append(notifications, domain.Notification{
			SubscriberID: sub.UserID,
			RepoFullName: issue.RepoFullName,
			Issue:        issue,
			MatchedLabel: matched,
		})
	}

	return notifications
}
