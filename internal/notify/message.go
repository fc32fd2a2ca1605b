package notify

import (
	"fmt"
	"strings"

	"github.com/issuebell/issuebell/internal/domain"
)

// BuildMessage renders the chat message for one notification. The shape is a
// stable contract: a new-issue marker, the repository, the matched label, the
// issue number and title, the author, the full label list, and the URL.
func BuildMessage(n domain.Notification) string {
	labels := "—"
	if len(n.Issue.Labels) > 0 {
		quoted := make([]string, len(n.Issue.Labels))
		for i, l := range n.Issue.Labels {
			quoted[i] = "`" + l + "`"
		}
		labels = strings.Join(quoted, ", ")
	}

	return fmt.Sprintf(
		"🔔 **New issue in `%s`** (matched label: `%s`)\n"+
			"**#%d — %s**\n"+
			"👤 Opened by **%s**\n"+
			"🏷️ Labels: %s\n"+
			"🔗 %s",
		n.RepoFullName, n.MatchedLabel,
		n.Issue.Number, n.Issue.Title,
		n.Issue.Author,
		labels,
		n.Issue.URL,
	)
}
