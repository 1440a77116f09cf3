package adf

import "jira-mention-notifier/pkg/notifier"

// ExtractMentions returns the unique Jira account ids mentioned in a comment body, in encounter order.
//
// Only the direct children of top-level blocks are scanned: a mention inside a paragraph is found,
// a mention inside a list or quote nested below that is rendered but never notified.
// Returns nil when the body mentions nobody.
func ExtractMentions(body notifier.Node) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, block := range body.Content {
		for _, child := range block.Content {
			if child.Type != "mention" {
				continue
			}
			id := child.Attr("id")
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
