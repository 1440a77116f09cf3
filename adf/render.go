// Package adf renders Atlassian Document Format comment bodies into Slack-flavored plain text.
package adf

import (
	"strconv"
	"strings"
	"unicode"

	"jira-mention-notifier/pkg/notifier"
)

const (
	lineBreak   = "\r\n"
	bullet      = "•"
	tableMarker = "~ :question: ~"
)

var rule = strings.Repeat("-", 35)

// Render converts a document body into notification text.
// The result is trimmed of leading and trailing whitespace.
func Render(body notifier.Node) string {
	return renderChildren(body.Content)
}

// RenderNode renders a single node without trimming its own output.
// Unknown node types render as an empty string.
func RenderNode(n notifier.Node) string {
	switch kind(n.Type) {
	case "heading":
		return "*" + renderChildren(n.Content) + "*" + lineBreak
	case "paragraph", "blockquote", "panel":
		return renderChildren(n.Content) + lineBreak
	case "text":
		return renderText(n)
	case "mention":
		label := n.Attr("text")
		if label == "" {
			return ""
		}
		return "@" + strings.TrimPrefix(label, "@")
	case "emoji":
		if text := n.Attr("text"); text != "" {
			return text
		}
		return n.Attr("shortName")
	case "rule":
		return rule + lineBreak
	case "table":
		return tableMarker + lineBreak
	case "inline_card":
		return n.Attr("url")
	case "bullet_list":
		return renderList(n.Content, func(int) string { return bullet })
	case "ordered_list":
		return renderList(n.Content, func(i int) string { return strconv.Itoa(i) + "." })
	case "hard_break":
		return lineBreak
	default:
		return ""
	}
}

// renderChildren concatenates the rendered children and trims the joined result.
func renderChildren(nodes []notifier.Node) string {
	var b strings.Builder
	for _, n := range nodes {
		b.WriteString(RenderNode(n))
	}
	return strings.TrimSpace(b.String())
}

// renderText emits a Slack link for the first link mark carrying an href.
func renderText(n notifier.Node) string {
	for _, m := range n.Marks {
		if m.Type != "link" {
			continue
		}
		if href := m.Attr("href"); href != "" {
			return "<" + href + "|" + n.Text + ">"
		}
		break
	}
	return n.Text
}

func renderList(items []notifier.Node, prefix func(position int) string) string {
	lines := make([]string, 0, len(items))
	for i, item := range items {
		lines = append(lines, prefix(i+1)+" "+renderChildren(item.Content))
	}
	return strings.Join(lines, lineBreak) + lineBreak
}

// kind normalizes camelCase node types (bulletList, inlineCard) to snake_case.
func kind(nodeType string) string {
	var b strings.Builder
	b.Grow(len(nodeType) + 4)
	for i, r := range nodeType {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
