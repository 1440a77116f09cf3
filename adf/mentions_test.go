package adf

import (
	"reflect"
	"strings"
	"testing"

	"jira-mention-notifier/pkg/notifier"
)

func TestExtractMentions(t *testing.T) {
	tests := []struct {
		name string
		body notifier.Node
		want []string
	}{
		{
			name: "no mentions",
			body: doc(paragraph(text("hello"))),
			want: nil,
		},
		{
			name: "empty document",
			body: doc(),
			want: nil,
		},
		{
			name: "single mention",
			body: doc(paragraph(mention("a", "Ann"), text(" hi"))),
			want: []string{"a"},
		},
		{
			name: "duplicates collapse in encounter order",
			body: doc(
				paragraph(mention("b", "Bob"), mention("a", "Ann")),
				paragraph(mention("b", "Bob"), mention("c", "Cat"), mention("a", "Ann")),
			),
			want: []string{"b", "a", "c"},
		},
		{
			name: "mention missing id is skipped",
			body: doc(paragraph(notifier.Node{Type: "mention", Attrs: map[string]any{"text": "Ghost"}}, mention("a", "Ann"))),
			want: []string{"a"},
		},
		{
			name: "top-level block without content",
			body: doc(notifier.Node{Type: "rule"}, paragraph(mention("a", "Ann"))),
			want: []string{"a"},
		},
		{
			name: "nested mentions are not scanned",
			body: doc(
				notifier.Node{Type: "blockquote", Content: []notifier.Node{
					notifier.Node{Type: "bulletList", Content: []notifier.Node{
						listItem(paragraph(mention("deep", "Deep"))),
					}},
				}},
				notifier.Node{Type: "bulletList", Content: []notifier.Node{
					listItem(paragraph(mention("list", "List"))),
				}},
			),
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractMentions(tt.body)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractMentions() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestNestedMentionStillRendered checks that a mention skipped by extraction still shows up in the text.
func TestNestedMentionStillRendered(t *testing.T) {
	body := doc(notifier.Node{Type: "bulletList", Content: []notifier.Node{
		listItem(paragraph(mention("deep", "Deep"), text(" owns this"))),
	}})

	if ids := ExtractMentions(body); len(ids) != 0 {
		t.Fatalf("ExtractMentions() = %v, want none", ids)
	}
	if got := Render(body); !strings.Contains(got, "@Deep owns this") {
		t.Errorf("Render() = %q, want nested mention rendered", got)
	}
}
