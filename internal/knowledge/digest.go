package knowledge

import (
	"fmt"
	"strings"
)

// itemChars caps how much of one item's answer is rendered.
const itemChars = 2000

// Digest renders items in insertion order as grounding context for a
// generation call. Rendering stops once maxChars is reached; maxChars <= 0
// means no limit.
func Digest(items []Item, maxChars int) string {
	var b strings.Builder
	for i, it := range items {
		var block strings.Builder
		fmt.Fprintf(&block, "<knowledge-%d type=%q>\n", i+1, it.Kind)
		fmt.Fprintf(&block, "Q: %s\n", it.Question)
		answer := it.Answer
		if answer == "" {
			answer = "(open question, not yet answered)"
		}
		fmt.Fprintf(&block, "A: %s\n", clip(answer, itemChars))
		for _, ref := range it.References {
			if ref.DateTime != "" {
				fmt.Fprintf(&block, "source: %s (%s)\n", ref.URL, ref.DateTime)
			} else {
				fmt.Fprintf(&block, "source: %s\n", ref.URL)
			}
		}
		if !it.UpdatedAt.IsZero() {
			fmt.Fprintf(&block, "updated: %s\n", it.UpdatedAt.Format("2006-01-02T15:04:05Z"))
		}
		fmt.Fprintf(&block, "</knowledge-%d>\n", i+1)

		if maxChars > 0 && b.Len()+block.Len() > maxChars {
			fmt.Fprintf(&b, "(%d more items omitted)\n", len(items)-i)
			break
		}
		b.WriteString(block.String())
	}
	return b.String()
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// CleanReferences keeps only references to known urls, one per url, and
// fills a missing quote or date from the search snippet.
func (s *Store) CleanReferences(refs []Reference) []Reference {
	seen := make(map[string]bool, len(refs))
	out := make([]Reference, 0, len(refs))
	for _, ref := range refs {
		u := normalize(ref.URL)
		if u == "" || seen[u] || !s.Known(u) {
			continue
		}
		seen[u] = true
		ref.URL = u
		if sn, ok := s.Snippet(u); ok {
			if strings.TrimSpace(ref.ExactQuote) == "" {
				ref.ExactQuote = sn.Description
				if ref.ExactQuote == "" {
					ref.ExactQuote = sn.Title
				}
			}
			if ref.DateTime == "" {
				ref.DateTime = sn.Date
			}
			if ref.Title == "" {
				ref.Title = sn.Title
			}
		}
		out = append(out, ref)
	}
	return out
}
