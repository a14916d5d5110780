// Package finalizer turns an accepted or forced answer into the delivered
// text: citation markers renumbered to match the reference list, unknown
// references removed and a footnote list appended.
package finalizer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepresearch/internal/knowledge"
)

var (
	markerRe     = regexp.MustCompile(`\[\^(\d+)\]`)
	definitionRe = regexp.MustCompile(`(?m)^\[\^\d+\]:.*$\n?`)
	repeatRe     = regexp.MustCompile(`(\[\^\d+\])(?:\s*\[\^\d+\])*`)
)

// quoteChars caps the quote shown in a footnote.
const quoteChars = 200

// Answer is the delivered representation.
type Answer struct {
	Text       string
	References []knowledge.Reference
}

// Finalize renumbers markers by first appearance. Markers index the
// generated reference list (RawReferences when present). Markers pointing at
// a dropped or missing reference are removed, references never cited are
// appended after the cited ones, and only urls the store knows survive.
func Finalize(draft core.AnswerDraft, store *knowledge.Store) Answer {
	text := strings.TrimSpace(definitionRe.ReplaceAllString(draft.Text, ""))

	listed := draft.RawReferences
	if listed == nil {
		listed = draft.References
	}
	// index i of the generated list -> canonical url, "" when dropped
	urls := make([]string, len(listed))
	byURL := make(map[string]knowledge.Reference)
	var order []string
	for i, ref := range listed {
		cleaned := cleanOne(ref, store)
		if cleaned == nil {
			continue
		}
		urls[i] = cleaned.URL
		if _, dup := byURL[cleaned.URL]; !dup {
			byURL[cleaned.URL] = *cleaned
			order = append(order, cleaned.URL)
		}
	}

	number := make(map[string]int)
	var refs []knowledge.Reference
	text = markerRe.ReplaceAllStringFunc(text, func(m string) string {
		n, err := strconv.Atoi(markerRe.FindStringSubmatch(m)[1])
		if err != nil || n < 1 || n > len(urls) || urls[n-1] == "" {
			return ""
		}
		u := urls[n-1]
		num, ok := number[u]
		if !ok {
			refs = append(refs, byURL[u])
			num = len(refs)
			number[u] = num
		}
		return fmt.Sprintf("[^%d]", num)
	})
	text = collapseRepeats(text)

	for _, u := range order {
		if _, cited := number[u]; cited {
			continue
		}
		refs = append(refs, byURL[u])
		number[u] = len(refs)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		text = "No answer could be produced."
	}
	if len(refs) > 0 {
		text += "\n\n" + Footnotes(refs)
	}
	return Answer{Text: text, References: refs}
}

func cleanOne(ref knowledge.Reference, store *knowledge.Store) *knowledge.Reference {
	if store == nil {
		return nil
	}
	out := store.CleanReferences([]knowledge.Reference{ref})
	if len(out) == 0 {
		return nil
	}
	return &out[0]
}

// collapseRepeats drops a marker that directly repeats the previous one.
func collapseRepeats(text string) string {
	return repeatRe.ReplaceAllStringFunc(text, func(run string) string {
		markers := markerRe.FindAllString(run, -1)
		seen := make(map[string]bool, len(markers))
		var b strings.Builder
		for _, m := range markers {
			if seen[m] {
				continue
			}
			seen[m] = true
			b.WriteString(m)
		}
		return b.String()
	})
}

// Footnotes renders refs as markdown footnote definitions numbered from 1.
func Footnotes(refs []knowledge.Reference) string {
	lines := make([]string, 0, len(refs))
	for i, ref := range refs {
		label := ref.Title
		if label == "" {
			label = ref.URL
		}
		line := fmt.Sprintf("[^%d]: ", i+1)
		if q := quote(ref.ExactQuote); q != "" {
			line += fmt.Sprintf("%q ", q)
		}
		line += fmt.Sprintf("[%s](%s)", label, ref.URL)
		if ref.DateTime != "" {
			line += " (" + ref.DateTime + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func quote(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > quoteChars {
		return string(r[:quoteChars]) + "..."
	}
	return s
}
