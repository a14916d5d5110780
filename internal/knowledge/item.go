// Package knowledge holds the evidence a research session accumulates: the
// append-only item log, the visited URL set, the search snippet registry and
// the issued-query log used for near-duplicate detection.
package knowledge

import "time"

// Kind classifies an Item by how it was produced.
type Kind string

const (
	KindURL      Kind = "url"
	KindSideInfo Kind = "side-info"
	KindQA       Kind = "qa"
	KindCoding   Kind = "coding"
)

// Reference ties a claim to a source the session has actually seen.
type Reference struct {
	ExactQuote string `json:"exactQuote"`
	URL        string `json:"url"`
	DateTime   string `json:"dateTime,omitempty"`
	Title      string `json:"title,omitempty"`
}

// Item is one unit of evidence. Items are immutable once appended.
type Item struct {
	ID         string      `json:"id"`
	Kind       Kind        `json:"type"`
	Question   string      `json:"question"`
	Answer     string      `json:"answer"`
	References []Reference `json:"references,omitempty"`
	UpdatedAt  time.Time   `json:"updated,omitempty"`
}

// Snippet is a search hit registered under its canonical URL.
type Snippet struct {
	URL         string  `json:"url"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Date        string  `json:"date,omitempty"`
	Weight      float64 `json:"weight"`
}

func (it Item) clone() Item {
	if it.References != nil {
		it.References = append([]Reference(nil), it.References...)
	}
	return it
}
