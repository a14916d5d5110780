package helpers

import (
	"fmt"
	"strings"
	"time"
)

const defaultQuoteRunes = 180

// Citation is one numbered source under an answer.
type Citation struct {
	Title     string
	URL       string
	Quote     string
	Published time.Time
}

// FormatCitations renders citations as markdown footnotes:
//
//	[^1]: Title "quote" (example.com, 2024-04-15) <https://example.com/a>
//
// Quotes longer than maxQuote runes are cut with an ellipsis; maxQuote <= 0
// uses the default.
func FormatCitations(citations []Citation, maxQuote int) []string {
	if len(citations) == 0 {
		return nil
	}
	if maxQuote <= 0 {
		maxQuote = defaultQuoteRunes
	}
	out := make([]string, 0, len(citations))
	for i, c := range citations {
		out = append(out, formatCitation(i+1, c, maxQuote))
	}
	return out
}

func formatCitation(n int, c Citation, maxQuote int) string {
	parts := []string{fmt.Sprintf("[^%d]:", n)}
	if title := strings.TrimSpace(c.Title); title != "" {
		parts = append(parts, title)
	}
	if quote := clip(strings.Join(strings.Fields(c.Quote), " "), maxQuote); quote != "" {
		parts = append(parts, `"`+strings.Trim(quote, `"`)+`"`)
	}
	meta := Hostname(c.URL)
	if !c.Published.IsZero() {
		if meta != "" {
			meta += ", "
		}
		meta += c.Published.Format(time.DateOnly)
	}
	if meta != "" {
		parts = append(parts, "("+meta+")")
	}
	if link := strings.TrimSpace(c.URL); link != "" {
		parts = append(parts, "<"+link+">")
	}
	return strings.Join(parts, " ")
}

func clip(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return strings.TrimSpace(string(r[:limit])) + "…"
}
