package helpers

import (
	"net/url"
	"sort"
	"strings"
	"unicode"
)

// QueryTokens splits a search query into lowercased word tokens, dropping
// punctuation and single-rune noise.
func QueryTokens(q string) []string {
	fields := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 && !unicode.IsNumber([]rune(f)[0]) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// QueryKey returns an order-insensitive key for q. Two queries with the same
// key differ only in word order, casing or punctuation.
func QueryKey(q string) string {
	tokens := QueryTokens(q)
	if len(tokens) == 0 {
		return ""
	}
	seen := make(map[string]struct{}, len(tokens))
	uniq := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		uniq = append(uniq, t)
	}
	sort.Strings(uniq)
	return strings.Join(uniq, " ")
}

// Hostname returns the lowercased host of raw without a www. prefix.
func Hostname(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
