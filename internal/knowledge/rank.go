package knowledge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
)

// maxPerHost caps how many candidates one host may contribute to a ranking.
const maxPerHost = 2

// RankedURL is a snippet scored against a question.
type RankedURL struct {
	Snippet
	Score float64
}

type rankDoc struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// Rank scores snippets against question using a throwaway in-memory BM25
// index. Final score is weight*(1+relevance); snippets without a textual
// match keep their weight. At most limit results are returned, with no more
// than two per host.
func Rank(question string, snippets []Snippet, limit int) ([]RankedURL, error) {
	if len(snippets) == 0 {
		return nil, nil
	}
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("rank: open index: %w", err)
	}
	defer index.Close()

	batch := index.NewBatch()
	for i, sn := range snippets {
		doc := rankDoc{Title: sn.Title, Description: sn.Description, URL: sn.URL}
		if err := batch.Index(docID(i), doc); err != nil {
			return nil, fmt.Errorf("rank: index snippet: %w", err)
		}
	}
	if err := index.Batch(batch); err != nil {
		return nil, fmt.Errorf("rank: flush batch: %w", err)
	}

	relevance := make(map[string]float64, len(snippets))
	if q := strings.TrimSpace(question); q != "" {
		req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(q), len(snippets), 0, false)
		res, err := index.Search(req)
		if err != nil {
			return nil, fmt.Errorf("rank: search: %w", err)
		}
		for _, hit := range res.Hits {
			relevance[hit.ID] = hit.Score
		}
	}

	ranked := make([]RankedURL, len(snippets))
	for i, sn := range snippets {
		w := sn.Weight
		if w <= 0 {
			w = 1
		}
		ranked[i] = RankedURL{Snippet: sn, Score: w * (1 + relevance[docID(i)])}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	if limit <= 0 || limit > len(ranked) {
		limit = len(ranked)
	}
	perHost := make(map[string]int)
	out := make([]RankedURL, 0, limit)
	for _, r := range ranked {
		host := helpers.Hostname(r.URL)
		if perHost[host] >= maxPerHost {
			continue
		}
		perHost[host]++
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func docID(i int) string { return fmt.Sprintf("s%d", i) }
