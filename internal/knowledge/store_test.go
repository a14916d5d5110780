package knowledge

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendIsInsertionOrderedAndImmutable(t *testing.T) {
	t.Parallel()
	s := NewStore()
	refs := []Reference{{URL: "https://a.example/x", ExactQuote: "q"}}
	first := s.Append(Item{Kind: KindSideInfo, Question: "one", References: refs})
	s.Append(Item{Kind: KindURL, Question: "two"})

	refs[0].URL = "mutated"
	ctx := s.AsContext()
	require.Len(t, ctx, 2)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "one", ctx[0].Question)
	assert.Equal(t, "two", ctx[1].Question)
	assert.Equal(t, "https://a.example/x", ctx[0].References[0].URL)

	ctx[0].Question = "changed"
	assert.Equal(t, "one", s.AsContext()[0].Question)
}

func TestMarkVisitedDeduplicatesCanonicalURLs(t *testing.T) {
	t.Parallel()
	s := NewStore()
	assert.True(t, s.MarkVisited("https://Example.com/a?utm_source=x"))
	assert.False(t, s.MarkVisited("https://example.com/a"))
	assert.True(t, s.HasVisited("example.com/a"))
	assert.Len(t, s.Visited(), 1)
}

func TestMarkVisitedConcurrent(t *testing.T) {
	t.Parallel()
	s := NewStore()
	var wg sync.WaitGroup
	wins := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- s.MarkVisited("https://example.com/race")
		}()
	}
	wg.Wait()
	close(wins)
	n := 0
	for w := range wins {
		if w {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestKnownURLs(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.AddSnippet(Snippet{URL: "https://a.example/1", Title: "A"})
	s.MarkVisited("https://b.example/2")
	s.MarkVisited("https://c.example/3")
	s.MarkFailed("https://c.example/3")

	assert.True(t, s.Known("https://a.example/1"))
	assert.True(t, s.Known("https://b.example/2"))
	assert.False(t, s.Known("https://c.example/3"))
	assert.False(t, s.Known("https://never.example/"))
}

func TestAddSnippetBumpsWeight(t *testing.T) {
	t.Parallel()
	s := NewStore()
	assert.True(t, s.AddSnippet(Snippet{URL: "https://a.example/1"}))
	assert.False(t, s.AddSnippet(Snippet{URL: "https://a.example/1", Date: "2024-01-01"}))
	sn, ok := s.Snippet("https://a.example/1")
	require.True(t, ok)
	assert.Equal(t, 2.0, sn.Weight)
	assert.Equal(t, "2024-01-01", sn.Date)

	s.MarkVisited("https://a.example/1")
	assert.Empty(t, s.Unvisited())
}

func TestRecordQueryNearDuplicate(t *testing.T) {
	t.Parallel()
	s := NewStore()
	assert.True(t, s.RecordQuery("Golang generics tutorial"))
	assert.False(t, s.RecordQuery("tutorial golang GENERICS"))
	assert.True(t, s.RecordQuery("golang generics performance"))
	assert.Equal(t, []string{"Golang generics tutorial", "golang generics performance"}, s.Queries())
}

func TestOpenGaps(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.Append(Item{Kind: KindQA, Question: "Who founded X?"})
	s.Append(Item{Kind: KindQA, Question: "When was X founded?"})
	s.Append(Item{Kind: KindQA, Question: "who founded x?", Answer: "Jane"})
	assert.Equal(t, []string{"When was X founded?"}, s.OpenGaps())
}
