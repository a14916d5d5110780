package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankPrefersRelevantSnippets(t *testing.T) {
	t.Parallel()
	snippets := []Snippet{
		{URL: "https://cooking.example/pasta", Title: "Pasta recipes", Description: "boil water", Weight: 1},
		{URL: "https://go.example/gc", Title: "Go garbage collector", Description: "how the Go garbage collector works", Weight: 1},
	}
	ranked, err := Rank("garbage collector", snippets, 0)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, "https://go.example/gc", ranked[0].URL)
	assert.Greater(t, ranked[0].Score, ranked[1].Score)
}

func TestRankCapsPerHost(t *testing.T) {
	t.Parallel()
	snippets := []Snippet{
		{URL: "https://a.example/1", Title: "one", Weight: 3},
		{URL: "https://a.example/2", Title: "two", Weight: 3},
		{URL: "https://a.example/3", Title: "three", Weight: 3},
		{URL: "https://b.example/1", Title: "other", Weight: 1},
	}
	ranked, err := Rank("", snippets, 3)
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, "https://b.example/1", ranked[2].URL)
}

func TestRankEmpty(t *testing.T) {
	t.Parallel()
	ranked, err := Rank("anything", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, ranked)
}
