package knowledge

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
)

// Store is the per-session evidence log. It is safe for concurrent use so
// executors may record results from fan-out goroutines.
type Store struct {
	mu       sync.RWMutex
	items    []Item
	visited  map[string]struct{}
	failed   map[string]struct{}
	read     []string
	snippets map[string]*Snippet
	order    []string
	queries  map[string]string
	qorder   []string
	bad      []string
	now      func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		visited:  make(map[string]struct{}),
		failed:   make(map[string]struct{}),
		snippets: make(map[string]*Snippet),
		queries:  make(map[string]string),
		now:      time.Now,
	}
}

// Append records it and returns the stored copy with its id assigned.
func (s *Store) Append(it Item) Item {
	it = it.clone()
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if it.UpdatedAt.IsZero() {
		it.UpdatedAt = s.now().UTC()
	}
	s.mu.Lock()
	s.items = append(s.items, it)
	s.mu.Unlock()
	return it.clone()
}

// AsContext returns every item in insertion order.
func (s *Store) AsContext() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Item, len(s.items))
	for i, it := range s.items {
		out[i] = it.clone()
	}
	return out
}

// Len reports the number of items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func normalize(raw string) string {
	canonical, err := helpers.CanonicalURL(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return canonical
}

// Normalize exposes the canonical form used as VisitedSet key.
func Normalize(raw string) string { return normalize(raw) }

// HasVisited reports whether url was already attempted.
func (s *Store) HasVisited(url string) bool {
	key := normalize(url)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.visited[key]
	return ok
}

// MarkVisited adds url to the visited set and reports whether it was new.
func (s *Store) MarkVisited(url string) bool {
	key := normalize(url)
	if key == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.visited[key]; ok {
		return false
	}
	s.visited[key] = struct{}{}
	return true
}

// MarkFailed flags a visited url whose read did not succeed.
func (s *Store) MarkFailed(url string) {
	key := normalize(url)
	s.mu.Lock()
	s.failed[key] = struct{}{}
	s.mu.Unlock()
}

// MarkRead records a successful read.
func (s *Store) MarkRead(url string) {
	key := normalize(url)
	s.mu.Lock()
	s.read = append(s.read, key)
	s.mu.Unlock()
}

// Visited returns the visited set sorted.
func (s *Store) Visited() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.visited))
	for u := range s.visited {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// ReadURLs returns successfully read urls in read order.
func (s *Store) ReadURLs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.read...)
}

// AddSnippet registers a search hit. Repeated hits for the same url raise its
// weight and reports false.
func (s *Store) AddSnippet(sn Snippet) bool {
	key := normalize(sn.URL)
	if key == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.snippets[key]; ok {
		cur.Weight++
		if cur.Date == "" {
			cur.Date = sn.Date
		}
		return false
	}
	sn.URL = key
	if sn.Weight <= 0 {
		sn.Weight = 1
	}
	s.snippets[key] = &sn
	s.order = append(s.order, key)
	return true
}

// Snippet looks up a registered search hit.
func (s *Store) Snippet(url string) (Snippet, bool) {
	key := normalize(url)
	s.mu.RLock()
	defer s.mu.RUnlock()
	sn, ok := s.snippets[key]
	if !ok {
		return Snippet{}, false
	}
	return *sn, true
}

// Snippets returns all hits in registration order.
func (s *Store) Snippets() []Snippet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snippet, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, *s.snippets[k])
	}
	return out
}

// Unvisited returns hits that have not been attempted yet.
func (s *Store) Unvisited() []Snippet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Snippet
	for _, k := range s.order {
		if _, ok := s.visited[k]; ok {
			continue
		}
		out = append(out, *s.snippets[k])
	}
	return out
}

// Known reports whether url came back from a search or was read successfully.
// Only known urls may be cited.
func (s *Store) Known(url string) bool {
	key := normalize(url)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.snippets[key]; ok {
		return true
	}
	if _, ok := s.visited[key]; ok {
		_, failed := s.failed[key]
		return !failed
	}
	return false
}

// RecordQuery logs an issued query. It returns false when a near-duplicate
// (same normalized tokens) was already issued.
func (s *Store) RecordQuery(q string) bool {
	key := helpers.QueryKey(q)
	if key == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queries[key]; ok {
		return false
	}
	s.queries[key] = q
	s.qorder = append(s.qorder, q)
	return true
}

// Queries returns issued queries in order.
func (s *Store) Queries() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.qorder...)
}

// RecordBadQuery remembers a query that produced nothing.
func (s *Store) RecordBadQuery(q string) {
	s.mu.Lock()
	s.bad = append(s.bad, q)
	s.mu.Unlock()
}

// BadQueries lists queries that produced nothing.
func (s *Store) BadQueries() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.bad...)
}

// OpenGaps returns qa questions that were raised without an answer and have
// not been answered by a later item.
func (s *Store) OpenGaps() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	answered := make(map[string]bool)
	var open []string
	for _, it := range s.items {
		if it.Kind != KindQA {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(it.Question))
		if it.Answer != "" {
			answered[key] = true
			continue
		}
		if _, seen := answered[key]; !seen {
			answered[key] = false
			open = append(open, it.Question)
		}
	}
	out := open[:0]
	for _, q := range open {
		if !answered[strings.ToLower(strings.TrimSpace(q))] {
			out = append(out, q)
		}
	}
	return out
}
