// Package search provides fuzzy lookup over the cached notes. The index is
// a flat snapshot rebuilt from the cache on every change notification, which
// keeps queries lock-cheap and the ranking deterministic.
package search

import (
	"sort"
	"strings"
	"sync"

	"github.com/sahilm/fuzzy"

	"github.com/studybook/studybook/internal/notes"
)

// Field weights. Title hits outrank tag and author hits, which outrank
// matches buried in page content.
const (
	weightTitle   = 4
	weightTag     = 3
	weightAuthor  = 2
	weightPage    = 2
	weightContent = 1
)

type entry struct {
	key    string // cache key the note lives under
	text   string
	weight int
}

type entries []entry

func (e entries) String(i int) string { return e[i].text }
func (e entries) Len() int            { return len(e) }

// Result is one ranked hit.
type Result struct {
	Key   string // cache key to resolve the note with
	Score int
}

// Index is safe for concurrent use. Rebuild swaps the snapshot wholesale.
type Index struct {
	mu      sync.RWMutex
	entries entries
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{}
}

// Rebuild replaces the snapshot with the given notes, keyed by their cache
// key.
func (x *Index) Rebuild(all map[string]notes.Note) {
	next := make(entries, 0, len(all)*3)
	for key, n := range all {
		if n.Title != "" {
			next = append(next, entry{key: key, text: n.Title, weight: weightTitle})
		}
		if n.Author != "" {
			next = append(next, entry{key: key, text: n.Author, weight: weightAuthor})
		}
		if len(n.Tags) > 0 {
			next = append(next, entry{key: key, text: strings.Join(n.Tags, " "), weight: weightTag})
		}
		for _, p := range n.Pages {
			if p.Title != "" {
				next = append(next, entry{key: key, text: p.Title, weight: weightPage})
			}
			if p.Content != "" {
				next = append(next, entry{key: key, text: p.Content, weight: weightContent})
			}
		}
	}

	x.mu.Lock()
	x.entries = next
	x.mu.Unlock()
}

// Size returns the number of indexed entries.
func (x *Index) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Search returns notes ranked by their best weighted match for the query.
// An empty query matches nothing.
func (x *Index) Search(query string) []Result {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	x.mu.RLock()
	snapshot := x.entries
	x.mu.RUnlock()

	best := make(map[string]int)
	for _, m := range fuzzy.FindFrom(query, snapshot) {
		e := snapshot[m.Index]
		// Only amplify genuine matches. Multiplying a negative score by
		// the weight would rank a weak title hit below a weak content hit.
		score := m.Score + e.weight
		if m.Score > 0 {
			score = m.Score * e.weight
		}
		if cur, ok := best[e.key]; !ok || score > cur {
			best[e.key] = score
		}
	}

	out := make([]Result, 0, len(best))
	for key, score := range best {
		out = append(out, Result{Key: key, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Key < out[j].Key
	})
	return out
}
