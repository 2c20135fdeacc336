package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studybook/studybook/internal/notes"
)

func noteWith(author, title string, tags []string, content string) notes.Note {
	n := notes.New("uid-"+author, author)
	n.Title = title
	n.Pages[0].Content = content
	n.Pages[0].Tags = tags
	n.RecomputeTags()
	return n
}

func buildIndex(all map[string]notes.Note) *Index {
	x := NewIndex()
	x.Rebuild(all)
	return x
}

func keys(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Key
	}
	return out
}

func TestSearchMatchesTitle(t *testing.T) {
	x := buildIndex(map[string]notes.Note{
		"a": noteWith("Alice", "Organic Chemistry", nil, ""),
		"b": noteWith("Bob", "Linear Algebra", nil, ""),
	})

	got := x.Search("chem")
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Key)
}

func TestSearchRanksTitleAboveContent(t *testing.T) {
	x := buildIndex(map[string]notes.Note{
		"title-hit":   noteWith("Alice", "Photosynthesis", nil, "light reactions"),
		"content-hit": noteWith("Bob", "Biology dump", nil, "photosynthesis basics and notes"),
	})

	got := x.Search("photosynthesis")
	require.Len(t, got, 2)
	assert.Equal(t, "title-hit", got[0].Key)
}

func TestSearchMatchesTagsAndAuthor(t *testing.T) {
	x := buildIndex(map[string]notes.Note{
		"tagged":   noteWith("Alice", "Untitled", []string{"calculus", "exam"}, ""),
		"authored": noteWith("Calhoun", "Also untitled", nil, ""),
	})

	assert.Contains(t, keys(x.Search("calculus")), "tagged")
	assert.Contains(t, keys(x.Search("calhoun")), "authored")
}

func TestSearchEmptyQuery(t *testing.T) {
	x := buildIndex(map[string]notes.Note{
		"a": noteWith("Alice", "Anything", nil, ""),
	})
	assert.Nil(t, x.Search(""))
	assert.Nil(t, x.Search("   "))
}

func TestSearchDeduplicatesFields(t *testing.T) {
	n := noteWith("History Club", "History of Rome", []string{"history"}, "history history history")
	x := buildIndex(map[string]notes.Note{"a": n})

	got := x.Search("history")
	require.Len(t, got, 1, "one note appears once no matter how many fields match")
	assert.Equal(t, "a", got[0].Key)
}

func TestRebuildReplacesSnapshot(t *testing.T) {
	x := buildIndex(map[string]notes.Note{
		"a": noteWith("Alice", "Greek Mythology", nil, ""),
	})
	require.NotEmpty(t, x.Search("greek"))

	x.Rebuild(map[string]notes.Note{
		"b": noteWith("Bob", "Roman Law", nil, ""),
	})
	assert.Empty(t, x.Search("greek"))
	assert.NotEmpty(t, x.Search("roman"))
}
