package notes

import (
	"fmt"

	"github.com/studybook/studybook/internal/errs"
)

// AddPage appends an empty page and returns its index. An empty title gets a
// positional default, matching what the viewer shows for untitled pages.
func (n *Note) AddPage(title string) int {
	if title == "" {
		title = fmt.Sprintf("Page %d", len(n.Pages)+1)
	}
	n.Pages = append(n.Pages, Page{
		Title: title,
		Tags:  []string{},
	})
	return len(n.Pages) - 1
}

// DeletePage removes the page at index. Removing the last remaining page is
// rejected: a note always has at least one page.
func (n *Note) DeletePage(index int) error {
	if index < 0 || index >= len(n.Pages) {
		return errs.New(errs.InvalidArgument, "page index out of range")
	}
	if len(n.Pages) <= 1 {
		return errs.New(errs.InvalidArgument, "cannot delete the last page")
	}
	n.Pages = append(n.Pages[:index], n.Pages[index+1:]...)
	n.RecomputeTags()
	return nil
}

// SetPage replaces the page at index wholesale.
func (n *Note) SetPage(index int, page Page) error {
	if index < 0 || index >= len(n.Pages) {
		return errs.New(errs.InvalidArgument, "page index out of range")
	}
	if page.Tags == nil {
		page.Tags = []string{}
	}
	n.Pages[index] = page
	n.RecomputeTags()
	return nil
}

// RecomputeTags rebuilds the note-level tag set as the union of page tags,
// preserving first-seen order.
func (n *Note) RecomputeTags() {
	seen := make(map[string]struct{})
	tags := []string{}
	for _, p := range n.Pages {
		for _, tag := range p.Tags {
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			tags = append(tags, tag)
		}
	}
	n.Tags = tags
}
