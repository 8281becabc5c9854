// Package reader navigates a paginated book one page at a time.
package reader

import (
	"errors"
	"fmt"

	appLog "epdreader/internal/log"
	"epdreader/internal/model"
	"epdreader/internal/paginate"
)

// ErrBookBoundary reports a page turn past the first or last readable
// section. It is a normal condition, not a failure.
var ErrBookBoundary = errors.New("reader: book boundary")

// Document supplies section text. *epub.Book implements it.
type Document interface {
	SectionCount() int
	SectionBlocks(i int) ([]model.TextBlock, error)
	Toc() []model.TocEntry
	ResolveToc(path string) (int, error)
}

// View holds the paginated current section and the page shown.
type View struct {
	doc   Document
	pager *paginate.Paginator
	// first is the section of the first table of contents entry; turning
	// back past it is a boundary.
	first int

	section int
	blocks  []model.TextBlock
	pages   []paginate.Page
	page    int
	loaded  bool
}

// NewView creates a view with nothing loaded.
func NewView(doc Document, pager *paginate.Paginator) *View {
	v := &View{doc: doc, pager: pager}
	if toc := doc.Toc(); len(toc) > 0 {
		if i, err := doc.ResolveToc(toc[0].Path); err == nil {
			v.first = i
		}
	}
	return v
}

// Open shows the first page of section i.
func (v *View) Open(i int) error {
	return v.load(i, false)
}

// OpenToc shows the first page of the section a table of contents path
// points at.
func (v *View) OpenToc(path string) error {
	i, err := v.doc.ResolveToc(path)
	if err != nil {
		return fmt.Errorf("reader: toc %q: %w", path, err)
	}
	return v.load(i, false)
}

// Next turns forward, crossing into the next section after its last page.
func (v *View) Next() error {
	if !v.loaded {
		return v.load(v.first, false)
	}
	if v.page+1 < len(v.pages) {
		v.page++
		return nil
	}
	if v.section+1 >= v.doc.SectionCount() {
		return ErrBookBoundary
	}
	return v.load(v.section+1, false)
}

// Prev turns back, landing on the last page of the previous section.
func (v *View) Prev() error {
	if !v.loaded {
		return v.load(v.first, false)
	}
	if v.page > 0 {
		v.page--
		return nil
	}
	if v.section-1 < v.first {
		return ErrBookBoundary
	}
	return v.load(v.section-1, true)
}

// load paginates section i. On failure the current page stays as it is.
func (v *View) load(i int, last bool) error {
	blocks, err := v.doc.SectionBlocks(i)
	if err != nil {
		appLog.Error("reader: section load failed", err, "section", i)
		return fmt.Errorf("reader: section %d: %w", i, err)
	}
	pages, err := v.pager.Paginate(blocks)
	if err != nil {
		appLog.Error("reader: pagination failed", err, "section", i)
		return fmt.Errorf("reader: section %d: %w", i, err)
	}
	v.section, v.blocks, v.pages, v.loaded = i, blocks, pages, true
	v.page = 0
	if last {
		v.page = len(pages) - 1
	}
	appLog.Debug("reader: section loaded", "section", i, "pages", len(pages))
	return nil
}

// Current returns the page on screen and the blocks its fragments refer to.
// ok is false before the first successful load.
func (v *View) Current() (page paginate.Page, blocks []model.TextBlock, ok bool) {
	if !v.loaded {
		return paginate.Page{}, nil, false
	}
	return v.pages[v.page], v.blocks, true
}

// Position returns where in the book the view is.
func (v *View) Position() model.Position {
	return model.Position{Section: v.section, Page: v.page, Pages: len(v.pages)}
}
