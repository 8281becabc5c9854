// Package paginate splits a section's text blocks into pages that fit the
// reading viewport.
package paginate

import (
	"errors"
	"fmt"
	"strings"

	"epdreader/internal/model"
	"epdreader/internal/typeset"
)

// ErrViewport is returned when the viewport cannot hold a single line.
var ErrViewport = errors.New("paginate: viewport too small")

// Measurer wraps and measures styled text. *typeset.Faces implements it.
type Measurer interface {
	Wrap(text string, s model.Style, width int) []typeset.Line
	LineHeight(s model.Style) int
}

// Viewport is the content area pages are laid out in, in pixels.
type Viewport struct {
	Width, Height int
	// BlockSpacing separates consecutive blocks on a page.
	BlockSpacing int
	// LineSpacing separates lines inside a block.
	LineSpacing int
}

// Fragment is the [Start, End) byte range of one block placed on a page.
type Fragment struct {
	Block      int
	Start, End int
	// Y is the top of the fragment relative to the viewport.
	Y      int
	Height int
	// Lines hold byte offsets into the block's full text.
	Lines []typeset.Line
}

// Page is one screen of text.
type Page struct {
	Fragments []Fragment
}

// Height returns the bottom of the last fragment.
func (p Page) Height() int {
	if len(p.Fragments) == 0 {
		return 0
	}
	last := p.Fragments[len(p.Fragments)-1]
	return last.Y + last.Height
}

// Text returns the page's text, fragments concatenated in order.
func (p Page) Text(blocks []model.TextBlock) string {
	var b strings.Builder
	for _, f := range p.Fragments {
		b.WriteString(blocks[f.Block].Text[f.Start:f.End])
	}
	return b.String()
}

// Cursor is the resumption point for the next page.
type Cursor struct {
	Block  int
	Offset int
}

// Paginator lays blocks out on pages.
type Paginator struct {
	m  Measurer
	vp Viewport
}

// New checks that vp can hold at least one line of every style.
func New(m Measurer, vp Viewport) (*Paginator, error) {
	if vp.Width <= 0 {
		return nil, fmt.Errorf("%w: width %d", ErrViewport, vp.Width)
	}
	for _, s := range []model.Style{model.Normal, model.Bold} {
		if lh := m.LineHeight(s); lh <= 0 || lh > vp.Height {
			return nil, fmt.Errorf("%w: %s line is %dpx, viewport %dpx", ErrViewport, s, lh, vp.Height)
		}
	}
	return &Paginator{m: m, vp: vp}, nil
}

// Paginate lays out the whole section from block 0. A section without text
// yields one empty page.
func (p *Paginator) Paginate(blocks []model.TextBlock) ([]Page, error) {
	var (
		pages []Page
		page  Page
		y     int
		c     Cursor
	)
	finish := func() {
		pages = append(pages, page)
		page = Page{}
		y = 0
	}
	for c.Block < len(blocks) {
		b := blocks[c.Block]
		if c.Offset >= len(b.Text) {
			c = Cursor{Block: c.Block + 1}
			continue
		}
		top := y
		if len(page.Fragments) > 0 {
			top += p.vp.BlockSpacing
		}
		lh := p.m.LineHeight(b.Style)
		step := lh + p.vp.LineSpacing

		rest := b.Text[c.Offset:]
		lines := p.m.Wrap(rest, b.Style, p.vp.Width)
		for i := range lines {
			lines[i].Start += c.Offset
			lines[i].End += c.Offset
		}
		height := len(lines)*step - p.vp.LineSpacing

		switch {
		case top+height <= p.vp.Height:
			// The remainder fits.
			page.Fragments = append(page.Fragments, Fragment{
				Block: c.Block, Start: c.Offset, End: len(b.Text),
				Y: top, Height: height, Lines: lines,
			})
			y = top + height
			c = Cursor{Block: c.Block + 1}

		case top+lh > p.vp.Height:
			// Not a single line fits below what is already on the page.
			if len(page.Fragments) == 0 {
				return nil, fmt.Errorf("%w: block %d", ErrViewport, c.Block)
			}
			finish()

		default:
			// Straddles the bottom: keep the lines that fit and resume the
			// block at the first line that does not. Line ends are rune
			// boundaries.
			k := (p.vp.Height - top + p.vp.LineSpacing) / step
			cut := lines[k-1].End
			page.Fragments = append(page.Fragments, Fragment{
				Block: c.Block, Start: c.Offset, End: cut,
				Y: top, Height: k*step - p.vp.LineSpacing, Lines: lines[:k:k],
			})
			finish()
			c.Offset = cut
		}
	}
	if len(page.Fragments) > 0 || len(pages) == 0 {
		pages = append(pages, page)
	}
	return pages, nil
}
