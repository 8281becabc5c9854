package model

// Style selects the font a TextBlock is set in.
type Style uint8

const (
	Normal Style = iota
	Bold
)

func (s Style) String() string {
	if s == Bold {
		return "bold"
	}
	return "normal"
}

// TextBlock is one paragraph-level run of text from a section. Text is UTF-8
// and read-only once the section is parsed.
type TextBlock struct {
	Text  string
	Style Style
}

// TocEntry is one navigation point of a book.
type TocEntry struct {
	Title string
	// Path is the manifest-relative href, possibly with a #fragment.
	Path string
	// Depth is the nesting level in the navigation map, 0 for top level.
	Depth int
}

// Position identifies a page within a book.
type Position struct {
	Section int
	Page    int
	Pages   int // number of pages in Section
}
