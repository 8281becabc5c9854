package epub

import (
	"fmt"
	"io"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"epdreader/internal/model"
)

// styleOf returns the block style of an element and whether it starts a
// block at all.
func styleOf(a atom.Atom) (model.Style, bool) {
	switch a {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		return model.Bold, true
	case atom.P, atom.Div, atom.Li, atom.Blockquote:
		return model.Normal, true
	}
	return model.Normal, false
}

// sectionWalker collects text into blocks. Text is attributed to the
// innermost open block element and emitted when that element closes or
// another block opens inside it.
type sectionWalker struct {
	styles []model.Style
	text   strings.Builder
	space  bool // a folded space is pending
	blocks []model.TextBlock
}

func (w *sectionWalker) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		if len(w.styles) > 0 {
			w.appendText(n.Data)
		}
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Head:
			return
		case atom.Br:
			if len(w.styles) > 0 && w.text.Len() > 0 {
				w.text.WriteByte('\n')
				w.space = false
			}
			return
		}
	}

	style, block := styleOf(n.DataAtom)
	if n.Type == html.ElementNode && block {
		if len(w.styles) > 0 {
			w.flush()
		}
		w.styles = append(w.styles, style)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
	if n.Type == html.ElementNode && block {
		w.flush()
		w.styles = w.styles[:len(w.styles)-1]
	}
}

// appendText folds whitespace runs into single spaces. Entities are already
// decoded by the tokenizer.
func (w *sectionWalker) appendText(s string) {
	for _, r := range s {
		if unicode.IsSpace(r) {
			w.space = true
			continue
		}
		if w.space && w.text.Len() > 0 && !strings.HasSuffix(w.text.String(), "\n") {
			w.text.WriteByte(' ')
		}
		w.space = false
		w.text.WriteRune(r)
	}
}

func (w *sectionWalker) flush() {
	t := strings.TrimRightFunc(w.text.String(), unicode.IsSpace)
	w.text.Reset()
	w.space = false
	if t == "" {
		return
	}
	w.blocks = append(w.blocks, model.TextBlock{Text: t, Style: w.styles[len(w.styles)-1]})
}

func parseSection(r io.Reader) ([]model.TextBlock, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	var w sectionWalker
	w.walk(doc)
	return w.blocks, nil
}
