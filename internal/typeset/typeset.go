// Package typeset loads fonts, wraps text into lines and draws it.
package typeset

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"strings"
	"unicode"

	"github.com/flopp/go-findfont"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"epdreader/internal/model"
)

// Line is a byte range [Start, End) of the wrapped text. Consecutive lines
// are contiguous: whitespace at a break stays at the end of the earlier line.
type Line struct {
	Start, End int
}

// Faces holds one font face per block style.
type Faces struct {
	normal font.Face
	bold   font.Face
}

// NewFaces wraps already loaded faces.
func NewFaces(normal, bold font.Face) *Faces {
	if bold == nil {
		bold = normal
	}
	return &Faces{normal: normal, bold: bold}
}

// LoadFaces resolves regular and bold font names through the system font
// directories. An empty name selects the embedded Go fonts.
func LoadFaces(regular, bold string, size, headingSize float64) (*Faces, error) {
	n, err := loadFace(regular, goregular.TTF, size)
	if err != nil {
		return nil, err
	}
	b, err := loadFace(bold, gobold.TTF, headingSize)
	if err != nil {
		n.Close()
		return nil, err
	}
	return &Faces{normal: n, bold: b}, nil
}

func loadFace(name string, fallback []byte, size float64) (font.Face, error) {
	src := fallback
	if name != "" {
		path := name
		if _, err := os.Stat(path); err != nil {
			path, err = findfont.Find(name)
			if err != nil {
				return nil, fmt.Errorf("typeset: find font %q: %w", name, err)
			}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("typeset: read font: %w", err)
		}
		src = data
	}
	f, err := opentype.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("typeset: parse font %q: %w", name, err)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("typeset: face %q: %w", name, err)
	}
	return face, nil
}

// Face returns the face for s.
func (f *Faces) Face(s model.Style) font.Face {
	if s == model.Bold {
		return f.bold
	}
	return f.normal
}

// Close releases both faces.
func (f *Faces) Close() error {
	err := f.normal.Close()
	if f.bold != f.normal {
		if berr := f.bold.Close(); err == nil {
			err = berr
		}
	}
	return err
}

// Wrap breaks text set in style s into lines no wider than width.
func (f *Faces) Wrap(text string, s model.Style, width int) []Line {
	return Wrap(f.Face(s), text, width)
}

// LineHeight returns the height of one line of style s in pixels.
func (f *Faces) LineHeight(s model.Style) int {
	return f.Face(s).Metrics().Height.Ceil()
}

// Wrap greedily breaks text into lines whose visible width fits in width
// pixels. Lines break after whitespace when possible and between runes
// otherwise; a line always holds at least one rune. '\n' forces a break.
func Wrap(face font.Face, text string, width int) []Line {
	limit := fixed.I(width)
	var (
		lines     []Line
		start     int
		x         fixed.Int26_6
		prev      = rune(-1)
		lastBreak = -1
	)
	for i, r := range text {
		if r == '\n' {
			lines = append(lines, Line{start, i + 1})
			start, x, prev, lastBreak = i+1, 0, -1, -1
			continue
		}
		adv := advance(face, prev, r)
		if unicode.IsSpace(r) {
			// Trailing whitespace never forces a wrap.
			x += adv
			prev = r
			continue
		}
		if prev >= 0 && unicode.IsSpace(prev) {
			lastBreak = i
		}
		if x+adv > limit && i > start {
			if lastBreak > start {
				lines = append(lines, Line{start, lastBreak})
				start = lastBreak
			} else {
				lines = append(lines, Line{start, i})
				start = i
			}
			lastBreak = -1
			x = Measure(face, text[start:i])
			if start == i {
				prev = -1
			}
			adv = advance(face, prev, r)
		}
		x += adv
		prev = r
	}
	if start < len(text) {
		lines = append(lines, Line{start, len(text)})
	}
	return lines
}

func advance(face font.Face, prev, r rune) fixed.Int26_6 {
	adv, _ := face.GlyphAdvance(r)
	if prev >= 0 {
		adv += face.Kern(prev, r)
	}
	return adv
}

// Measure returns the advance width of s.
func Measure(face font.Face, s string) fixed.Int26_6 {
	var x fixed.Int26_6
	prev := rune(-1)
	for _, r := range s {
		x += advance(face, prev, r)
		prev = r
	}
	return x
}

// Visible returns the drawable part of a line: trailing whitespace and the
// forced line break are dropped.
func Visible(text string, l Line) string {
	return strings.TrimRightFunc(text[l.Start:l.End], unicode.IsSpace)
}

// DrawLines draws lines of text with the top of the first line at (x, y).
// Each following line starts step pixels lower.
func DrawLines(dst draw.Image, face font.Face, text string, lines []Line, x, y, step int, c color.Color) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
	}
	ascent := face.Metrics().Ascent.Ceil()
	for i, l := range lines {
		d.Dot = fixed.P(x, y+i*step+ascent)
		d.DrawString(Visible(text, l))
	}
}

// Ellipsize shortens s with a trailing "..." so it fits in width pixels.
func Ellipsize(face font.Face, s string, width int) string {
	limit := fixed.I(width)
	if Measure(face, s) <= limit {
		return s
	}
	const dots = "..."
	room := limit - Measure(face, dots)
	var x fixed.Int26_6
	prev := rune(-1)
	for i, r := range s {
		x += advance(face, prev, r)
		if x > room {
			return s[:i] + dots
		}
		prev = r
	}
	return s
}
