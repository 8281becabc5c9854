package render

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"

	"epdreader/internal/battery"
	"epdreader/internal/model"
	"epdreader/internal/paginate"
	"epdreader/internal/typeset"
)

// Icon marks the kind of a list row.
type Icon uint8

const (
	IconNone Icon = iota
	IconBack
	IconDir
	IconBook
	IconFile
)

// Item is one row of a list view.
type Item struct {
	Label string
	Icon  Icon
	// Depth indents table of contents entries.
	Depth int
}

const (
	iconSize    = 24
	iconGap     = 12
	indentWidth = 20
)

// Canvas draws screens into a portrait frame.
type Canvas struct {
	img   *image.Gray
	faces *typeset.Faces
	small font.Face
}

// NewCanvas returns a white Width x Height canvas. small sets the status bar
// text; nil uses the normal face.
func NewCanvas(faces *typeset.Faces, small font.Face) *Canvas {
	if small == nil {
		small = faces.Face(model.Normal)
	}
	c := &Canvas{
		img:   image.NewGray(image.Rect(0, 0, Width, Height)),
		faces: faces,
		small: small,
	}
	c.Clear()
	return c
}

// Frame returns the backing image. It is modified by later drawing.
func (c *Canvas) Frame() *image.Gray { return c.img }

// Clear paints the whole frame white.
func (c *Canvas) Clear() {
	c.fill(c.img.Bounds(), White)
}

// ClearContent paints the area below the status bar white.
func (c *Canvas) ClearContent() {
	c.fill(image.Rect(0, MainMinY, Width, Height), White)
}

func (c *Canvas) fill(r image.Rectangle, col color.Gray) {
	draw.Draw(c.img, r, image.NewUniform(col), image.Point{}, draw.Src)
}

func (c *Canvas) frame(r image.Rectangle, width int, col color.Gray) {
	c.fill(image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width), col)
	c.fill(image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y), col)
	c.fill(image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y), col)
	c.fill(image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y), col)
}

// text draws one line with its top at y.
func (c *Canvas) text(face font.Face, s string, x, y int, col color.Color) {
	typeset.DrawLines(c.img, face, s, []typeset.Line{{Start: 0, End: len(s)}}, x, y, 0, col)
}

func lineHeight(face font.Face) int {
	return face.Metrics().Height.Ceil()
}

// StatusBar draws the clock in the middle and the battery on the right.
func (c *Canvas) StatusBar(clock string, bat battery.Status) {
	r := StatusBarRect()
	c.fill(r, White)
	c.fill(image.Rect(MainMinX, r.Max.Y-BorderWidth, MainMinX+MainWidth, r.Max.Y), Black)

	face := c.small
	ty := r.Min.Y + (StatusBarHeight-BorderWidth-lineHeight(face))/2

	cw := typeset.Measure(face, clock).Ceil()
	c.text(face, clock, (Width-cw)/2, ty, Black)

	label := bat.String()
	lw := typeset.Measure(face, label).Ceil()
	lx := Width - MarginRight - lw
	c.text(face, label, lx, ty, Black)

	c.batteryIcon(lx-iconGap-36, r.Min.Y+(StatusBarHeight-BorderWidth-18)/2, bat.Level())
}

// batteryIcon draws a 36x18 cell with level quarters filled.
func (c *Canvas) batteryIcon(x, y, level int) {
	body := image.Rect(x, y, x+32, y+18)
	c.frame(body, 2, Black)
	c.fill(image.Rect(body.Max.X, y+5, body.Max.X+4, y+13), Black)
	inner := body.Inset(4)
	if level > 4 {
		level = 4
	}
	if level > 0 {
		w := inner.Dx() * level / 4
		c.fill(image.Rect(inner.Min.X, inner.Min.Y, inner.Min.X+w, inner.Max.Y), Black)
	}
}

// Page draws a paginated page in the content area. lineSpacing must match
// the viewport the page was laid out with.
func (c *Canvas) Page(p paginate.Page, blocks []model.TextBlock, lineSpacing int) {
	c.fill(ContentRect(), White)
	for _, f := range p.Fragments {
		b := blocks[f.Block]
		face := c.faces.Face(b.Style)
		step := c.faces.LineHeight(b.Style) + lineSpacing
		typeset.DrawLines(c.img, face, b.Text, f.Lines, MainMinX, ContentMinY+f.Y, step, Black)
	}
}

// RowHeight is the height of one list row.
func (c *Canvas) RowHeight() int {
	return c.faces.LineHeight(model.Normal) + 2*ListPad
}

// TitleHeight is the height of a list title, zero without a title.
func (c *Canvas) TitleHeight(title string) int {
	if title == "" {
		return 0
	}
	return c.faces.LineHeight(model.Bold) + 2*ListPad
}

// ListCapacity returns how many rows fit below title.
func (c *Canvas) ListCapacity(title string) int {
	return (ContentHeight - c.TitleHeight(title)) / c.RowHeight()
}

// List draws items starting at index first below an optional title. It
// returns the screen rectangle of every drawn row; rows[i] is items[first+i].
func (c *Canvas) List(title string, items []Item, first int) []image.Rectangle {
	area := ContentRect()
	c.fill(area, White)
	y := area.Min.Y
	if title != "" {
		bold := c.faces.Face(model.Bold)
		th := c.TitleHeight(title)
		c.text(bold, typeset.Ellipsize(bold, title, area.Dx()), area.Min.X, y+ListPad, Black)
		c.fill(image.Rect(area.Min.X, y+th-BorderWidth, area.Max.X, y+th), Black)
		y += th
	}

	face := c.faces.Face(model.Normal)
	rh := c.RowHeight()
	var rows []image.Rectangle
	for i := first; i >= 0 && i < len(items) && y+rh <= area.Max.Y; i++ {
		it := items[i]
		row := image.Rect(area.Min.X, y, area.Max.X, y+rh)
		x := row.Min.X + it.Depth*indentWidth
		if it.Icon != IconNone {
			c.icon(it.Icon, x, y+(rh-iconSize)/2)
			x += iconSize + iconGap
		}
		c.text(face, typeset.Ellipsize(face, it.Label, row.Max.X-x), x, y+ListPad, Black)
		// Row separator.
		c.fill(image.Rect(row.Min.X, row.Max.Y-1, row.Max.X, row.Max.Y), LightGray)
		rows = append(rows, row)
		y += rh
	}
	return rows
}

func (c *Canvas) icon(k Icon, x, y int) {
	r := image.Rect(x, y, x+iconSize, y+iconSize)
	switch k {
	case IconBack:
		// Left-pointing arrow.
		for i := 0; i < iconSize/2; i++ {
			c.fill(image.Rect(x+i, y+iconSize/2-i, x+i+2, y+iconSize/2+i), Black)
		}
		c.fill(image.Rect(x+iconSize/2, y+iconSize/2-2, r.Max.X, y+iconSize/2+2), Black)
	case IconDir:
		c.fill(image.Rect(x, y+2, x+iconSize/2, y+6), DarkGray)
		c.fill(image.Rect(x, y+6, r.Max.X, r.Max.Y-2), DarkGray)
	case IconBook:
		c.fill(r, Black)
		c.fill(image.Rect(x+6, y+4, r.Max.X-4, y+8), White)
	case IconFile:
		c.frame(r, 2, LightGray)
	}
}

// Popup draws a centered dialog over whatever is on the content area and
// returns its rectangle.
func (c *Canvas) Popup(title, message string) image.Rectangle {
	top := MainMinY + (MainHeight-PopupHeight)/2
	r := image.Rect(MainMinX, top, MainMinX+MainWidth, top+PopupHeight)
	c.fill(r, White)
	c.fill(image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+PopupTitleHeight), LightGray)
	c.frame(r, BorderWidth, Black)

	bold := c.faces.Face(model.Bold)
	inner := r.Dx() - 2*PopupPad
	ty := r.Min.Y + (PopupTitleHeight-lineHeight(bold))/2
	c.text(bold, typeset.Ellipsize(bold, title, inner), r.Min.X+PopupPad, ty, Black)

	face := c.faces.Face(model.Normal)
	lh := lineHeight(face)
	lines := typeset.Wrap(face, message, inner)
	if room := (r.Dy() - PopupTitleHeight - 2*PopupPad) / lh; len(lines) > room {
		lines = lines[:room]
	}
	typeset.DrawLines(c.img, face, message, lines, r.Min.X+PopupPad, r.Min.Y+PopupTitleHeight+PopupPad, lh, Black)
	return r
}
