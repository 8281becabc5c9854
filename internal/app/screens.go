package app

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"epdreader/internal/epub"
	"epdreader/internal/gesture"
	appLog "epdreader/internal/log"
	"epdreader/internal/reader"
	"epdreader/internal/render"
)

type screen uint8

const (
	screenLibrary screen = iota
	screenToc
	screenPage
)

func (s screen) String() string {
	switch s {
	case screenLibrary:
		return "library"
	case screenToc:
		return "toc"
	case screenPage:
		return "page"
	}
	return "unknown"
}

type popup struct {
	title, message string
}

const (
	errorTitle       = "Error"
	unsupportedTitle = "Unsupported file"
	backLabel        = "Back"
)

func (a *App) showError(err error) {
	a.popup = &popup{title: errorTitle, message: err.Error()}
}

// list is a scrollable list view. rows are the on-screen rectangles of the
// last draw, starting at item first.
type list struct {
	items []render.Item
	first int
	rows  []image.Rectangle
}

func (l *list) hit(p image.Point) (int, bool) {
	for i, r := range l.rows {
		if p.In(r) {
			return l.first + i, true
		}
	}
	return 0, false
}

// scroll moves by whole screens of n rows and never past the last item.
func (l *list) scroll(dir, n int) {
	if n <= 0 {
		return
	}
	first := l.first + dir*n
	if first < 0 {
		first = 0
	}
	if first >= len(l.items) {
		return
	}
	l.first = first
}

type entry struct {
	name string
	dir  bool
	up   bool
}

// library is the files list rooted at the library directory.
type library struct {
	root    string
	dir     string // relative to root, "" at the top
	loaded  bool
	entries []entry
	list    list
}

func (l *library) load() error {
	des, err := os.ReadDir(filepath.Join(l.root, l.dir))
	if err != nil {
		return fmt.Errorf("library: %w", err)
	}
	var entries []entry
	if l.dir != "" {
		entries = append(entries, entry{name: "..", dir: true, up: true})
	}
	start := len(entries)
	for _, de := range des {
		if strings.HasPrefix(de.Name(), ".") {
			continue
		}
		entries = append(entries, entry{name: de.Name(), dir: de.IsDir()})
	}
	// Directories first, each group by name.
	sort.SliceStable(entries[start:], func(i, j int) bool {
		a, b := entries[start+i], entries[start+j]
		if a.dir != b.dir {
			return a.dir
		}
		return a.name < b.name
	})

	items := make([]render.Item, len(entries))
	for i, e := range entries {
		icon := render.IconFile
		switch {
		case e.up:
			icon = render.IconBack
		case e.dir:
			icon = render.IconDir
		case epub.Supported(e.name):
			icon = render.IconBook
		}
		items[i] = render.Item{Label: e.name, Icon: icon}
	}
	l.entries = entries
	l.list = list{items: items}
	l.loaded = true
	return nil
}

func (l *library) title() string {
	if l.dir == "" {
		return "Library"
	}
	return "/" + filepath.ToSlash(l.dir)
}

func (l *library) cd(e entry) {
	if e.up {
		l.dir = filepath.Dir(l.dir)
		if l.dir == "." {
			l.dir = ""
		}
	} else {
		l.dir = filepath.Join(l.dir, e.name)
	}
	l.loaded = false
}

func (a *App) drawLibrary() {
	if !a.lib.loaded {
		if err := a.lib.load(); err != nil {
			appLog.Error("app: library listing failed", err, "dir", a.lib.dir)
			a.lib.list = list{}
			a.showError(err)
		}
	}
	a.lib.list.rows = a.canvas.List(a.lib.title(), a.lib.list.items, a.lib.list.first)
}

func (a *App) handleLibrary(ev gesture.Event) {
	l := &a.lib
	switch ev.Kind {
	case gesture.SwipeUp:
		l.list.scroll(1, a.canvas.ListCapacity(l.title()))
	case gesture.SwipeDown:
		l.list.scroll(-1, a.canvas.ListCapacity(l.title()))
	case gesture.Tap:
		i, ok := l.list.hit(ev.Start)
		if !ok || i >= len(l.entries) {
			return
		}
		e := l.entries[i]
		switch {
		case e.dir:
			l.cd(e)
		case epub.Supported(e.name):
			if err := a.OpenBook(filepath.Join(l.root, l.dir, e.name)); err != nil {
				a.showError(err)
			}
		default:
			a.popup = &popup{
				title:   unsupportedTitle,
				message: fmt.Sprintf("File %s has unsupported format!", e.name),
			}
		}
	}
}

// OpenBook opens the book at path and shows its table of contents.
func (a *App) OpenBook(path string) error {
	book, err := epub.Open(path, a.opts.SectionCache)
	if err != nil {
		appLog.Error("app: open book failed", err, "path", path)
		return err
	}
	a.closeBook()
	a.book = book
	a.view = reader.NewView(book, a.pager)

	items := []render.Item{{Label: backLabel, Icon: render.IconBack}}
	for _, e := range book.Toc() {
		items = append(items, render.Item{Label: e.Title, Depth: e.Depth})
	}
	a.toc = list{items: items}
	a.screen = screenToc
	appLog.Info("app: book opened", "title", book.Title(), "sections", book.SectionCount(), "toc", len(items)-1)
	return nil
}

func (a *App) closeBook() {
	if a.book == nil {
		return
	}
	if err := a.book.Close(); err != nil {
		appLog.Warn("app: close book failed", "error", err)
	}
	a.book, a.view = nil, nil
	a.toc = list{}
}

func (a *App) drawToc() {
	a.toc.rows = a.canvas.List(a.book.Title(), a.toc.items, a.toc.first)
}

func (a *App) handleToc(ev gesture.Event) {
	switch ev.Kind {
	case gesture.SwipeUp:
		a.toc.scroll(1, a.canvas.ListCapacity(a.book.Title()))
	case gesture.SwipeDown:
		a.toc.scroll(-1, a.canvas.ListCapacity(a.book.Title()))
	case gesture.Tap:
		i, ok := a.toc.hit(ev.Start)
		if !ok {
			return
		}
		if i == 0 {
			a.closeBook()
			a.screen = screenLibrary
			return
		}
		entry := a.book.Toc()[i-1]
		if err := a.view.OpenToc(entry.Path); err != nil {
			a.showError(err)
			return
		}
		a.screen = screenPage
	}
}

func (a *App) drawPage() {
	page, blocks, ok := a.view.Current()
	if !ok {
		a.canvas.ClearContent()
		return
	}
	a.canvas.Page(page, blocks, a.opts.LineSpacing)
}

// Page taps turn forward on the right third and back on the left third.
func (a *App) handlePage(ev gesture.Event) {
	var err error
	switch {
	case ev.Kind == gesture.SwipeLeft, ev.Kind == gesture.Tap && ev.Start.X >= 2*render.Width/3:
		err = a.view.Next()
	case ev.Kind == gesture.SwipeRight, ev.Kind == gesture.Tap && ev.Start.X < render.Width/3:
		err = a.view.Prev()
	case ev.Kind == gesture.SwipeDown:
		a.screen = screenToc
		return
	default:
		return
	}
	switch {
	case errors.Is(err, reader.ErrBookBoundary):
		appLog.Debug("app: book boundary", "position", a.view.Position())
	case err != nil:
		a.showError(err)
	}
}
