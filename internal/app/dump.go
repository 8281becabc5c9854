package app

import (
	"context"
	"errors"

	"epdreader/internal/capture"
	appLog "epdreader/internal/log"
	"epdreader/internal/reader"
)

// DumpBook renders every page of the open book, from the section of the
// first table of contents entry to the end, and saves each frame to d.
// It returns the number of pages written. The on-screen view is untouched.
func (a *App) DumpBook(ctx context.Context, d *capture.Dumper) (int, error) {
	if a.book == nil {
		return 0, errors.New("app: no book open")
	}
	a.readStatus(ctx)
	view := reader.NewView(a.book, a.pager)
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		err := view.Next()
		if errors.Is(err, reader.ErrBookBoundary) {
			break
		}
		if err != nil {
			return n, err
		}
		page, blocks, _ := view.Current()
		a.canvas.StatusBar(a.status.clock, a.status.battery)
		a.canvas.Page(page, blocks, a.opts.LineSpacing)
		path, err := d.Save(a.canvas.Frame())
		if err != nil {
			return n, err
		}
		n++
		appLog.Debug("app: page dumped", "position", view.Position(), "path", path)
	}
	appLog.Info("app: book dumped", "title", a.book.Title(), "pages", n)
	return n, nil
}
