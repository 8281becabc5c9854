package render

import (
	"context"
	"image"
	"image/draw"

	"epdreader/internal/touch"
)

// Flusher pushes the r region of src to the panel and refreshes it.
type Flusher interface {
	Flush(ctx context.Context, r image.Rectangle, src *image.Gray) error
}

// InputSource yields pointer samples. *touch.Dev implements it.
type InputSource interface {
	Read() (touch.Point, error)
}

// Sink accepts panel operations. *worker.Worker implements it.
type Sink interface {
	Write(ctx context.Context, r image.Rectangle, src *image.Gray, release func()) error
	Refresh(ctx context.Context) error
}

const buffers = 2

var _ Flusher = (*Display)(nil)

// Display tracks what the panel shows and sends only changed regions to
// the sink, alternating between two draw buffers.
type Display struct {
	sink Sink
	prev *image.Gray
	bufs [buffers]*image.Gray
	free chan int
	full bool
}

// NewDisplay assumes the panel starts cleared to white.
func NewDisplay(sink Sink) *Display {
	d := &Display{
		sink: sink,
		prev: newWhite(),
		free: make(chan int, buffers),
	}
	for i := range d.bufs {
		d.bufs[i] = newWhite()
		d.free <- i
	}
	return d
}

func newWhite() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, Width, Height))
	for i := range img.Pix {
		img.Pix[i] = 0xFF
	}
	return img
}

// Invalidate makes the next Present send the whole frame.
func (d *Display) Invalidate() { d.full = true }

// Present sends the region where frame differs from the last presented
// frame. It reports whether anything was sent.
func (d *Display) Present(ctx context.Context, frame *image.Gray) (bool, error) {
	r := Diff(d.prev, frame)
	if d.full {
		r = frame.Bounds()
	}
	if r.Empty() {
		return false, nil
	}
	if err := d.Flush(ctx, r, frame); err != nil {
		return false, err
	}
	d.full = false
	return true, nil
}

// Flush copies r of src into a free draw buffer and queues a write and a
// refresh. It blocks until a buffer is released by the sink.
func (d *Display) Flush(ctx context.Context, r image.Rectangle, src *image.Gray) error {
	r = Round(r.Intersect(src.Bounds()))
	if r.Empty() {
		return nil
	}
	var i int
	select {
	case i = <-d.free:
	case <-ctx.Done():
		return ctx.Err()
	}
	buf := d.bufs[i]
	draw.Draw(buf, r, src, r.Min, draw.Src)
	release := func() { d.free <- i }
	if err := d.sink.Write(ctx, r, buf, release); err != nil {
		d.free <- i
		return err
	}
	if err := d.sink.Refresh(ctx); err != nil {
		return err
	}
	// Only a queued refresh makes the region count as shown.
	draw.Draw(d.prev, r, src, r.Min, draw.Src)
	return nil
}

// Round widens r horizontally to 4-pixel boundaries, as the panel requires
// for packed 4bpp transfers, and clips it to the screen.
func Round(r image.Rectangle) image.Rectangle {
	r.Min.X &^= 3
	r.Max.X = (r.Max.X + 3) &^ 3
	return r.Intersect(image.Rect(0, 0, Width, Height))
}

// Diff returns the bounding box of pixels that differ between a and b.
// Both images must have the same bounds.
func Diff(a, b *image.Gray) image.Rectangle {
	bounds := a.Bounds().Intersect(b.Bounds())
	var r image.Rectangle
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		ra := a.Pix[a.PixOffset(bounds.Min.X, y):a.PixOffset(bounds.Max.X, y)]
		rb := b.Pix[b.PixOffset(bounds.Min.X, y):b.PixOffset(bounds.Max.X, y)]
		lo, hi := -1, -1
		for x := range ra {
			if ra[x] != rb[x] {
				if lo < 0 {
					lo = x
				}
				hi = x
			}
		}
		if lo < 0 {
			continue
		}
		row := image.Rect(bounds.Min.X+lo, y, bounds.Min.X+hi+1, y+1)
		if r.Empty() {
			r = row
		} else {
			r = r.Union(row)
		}
	}
	return r
}
