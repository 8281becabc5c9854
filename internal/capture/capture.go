package capture

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// Default file naming for frame dumps.
const (
	DefaultPattern = "frame-%04d.png"
)

// Options defines where and how frames are dumped.
type Options struct {
	// Dir receives the PNG files, e.g. "/var/lib/epdreader/dump". It is
	// created if missing.
	Dir string

	// Pattern is a fmt verb taking the frame number. If empty,
	// DefaultPattern is used.
	Pattern string

	// Native rotates frames into the panel's landscape orientation so the
	// dump matches what the controller's image buffer holds.
	Native bool

	// Width scales frames down to this width when non-zero, keeping the
	// aspect ratio. Useful for quick previews of a whole book.
	Width int
}

// Dumper writes numbered PNG snapshots of frames.
type Dumper struct {
	opts Options
	n    int
}

// New creates opts.Dir and returns a Dumper numbering frames from 1.
func New(opts Options) (*Dumper, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("capture: Dir is required")
	}
	if opts.Pattern == "" {
		opts.Pattern = DefaultPattern
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("capture: create dir: %w", err)
	}
	return &Dumper{opts: opts}, nil
}

// Save writes img as the next numbered frame and returns its path.
func (d *Dumper) Save(img image.Image) (string, error) {
	d.n++
	return d.SaveAs(fmt.Sprintf(d.opts.Pattern, d.n), img)
}

// SaveAs writes img under name inside the dump directory.
func (d *Dumper) SaveAs(name string, img image.Image) (string, error) {
	path := filepath.Join(d.opts.Dir, name)
	if err := SavePNG(path, d.transform(img)); err != nil {
		return "", err
	}
	return path, nil
}

// Count returns the number of numbered frames written.
func (d *Dumper) Count() int { return d.n }

func (d *Dumper) transform(img image.Image) image.Image {
	if d.opts.Native {
		// Portrait to landscape, counter-clockwise like the panel's
		// 90 degree load rotation.
		img = imaging.Rotate90(img)
	}
	if w := d.opts.Width; w > 0 && w < img.Bounds().Dx() {
		img = imaging.Resize(img, w, 0, imaging.Lanczos)
	}
	return img
}

// SavePNG writes img to path.
func SavePNG(path string, img image.Image) error {
	if err := imaging.Save(img, path, imaging.PNGCompressionLevel(png.BestSpeed)); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}
	return nil
}
