package worker

import (
	"image"
	"sync"

	"epdreader/internal/convert"
	"epdreader/internal/epd"
)

// MemoryPanel is a Panel backed by an in-memory gray image. It is used when
// running without display hardware.
type MemoryPanel struct {
	mu     sync.Mutex
	buf    *image.Gray // controller image buffer
	screen *image.Gray // what the last refresh showed
	modes  []epd.Mode
	asleep bool
}

// NewMemoryPanel returns a white panel of the given logical size.
func NewMemoryPanel(w, h int) *MemoryPanel {
	p := &MemoryPanel{
		buf:    image.NewGray(image.Rect(0, 0, w, h)),
		screen: image.NewGray(image.Rect(0, 0, w, h)),
	}
	for i := range p.buf.Pix {
		p.buf.Pix[i] = 0xFF
		p.screen.Pix[i] = 0xFF
	}
	return p
}

func (p *MemoryPanel) Write(r epd.Rect, pixels []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !r.Aligned() {
		return epd.ErrNotAligned
	}
	return convert.Unpack4(p.buf, image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H), pixels)
}

func (p *MemoryPanel) RefreshFull(mode epd.Mode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if mode >= epd.ModeNone {
		return epd.ErrInvalidArg
	}
	copy(p.screen.Pix, p.buf.Pix)
	p.modes = append(p.modes, mode)
	return nil
}

func (p *MemoryPanel) Sleep() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.asleep = true
	return nil
}

func (p *MemoryPanel) Wakeup() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.asleep = false
	return nil
}

// Screen returns a copy of the displayed image.
func (p *MemoryPanel) Screen() *image.Gray {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := image.NewGray(p.screen.Rect)
	copy(out.Pix, p.screen.Pix)
	return out
}

// Modes returns the waveform of every refresh so far.
func (p *MemoryPanel) Modes() []epd.Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]epd.Mode(nil), p.modes...)
}

// Asleep reports whether the panel is sleeping.
func (p *MemoryPanel) Asleep() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.asleep
}
