// Package touch drives a Goodix GT911 capacitive touch controller over I2C.
//
// Only the first touch point is reported.
package touch

import (
	"fmt"
	"image"
	"sync"

	"periph.io/x/conn/v3/i2c"
)

const (
	// DefaultAddr is the GT911 address when INT is held low at reset.
	DefaultAddr uint16 = 0x5D

	// PanelWidth and PanelHeight are the touch panel's native dimensions.
	PanelWidth  = 540
	PanelHeight = 960

	regProductID uint16 = 0x8140
	regStatus    uint16 = 0x814E
	regPoint1    uint16 = 0x8150

	statusValid      = 0x80
	statusPointsMask = 0x0F
)

// State is the contact state reported with a point.
type State uint8

const (
	Released State = iota
	Pressed
)

func (s State) String() string {
	if s == Pressed {
		return "pressed"
	}
	return "released"
}

// Point is one pointer sample in screen coordinates.
type Point struct {
	X, Y  int
	State State
}

// Pt returns the coordinates as an image.Point.
func (p Point) Pt() image.Point { return image.Pt(p.X, p.Y) }

// Rotation maps touch panel coordinates to screen coordinates.
type Rotation uint8

const (
	Rotate0 Rotation = iota
	Rotate90
	Rotate180
	Rotate270
)

// RotationFromDegrees converts 0/90/180/270.
func RotationFromDegrees(deg int) (Rotation, error) {
	switch deg {
	case 0:
		return Rotate0, nil
	case 90:
		return Rotate90, nil
	case 180:
		return Rotate180, nil
	case 270:
		return Rotate270, nil
	}
	return 0, fmt.Errorf("touch: invalid rotation %d", deg)
}

// transform applies the rotation with the touch panel size as pivot.
func (r Rotation) transform(x, y int) (int, int) {
	switch r {
	case Rotate0:
		return y, PanelWidth - x
	case Rotate180:
		return PanelHeight - y, x
	case Rotate270:
		return PanelWidth - x, PanelHeight - y
	}
	return x, y
}

// Opts holds the configuration options.
type Opts struct {
	Addr     uint16
	Rotation Rotation
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Addr:     DefaultAddr,
	Rotation: Rotate90,
}

// Dev is a handle to a GT911.
type Dev struct {
	mu   sync.Mutex
	d    *i2c.Dev
	rot  Rotation
	last image.Point
}

// New returns a handle on bus b. It does not touch the bus.
func New(b i2c.Bus, opts *Opts) *Dev {
	if opts == nil {
		o := DefaultOpts
		opts = &o
	}
	addr := opts.Addr
	if addr == 0 {
		addr = DefaultAddr
	}
	return &Dev{d: &i2c.Dev{Bus: b, Addr: addr}, rot: opts.Rotation}
}

func (d *Dev) String() string {
	return fmt.Sprintf("GT911{%s}", d.d)
}

func (d *Dev) readReg(reg uint16, r []byte) error {
	return d.d.Tx([]byte{byte(reg >> 8), byte(reg)}, r)
}

func (d *Dev) writeReg(reg uint16, v byte) error {
	return d.d.Tx([]byte{byte(reg >> 8), byte(reg), v}, nil)
}

// ProductID returns the 4 character product id, "911" followed by NUL on a
// GT911.
func (d *Dev) ProductID() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf [4]byte
	if err := d.readReg(regProductID, buf[:]); err != nil {
		return "", fmt.Errorf("touch: product id: %w", err)
	}
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return string(buf[:n]), nil
}

// Read polls the controller once.
//
// Without valid data or without any touch point the last known coordinates
// are returned as Released. The status register is cleared after every
// read so the controller does not deliver the same sample again.
func (d *Dev) Read() (Point, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var status [1]byte
	if err := d.readReg(regStatus, status[:]); err != nil {
		return Point{}, fmt.Errorf("touch: status: %w", err)
	}
	p := Point{X: d.last.X, Y: d.last.Y, State: Released}
	if status[0]&statusValid != 0 && status[0]&statusPointsMask > 0 {
		var buf [4]byte
		if err := d.readReg(regPoint1, buf[:]); err != nil {
			return Point{}, fmt.Errorf("touch: point: %w", err)
		}
		rawX := int(buf[1])<<8 | int(buf[0])
		rawY := int(buf[3])<<8 | int(buf[2])
		x, y := d.rot.transform(rawX, rawY)
		d.last = image.Pt(x, y)
		p = Point{X: x, Y: y, State: Pressed}
	}
	if err := d.writeReg(regStatus, 0); err != nil {
		return p, fmt.Errorf("touch: clear status: %w", err)
	}
	return p, nil
}
