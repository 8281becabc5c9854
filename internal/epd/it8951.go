package epd

import (
	"fmt"
	"image"
	"strings"
)

// Native panel geometry. The controller addresses the panel in landscape;
// logical portrait coordinates are mapped through Rotation.
const (
	PanelWidth  = 960
	PanelHeight = 540

	// Horizontal alignment required by the controller for x and width.
	Align = 4
)

// Preambles sent before every exchange.
const (
	preambleWrite   uint16 = 0x0000
	preambleRead    uint16 = 0x1000
	preambleCommand uint16 = 0x6000
)

// Commands.
const (
	cmdSysRun     uint16 = 0x0001
	cmdStandby    uint16 = 0x0002
	cmdSleep      uint16 = 0x0003
	cmdRegRead    uint16 = 0x0010
	cmdRegWrite   uint16 = 0x0011
	cmdLoadImg    uint16 = 0x0020
	cmdLoadArea   uint16 = 0x0021
	cmdLoadEnd    uint16 = 0x0022
	cmdDisplay    uint16 = 0x0034
	cmdDisplayBuf uint16 = 0x0037
	cmdVCOM       uint16 = 0x0039
	cmdDevInfo    uint16 = 0x0302
)

// Registers.
const (
	regDisplayBase uint16 = 0x1000
	regLUTAFSR            = regDisplayBase + 0x224 // LUT engine status, 0 when idle
	regI80CPCR     uint16 = 0x0004                 // 1 enables packed writes
	regMCSRBase    uint16 = 0x0200
	regLISAR              = regMCSRBase + 0x0008 // target address low word, high word at +2
)

// targetAddr is the image buffer address reported by the M5Paper/HAT firmware.
const targetAddr uint32 = 0x001236E0

// Load image area flags.
const (
	endianLittle = 0
	endianBig    = 1

	bpp2 = 0
	bpp3 = 1
	bpp4 = 2
	bpp8 = 3
)

// Pixel values, one nibble each.
const (
	PixelBlack     byte = 0x0
	PixelDarkGray  byte = 0x5
	PixelLightGray byte = 0xA
	PixelWhite     byte = 0xF
)

// Mode is a waveform mode understood by DPY_BUF_AREA.
type Mode uint16

const (
	ModeInit Mode = iota
	ModeDU
	ModeGC16
	ModeGL16
	ModeGLR16
	ModeGLD16
	ModeA2
	ModeDU4
	// ModeNone is a sentinel and never sent to the controller.
	ModeNone
)

var modeNames = [...]string{"INIT", "DU", "GC16", "GL16", "GLR16", "GLD16", "A2", "DU4", "NONE"}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("Mode(%d)", uint16(m))
}

// Rotation is the logical rotation applied to writes and refreshes.
type Rotation uint8

const (
	Rotate0 Rotation = iota
	Rotate90
	Rotate180
	Rotate270
)

// RotationFromDegrees converts 0/90/180/270 into a Rotation. Other values map
// to Rotate0.
func RotationFromDegrees(deg int) Rotation {
	switch ((deg % 360) + 360) % 360 {
	case 90:
		return Rotate90
	case 180:
		return Rotate180
	case 270:
		return Rotate270
	}
	return Rotate0
}

func (r Rotation) String() string {
	return fmt.Sprintf("%d°", int(r)*90)
}

// Size returns the logical width and height seen by callers.
func (r Rotation) Size() (w, h int) {
	if r == Rotate90 || r == Rotate270 {
		return PanelHeight, PanelWidth
	}
	return PanelWidth, PanelHeight
}

// Rect is a pixel rectangle in logical coordinates.
type Rect struct {
	X, Y, W, H int
}

// RectOf converts an image.Rectangle.
func RectOf(r image.Rectangle) Rect {
	return Rect{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}

func (r Rect) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", r.X, r.Y, r.W, r.H)
}

// Aligned reports whether x and width satisfy the controller alignment.
func (r Rect) Aligned() bool {
	return r.X%Align == 0 && r.W%Align == 0
}

// DevInfo is the answer to GET_DEV_INFO.
type DevInfo struct {
	PanelW, PanelH int
	ImgBufAddr     uint32
	FWVersion      string
	LUTVersion     string
}

func (d DevInfo) String() string {
	return fmt.Sprintf("%dx%d buf=%#08x fw=%s lut=%s", d.PanelW, d.PanelH, d.ImgBufAddr, d.FWVersion, d.LUTVersion)
}

// wordsString decodes a firmware string packed as big-endian words.
func wordsString(ws []uint16) string {
	b := make([]byte, 0, len(ws)*2)
	for _, w := range ws {
		b = append(b, byte(w>>8), byte(w))
	}
	return strings.TrimRight(string(b), "\x00 ")
}
