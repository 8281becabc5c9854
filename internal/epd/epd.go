// Package epd drives an IT8951 e-paper controller (M5Paper, Waveshare IT8951
// HAT) over SPI with a hardware-ready (HRDY) handshake line, using periph.io.
//
// A Session exclusively owns the SPI connection, the chip-select and HRDY
// pins and the single transfer buffer. It is safe for concurrent use but is
// meant to be driven by a single worker.
package epd

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// Pins groups the GPIOs next to the SPI bus.
type Pins struct {
	// CS is driven manually; the SPI port is opened with spi.NoCS.
	CS gpio.PinOut
	// HRDY is high when the controller accepts the next word.
	HRDY gpio.PinIn
	// Power enables the panel supply. Optional.
	Power gpio.PinOut
}

// Opts configures a Session.
type Opts struct {
	Rotation Rotation
	Inverted bool
	// VCOM is the magnitude of the negative VCOM voltage in mV.
	VCOM            int
	HRDYTimeout     time.Duration
	LUTPollInterval time.Duration
	// MaxTransfer caps a single data burst; the connection limit applies too.
	MaxTransfer int
	Freq        physic.Frequency
}

// DefaultOpts is used when New is called with nil options.
var DefaultOpts = Opts{
	Rotation:        Rotate0,
	VCOM:            2300,
	HRDYTimeout:     2000 * time.Millisecond,
	LUTPollInterval: 10 * time.Millisecond,
	MaxTransfer:     4096,
	Freq:            20 * physic.MegaHertz,
}

// Session is an initialized panel.
type Session struct {
	mu sync.Mutex

	c     spi.Conn
	port  io.Closer
	cs    gpio.PinOut
	hrdy  gpio.PinIn
	power gpio.PinOut

	opts Opts
	buf  []byte

	closed bool
}

// New powers the panel, configures the bus and pins, wakes the controller,
// programs VCOM and the target address, clears the screen and runs an INIT
// refresh. On failure everything acquired so far is released.
func New(p spi.Port, pins Pins, opts *Opts) (*Session, error) {
	if p == nil || pins.CS == nil || pins.HRDY == nil {
		return nil, fmt.Errorf("%w: port, cs and hrdy are required", ErrInvalidArg)
	}
	s := &Session{cs: pins.CS, hrdy: pins.HRDY, power: pins.Power, opts: DefaultOpts}
	if opts != nil {
		s.opts = *opts
		s.opts.fill()
	}
	if err := s.init(p); err != nil {
		_ = s.Deinit()
		return nil, err
	}
	return s, nil
}

func (o *Opts) fill() {
	if o.VCOM <= 0 {
		o.VCOM = DefaultOpts.VCOM
	}
	if o.HRDYTimeout <= 0 {
		o.HRDYTimeout = DefaultOpts.HRDYTimeout
	}
	if o.LUTPollInterval <= 0 {
		o.LUTPollInterval = DefaultOpts.LUTPollInterval
	}
	if o.MaxTransfer == 0 {
		o.MaxTransfer = DefaultOpts.MaxTransfer
	}
	if o.Freq <= 0 {
		o.Freq = DefaultOpts.Freq
	}
}

func (s *Session) init(p spi.Port) error {
	if s.power != nil {
		if err := s.power.Out(gpio.High); err != nil {
			return gpioErr("power on", err)
		}
	}
	if err := s.hrdy.In(gpio.PullUp, gpio.RisingEdge); err != nil {
		return gpioErr("hrdy", err)
	}
	if err := s.cs.Out(gpio.High); err != nil {
		return gpioErr("cs", err)
	}

	c, err := p.Connect(s.opts.Freq, spi.Mode0|spi.NoCS, 8)
	if err != nil {
		return spiErr("connect", err)
	}
	s.c = c

	size := s.opts.MaxTransfer
	if l, ok := c.(conn.Limits); ok && l.MaxTxSize() > 0 && l.MaxTxSize() < size {
		size = l.MaxTxSize()
	}
	size &^= 1
	if size < 2 {
		return fmt.Errorf("%w: transfer buffer of %d bytes", ErrNoMemory, size)
	}
	s.buf = make([]byte, size)

	if err := s.command(cmdSysRun); err != nil {
		return fmt.Errorf("epd: sys run: %w", err)
	}
	if err := s.writeReg(regI80CPCR, 0x0001); err != nil {
		return fmt.Errorf("epd: packed mode: %w", err)
	}
	if err := s.commandArgs(cmdVCOM, 0x0001, uint16(s.opts.VCOM)); err != nil {
		return fmt.Errorf("epd: vcom: %w", err)
	}
	if err := s.setTargetAddr(targetAddr); err != nil {
		return fmt.Errorf("epd: target address: %w", err)
	}
	if err := s.clear(); err != nil {
		return fmt.Errorf("epd: clear: %w", err)
	}
	if err := s.refresh(s.fullRect(), ModeInit); err != nil {
		return fmt.Errorf("epd: init refresh: %w", err)
	}
	return nil
}

// Deinit releases the bus and powers the panel down. It can be called more
// than once.
func (s *Session) Deinit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.cs.Out(gpio.High); err != nil {
		errs = append(errs, gpioErr("cs", err))
	}
	if err := s.hrdy.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		errs = append(errs, gpioErr("hrdy", err))
	}
	if s.power != nil {
		if err := s.power.Out(gpio.Low); err != nil {
			errs = append(errs, gpioErr("power off", err))
		}
	}
	if s.port != nil {
		if err := s.port.Close(); err != nil {
			errs = append(errs, spiErr("close", err))
		}
		s.port = nil
	}
	s.c = nil
	s.buf = nil
	return errors.Join(errs...)
}

// Size returns the logical panel size for the configured rotation.
func (s *Session) Size() (w, h int) {
	return s.opts.Rotation.Size()
}

// fullRect is the whole native area in logical coordinates.
func (s *Session) fullRect() Rect {
	return fromNative(s.opts.Rotation, Rect{W: PanelWidth, H: PanelHeight})
}

func (s *Session) inBounds(r Rect) bool {
	w, h := s.Size()
	return r.X >= 0 && r.Y >= 0 && r.W > 0 && r.H > 0 && r.X+r.W <= w && r.Y+r.H <= h
}

// Write loads packed 4bpp pixels (two per byte, high nibble first) into the
// controller image buffer at r. It does not refresh the panel.
func (s *Session) Write(r Rect, pixels []byte) error {
	if len(pixels) == 0 {
		return fmt.Errorf("%w: empty pixel buffer", ErrInvalidArg)
	}
	if !r.Aligned() {
		return fmt.Errorf("%w: %v", ErrNotAligned, r)
	}
	if !s.inBounds(r) {
		return fmt.Errorf("%w: %v", ErrOutOfBounds, r)
	}
	n := r.W * r.H / 2
	if len(pixels) < n {
		return fmt.Errorf("%w: %d bytes for %v, need %d", ErrInvalidArg, len(pixels), r, n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	// Re-arming the address during a refresh corrupts it.
	if err := s.waitDisplayReady(); err != nil {
		return err
	}
	if err := s.setTargetAddr(targetAddr); err != nil {
		return err
	}
	if err := s.loadArea(r); err != nil {
		return err
	}
	if err := s.writePixels(pixels[:n]); err != nil {
		return err
	}
	return s.command(cmdLoadEnd)
}

// Refresh displays r from the image buffer with the given waveform and waits
// for the LUT engine to finish.
func (s *Session) Refresh(r Rect, mode Mode) error {
	if mode >= ModeNone {
		return fmt.Errorf("%w: mode %v", ErrInvalidArg, mode)
	}
	if !r.Aligned() {
		return fmt.Errorf("%w: %v", ErrNotAligned, r)
	}
	if !s.inBounds(r) {
		return fmt.Errorf("%w: %v", ErrOutOfBounds, r)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.refresh(r, mode)
}

// RefreshFull refreshes the whole panel.
func (s *Session) RefreshFull(mode Mode) error {
	return s.Refresh(s.fullRect(), mode)
}

func (s *Session) refresh(r Rect, mode Mode) error {
	n := toNative(s.opts.Rotation, r)
	err := s.commandArgs(cmdDisplayBuf,
		uint16(n.X), uint16(n.Y), uint16(n.W), uint16(n.H),
		uint16(mode), uint16(targetAddr&0xFFFF), uint16(targetAddr>>16))
	if err != nil {
		return err
	}
	return s.waitDisplayReady()
}

// Clear fills the image buffer with the background colour. It does not
// refresh.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.clear()
}

func (s *Session) clear() error {
	if err := s.setTargetAddr(targetAddr); err != nil {
		return err
	}
	r := s.fullRect()
	if err := s.loadArea(r); err != nil {
		return err
	}
	fill := byte(0xFF)
	if s.opts.Inverted {
		fill = 0x00
	}
	if err := s.writeFill(fill, r.W*r.H/2); err != nil {
		return err
	}
	return s.command(cmdLoadEnd)
}

// Sleep puts the controller to sleep. Wakeup must be called before the next
// write or refresh.
func (s *Session) Sleep() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.command(cmdSleep)
}

// Wakeup resumes the controller and re-arms the target address.
func (s *Session) Wakeup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.command(cmdSysRun); err != nil {
		return err
	}
	return s.setTargetAddr(targetAddr)
}

// DeviceInfo queries panel size, image buffer address and firmware strings.
func (s *Session) DeviceInfo() (DevInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return DevInfo{}, ErrClosed
	}
	if err := s.command(cmdDevInfo); err != nil {
		return DevInfo{}, err
	}
	ws, err := s.readWords(20)
	if err != nil {
		return DevInfo{}, err
	}
	return DevInfo{
		PanelW:     int(ws[0]),
		PanelH:     int(ws[1]),
		ImgBufAddr: uint32(ws[3])<<16 | uint32(ws[2]),
		FWVersion:  wordsString(ws[4:12]),
		LUTVersion: wordsString(ws[12:20]),
	}, nil
}
