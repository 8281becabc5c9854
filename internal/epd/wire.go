package epd

import (
	"encoding/binary"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Every exchange is: wait HRDY, CS low, 16-bit preamble, wait HRDY, payload,
// CS high. Words travel big-endian.

// waitReady blocks until HRDY is high. The pin is configured for rising edge
// detection so the wait is interrupt driven on real hardware.
func (s *Session) waitReady() error {
	if s.hrdy.Read() == gpio.High {
		return nil
	}
	deadline := time.Now().Add(s.opts.HRDYTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: hrdy stayed low for %v", ErrTimeout, s.opts.HRDYTimeout)
		}
		s.hrdy.WaitForEdge(remaining)
		if s.hrdy.Read() == gpio.High {
			return nil
		}
	}
}

func (s *Session) csLow() error {
	if err := s.cs.Out(gpio.Low); err != nil {
		return gpioErr("cs low", err)
	}
	return nil
}

func (s *Session) csHigh() error {
	if err := s.cs.Out(gpio.High); err != nil {
		return gpioErr("cs high", err)
	}
	return nil
}

// exchange runs one CS-bracketed transaction. For reads, rx receives the data
// clocked in after a dummy word.
func (s *Session) exchange(preamble uint16, payload, rx []byte) (err error) {
	if err := s.waitReady(); err != nil {
		return err
	}
	if err := s.csLow(); err != nil {
		return err
	}
	defer func() {
		if e := s.csHigh(); err == nil {
			err = e
		}
	}()

	var pre [2]byte
	binary.BigEndian.PutUint16(pre[:], preamble)
	if err := s.c.Tx(pre[:], nil); err != nil {
		return spiErr("preamble", err)
	}
	if err := s.waitReady(); err != nil {
		return err
	}
	if len(payload) > 0 {
		if err := s.c.Tx(payload, nil); err != nil {
			return spiErr("payload", err)
		}
	}
	if len(rx) > 0 {
		if err := s.waitReady(); err != nil {
			return err
		}
		// Full duplex: clock out zeros while reading.
		if err := s.c.Tx(make([]byte, len(rx)), rx); err != nil {
			return spiErr("read", err)
		}
	}
	return nil
}

func (s *Session) command(code uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], code)
	return s.exchange(preambleCommand, b[:], nil)
}

func (s *Session) writeWord(v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return s.exchange(preambleWrite, b[:], nil)
}

// commandArgs sends a command followed by one exchange per argument word.
func (s *Session) commandArgs(code uint16, args ...uint16) error {
	if err := s.command(code); err != nil {
		return err
	}
	for _, a := range args {
		if err := s.writeWord(a); err != nil {
			return err
		}
	}
	return nil
}

// readWords reads n words in a single read exchange.
func (s *Session) readWords(n int) ([]uint16, error) {
	dummy := []byte{0, 0}
	rx := make([]byte, 2*n)
	if err := s.exchange(preambleRead, dummy, rx); err != nil {
		return nil, err
	}
	out := make([]uint16, n)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(rx[2*i:])
	}
	return out, nil
}

func (s *Session) readWord() (uint16, error) {
	ws, err := s.readWords(1)
	if err != nil {
		return 0, err
	}
	return ws[0], nil
}

func (s *Session) readReg(addr uint16) (uint16, error) {
	if err := s.commandArgs(cmdRegRead, addr); err != nil {
		return 0, err
	}
	return s.readWord()
}

func (s *Session) writeReg(addr, v uint16) error {
	return s.commandArgs(cmdRegWrite, addr, v)
}

// setTargetAddr programs the image buffer address, high word first.
func (s *Session) setTargetAddr(addr uint32) error {
	if err := s.writeReg(regLISAR+2, uint16(addr>>16)); err != nil {
		return err
	}
	return s.writeReg(regLISAR, uint16(addr))
}

// loadArea starts a LD_IMG_AREA transfer for r (logical coordinates; the
// controller applies the rotation itself).
func (s *Session) loadArea(r Rect) error {
	flags := uint16(endianBig)<<8 | uint16(bpp4)<<4 | uint16(s.opts.Rotation)
	return s.commandArgs(cmdLoadArea, flags, uint16(r.X), uint16(r.Y), uint16(r.W), uint16(r.H))
}

// writePixels streams packed pixels through the transfer buffer.
func (s *Session) writePixels(px []byte) error {
	for off := 0; off < len(px); {
		n := copy(s.buf, px[off:])
		chunk := s.buf[:n]
		if s.opts.Inverted {
			for i := range chunk {
				chunk[i] = ^chunk[i]
			}
		}
		if err := s.exchange(preambleWrite, chunk, nil); err != nil {
			return err
		}
		off += n
	}
	return nil
}

// writeFill streams n bytes of v without touching caller memory.
func (s *Session) writeFill(v byte, n int) error {
	for i := range s.buf {
		s.buf[i] = v
	}
	for n > 0 {
		c := min(n, len(s.buf))
		if err := s.exchange(preambleWrite, s.buf[:c], nil); err != nil {
			return err
		}
		n -= c
	}
	return nil
}

// waitDisplayReady polls the LUT engine status until it reports idle. The
// controller has no completion interrupt for refreshes.
func (s *Session) waitDisplayReady() error {
	deadline := time.Now().Add(s.opts.HRDYTimeout)
	for {
		v, err := s.readReg(regLUTAFSR)
		if err != nil {
			return err
		}
		if v == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: lut busy (%#04x) after %v", ErrTimeout, v, s.opts.HRDYTimeout)
		}
		time.Sleep(s.opts.LUTPollInterval)
	}
}
