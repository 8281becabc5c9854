package epd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// call is one decoded controller command with its argument words and any
// data bursts that followed.
type call struct {
	Cmd  uint16
	Args []uint16
	Data [][]byte
}

// exch is one raw CS-bracketed exchange.
type exch struct {
	Pre uint16
	W   []byte
	R   int
}

// argCount is the number of argument words each command takes.
var argCount = map[uint16]int{
	cmdRegRead:    1,
	cmdRegWrite:   2,
	cmdLoadArea:   5,
	cmdDisplayBuf: 7,
	cmdVCOM:       2,
}

// fakeBus decodes the IT8951 preamble protocol on top of spi.Conn and plays
// the controller side: registers, LUT status and device info.
type fakeBus struct {
	cs *gpiotest.Pin

	maxTx   int
	failAt  int // fail the n-th Tx, 1-based
	lutBusy int // LUTAFSR reads that still report busy
	devInfo []uint16
	regs    map[uint16]uint16

	txCount  int
	calls    []call
	exchs    []exch
	image    []byte
	protoErr error

	// decoder state
	pre     uint16
	stage   int // 0 preamble, 1 payload, 2 read data
	lastReg uint16
	readSrc string
}

func newFakeBus(cs *gpiotest.Pin) *fakeBus {
	return &fakeBus{cs: cs, regs: map[uint16]uint16{}}
}

func (f *fakeBus) String() string      { return "fakebus" }
func (f *fakeBus) Duplex() conn.Duplex { return conn.Full }
func (f *fakeBus) MaxTxSize() int      { return f.maxTx }

func (f *fakeBus) TxPackets(p []spi.Packet) error {
	for _, pk := range p {
		if err := f.Tx(pk.W, pk.R); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeBus) fail(format string, a ...any) {
	if f.protoErr == nil {
		f.protoErr = fmt.Errorf(format, a...)
	}
}

func (f *fakeBus) Tx(w, r []byte) error {
	f.txCount++
	if f.failAt == f.txCount {
		return errors.New("bus fault")
	}
	if f.cs.Read() != gpio.Low {
		f.fail("tx #%d with CS high", f.txCount)
	}
	switch f.stage {
	case 0:
		if len(w) != 2 || r != nil {
			f.fail("tx #%d: bad preamble %x", f.txCount, w)
			return nil
		}
		f.pre = binary.BigEndian.Uint16(w)
		f.stage = 1
	case 1:
		f.payload(w)
		if f.pre == preambleRead {
			f.stage = 2
		} else {
			f.stage = 0
		}
	case 2:
		if len(r) != len(w) {
			f.fail("tx #%d: read with mismatched buffers", f.txCount)
		}
		f.exchs = append(f.exchs, exch{Pre: preambleRead, W: []byte{0, 0}, R: len(r)})
		f.answer(r)
		f.stage = 0
	}
	return nil
}

func (f *fakeBus) payload(w []byte) {
	cp := append([]byte(nil), w...)
	switch f.pre {
	case preambleCommand:
		f.exchs = append(f.exchs, exch{Pre: f.pre, W: cp})
		f.calls = append(f.calls, call{Cmd: binary.BigEndian.Uint16(w)})
		f.readSrc = ""
		if f.calls[len(f.calls)-1].Cmd == cmdDevInfo {
			f.readSrc = "devinfo"
		}
	case preambleWrite:
		f.exchs = append(f.exchs, exch{Pre: f.pre, W: cp})
		if len(f.calls) == 0 {
			f.fail("data before any command")
			return
		}
		c := &f.calls[len(f.calls)-1]
		if len(c.Args) < argCount[c.Cmd] && len(w) == 2 {
			c.Args = append(c.Args, binary.BigEndian.Uint16(w))
			f.argsDone(c)
			return
		}
		c.Data = append(c.Data, cp)
		if c.Cmd == cmdLoadArea {
			f.image = append(f.image, cp...)
		}
	case preambleRead:
		if len(w) != 2 {
			f.fail("read without dummy word")
		}
	default:
		f.fail("unknown preamble %#04x", f.pre)
	}
}

func (f *fakeBus) argsDone(c *call) {
	if len(c.Args) != argCount[c.Cmd] {
		return
	}
	switch c.Cmd {
	case cmdRegRead:
		f.lastReg = c.Args[0]
		f.readSrc = "reg"
	case cmdRegWrite:
		f.regs[c.Args[0]] = c.Args[1]
	}
}

func (f *fakeBus) answer(r []byte) {
	var words []uint16
	switch f.readSrc {
	case "reg":
		v := f.regs[f.lastReg]
		if f.lastReg == regLUTAFSR && f.lutBusy > 0 {
			f.lutBusy--
			v = 0x0001
		}
		words = []uint16{v}
	case "devinfo":
		words = f.devInfo
	}
	for i := 0; i+1 < len(r); i += 2 {
		var v uint16
		if i/2 < len(words) {
			v = words[i/2]
		}
		binary.BigEndian.PutUint16(r[i:], v)
	}
}

func (f *fakeBus) reset() {
	f.calls = nil
	f.exchs = nil
	f.image = nil
	f.txCount = 0
}

// callsOf filters recorded calls by command.
func (f *fakeBus) callsOf(cmds ...uint16) []call {
	var out []call
	for _, c := range f.calls {
		for _, want := range cmds {
			if c.Cmd == want {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

type fakePort struct {
	bus        *fakeBus
	connectErr error
	mode       spi.Mode
	freq       physic.Frequency
}

func (p *fakePort) String() string { return "fakeport" }

func (p *fakePort) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	if p.connectErr != nil {
		return nil, p.connectErr
	}
	p.mode, p.freq = mode, f
	return p.bus, nil
}

type rig struct {
	bus   *fakeBus
	port  *fakePort
	cs    *gpiotest.Pin
	hrdy  *gpiotest.Pin
	power *gpiotest.Pin
}

func newRig() *rig {
	cs := &gpiotest.Pin{N: "CS", L: gpio.High}
	bus := newFakeBus(cs)
	return &rig{
		bus:   bus,
		port:  &fakePort{bus: bus},
		cs:    cs,
		hrdy:  &gpiotest.Pin{N: "HRDY", L: gpio.High, EdgesChan: make(chan gpio.Level, 1)},
		power: &gpiotest.Pin{N: "PWR"},
	}
}

func (r *rig) pins() Pins {
	return Pins{CS: r.cs, HRDY: r.hrdy, Power: r.power}
}

func testOpts() *Opts {
	return &Opts{
		HRDYTimeout:     50 * time.Millisecond,
		LUTPollInterval: time.Millisecond,
		MaxTransfer:     4096,
	}
}

// open initializes a session and clears the recorded traffic.
func (r *rig) open(t *testing.T, opts *Opts) *Session {
	t.Helper()
	s, err := New(r.port, r.pins(), opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if r.bus.protoErr != nil {
		t.Fatalf("protocol violation during init: %v", r.bus.protoErr)
	}
	r.bus.reset()
	t.Cleanup(func() { _ = s.Deinit() })
	return s
}

func be(v uint16) []byte {
	return []byte{byte(v >> 8), byte(v)}
}
