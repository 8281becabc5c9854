package epd

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
)

func TestNewInitSequence(t *testing.T) {
	r := newRig()
	s, err := New(r.port, r.pins(), testOpts())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Deinit()
	if r.bus.protoErr != nil {
		t.Fatal(r.bus.protoErr)
	}

	if r.power.Read() != gpio.High {
		t.Error("panel power not enabled")
	}
	if r.port.mode != spi.Mode0|spi.NoCS {
		t.Errorf("spi mode = %v, want Mode0|NoCS", r.port.mode)
	}

	// Everything up to the clear data, without the LUT polls.
	var got []call
	for _, c := range r.bus.calls {
		if c.Cmd == cmdRegRead {
			continue
		}
		c.Data = nil
		got = append(got, c)
	}
	w, h := PanelWidth, PanelHeight
	want := []call{
		{Cmd: cmdSysRun},
		{Cmd: cmdRegWrite, Args: []uint16{regI80CPCR, 0x0001}},
		{Cmd: cmdVCOM, Args: []uint16{0x0001, 2300}},
		{Cmd: cmdRegWrite, Args: []uint16{regLISAR + 2, 0x0012}},
		{Cmd: cmdRegWrite, Args: []uint16{regLISAR, 0x36E0}},
		// clear
		{Cmd: cmdRegWrite, Args: []uint16{regLISAR + 2, 0x0012}},
		{Cmd: cmdRegWrite, Args: []uint16{regLISAR, 0x36E0}},
		{Cmd: cmdLoadArea, Args: []uint16{0x0120, 0, 0, uint16(w), uint16(h)}},
		{Cmd: cmdLoadEnd},
		{Cmd: cmdDisplayBuf, Args: []uint16{0, 0, uint16(w), uint16(h), uint16(ModeInit), 0x36E0, 0x0012}},
	}
	if diff := cmp.Diff(got, want, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("init calls difference (-got +want):\n%s", diff)
	}

	if len(r.bus.image) != w*h/2 {
		t.Fatalf("clear wrote %d bytes, want %d", len(r.bus.image), w*h/2)
	}
	for i, b := range r.bus.image {
		if b != 0xFF {
			t.Fatalf("clear byte %d = %#x, want 0xff", i, b)
		}
	}
}

func TestWriteRefreshScenario(t *testing.T) {
	r := newRig()
	s := r.open(t, testOpts())

	buf := bytes.Repeat([]byte{0xFF}, 8)
	if err := s.Write(Rect{X: 0, Y: 0, W: 4, H: 4}, buf); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := s.Refresh(Rect{X: 0, Y: 0, W: 4, H: 4}, ModeGC16); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if r.bus.protoErr != nil {
		t.Fatal(r.bus.protoErr)
	}

	got := r.bus.callsOf(cmdLoadArea, cmdLoadEnd, cmdDisplayBuf)
	want := []call{
		{Cmd: cmdLoadArea, Args: []uint16{0x0120, 0, 0, 4, 4}, Data: [][]byte{buf}},
		{Cmd: cmdLoadEnd},
		{Cmd: cmdDisplayBuf, Args: []uint16{0, 0, 4, 4, uint16(ModeGC16), 0x36E0, 0x0012}},
	}
	if diff := cmp.Diff(got, want, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("calls difference (-got +want):\n%s", diff)
	}

	// The LUT status is checked before re-arming the target address.
	if c := r.bus.calls[0]; c.Cmd != cmdRegRead || c.Args[0] != regLUTAFSR {
		t.Errorf("first call = %+v, want LUTAFSR read", c)
	}
}

func TestWriteFraming(t *testing.T) {
	r := newRig()
	s := r.open(t, testOpts())
	if err := s.Write(Rect{W: 4, H: 1}, []byte{0x12, 0x34}); err != nil {
		t.Fatal(err)
	}
	want := []exch{
		{Pre: preambleCommand, W: be(cmdRegRead)},
		{Pre: preambleWrite, W: be(regLUTAFSR)},
		{Pre: preambleRead, W: []byte{0, 0}, R: 2},
		{Pre: preambleCommand, W: be(cmdRegWrite)},
		{Pre: preambleWrite, W: be(regLISAR + 2)},
		{Pre: preambleWrite, W: be(0x0012)},
		{Pre: preambleCommand, W: be(cmdRegWrite)},
		{Pre: preambleWrite, W: be(regLISAR)},
		{Pre: preambleWrite, W: be(0x36E0)},
		{Pre: preambleCommand, W: be(cmdLoadArea)},
		{Pre: preambleWrite, W: be(0x0120)},
		{Pre: preambleWrite, W: be(0)},
		{Pre: preambleWrite, W: be(0)},
		{Pre: preambleWrite, W: be(4)},
		{Pre: preambleWrite, W: be(1)},
		{Pre: preambleWrite, W: []byte{0x12, 0x34}},
		{Pre: preambleCommand, W: be(cmdLoadEnd)},
	}
	if diff := cmp.Diff(r.bus.exchs, want); diff != "" {
		t.Errorf("exchanges difference (-got +want):\n%s", diff)
	}
	if r.cs.Read() != gpio.High {
		t.Error("CS left low")
	}
}

func TestWriteChunksAndInverts(t *testing.T) {
	r := newRig()
	r.bus.maxTx = 6
	opts := testOpts()
	opts.Inverted = true
	s := r.open(t, opts)

	px := []byte{0x0F, 0xF0, 0x5A, 0xA5, 0x00, 0xFF, 0x12, 0x34}
	orig := append([]byte(nil), px...)
	if err := s.Write(Rect{X: 4, Y: 2, W: 4, H: 4}, px); err != nil {
		t.Fatal(err)
	}

	area := r.bus.callsOf(cmdLoadArea)
	if len(area) != 1 {
		t.Fatalf("got %d load area calls, want 1", len(area))
	}
	wantChunks := [][]byte{
		{0xF0, 0x0F, 0xA5, 0x5A, 0xFF, 0x00},
		{0xED, 0xCB},
	}
	if diff := cmp.Diff(area[0].Data, wantChunks); diff != "" {
		t.Errorf("data bursts difference (-got +want):\n%s", diff)
	}
	if !bytes.Equal(px, orig) {
		t.Errorf("caller buffer mutated: %x", px)
	}
}

func TestInvertedClearFillsBlack(t *testing.T) {
	r := newRig()
	opts := testOpts()
	opts.Inverted = true
	s := r.open(t, opts)
	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	if len(r.bus.image) == 0 {
		t.Fatal("no clear data")
	}
	for i, b := range r.bus.image {
		if b != 0x00 {
			t.Fatalf("byte %d = %#x, want 0", i, b)
		}
	}
}

func TestAlignment(t *testing.T) {
	r := newRig()
	s := r.open(t, testOpts())
	px := make([]byte, 64*64)

	for x := 0; x < 16; x++ {
		for w := 1; w <= 16; w++ {
			rect := Rect{X: x, Y: 0, W: w, H: 4}
			aligned := x%4 == 0 && w%4 == 0
			before := r.bus.txCount

			errW := s.Write(rect, px)
			errR := s.Refresh(rect, ModeDU)
			if aligned {
				if errW != nil || errR != nil {
					t.Fatalf("%v: Write() = %v, Refresh() = %v", rect, errW, errR)
				}
				continue
			}
			if !errors.Is(errW, ErrNotAligned) || !errors.Is(errR, ErrNotAligned) {
				t.Fatalf("%v: Write() = %v, Refresh() = %v, want ErrNotAligned", rect, errW, errR)
			}
			if r.bus.txCount != before {
				t.Fatalf("%v: bus touched on misaligned rect", rect)
			}
		}
	}
}

func TestArgumentErrors(t *testing.T) {
	r := newRig()
	s := r.open(t, testOpts())

	for _, tc := range []struct {
		name string
		err  error
		want error
	}{
		{"empty buffer", s.Write(Rect{W: 4, H: 4}, nil), ErrInvalidArg},
		{"short buffer", s.Write(Rect{W: 4, H: 4}, []byte{1, 2}), ErrInvalidArg},
		{"mode none", s.Refresh(Rect{W: 4, H: 4}, ModeNone), ErrInvalidArg},
		{"outside panel", s.Write(Rect{X: 956, W: 8, H: 2}, make([]byte, 8)), ErrOutOfBounds},
		{"negative y", s.Refresh(Rect{Y: -1, W: 4, H: 4}, ModeA2), ErrOutOfBounds},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if !errors.Is(tc.err, tc.want) {
				t.Errorf("got %v, want %v", tc.err, tc.want)
			}
		})
	}
	if r.bus.txCount != 0 {
		t.Errorf("bus touched %d times on invalid arguments", r.bus.txCount)
	}
}

func TestRefreshRotation(t *testing.T) {
	for _, tc := range []struct {
		rot  Rotation
		in   Rect
		want []uint16
	}{
		{Rotate0, Rect{X: 8, Y: 4, W: 12, H: 16}, []uint16{8, 4, 12, 16}},
		{Rotate90, Rect{X: 4, Y: 8, W: 12, H: 16}, []uint16{8, 524, 16, 12}},
		{Rotate180, Rect{X: 8, Y: 4, W: 12, H: 16}, []uint16{940, 520, 12, 16}},
		{Rotate270, Rect{X: 4, Y: 8, W: 12, H: 16}, []uint16{936, 4, 16, 12}},
		{Rotate90, Rect{W: 540, H: 960}, []uint16{0, 0, 960, 540}},
	} {
		t.Run(tc.rot.String(), func(t *testing.T) {
			r := newRig()
			opts := testOpts()
			opts.Rotation = tc.rot
			s := r.open(t, opts)
			if err := s.Refresh(tc.in, ModeA2); err != nil {
				t.Fatal(err)
			}
			got := r.bus.callsOf(cmdDisplayBuf)
			if len(got) != 1 {
				t.Fatalf("got %d display calls", len(got))
			}
			want := append(tc.want, uint16(ModeA2), 0x36E0, 0x0012)
			if diff := cmp.Diff(got[0].Args, want); diff != "" {
				t.Errorf("args difference (-got +want):\n%s", diff)
			}
		})
	}
}

func TestRotationRoundTrip(t *testing.T) {
	for _, rot := range []Rotation{Rotate0, Rotate90, Rotate180, Rotate270} {
		lw, lh := rot.Size()
		for x := 0; x < lw; x += 52 {
			for y := 0; y < lh; y += 76 {
				for _, sz := range [][2]int{{4, 1}, {12, 30}, {100, 200}} {
					r := Rect{X: x, Y: y, W: sz[0], H: sz[1]}
					if r.X+r.W > lw || r.Y+r.H > lh {
						continue
					}
					n := toNative(rot, r)
					if n.X < 0 || n.Y < 0 || n.X+n.W > PanelWidth || n.Y+n.H > PanelHeight {
						t.Fatalf("%v %v: native %v outside panel", rot, r, n)
					}
					if back := fromNative(rot, n); back != r {
						t.Fatalf("%v: %v -> %v -> %v", rot, r, n, back)
					}
				}
			}
		}
	}
}

func TestLUTPolling(t *testing.T) {
	r := newRig()
	s := r.open(t, testOpts())

	r.bus.lutBusy = 3
	if err := s.Refresh(Rect{W: 4, H: 4}, ModeDU4); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if n := len(r.bus.callsOf(cmdRegRead)); n != 4 {
		t.Errorf("LUTAFSR polled %d times, want 4", n)
	}

	r.bus.lutBusy = 1 << 30
	err := s.Refresh(Rect{W: 4, H: 4}, ModeDU4)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Refresh() with stuck LUT = %v, want ErrTimeout", err)
	}
}

func TestHRDY(t *testing.T) {
	r := newRig()
	s := r.open(t, testOpts())

	// Controller busy, then asserts ready.
	r.hrdy.L = gpio.Low
	go func() {
		time.Sleep(5 * time.Millisecond)
		r.hrdy.EdgesChan <- gpio.High
	}()
	if err := s.Sleep(); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}

	// Never ready.
	r.hrdy.L = gpio.Low
	if err := s.Wakeup(); !errors.Is(err, ErrTimeout) {
		t.Errorf("Wakeup() = %v, want ErrTimeout", err)
	}
	if r.cs.Read() != gpio.High {
		t.Error("CS left low after timeout")
	}
}

func TestSleepWakeup(t *testing.T) {
	r := newRig()
	s := r.open(t, testOpts())
	if err := s.Sleep(); err != nil {
		t.Fatal(err)
	}
	if err := s.Wakeup(); err != nil {
		t.Fatal(err)
	}
	want := []call{
		{Cmd: cmdSleep},
		{Cmd: cmdSysRun},
		{Cmd: cmdRegWrite, Args: []uint16{regLISAR + 2, 0x0012}},
		{Cmd: cmdRegWrite, Args: []uint16{regLISAR, 0x36E0}},
	}
	if diff := cmp.Diff(r.bus.calls, want, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("calls difference (-got +want):\n%s", diff)
	}
}

func TestDeviceInfo(t *testing.T) {
	r := newRig()
	s := r.open(t, testOpts())

	words := []uint16{960, 540, 0x36E0, 0x0012}
	words = append(words, strWords("SWv_0.1.1", 8)...)
	words = append(words, strWords("M641", 8)...)
	r.bus.devInfo = words

	got, err := s.DeviceInfo()
	if err != nil {
		t.Fatal(err)
	}
	want := DevInfo{PanelW: 960, PanelH: 540, ImgBufAddr: 0x001236E0, FWVersion: "SWv_0.1.1", LUTVersion: "M641"}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("DeviceInfo() difference (-got +want):\n%s", diff)
	}
}

func strWords(s string, n int) []uint16 {
	b := make([]byte, 2*n)
	copy(b, s)
	out := make([]uint16, n)
	for i := range out {
		out[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
	}
	return out
}

func TestInitRollback(t *testing.T) {
	t.Run("connect", func(t *testing.T) {
		r := newRig()
		r.port.connectErr = errors.New("no such device")
		_, err := New(r.port, r.pins(), testOpts())
		if !errors.Is(err, ErrSPI) {
			t.Fatalf("New() = %v, want ErrSPI", err)
		}
		if r.power.Read() != gpio.Low || r.cs.Read() != gpio.High {
			t.Error("pins not released")
		}
	})
	t.Run("transfer", func(t *testing.T) {
		r := newRig()
		r.bus.failAt = 7
		_, err := New(r.port, r.pins(), testOpts())
		if !errors.Is(err, ErrSPI) {
			t.Fatalf("New() = %v, want ErrSPI", err)
		}
		if r.power.Read() != gpio.Low {
			t.Error("power left on")
		}
	})
	t.Run("buffer", func(t *testing.T) {
		r := newRig()
		r.bus.maxTx = 1
		_, err := New(r.port, r.pins(), testOpts())
		if !errors.Is(err, ErrNoMemory) {
			t.Fatalf("New() = %v, want ErrNoMemory", err)
		}
	})
	t.Run("hrdy edges", func(t *testing.T) {
		r := newRig()
		r.hrdy.EdgesChan = nil
		_, err := New(r.port, r.pins(), testOpts())
		if !errors.Is(err, ErrGPIO) {
			t.Fatalf("New() = %v, want ErrGPIO", err)
		}
	})
}

func TestDeinitIdempotent(t *testing.T) {
	r := newRig()
	s := r.open(t, testOpts())
	if err := s.Deinit(); err != nil {
		t.Fatal(err)
	}
	if err := s.Deinit(); err != nil {
		t.Fatalf("second Deinit() = %v", err)
	}
	if err := s.Write(Rect{W: 4, H: 4}, make([]byte, 8)); !errors.Is(err, ErrClosed) {
		t.Errorf("Write() after Deinit = %v, want ErrClosed", err)
	}
}
