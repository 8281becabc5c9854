package battery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	// MaxMv and MinMv bound the Li-ion discharge curve.
	MaxMv = 4200
	MinMv = 3500

	// DefaultSamples is how many voltage readings are averaged per Read.
	DefaultSamples = 8

	regVoltageHigh = 0x22
	regVoltageLow  = 0x23
)

// Status represents current battery status for the status bar.
type Status struct {
	// Percent is the battery level in 0–100%.
	Percent int
	// VoltageMv is the battery voltage in millivolts.
	VoltageMv int
}

// String formats the status the way the status bar shows it, e.g. "87% (4.00V)".
func (s Status) String() string {
	return fmt.Sprintf("%d%% (%01.2fV)", s.Percent, float64(s.VoltageMv)/1000)
}

// Level maps the percentage onto the five battery icon states, 0 (empty)
// to 4 (full).
func (s Status) Level() int {
	switch {
	case s.Percent < 20:
		return 0
	case s.Percent < 40:
		return 1
	case s.Percent < 60:
		return 2
	case s.Percent < 90:
		return 3
	}
	return 4
}

// Percent converts a cell voltage to a charge estimate with a 4th order fit
// of the Li-ion discharge curve.
func Percent(mv int) int {
	if mv >= MaxMv {
		return 100
	}
	if mv <= MinMv {
		return 0
	}
	v := float64(mv) / 1000
	p := 2836.9625*math.Pow(v, 4) - 43987.4889*math.Pow(v, 3) +
		255233.8134*math.Pow(v, 2) - 656689.7123*v + 632041.7303
	return min(max(int(math.Round(p)), 0), 100)
}

// Reader abstracts how we obtain battery information. This allows us to have
// a mock implementation for development and an actual I2C fuel gauge
// implementation on the device.
type Reader interface {
	Read(ctx context.Context) (Status, error)
}

// mockReader is used for demo/development. It returns a pseudo-random
// voltage inside the discharge curve.
type mockReader struct {
	rnd *rand.Rand
}

// NewMockReader constructs a mock Reader that generates random voltages.
func NewMockReader() Reader {
	return &mockReader{
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *mockReader) Read(_ context.Context) (Status, error) {
	mv := MinMv + m.rnd.Intn(MaxMv-MinMv+1)
	return Status{Percent: Percent(mv), VoltageMv: mv}, nil
}

// i2cReader talks to a battery controller over I2C. The voltage in
// millivolts is exposed as a big-endian word at 0x22 (high) and 0x23 (low).
type i2cReader struct {
	dev     *i2c.Dev
	samples int
}

// NewI2CReader constructs a Reader on an already opened bus. samples <= 0
// selects DefaultSamples.
func NewI2CReader(b i2c.Bus, addr uint16, samples int) Reader {
	if samples <= 0 {
		samples = DefaultSamples
	}
	return &i2cReader{
		dev:     &i2c.Dev{Bus: b, Addr: addr},
		samples: samples,
	}
}

func (r *i2cReader) readReg(reg byte) (byte, error) {
	buf := []byte{0}
	if err := r.dev.Tx([]byte{reg}, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (r *i2cReader) voltage() (int, error) {
	high, err := r.readReg(regVoltageHigh)
	if err != nil {
		return 0, err
	}
	low, err := r.readReg(regVoltageLow)
	if err != nil {
		return 0, err
	}
	return int(uint16(high)<<8 | uint16(low)), nil
}

// Read averages several voltage samples.
func (r *i2cReader) Read(ctx context.Context) (Status, error) {
	total := 0
	for i := 0; i < r.samples; i++ {
		if err := ctx.Err(); err != nil {
			return Status{}, err
		}
		mv, err := r.voltage()
		if err != nil {
			return Status{}, fmt.Errorf("battery: read voltage: %w", err)
		}
		total += mv
	}
	mv := total / r.samples
	return Status{Percent: Percent(mv), VoltageMv: mv}, nil
}

// Open opens the named I2C bus ("" for the default) and returns a Reader
// for the gauge at addr, with the bus closer.
func Open(busName string, addr uint16) (Reader, func() error, error) {
	// 플랫폼 체크: Linux가 아닌 경우에는 I2C를 시도하지 않는다.
	if runtime.GOOS != "linux" {
		return nil, nil, errors.New("battery: i2c reader unavailable on this platform")
	}
	if _, err := host.Init(); err != nil {
		return nil, nil, err
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, nil, err
	}
	return NewI2CReader(bus, addr, 0), bus.Close, nil
}

// DefaultReader returns the Reader that should be used by the main program.
//
// 우선순위:
//  1. mock이 요청되지 않았다면 I2C 게이지 사용을 시도
//  2. 열기나 첫 읽기가 실패하면 mock 리더로 fallback
//
// The returned closer is never nil.
func DefaultReader(busName string, addr uint16, mock bool) (Reader, func() error) {
	nop := func() error { return nil }
	if mock {
		return NewMockReader(), nop
	}
	r, closer, err := Open(busName, addr)
	if err != nil {
		return NewMockReader(), nop
	}
	if _, err := r.Read(context.Background()); err != nil {
		closer()
		return NewMockReader(), nop
	}
	return r, closer
}
