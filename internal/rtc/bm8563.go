// Package rtc drives the BM8563 (PCF8563 compatible) real-time clock.
package rtc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// DefaultAddr is the fixed BM8563 I2C address.
const DefaultAddr uint16 = 0x51

const (
	regControl1 = 0x00
	regControl2 = 0x01
	regSeconds  = 0x02 // VL flag + seconds, followed by the other 6 time registers

	maskSeconds  = 0x7F
	maskMinutes  = 0x7F
	maskHours    = 0x3F
	maskDays     = 0x3F
	maskWeekdays = 0x07
	maskMonths   = 0x1F
	bitCentury   = 0x80
	bitVL        = 0x80
)

// ErrLowVoltage reports that the clock lost power at some point and the time
// it returned cannot be trusted.
var ErrLowVoltage = errors.New("rtc: clock integrity not guaranteed (low voltage)")

// Dev is a handle to a BM8563.
type Dev struct {
	mu  sync.Mutex
	d   *i2c.Dev
	loc *time.Location
}

// New returns a handle on bus b. Times are interpreted in loc; nil means
// time.Local.
func New(b i2c.Bus, addr uint16, loc *time.Location) *Dev {
	if addr == 0 {
		addr = DefaultAddr
	}
	if loc == nil {
		loc = time.Local
	}
	return &Dev{d: &i2c.Dev{Bus: b, Addr: addr}, loc: loc}
}

// Open initializes the host and opens the clock on the named bus. The
// returned function closes the bus.
func Open(busName string, addr uint16) (*Dev, func() error, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, err
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, nil, err
	}
	return New(bus, addr, nil), bus.Close, nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("BM8563{%s}", d.d)
}

// Init puts the clock in normal mode and disables timer and alarm
// interrupts.
func (d *Dev) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, reg := range []byte{regControl1, regControl2} {
		if err := d.d.Tx([]byte{reg, 0}, nil); err != nil {
			return fmt.Errorf("rtc: init: %w", err)
		}
	}
	return nil
}

// Now reads the current time. When the low voltage flag is set the time is
// returned together with ErrLowVoltage.
func (d *Dev) Now() (time.Time, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var b [7]byte
	if err := d.d.Tx([]byte{regSeconds}, b[:]); err != nil {
		return time.Time{}, fmt.Errorf("rtc: read: %w", err)
	}
	year := 1900 + fromBCD(b[6])
	if b[5]&bitCentury != 0 {
		year += 100
	}
	t := time.Date(year,
		time.Month(fromBCD(b[5]&maskMonths)),
		fromBCD(b[3]&maskDays),
		fromBCD(b[2]&maskHours),
		fromBCD(b[1]&maskMinutes),
		fromBCD(b[0]&maskSeconds),
		0, d.loc)
	if b[0]&bitVL != 0 {
		return t, ErrLowVoltage
	}
	return t, nil
}

// Set writes t, converted to the clock's location, and clears the low
// voltage flag.
func (d *Dev) Set(t time.Time) error {
	t = t.In(d.loc)
	if y := t.Year(); y < 1900 || y > 2099 {
		return fmt.Errorf("rtc: year %d out of range", y)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	month := toBCD(int(t.Month())) & maskMonths
	if t.Year() >= 2000 {
		month |= bitCentury
	}
	w := []byte{
		regSeconds,
		toBCD(t.Second()) & maskSeconds,
		toBCD(t.Minute()) & maskMinutes,
		toBCD(t.Hour()) & maskHours,
		toBCD(t.Day()) & maskDays,
		toBCD(int(t.Weekday())) & maskWeekdays,
		month,
		toBCD(t.Year() % 100),
	}
	if err := d.d.Tx(w, nil); err != nil {
		return fmt.Errorf("rtc: write: %w", err)
	}
	return nil
}

func toBCD(v int) byte {
	return byte(v/10)<<4 | byte(v%10)
}

func fromBCD(b byte) int {
	return int(b>>4)*10 + int(b&0x0F)
}
