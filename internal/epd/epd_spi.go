package epd

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// HostConfig names the host resources used by Open.
type HostConfig struct {
	// SPIPort is the periph.io SPI port name, "" for the first one
	// (typically /dev/spidev0.0 on Raspberry Pi).
	SPIPort string
	// Pin names as known to gpioreg, e.g. "GPIO8".
	CSPin    string
	HRDYPin  string
	PowerPin string
}

// Open initializes periph.io, opens the SPI port, resolves the pins by name
// and returns an initialized Session. Deinit closes the port.
func Open(hc HostConfig, opts *Opts) (*Session, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("epd: periph host init failed: %w", err)
	}

	port, err := spireg.Open(hc.SPIPort)
	if err != nil {
		return nil, spiErr("open "+hc.SPIPort, err)
	}

	pins, err := lookupPins(hc)
	if err != nil {
		_ = port.Close()
		return nil, err
	}

	s, err := New(port, pins, opts)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	s.port = port
	return s, nil
}

func lookupPins(hc HostConfig) (Pins, error) {
	byName := func(name string) (gpio.PinIO, error) {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("%w: gpio %q", ErrNotFound, name)
		}
		return p, nil
	}

	var pins Pins
	cs, err := byName(hc.CSPin)
	if err != nil {
		return pins, err
	}
	hrdy, err := byName(hc.HRDYPin)
	if err != nil {
		return pins, err
	}
	pins.CS, pins.HRDY = cs, hrdy
	// 전원 핀은 HAT에 따라 없을 수 있다.
	if hc.PowerPin != "" {
		power, err := byName(hc.PowerPin)
		if err != nil {
			return pins, err
		}
		pins.Power = power
	}
	return pins, nil
}
