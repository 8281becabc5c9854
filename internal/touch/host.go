package touch

import (
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Open initializes the host drivers and opens the GT911 on the named bus
// ("" for the first one). The returned function closes the bus.
func Open(busName string, opts *Opts) (*Dev, func() error, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, err
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, nil, err
	}
	return New(bus, opts), bus.Close, nil
}
