package epd

import (
	"errors"
	"fmt"
)

// Errors returned by the driver. Use errors.Is to test for them; the
// underlying bus or pin error is wrapped alongside.
var (
	ErrTimeout     = errors.New("epd: timeout")
	ErrNotAligned  = errors.New("epd: rectangle not aligned")
	ErrInvalidArg  = errors.New("epd: invalid argument")
	ErrSPI         = errors.New("epd: spi error")
	ErrGPIO        = errors.New("epd: gpio error")
	ErrNoMemory    = errors.New("epd: no memory")
	ErrOutOfBounds = errors.New("epd: out of bounds")
	ErrNotFound    = errors.New("epd: not found")
	ErrClosed      = errors.New("epd: session closed")
)

func spiErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSPI, op, err)
}

func gpioErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrGPIO, op, err)
}
