package dac

import (
	"fmt"
	"io"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Device — драйвер AD5693R вместе с владельцем шины.
type Device struct {
	*AD5693R
	bus io.Closer
}

// Close освобождает шину I2C.
func (d *Device) Close() error { return d.bus.Close() }

// Open инициализирует драйверы periph и открывает ЦАП на шине busName ("/dev/i2c-1", "1" или "").
func Open(busName string, addr uint16, opts Options) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("i2c open %q: %w", busName, err)
	}
	d, err := NewAD5693R(bus, addr, opts)
	if err != nil {
		bus.Close()
		return nil, err
	}
	return &Device{AD5693R: d, bus: bus}, nil
}
