package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/physic"
)

// IIOChannel — канал АЦП ядра (/sys/bus/iio/devices/iio:deviceN/in_voltageM_raw).
// Scale — вольт на отсчёт с учётом внешнего делителя.
type IIOChannel struct {
	Path  string
	Scale float64
	Bits  uint
}

var _ analog.PinADC = (*IIOChannel)(nil)

// NewIIOChannel создаёт 12-битный канал.
func NewIIOChannel(path string, scale float64) *IIOChannel {
	return &IIOChannel{Path: path, Scale: scale, Bits: 12}
}

// Read читает сырой отсчёт и пересчитывает его в напряжение.
func (c *IIOChannel) Read() (analog.Sample, error) {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return analog.Sample{}, err
	}
	raw, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return analog.Sample{}, fmt.Errorf("parse %s: %w", c.Path, err)
	}
	return analog.Sample{
		V:   physic.ElectricPotential(float64(raw) * c.Scale * float64(physic.Volt)),
		Raw: int32(raw),
	}, nil
}

// Range — пределы канала.
func (c *IIOChannel) Range() (analog.Sample, analog.Sample) {
	top := int32(1)<<c.Bits - 1
	return analog.Sample{Raw: 0}, analog.Sample{
		V:   physic.ElectricPotential(float64(top) * c.Scale * float64(physic.Volt)),
		Raw: top,
	}
}

func (c *IIOChannel) String() string   { return c.Name() }
func (c *IIOChannel) Name() string     { return filepath.Base(c.Path) }
func (c *IIOChannel) Number() int      { return -1 }
func (c *IIOChannel) Function() string { return "ADC" }
func (c *IIOChannel) Halt() error      { return nil }
