// Package dac — ЦАП напряжения подстройки OCXO.
package dac

import (
	"fmt"
	"math"
	"sync"

	"periph.io/x/conn/v3/i2c"

	"github.com/shiwa/timecard-mini/gpsdo/internal/logger"
)

// Driver — приёмник напряжения подстройки.
type Driver interface {
	SetVoltage(v float32) error
}

// AD5693R: 16-битный ЦАП с I2C, команды в старшей тетраде первого байта.
const (
	DefaultAddr = 0x4C

	cmdWriteUpdate = 0x30 // запись в регистр ЦАП с обновлением выхода
	cmdControl     = 0x40 // запись в регистр управления

	ctrlRefDisable = 1 << 4 // DB12: 1 — внутренний источник опоры выключен
	ctrlGain2      = 1 << 3 // DB11: диапазон 0..2·Vref
)

// Options — параметры AD5693R.
type Options struct {
	VRef        float32 // опорное напряжение, В
	Gain2       bool
	InternalRef bool
}

// AD5693R — драйвер ЦАП на шине I2C.
type AD5693R struct {
	dev  *i2c.Dev
	opts Options

	mu       sync.Mutex
	lastCode uint16
}

// NewAD5693R настраивает регистр управления (опора, усиление) и возвращает драйвер.
func NewAD5693R(bus i2c.Bus, addr uint16, opts Options) (*AD5693R, error) {
	if !(opts.VRef > 0) {
		return nil, fmt.Errorf("ad5693r: vref %v must be positive", opts.VRef)
	}
	d := &AD5693R{dev: &i2c.Dev{Addr: addr, Bus: bus}, opts: opts}
	var msb byte
	if !opts.InternalRef {
		msb |= ctrlRefDisable
	}
	if opts.Gain2 {
		msb |= ctrlGain2
	}
	if err := d.dev.Tx([]byte{cmdControl, msb, 0x00}, nil); err != nil {
		return nil, fmt.Errorf("ad5693r control: %w", err)
	}
	return d, nil
}

// FullScale — напряжение при коде 0xFFFF.
func (d *AD5693R) FullScale() float32 {
	if d.opts.Gain2 {
		return 2 * d.opts.VRef
	}
	return d.opts.VRef
}

// Code переводит напряжение в код ЦАП с насыщением в [0, 65535].
func Code(v, fullScale float32) uint16 {
	c := math.Round(float64(v / fullScale * 65535))
	switch {
	case math.IsNaN(c) || c < 0:
		return 0
	case c > 65535:
		return 65535
	}
	return uint16(c)
}

// SetVoltage записывает код и обновляет выход (big-endian).
func (d *AD5693R) SetVoltage(v float32) error {
	code := Code(v, d.FullScale())
	if err := d.dev.Tx([]byte{cmdWriteUpdate, byte(code >> 8), byte(code)}, nil); err != nil {
		return fmt.Errorf("ad5693r write %#04x: %w", code, err)
	}
	d.mu.Lock()
	d.lastCode = code
	d.mu.Unlock()
	return nil
}

// LastCode — последний успешно записанный код.
func (d *AD5693R) LastCode() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastCode
}

// Null — драйвер без железа: только запоминает и логирует напряжение.
type Null struct {
	mu   sync.Mutex
	last float32
}

// SetVoltage запоминает значение.
func (n *Null) SetVoltage(v float32) error {
	n.mu.Lock()
	n.last = v
	n.mu.Unlock()
	logger.Debug("dac null: %.6f V", v)
	return nil
}

// Voltage — последнее установленное значение.
func (n *Null) Voltage() float32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}
