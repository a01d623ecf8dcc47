package monitor

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/physic"
)

func TestNTC_Celsius(t *testing.T) {
	// Середина делителя: Rntc = R25 → 25 °C.
	assert.InDelta(t, 25.0, DefaultNTC.Celsius(1.65), 1e-6)
	// Сопротивление NTC падает с ростом температуры.
	assert.Greater(t, DefaultNTC.Celsius(1.0), DefaultNTC.Celsius(1.65))
	assert.Less(t, DefaultNTC.Celsius(2.0), DefaultNTC.Celsius(1.65))
	assert.True(t, math.IsNaN(DefaultNTC.Celsius(0)))
	assert.True(t, math.IsNaN(DefaultNTC.Celsius(3.3)))
}

func writeRaw(t *testing.T, dir, name, value string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(value), 0o644))
	return p
}

func TestIIOChannel_Read(t *testing.T) {
	dir := t.TempDir()
	ch := NewIIOChannel(writeRaw(t, dir, "in_voltage0_raw", "2048\n"), 3.3/4096)
	s, err := ch.Read()
	require.NoError(t, err)
	assert.Equal(t, int32(2048), s.Raw)
	assert.InDelta(t, 1.65, volts(s.V), 1e-6)
	assert.Equal(t, "in_voltage0_raw", ch.String())

	lo, hi := ch.Range()
	assert.Equal(t, int32(0), lo.Raw)
	assert.Equal(t, int32(4095), hi.Raw)

	bad := NewIIOChannel(writeRaw(t, dir, "in_voltage1_raw", "x"), 1)
	_, err = bad.Read()
	assert.Error(t, err)
}

type fakePin struct {
	analog.PinADC
	v   float64
	err error
}

func (f *fakePin) Read() (analog.Sample, error) {
	return analog.Sample{V: physic.ElectricPotential(f.v * float64(physic.Volt))}, f.err
}

func (f *fakePin) String() string { return "fake" }

func TestBoard_Sample(t *testing.T) {
	b := &Board{
		Temperature: &fakePin{v: 1.65},
		Voltage:     &fakePin{v: 2.5},
		NTC:         DefaultNTC,
	}
	r, err := b.Sample(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 25, r.TemperatureC, 1e-3)
	assert.InDelta(t, 2.5, r.Voltage, 1e-6)
}

func TestBoard_PartialFailure(t *testing.T) {
	b := &Board{
		Temperature: &fakePin{err: errors.New("bus")},
		Voltage:     &fakePin{v: 1.2},
		NTC:         DefaultNTC,
	}
	r, err := b.Sample(context.Background())
	assert.Error(t, err)
	assert.True(t, math.IsNaN(float64(r.TemperatureC)))
	assert.InDelta(t, 1.2, r.Voltage, 1e-6)
}

func TestNone(t *testing.T) {
	r, err := None{}.Sample(context.Background())
	require.NoError(t, err)
	assert.True(t, math.IsNaN(float64(r.TemperatureC)))
}
