// Package monitor — температура платы и вспомогательное напряжение.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/physic"
)

// ErrNoSensor — источник не настроен или датчик не найден.
var ErrNoSensor = errors.New("monitor: no sensor")

// Reading — одно измерение. Поля без источника равны NaN.
type Reading struct {
	TemperatureC float32
	Voltage      float32
}

// Monitor отдаёт текущие показания.
type Monitor interface {
	Sample(ctx context.Context) (Reading, error)
}

// NTC — термистор в нижнем плече делителя: Vout = Vin·Rntc/(R + Rntc).
type NTC struct {
	Beta    float64 // β, К
	R25     float64 // сопротивление при 25 °C, Ом
	RSeries float64 // верхнее плечо делителя, Ом
	VIn     float64 // питание делителя, В
}

// DefaultNTC — 10 кОм, β 3435, делитель 10 кОм от 3.3 В.
var DefaultNTC = NTC{Beta: 3435, R25: 10e3, RSeries: 10e3, VIn: 3.3}

// Celsius переводит напряжение на термисторе в градусы.
// Вне (0, VIn) возвращает NaN.
func (n NTC) Celsius(v float64) float64 {
	if !(v > 0 && v < n.VIn) {
		return math.NaN()
	}
	r := v * n.RSeries / (n.VIn - v)
	return 1/(math.Log(r/n.R25)/n.Beta+1/(273.15+25)) - 273.15
}

// Board — монитор на каналах АЦП: термистор и напряжение подстройки.
type Board struct {
	Temperature analog.PinADC // может быть nil
	Voltage     analog.PinADC // может быть nil
	NTC         NTC
}

// Sample читает оба канала. Ошибка одного канала не теряет другой.
func (b *Board) Sample(ctx context.Context) (Reading, error) {
	r := Reading{TemperatureC: float32(math.NaN()), Voltage: float32(math.NaN())}
	var errs []error
	if b.Temperature != nil {
		s, err := b.Temperature.Read()
		if err != nil {
			errs = append(errs, fmt.Errorf("temperature %s: %w", b.Temperature, err))
		} else {
			r.TemperatureC = float32(b.NTC.Celsius(volts(s.V)))
		}
	}
	if b.Voltage != nil {
		s, err := b.Voltage.Read()
		if err != nil {
			errs = append(errs, fmt.Errorf("voltage %s: %w", b.Voltage, err))
		} else {
			r.Voltage = float32(volts(s.V))
		}
	}
	return r, errors.Join(errs...)
}

func volts(v physic.ElectricPotential) float64 {
	return float64(v) / float64(physic.Volt)
}

// HostSensor — температура из датчиков хоста (hwmon/thermal через gopsutil).
// Используется, когда термистор платы недоступен.
type HostSensor struct {
	Key string // подстрока SensorKey; пусто — первый датчик
}

// Sample возвращает температуру первого подходящего датчика.
func (h *HostSensor) Sample(ctx context.Context) (Reading, error) {
	r := Reading{TemperatureC: float32(math.NaN()), Voltage: float32(math.NaN())}
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil && len(temps) == 0 {
		return r, fmt.Errorf("host sensors: %w", err)
	}
	for _, t := range temps {
		if h.Key == "" || strings.Contains(t.SensorKey, h.Key) {
			r.TemperatureC = float32(t.Temperature)
			return r, nil
		}
	}
	return r, fmt.Errorf("%w: %q", ErrNoSensor, h.Key)
}

// None — монитор без датчиков.
type None struct{}

// Sample возвращает NaN в обоих полях.
func (None) Sample(context.Context) (Reading, error) {
	return Reading{TemperatureC: float32(math.NaN()), Voltage: float32(math.NaN())}, nil
}
