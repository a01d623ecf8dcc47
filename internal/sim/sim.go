// Package sim — модель OCXO с подстройкой напряжением, счётчиком f/16 и PPS с джиттером.
// Заменяет железо в команде simulate и в сквозных тестах цикла.
package sim

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shiwa/timecard-mini/gpsdo/internal/monitor"
)

// Params — параметры модели.
type Params struct {
	NominalHz   float64       // номинальная частота, Гц
	OffsetHz    float64       // начальное смещение частоты, Гц
	AgingHzPerS float64       // старение, Гц/с
	KuHzPerV    float64       // крутизна подстройки, Гц/В
	VMid        float64       // напряжение, при котором подстройка нулевая
	Divider     float64       // делитель частоты перед счётчиком
	Period      time.Duration // период PPS
	JitterS     float64       // σ джиттера фронта PPS, с
	TempC       float64       // температура платы
	Seed        uint64
}

// DefaultParams — OCXO 10 МГц, Ku = 0.75 Гц/В, счётчик 625 кГц.
func DefaultParams() Params {
	return Params{
		NominalHz:   10e6,
		OffsetHz:    0.3,
		AgingHzPerS: 1e-6,
		KuHzPerV:    0.75,
		VMid:        2.0,
		Divider:     16,
		Period:      time.Second,
		JitterS:     20e-9,
		TempC:       40,
		Seed:        1,
	}
}

const counterRange = 1 << 32

// Oscillator — модель генератора. Реализует counter.Registers, dac.Driver и monitor.Monitor.
type Oscillator struct {
	p Params

	mu      sync.Mutex
	rng     *rand.Rand
	voltage float64
	elapsed float64 // истинное время с начала, с
	ticks   float64 // накопленные отсчёты счётчика по модулю 2³²
	jitter  float64 // смещение текущего фронта PPS, с
	edges   uint64
}

// New создаёт генератор с напряжением VMid.
func New(p Params) *Oscillator {
	if p.Divider <= 0 {
		p.Divider = 1
	}
	if p.Period <= 0 {
		p.Period = time.Second
	}
	return &Oscillator{
		p:       p,
		rng:     rand.New(rand.NewPCG(p.Seed, p.Seed^0x9E3779B97F4A7C15)),
		voltage: p.VMid,
	}
}

// frequency — мгновенная частота без блокировки.
func (o *Oscillator) frequency() float64 {
	return o.p.NominalHz + o.p.OffsetHz + o.p.AgingHzPerS*o.elapsed + o.p.KuHzPerV*(o.voltage-o.p.VMid)
}

// Frequency — текущая частота генератора, Гц.
func (o *Oscillator) Frequency() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.frequency()
}

// FrequencyError — отклонение от номинала, Гц.
func (o *Oscillator) FrequencyError() float64 {
	return o.Frequency() - o.p.NominalHz
}

// advance продвигает модель на dt секунд.
func (o *Oscillator) advance(dt float64) {
	o.ticks = math.Mod(o.ticks+o.frequency()/o.p.Divider*dt, counterRange)
	o.elapsed += dt
}

func (o *Oscillator) count() uint32 {
	return uint32(int64(o.ticks))
}

// High — старший таймер (16 бит значащих).
func (o *Oscillator) High() uint32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.count() >> 16
}

// Low — младший таймер.
func (o *Oscillator) Low() uint16 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return uint16(o.count())
}

// SetVoltage — напряжение на входе подстройки.
func (o *Oscillator) SetVoltage(v float32) error {
	o.mu.Lock()
	o.voltage = float64(v)
	o.mu.Unlock()
	return nil
}

// Voltage — текущее напряжение подстройки.
func (o *Oscillator) Voltage() float32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return float32(o.voltage)
}

// Sample — показания монитора: напряжение подстройки и температура платы.
func (o *Oscillator) Sample(context.Context) (monitor.Reading, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return monitor.Reading{TemperatureC: float32(o.p.TempC), Voltage: float32(o.voltage)}, nil
}

// Edge продвигает модель до следующего фронта PPS (период плюс разность джиттеров)
// и вызывает onEdge.
func (o *Oscillator) Edge(onEdge func()) {
	o.mu.Lock()
	next := o.rng.NormFloat64() * o.p.JitterS
	o.advance(o.p.Period.Seconds() + next - o.jitter)
	o.jitter = next
	o.edges++
	o.mu.Unlock()
	onEdge()
}

// Edges — число сгенерированных фронтов.
func (o *Oscillator) Edges() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.edges
}

// PPS — источник фронтов для pps.Capture. Pace — реальный интервал между фронтами;
// ноль — без задержки (ускоренная симуляция).
type PPS struct {
	Osc  *Oscillator
	Pace time.Duration
}

// Run генерирует фронты до отмены ctx.
func (s *PPS) Run(ctx context.Context, onEdge func()) error {
	var tick <-chan time.Time
	if s.Pace > 0 {
		t := time.NewTicker(s.Pace)
		defer t.Stop()
		tick = t.C
	}
	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		s.Osc.Edge(onEdge)
	}
}
