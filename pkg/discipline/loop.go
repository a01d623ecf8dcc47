// Package discipline — цикл подстройки генератора по PPS: ожидание дельты, шаг фильтра,
// закон управления, напряжение в ЦАП, запись телеметрии.
package discipline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shiwa/timecard-mini/gpsdo/internal/dac"
	"github.com/shiwa/timecard-mini/gpsdo/internal/estimator"
	"github.com/shiwa/timecard-mini/gpsdo/internal/logger"
	"github.com/shiwa/timecard-mini/gpsdo/internal/monitor"
	"github.com/shiwa/timecard-mini/gpsdo/internal/pps"
	"github.com/shiwa/timecard-mini/gpsdo/internal/servo"
	"github.com/shiwa/timecard-mini/gpsdo/internal/telemetry"
)

// Capture — источник дельт между фронтами (pps.Capture).
type Capture interface {
	Wait(ctx context.Context) (pps.Edge, error)
	Reset()
	Stats() pps.Stats
}

// Counters — ошибки внешних устройств по циклам. Цикл они не прерывают.
type Counters struct {
	Cycles     uint64
	DACErrors  uint64
	MonErrors  uint64
	EmitErrors uint64
}

// Loop — потребитель дельт. Run выполняется в одной горутине; Resync и Counters
// безопасны из любой.
type Loop struct {
	capture   Capture
	est       *estimator.Estimator
	law       *servo.Law
	dac       dac.Driver
	mon       monitor.Monitor
	out       telemetry.Emitter
	prefilter *estimator.Prefilter
	kick      func()
	lost      func() bool
	now       func() time.Time

	resync     atomic.Bool
	cycles     atomic.Uint64
	dacErrors  atomic.Uint64
	monErrors  atomic.Uint64
	emitErrors atomic.Uint64
}

// Option — необязательный участник цикла.
type Option func(*Loop)

// WithPrefilter включает окно допуска и EMA-сглаживание дельты перед шагом фильтра.
func WithPrefilter(f *estimator.Prefilter) Option { return func(l *Loop) { l.prefilter = f } }

// WithMonitor задаёт датчики температуры и напряжения.
func WithMonitor(m monitor.Monitor) Option { return func(l *Loop) { l.mon = m } }

// WithEmitter задаёт получателя телеметрии.
func WithEmitter(e telemetry.Emitter) Option { return func(l *Loop) { l.out = e } }

// WithReference связывает цикл со сторожем опоры: kick после каждого шага,
// lost — для флага в статусе.
func WithReference(kick func(), lost func() bool) Option {
	return func(l *Loop) {
		l.kick = kick
		l.lost = lost
	}
}

// WithClock подменяет источник времени статуса.
func WithClock(now func() time.Time) Option { return func(l *Loop) { l.now = now } }

// New собирает цикл. Без WithMonitor показания равны NaN, без WithEmitter телеметрия не пишется.
func New(c Capture, est *estimator.Estimator, law *servo.Law, d dac.Driver, opts ...Option) *Loop {
	l := &Loop{
		capture: c,
		est:     est,
		law:     law,
		dac:     d,
		mon:     monitor.None{},
		out:     telemetry.EmitterFunc(func(telemetry.Status, estimator.Snapshot) error { return nil }),
		kick:    func() {},
		lost:    func() bool { return false },
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Run выставляет V_mid и обрабатывает дельты до отмены ctx.
// Возвращает ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	if err := l.dac.SetVoltage(l.law.Mid()); err != nil {
		l.dacErrors.Add(1)
		logger.Warn("dac: initial set %.3f V: %v", l.law.Mid(), err)
	}
	for {
		e, err := l.capture.Wait(ctx)
		if err != nil {
			return err
		}
		l.Cycle(ctx, e)
	}
}

// Resync вызывается при потере опоры: следующий фронт только запоминает счётчик,
// история предфильтра сбрасывается в начале следующего цикла. Оценка фильтра и
// напряжение сохраняются (удержание).
func (l *Loop) Resync() {
	l.capture.Reset()
	l.resync.Store(true)
}

// Cycle — один шаг: фильтр, закон управления, ЦАП, монитор, телеметрия.
func (l *Loop) Cycle(ctx context.Context, e pps.Edge) telemetry.Status {
	if l.resync.Swap(false) && l.prefilter != nil {
		l.prefilter.Reset()
	}
	measured, smoothed := float32(e.Delta), false
	if l.prefilter != nil {
		measured, smoothed = l.prefilter.Apply(measured)
	}
	rejected := l.est.Step(measured)
	if rejected && smoothed {
		l.prefilter.Revert()
	}
	l.kick()

	phase, offset, drift := l.est.Phase(), l.est.FrequencyOffset(), l.est.Drift()
	v := l.law.Compute(phase, offset, drift)
	if err := l.dac.SetVoltage(v); err != nil {
		l.dacErrors.Add(1)
		logger.L().Warn("dac write failed", zap.Float32("volts", v), zap.Error(err))
	}

	reading, err := l.mon.Sample(ctx)
	if err != nil {
		if !errors.Is(err, monitor.ErrNoSensor) {
			l.monErrors.Add(1)
		}
		logger.L().Debug("monitor sample", zap.Error(err))
	}

	stats := l.capture.Stats()
	st := telemetry.Status{
		Time:            l.now(),
		Seq:             e.Seq,
		RawCounter:      e.Raw,
		Delta:           e.Delta,
		Phase:           phase,
		FreqOffset:      offset,
		FreqDrift:       drift,
		VoltageSet:      v,
		VoltageMeasured: reading.Voltage,
		TemperatureC:    reading.TemperatureC,
		Rejected:        rejected,
		ReferenceLost:   l.lost(),
		Outliers:        l.est.Outliers(),
		Overruns:        stats.Overruns,
		Incoherent:      stats.Incoherent,
	}
	snap := l.est.Snapshot()
	if err := l.out.Emit(st, snap); err != nil {
		l.emitErrors.Add(1)
		logger.L().Warn("telemetry emit failed", zap.Error(err))
	}
	l.cycles.Add(1)

	if ce := logger.L().Check(zap.DebugLevel, "cycle"); ce != nil {
		ce.Write(
			zap.Uint64("seq", e.Seq),
			zap.Uint32("delta", e.Delta),
			zap.Float32("phase", phase),
			zap.Float32("freq", offset),
			zap.Float32("drift", drift),
			zap.Float32("d2", snap.D2),
			zap.Bool("rejected", rejected),
			zap.Float32("volts", v),
		)
	}
	return st
}

// Counters возвращает снимок счётчиков.
func (l *Loop) Counters() Counters {
	return Counters{
		Cycles:     l.cycles.Load(),
		DACErrors:  l.dacErrors.Load(),
		MonErrors:  l.monErrors.Load(),
		EmitErrors: l.emitErrors.Load(),
	}
}
