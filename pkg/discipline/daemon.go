package discipline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shiwa/timecard-mini/gpsdo/internal/config"
	"github.com/shiwa/timecard-mini/gpsdo/internal/counter"
	"github.com/shiwa/timecard-mini/gpsdo/internal/dac"
	"github.com/shiwa/timecard-mini/gpsdo/internal/estimator"
	"github.com/shiwa/timecard-mini/gpsdo/internal/httpapi"
	"github.com/shiwa/timecard-mini/gpsdo/internal/logger"
	"github.com/shiwa/timecard-mini/gpsdo/internal/metrics"
	"github.com/shiwa/timecard-mini/gpsdo/internal/monitor"
	"github.com/shiwa/timecard-mini/gpsdo/internal/pps"
	"github.com/shiwa/timecard-mini/gpsdo/internal/recorder"
	"github.com/shiwa/timecard-mini/gpsdo/internal/servo"
	"github.com/shiwa/timecard-mini/gpsdo/internal/sim"
	"github.com/shiwa/timecard-mini/gpsdo/internal/telemetry"
	"github.com/shiwa/timecard-mini/gpsdo/internal/watchdog"
)

// Daemon — собранный процесс подстройки: источник фронтов, захват, цикл, сторож,
// очередь телеметрии и HTTP.
type Daemon struct {
	Loop     *Loop
	Capture  *pps.Capture
	Watchdog *watchdog.Watchdog
	Metrics  *metrics.Collector
	HTTP     *httpapi.Server
	Osc      *sim.Oscillator // только для backend sim

	source  pps.EdgeSource
	queue   *telemetry.Queue
	listen  string
	closers []io.Closer
}

// SimOptions — параметры модели для backend sim.
type SimOptions struct {
	Params sim.Params
	Pace   time.Duration // реальный интервал между фронтами; 0 — без задержки
}

// BuildOption — настройка сборки.
type BuildOption func(*build)

type build struct {
	sim *SimOptions
}

// WithSim задаёт модель генератора для backend sim. По умолчанию sim.DefaultParams
// в реальном времени.
func WithSim(o SimOptions) BuildOption { return func(b *build) { b.sim = &o } }

// PrefilterConfig строит предфильтр из секции estimator.prefilter; nil, если он выключен.
func PrefilterConfig(cfg *config.Config) *estimator.Prefilter {
	p := cfg.Estimator.Prefilter
	if !p.Enabled {
		return nil
	}
	return estimator.NewPrefilter(float32(cfg.Oscillator.ExpectedCount), float32(p.Window), float32(p.Alpha))
}

// EstimatorConfig переводит секцию estimator конфига в параметры фильтра.
func EstimatorConfig(cfg *config.Config) estimator.Config {
	e := cfg.Estimator
	return estimator.Config{
		ExpectedCount:    float32(cfg.Oscillator.ExpectedCount),
		NominalHz:        float32(cfg.Oscillator.NominalHz),
		Period:           float32(cfg.PeriodDuration().Seconds()),
		ProcessNoise:     float32(e.ProcessNoise),
		MeasurementNoise: estimator.QuantizationNoise(float32(e.Quantization)),
		InitialSigma: estimator.Vec3{
			float32(e.PhaseSigma),
			float32(e.FrequencySigma),
			float32(e.DriftSigma),
		},
		GateThreshold: float32(e.GateThreshold),
	}
}

// ServoConfig переводит секцию control конфига в параметры закона управления.
func ServoConfig(cfg *config.Config) (servo.Config, error) {
	c := cfg.Control
	var pol [3]servo.Polarity
	for i, s := range []string{c.Polarity.Frequency, c.Polarity.Phase, c.Polarity.Drift} {
		p, err := servo.ParsePolarity(s)
		if err != nil {
			return servo.Config{}, err
		}
		pol[i] = p
	}
	return servo.Config{
		VMin:              float32(c.VMin),
		VMid:              float32(c.VMid),
		VMax:              float32(c.VMax),
		Kp:                float32(c.Kp),
		Ki:                float32(c.Ki),
		Kd:                float32(c.Kd),
		FrequencyPolarity: pol[0],
		PhasePolarity:     pol[1],
		DriftPolarity:     pol[2],
	}, nil
}

// Build проверяет конфиг и открывает устройства. При ошибке уже открытое закрывается.
func Build(cfg *config.Config, opts ...BuildOption) (d *Daemon, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var b build
	for _, o := range opts {
		o(&b)
	}
	d = &Daemon{listen: cfg.Metrics.Listen}
	defer func() {
		if err != nil {
			d.Close()
			d = nil
		}
	}()

	if cfg.Counter.Backend == "sim" {
		so := SimOptions{Params: sim.DefaultParams(), Pace: cfg.PeriodDuration()}
		if b.sim != nil {
			so = *b.sim
		}
		so.Params.NominalHz = cfg.Oscillator.NominalHz
		so.Params.Period = cfg.PeriodDuration()
		so.Params.VMid = cfg.Control.VMid
		d.Osc = sim.New(so.Params)
		d.source = &sim.PPS{Osc: d.Osc, Pace: so.Pace}
	}

	var regs counter.Registers = d.Osc
	if cfg.Counter.Backend == "mmio" {
		m, err := counter.OpenMMIO(cfg.Counter.MemDevice, cfg.Counter.BaseAddr, cfg.Counter.HighOffset, cfg.Counter.LowOffset)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, m)
		regs = m
	}
	if cfg.PPS.Backend == "ppsdev" {
		d.source = pps.NewDevice(cfg.PPS.Device, cfg.PPSTimeout())
	} else if d.source == nil {
		return nil, fmt.Errorf("%w: pps.backend sim requires counter.backend sim", config.ErrInvalid)
	}

	d.Capture, err = pps.NewCapture(counter.NewPair(regs, cfg.Counter.MaxRetries), cfg.Oscillator.ExpectedCount)
	if err != nil {
		return nil, err
	}
	est, err := estimator.New(EstimatorConfig(cfg))
	if err != nil {
		return nil, err
	}
	sc, err := ServoConfig(cfg)
	if err != nil {
		return nil, err
	}
	law, err := servo.New(sc)
	if err != nil {
		return nil, err
	}

	driver, err := openDAC(cfg, d)
	if err != nil {
		return nil, err
	}
	mon := openMonitor(cfg, d)

	d.Metrics = metrics.New()
	d.HTTP = httpapi.New(d.Metrics.Handler(), func() bool { return d.Watchdog != nil && !d.Watchdog.Lost() })
	sinks := telemetry.Multi{d.Metrics, d.HTTP}
	tc := cfg.Telemetry
	if tc.Serial.Enabled {
		se, err := telemetry.OpenSerialEmitter(tc.Serial.Port, tc.Serial.Baud)
		if err != nil {
			return nil, fmt.Errorf("telemetry serial %s: %w", tc.Serial.Port, err)
		}
		d.closers = append(d.closers, se)
		sinks = append(sinks, se)
	}
	if tc.MQTT.Enabled {
		me, client, err := telemetry.DialMQTT(telemetry.MQTTOptions{
			Broker:   tc.MQTT.Broker,
			Topic:    tc.MQTT.Topic,
			Username: tc.MQTT.Username,
			Password: tc.MQTT.Password,
		})
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, closerFunc(func() error { client.Disconnect(250); return nil }))
		sinks = append(sinks, me)
	}
	if tc.Record.Enabled {
		rec, err := recorder.Create(tc.Record.Path, tc.Record.Zstd)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, rec)
		sinks = append(sinks, rec)
	}
	d.queue = telemetry.NewQueue(sinks, tc.QueueSize)
	d.Metrics.RegisterFunc("telemetry_dropped_total", "Telemetry records dropped on a full queue.", d.queue.Dropped)
	d.Metrics.RegisterFunc("telemetry_failed_total", "Telemetry records a sink failed to deliver.", d.queue.Failed)

	d.Watchdog = watchdog.New(cfg.WatchdogTimeout(),
		watchdog.OnLost(func(since time.Duration) {
			logger.Warn("reference lost: no PPS step for %v", since.Round(time.Millisecond))
			d.Metrics.ReferenceLost()
			d.Loop.Resync()
		}),
		watchdog.OnRestored(func(after time.Duration) {
			logger.Info("reference restored after %v", after.Round(time.Millisecond))
			d.Metrics.ReferenceRestored()
		}),
	)

	loopOpts := []Option{
		WithMonitor(mon),
		WithEmitter(d.queue),
		WithReference(d.Watchdog.Kick, d.Watchdog.Lost),
	}
	if pre := PrefilterConfig(cfg); pre != nil {
		loopOpts = append(loopOpts, WithPrefilter(pre))
	}
	d.Loop = New(d.Capture, est, law, driver, loopOpts...)
	d.Metrics.RegisterFunc("dac_errors_total", "Failed DAC writes.", func() uint64 { return d.Loop.Counters().DACErrors })
	d.Metrics.RegisterFunc("monitor_errors_total", "Failed monitor samples.", func() uint64 { return d.Loop.Counters().MonErrors })
	return d, nil
}

func openDAC(cfg *config.Config, d *Daemon) (dac.Driver, error) {
	switch cfg.DAC.Backend {
	case "sim":
		return d.Osc, nil
	case "ad5693r":
		dev, err := dac.Open(cfg.DAC.Bus, cfg.DAC.Address, dac.Options{
			VRef:        float32(cfg.DAC.VRef),
			Gain2:       cfg.DAC.Gain2,
			InternalRef: cfg.DAC.InternalRef,
		})
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, dev)
		return dev, nil
	default:
		return &dac.Null{}, nil
	}
}

func openMonitor(cfg *config.Config, d *Daemon) monitor.Monitor {
	m := cfg.Monitor
	switch m.TemperatureBackend {
	case "iio":
		b := &monitor.Board{NTC: monitor.DefaultNTC}
		if m.TemperatureChannel != "" {
			b.Temperature = monitor.NewIIOChannel(m.TemperatureChannel, monitor.DefaultNTC.VIn/4096)
		}
		if m.VoltageChannel != "" {
			b.Voltage = monitor.NewIIOChannel(m.VoltageChannel, m.VoltageScale)
		}
		return b
	case "host":
		return &monitor.HostSensor{Key: m.HostSensorKey}
	}
	if d.Osc != nil {
		return d.Osc
	}
	return monitor.None{}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Run запускает все горутины и ждёт отмены ctx или ошибки любой из них.
// Завершение по ctx не считается ошибкой.
func (d *Daemon) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.source.Run(gctx, d.Capture.OnEdge) })
	g.Go(func() error { d.Watchdog.Run(gctx); return nil })
	g.Go(func() error { d.queue.Run(gctx); return nil })
	if d.listen != "" {
		g.Go(func() error { return d.HTTP.ListenAndServe(gctx, d.listen) })
	}
	g.Go(func() error { return d.Loop.Run(gctx) })
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Close освобождает устройства в обратном порядке открытия.
func (d *Daemon) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// RunDaemon собирает процесс из конфига и работает до отмены ctx.
// quiet = true приглушает логгер; false оставляет режим, заданный ранее.
func RunDaemon(ctx context.Context, cfg *config.Config, quiet bool, opts ...BuildOption) error {
	if quiet {
		logger.Quiet = true
	}
	d, err := Build(cfg, opts...)
	if err != nil {
		return err
	}
	defer d.Close()
	logger.Info("gpsdo: counter=%s pps=%s dac=%s expected=%d period=%s",
		cfg.Counter.Backend, cfg.PPS.Backend, cfg.DAC.Backend, cfg.Oscillator.ExpectedCount, cfg.Oscillator.Period)
	return d.Run(ctx)
}
