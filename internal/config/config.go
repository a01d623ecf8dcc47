package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid — ошибка валидации конфига; фатальна, цикл не запускается.
var ErrInvalid = errors.New("invalid config")

// Config — конфигурация gpsdo.
// Константы по умолчанию взяты из прошивки: OCXO 10 МГц, делитель 16 (625000 отсчётов/с), DAC 0.5..3.0 В.
type Config struct {
	Oscillator OscillatorConfig `yaml:"oscillator"`
	Counter    CounterConfig    `yaml:"counter"`
	PPS        PPSConfig        `yaml:"pps"`
	Estimator  EstimatorConfig  `yaml:"estimator"`
	Control    ControlConfig    `yaml:"control"`
	DAC        DACConfig        `yaml:"dac"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Watchdog   WatchdogConfig   `yaml:"watchdog"`
	Log        LogConfig        `yaml:"log"`

	// GNSS приёмник (UBX) — только для команды configure
	Device    DeviceConfig    `yaml:"device"`
	Timepulse TimepulseConfig `yaml:"timepulse"`
}

// OscillatorConfig — номинал OCXO и ожидаемое число отсчётов счётчика за период PPS.
type OscillatorConfig struct {
	NominalHz     float64 `yaml:"nominal_hz"`
	ExpectedCount uint32  `yaml:"expected_count"`
	Period        string  `yaml:"period"` // период PPS, "1s"
}

// CounterConfig — пара каскадных таймеров.
// backend: "mmio" (регистры через /dev/mem, Linux) или "sim".
type CounterConfig struct {
	Backend    string `yaml:"backend"`
	MaxRetries int    `yaml:"max_retries"`
	MemDevice  string `yaml:"mem_device"`
	BaseAddr   uint64 `yaml:"base_addr"`
	HighOffset uint32 `yaml:"high_offset"` // смещение регистра CNT старшего таймера
	LowOffset  uint32 `yaml:"low_offset"`  // смещение регистра CNT младшего таймера
}

// PPSConfig — источник фронтов PPS. backend: "ppsdev" (/dev/ppsN) или "sim".
type PPSConfig struct {
	Backend string `yaml:"backend"`
	Device  string `yaml:"device"`
	Timeout string `yaml:"timeout"`
}

// EstimatorConfig — параметры фильтра Калмана.
type EstimatorConfig struct {
	ProcessNoise   float64         `yaml:"process_noise"`   // q, спектральная плотность
	Quantization   float64         `yaml:"quantization"`    // шаг квантования счётчика, отсчёты; R = 2·шаг²/12
	PhaseSigma     float64         `yaml:"phase_sigma"`     // начальная неопределённость фазы, отсчёты
	FrequencySigma float64         `yaml:"frequency_sigma"` // Гц
	DriftSigma     float64         `yaml:"drift_sigma"`     // Гц/с
	GateThreshold  float64         `yaml:"gate_threshold"`  // порог d² (3σ → 9)
	Prefilter      PrefilterConfig `yaml:"prefilter"`
}

// PrefilterConfig — необязательное EMA-сглаживание дельты перед коррекцией.
// Дельты дальше Window отсчётов от expected_count в сглаживание не попадают.
type PrefilterConfig struct {
	Enabled bool    `yaml:"enabled"`
	Alpha   float64 `yaml:"alpha"`
	Window  float64 `yaml:"window"` // отсчёты
}

// ControlConfig — закон управления: V = Vmid + Kp·f + Ki·phase + Kd·drift.
type ControlConfig struct {
	VMin     float64        `yaml:"v_min"`
	VMid     float64        `yaml:"v_mid"`
	VMax     float64        `yaml:"v_max"`
	Kp       float64        `yaml:"kp"`
	Ki       float64        `yaml:"ki"`
	Kd       float64        `yaml:"kd"`
	Polarity PolarityConfig `yaml:"polarity"`
}

// PolarityConfig — знак каждого слагаемого: "direct" или "inverted".
type PolarityConfig struct {
	Phase     string `yaml:"phase"`
	Frequency string `yaml:"frequency"`
	Drift     string `yaml:"drift"`
}

// DACConfig — ЦАП подстройки. backend: "ad5693r", "null" или "sim".
type DACConfig struct {
	Backend     string  `yaml:"backend"`
	Bus         string  `yaml:"bus"`
	Address     uint16  `yaml:"address"`
	VRef        float64 `yaml:"vref"`
	Gain2       bool    `yaml:"gain2"`
	InternalRef bool    `yaml:"internal_ref"`
}

// MonitorConfig — температура и вспомогательное напряжение.
// temperature_backend: "iio", "host" или "none".
type MonitorConfig struct {
	TemperatureBackend string  `yaml:"temperature_backend"`
	TemperatureChannel string  `yaml:"temperature_channel"` // путь in_voltageN_raw
	VoltageChannel     string  `yaml:"voltage_channel"`
	VoltageScale       float64 `yaml:"voltage_scale"`   // В на отсчёт АЦП, с учётом делителя
	HostSensorKey      string  `yaml:"host_sensor_key"` // подстрока ключа gopsutil
}

// TelemetryConfig — выходы телеметрии.
type TelemetryConfig struct {
	QueueSize int          `yaml:"queue_size"`
	Serial    SerialConfig `yaml:"serial"`
	MQTT      MQTTConfig   `yaml:"mqtt"`
	Record    RecordConfig `yaml:"record"`
}

// SerialConfig — кадры телеметрии в последовательный порт (USB CDC).
type SerialConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port"`
	Baud    int    `yaml:"baud"`
}

// MQTTConfig — публикация статуса в MQTT брокер.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RecordConfig — запись статуса в CSV.
type RecordConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Zstd    bool   `yaml:"zstd"`
}

// MetricsConfig — HTTP: /metrics, /api/status, /api/ws.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// WatchdogConfig — детектор потери опорного сигнала.
type WatchdogConfig struct {
	Timeout string `yaml:"timeout"`
}

// LogConfig — уровень логирования.
type LogConfig struct {
	Level string `yaml:"level"`
	Quiet bool   `yaml:"quiet"`
}

// DeviceConfig — последовательный порт UBX/GNSS
type DeviceConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// TimepulseConfig — параметры PPS/time pulse (CFG-TP5)
type TimepulseConfig struct {
	PulseWidthMs    float64 `yaml:"pulse_width_ms"`
	TPIdx           uint8   `yaml:"tp_idx"`
	AntCableDelayNs int16   `yaml:"ant_cable_delay_ns"`
	AlignToTow      bool    `yaml:"align_to_tow"`
}

// Default возвращает конфиг по умолчанию
func Default() *Config {
	return &Config{
		Oscillator: OscillatorConfig{
			NominalHz:     10e6,
			ExpectedCount: 625000,
			Period:        "1s",
		},
		Counter: CounterConfig{
			Backend:    "sim",
			MaxRetries: 3,
			MemDevice:  "/dev/mem",
		},
		PPS: PPSConfig{
			Backend: "sim",
			Device:  "/dev/pps0",
			Timeout: "2s",
		},
		Estimator: EstimatorConfig{
			ProcessNoise:   1e-5,
			Quantization:   1,
			PhaseSigma:     0.2,
			FrequencySigma: 2.0,
			DriftSigma:     0.02,
			GateThreshold:  9.0,
			Prefilter:      PrefilterConfig{Alpha: 0.3, Window: 2},
		},
		Control: ControlConfig{
			VMin: 0.5,
			VMid: 2.0,
			VMax: 3.0,
			Kp:   0.5,
			Ki:   8,
			Kd:   0,
			// Ku > 0: рост напряжения повышает частоту, поэтому все слагаемые инвертированы.
			Polarity: PolarityConfig{
				Phase:     "inverted",
				Frequency: "inverted",
				Drift:     "inverted",
			},
		},
		DAC: DACConfig{
			Backend: "sim",
			Bus:     "/dev/i2c-1",
			Address: 0x4C,
			VRef:    4.096,
		},
		Monitor: MonitorConfig{
			TemperatureBackend: "none",
			VoltageScale:       3.3 / 4096,
		},
		Telemetry: TelemetryConfig{
			QueueSize: 16,
			Serial:    SerialConfig{Port: "/dev/ttyGS0", Baud: 115200},
			MQTT:      MQTTConfig{Topic: "gpsdo"},
			Record:    RecordConfig{Path: "gpsdo.csv"},
		},
		Metrics: MetricsConfig{
			Listen: ":9110",
		},
		Watchdog: WatchdogConfig{
			Timeout: "3s",
		},
		Log: LogConfig{
			Level: "info",
		},
		Device: DeviceConfig{
			Port: "/dev/ttyS0",
			Baud: 9600,
		},
		Timepulse: TimepulseConfig{
			PulseWidthMs: 100,
			AlignToTow:   true,
		},
	}
}

// Load читает конфиг из YAML
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&c)
	return &c, nil
}

func applyDefaults(c *Config) {
	d := Default()
	if c.Oscillator.NominalHz == 0 {
		c.Oscillator.NominalHz = d.Oscillator.NominalHz
	}
	if c.Oscillator.ExpectedCount == 0 {
		c.Oscillator.ExpectedCount = d.Oscillator.ExpectedCount
	}
	if c.Oscillator.Period == "" {
		c.Oscillator.Period = d.Oscillator.Period
	}
	if c.Counter.Backend == "" {
		c.Counter.Backend = d.Counter.Backend
	}
	if c.Counter.MaxRetries == 0 {
		c.Counter.MaxRetries = d.Counter.MaxRetries
	}
	if c.Counter.MemDevice == "" {
		c.Counter.MemDevice = d.Counter.MemDevice
	}
	if c.PPS.Backend == "" {
		c.PPS.Backend = d.PPS.Backend
	}
	if c.PPS.Device == "" {
		c.PPS.Device = d.PPS.Device
	}
	if c.PPS.Timeout == "" {
		c.PPS.Timeout = d.PPS.Timeout
	}
	e, de := &c.Estimator, d.Estimator
	if e.ProcessNoise == 0 {
		e.ProcessNoise = de.ProcessNoise
	}
	if e.Quantization == 0 {
		e.Quantization = de.Quantization
	}
	if e.PhaseSigma == 0 && e.FrequencySigma == 0 && e.DriftSigma == 0 {
		e.PhaseSigma, e.FrequencySigma, e.DriftSigma = de.PhaseSigma, de.FrequencySigma, de.DriftSigma
	}
	if e.GateThreshold == 0 {
		e.GateThreshold = de.GateThreshold
	}
	if e.Prefilter.Alpha == 0 {
		e.Prefilter.Alpha = de.Prefilter.Alpha
	}
	if e.Prefilter.Window == 0 {
		e.Prefilter.Window = de.Prefilter.Window
	}
	ctl, dc := &c.Control, d.Control
	if ctl.VMin == 0 && ctl.VMid == 0 && ctl.VMax == 0 {
		ctl.VMin, ctl.VMid, ctl.VMax = dc.VMin, dc.VMid, dc.VMax
	}
	if ctl.Kp == 0 && ctl.Ki == 0 && ctl.Kd == 0 {
		ctl.Kp, ctl.Ki, ctl.Kd = dc.Kp, dc.Ki, dc.Kd
	}
	if ctl.Polarity.Phase == "" {
		ctl.Polarity.Phase = dc.Polarity.Phase
	}
	if ctl.Polarity.Frequency == "" {
		ctl.Polarity.Frequency = dc.Polarity.Frequency
	}
	if ctl.Polarity.Drift == "" {
		ctl.Polarity.Drift = dc.Polarity.Drift
	}
	if c.DAC.Backend == "" {
		c.DAC.Backend = d.DAC.Backend
	}
	if c.DAC.Bus == "" {
		c.DAC.Bus = d.DAC.Bus
	}
	if c.DAC.Address == 0 {
		c.DAC.Address = d.DAC.Address
	}
	if c.DAC.VRef == 0 {
		c.DAC.VRef = d.DAC.VRef
	}
	if c.Monitor.TemperatureBackend == "" {
		c.Monitor.TemperatureBackend = d.Monitor.TemperatureBackend
	}
	if c.Monitor.VoltageScale == 0 {
		c.Monitor.VoltageScale = d.Monitor.VoltageScale
	}
	if c.Telemetry.QueueSize == 0 {
		c.Telemetry.QueueSize = d.Telemetry.QueueSize
	}
	if c.Telemetry.Serial.Port == "" {
		c.Telemetry.Serial.Port = d.Telemetry.Serial.Port
	}
	if c.Telemetry.Serial.Baud == 0 {
		c.Telemetry.Serial.Baud = d.Telemetry.Serial.Baud
	}
	if c.Telemetry.MQTT.Topic == "" {
		c.Telemetry.MQTT.Topic = d.Telemetry.MQTT.Topic
	}
	if c.Telemetry.Record.Path == "" {
		c.Telemetry.Record.Path = d.Telemetry.Record.Path
	}
	if c.Watchdog.Timeout == "" {
		c.Watchdog.Timeout = d.Watchdog.Timeout
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Device.Port == "" {
		c.Device.Port = d.Device.Port
	}
	if c.Device.Baud == 0 {
		c.Device.Baud = d.Device.Baud
	}
	if c.Timepulse.PulseWidthMs == 0 {
		c.Timepulse.PulseWidthMs = d.Timepulse.PulseWidthMs
	}
}

// Validate проверяет конфиг до запуска цикла. Все ошибки оборачивают ErrInvalid.
func (c *Config) Validate() error {
	if c.Oscillator.NominalHz <= 0 {
		return fmt.Errorf("%w: oscillator.nominal_hz must be positive", ErrInvalid)
	}
	// Не более одного переполнения 32-битного счётчика между соседними фронтами.
	if c.Oscillator.ExpectedCount == 0 || c.Oscillator.ExpectedCount >= 1<<31 {
		return fmt.Errorf("%w: oscillator.expected_count %d out of range", ErrInvalid, c.Oscillator.ExpectedCount)
	}
	if _, err := parseDuration("oscillator.period", c.Oscillator.Period); err != nil {
		return err
	}
	if c.Counter.MaxRetries < 1 {
		return fmt.Errorf("%w: counter.max_retries must be >= 1", ErrInvalid)
	}
	switch c.Counter.Backend {
	case "sim", "mmio":
	default:
		return fmt.Errorf("%w: counter.backend %q", ErrInvalid, c.Counter.Backend)
	}
	switch c.PPS.Backend {
	case "sim", "ppsdev":
	default:
		return fmt.Errorf("%w: pps.backend %q", ErrInvalid, c.PPS.Backend)
	}
	if _, err := parseDuration("pps.timeout", c.PPS.Timeout); err != nil {
		return err
	}
	e := c.Estimator
	if e.ProcessNoise < 0 || math.IsNaN(e.ProcessNoise) {
		return fmt.Errorf("%w: estimator.process_noise must be >= 0", ErrInvalid)
	}
	if e.Quantization <= 0 {
		return fmt.Errorf("%w: estimator.quantization must be positive", ErrInvalid)
	}
	if e.PhaseSigma <= 0 || e.FrequencySigma <= 0 || e.DriftSigma <= 0 {
		return fmt.Errorf("%w: estimator initial sigmas must be positive", ErrInvalid)
	}
	if e.GateThreshold <= 0 {
		return fmt.Errorf("%w: estimator.gate_threshold must be positive", ErrInvalid)
	}
	if e.Prefilter.Enabled && (e.Prefilter.Alpha <= 0 || e.Prefilter.Alpha > 1) {
		return fmt.Errorf("%w: estimator.prefilter.alpha must be in (0, 1]", ErrInvalid)
	}
	if e.Prefilter.Enabled && !(e.Prefilter.Window > 0) {
		return fmt.Errorf("%w: estimator.prefilter.window must be positive", ErrInvalid)
	}
	ctl := c.Control
	if !(ctl.VMin < ctl.VMax) || ctl.VMid < ctl.VMin || ctl.VMid > ctl.VMax {
		return fmt.Errorf("%w: control voltages v_min=%g v_mid=%g v_max=%g", ErrInvalid, ctl.VMin, ctl.VMid, ctl.VMax)
	}
	for name, p := range map[string]string{
		"phase":     ctl.Polarity.Phase,
		"frequency": ctl.Polarity.Frequency,
		"drift":     ctl.Polarity.Drift,
	} {
		if p != "direct" && p != "inverted" {
			return fmt.Errorf("%w: control.polarity.%s %q", ErrInvalid, name, p)
		}
	}
	switch c.DAC.Backend {
	case "ad5693r", "null", "sim":
	default:
		return fmt.Errorf("%w: dac.backend %q", ErrInvalid, c.DAC.Backend)
	}
	if c.DAC.VRef <= 0 {
		return fmt.Errorf("%w: dac.vref must be positive", ErrInvalid)
	}
	if c.DAC.Backend == "sim" && (c.Counter.Backend != "sim" || c.PPS.Backend != "sim") {
		return fmt.Errorf("%w: dac.backend sim requires sim counter and pps", ErrInvalid)
	}
	switch c.Monitor.TemperatureBackend {
	case "iio", "host", "none":
	default:
		return fmt.Errorf("%w: monitor.temperature_backend %q", ErrInvalid, c.Monitor.TemperatureBackend)
	}
	if c.Telemetry.QueueSize < 1 {
		return fmt.Errorf("%w: telemetry.queue_size must be >= 1", ErrInvalid)
	}
	if c.Telemetry.MQTT.Enabled && c.Telemetry.MQTT.Broker == "" {
		return fmt.Errorf("%w: telemetry.mqtt.broker required", ErrInvalid)
	}
	if _, err := parseDuration("watchdog.timeout", c.Watchdog.Timeout); err != nil {
		return err
	}
	return nil
}

// PeriodDuration возвращает период PPS (после Validate ошибки быть не может).
func (c *Config) PeriodDuration() time.Duration {
	d, _ := parseDuration("oscillator.period", c.Oscillator.Period)
	return d
}

// PPSTimeout — таймаут ожидания фронта в PPS_FETCH.
func (c *Config) PPSTimeout() time.Duration {
	d, _ := parseDuration("pps.timeout", c.PPS.Timeout)
	return d
}

// WatchdogTimeout — интервал без шага фильтра, после которого опора считается потерянной.
func (c *Config) WatchdogTimeout() time.Duration {
	d, _ := parseDuration("watchdog.timeout", c.Watchdog.Timeout)
	return d
}

func parseDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalid, field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalid, field)
	}
	return d, nil
}
