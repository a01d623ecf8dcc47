// Package metrics — метрики Prometheus цикла подстройки.
package metrics

import (
	"math"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shiwa/timecard-mini/gpsdo/internal/estimator"
	"github.com/shiwa/timecard-mini/gpsdo/internal/telemetry"
)

const namespace = "gpsdo"

var stateNames = [3]string{"phase", "frequency", "drift"}

// Collector обновляет метрики из записей цикла. Реализует telemetry.Emitter.
type Collector struct {
	reg *prometheus.Registry

	state       *prometheus.GaugeVec
	covariance  *prometheus.GaugeVec
	gain        *prometheus.GaugeVec
	innovation  prometheus.Gauge
	innovCov    prometheus.Gauge
	mahalanobis prometheus.Gauge
	voltageSet  prometheus.Gauge
	voltageMeas prometheus.Gauge
	temperature prometheus.Gauge
	refLost     prometheus.Gauge
	lastDelta   prometheus.Gauge

	steps      prometheus.Counter
	outliers   prometheus.Counter
	overruns   prometheus.Counter
	incoherent prometheus.Counter
	lostEvents prometheus.Counter

	mu   sync.Mutex
	prev telemetry.Status
}

// New регистрирует метрики в собственном реестре (плюс метрики процесса и Go).
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Collector{
		reg: reg,
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "state",
			Help: "Kalman state estimate: phase (counts), frequency (Hz), drift (Hz/s).",
		}, []string{"state"}),
		covariance: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "covariance",
			Help: "Diagonal of the state covariance.",
		}, []string{"state"}),
		gain: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "kalman_gain",
			Help: "Kalman gain of the last accepted correction.",
		}, []string{"state"}),
		innovation: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "innovation_counts",
			Help: "Measurement innovation y = z - Hx.",
		}),
		innovCov: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "innovation_covariance",
			Help: "Innovation covariance S.",
		}),
		mahalanobis: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "mahalanobis_d2",
			Help: "Squared Mahalanobis distance of the last measurement.",
		}),
		voltageSet: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "voltage_set_volts",
			Help: "Tuning voltage commanded to the DAC.",
		}),
		voltageMeas: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "voltage_measured_volts",
			Help: "Tuning voltage read back by the monitor.",
		}),
		temperature: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "temperature_celsius",
			Help: "Board temperature.",
		}),
		refLost: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "reference_lost",
			Help: "1 while no PPS step happened within the watchdog timeout.",
		}),
		lastDelta: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cycle_delta_counts",
			Help: "Counter ticks between the last two PPS edges.",
		}),
		steps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "steps_total",
			Help: "Estimator steps.",
		}),
		outliers: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "outliers_total",
			Help: "Measurements rejected by the gate.",
		}),
		overruns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "capture_overruns_total",
			Help: "Cycle deltas overwritten before the loop consumed them.",
		}),
		incoherent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "incoherent_reads_total",
			Help: "PPS edges skipped because the counter read never became coherent.",
		}),
		lostEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reference_lost_total",
			Help: "Reference loss events.",
		}),
	}
}

// Emit обновляет метрики. Счётчики растут на разницу с предыдущей записью.
func (c *Collector) Emit(st telemetry.Status, snap estimator.Snapshot) error {
	for i, name := range stateNames {
		c.state.WithLabelValues(name).Set(float64(snap.X[i]))
		c.covariance.WithLabelValues(name).Set(float64(snap.P[i][i]))
		c.gain.WithLabelValues(name).Set(float64(snap.K[i]))
	}
	c.innovation.Set(float64(snap.Y))
	c.innovCov.Set(float64(snap.S))
	c.mahalanobis.Set(float64(snap.D2))
	c.voltageSet.Set(float64(st.VoltageSet))
	setFinite(c.voltageMeas, st.VoltageMeasured)
	setFinite(c.temperature, st.TemperatureC)
	c.lastDelta.Set(float64(st.Delta))
	c.steps.Inc()

	c.mu.Lock()
	prev := c.prev
	c.prev = st
	c.mu.Unlock()
	c.outliers.Add(growth(prev.Outliers, st.Outliers))
	c.overruns.Add(growth(prev.Overruns, st.Overruns))
	c.incoherent.Add(growth(prev.Incoherent, st.Incoherent))
	return nil
}

// ReferenceLost отмечает потерю опоры.
func (c *Collector) ReferenceLost() {
	c.refLost.Set(1)
	c.lostEvents.Inc()
}

// ReferenceRestored снимает флаг потери.
func (c *Collector) ReferenceRestored() {
	c.refLost.Set(0)
}

// RegisterFunc добавляет счётчик, значение которого читается при сборе (например, отброшенные записи очереди).
func (c *Collector) RegisterFunc(name, help string, fn func() uint64) {
	promauto.With(c.reg).NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Name: name, Help: help,
	}, func() float64 { return float64(fn()) })
}

// Handler — обработчик /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Registry — реестр для тестов и встраивания.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func growth(prev, cur uint64) float64 {
	if cur < prev {
		return float64(cur)
	}
	return float64(cur - prev)
}

func setFinite(g prometheus.Gauge, v float32) {
	if math.IsNaN(float64(v)) {
		return
	}
	g.Set(float64(v))
}
