// Package telemetry — записи цикла подстройки и их доставка: кадры в последовательный порт,
// MQTT, очередь с отбрасыванием при переполнении.
package telemetry

import (
	"time"

	"github.com/shiwa/timecard-mini/gpsdo/internal/estimator"
)

// Status — сводка одного цикла подстройки.
type Status struct {
	Time            time.Time `json:"time"`
	Seq             uint64    `json:"seq"`
	RawCounter      uint32    `json:"raw_counter"`
	Delta           uint32    `json:"delta"`
	Phase           float32   `json:"phase"`
	FreqOffset      float32   `json:"freq_offset"`
	FreqDrift       float32   `json:"freq_drift"`
	VoltageSet      float32   `json:"voltage_set"`
	VoltageMeasured float32   `json:"voltage_measured"`
	TemperatureC    float32   `json:"temperature_c"`
	Rejected        bool      `json:"rejected"`
	ReferenceLost   bool      `json:"reference_lost"`
	Outliers        uint64    `json:"outliers"`
	Overruns        uint64    `json:"overruns"`
	Incoherent      uint64    `json:"incoherent"`
}

// KFDebug — JSON-представление снимка фильтра.
type KFDebug struct {
	Time       time.Time     `json:"time"`
	Iterations uint64        `json:"iterations"`
	X          [3]float32    `json:"x"`
	P          [3][3]float32 `json:"p"`
	Z          float32       `json:"z"`
	HX         float32       `json:"h_x"`
	Y          float32       `json:"y"`
	S          float32       `json:"s"`
	D2         float32       `json:"mahal_d2"`
	K          [3]float32    `json:"k"`
	Rejected   bool          `json:"rejected"`
	Outliers   uint64        `json:"outliers"`
}

// JSON возвращает копию, пригодную для encoding/json: NaN и бесконечности заменены нулём
// (монитор без датчиков отдаёт NaN).
func (s Status) JSON() Status {
	s.Phase = finite(s.Phase)
	s.FreqOffset = finite(s.FreqOffset)
	s.FreqDrift = finite(s.FreqDrift)
	s.VoltageSet = finite(s.VoltageSet)
	s.VoltageMeasured = finite(s.VoltageMeasured)
	s.TemperatureC = finite(s.TemperatureC)
	return s
}

// DebugView переводит снимок в KFDebug для JSON.
func DebugView(s estimator.Snapshot) KFDebug {
	d := KFDebug{
		Time:       s.Time,
		Iterations: s.Iterations,
		Z:          finite(s.Z),
		HX:         finite(s.HX),
		Y:          finite(s.Y),
		S:          finite(s.S),
		D2:         finite(s.D2),
		Rejected:   s.Rejected,
		Outliers:   s.Outliers,
	}
	for i := 0; i < 3; i++ {
		d.X[i] = finite(s.X[i])
		d.K[i] = finite(s.K[i])
		for j := 0; j < 3; j++ {
			d.P[i][j] = finite(s.P[i][j])
		}
	}
	return d
}
