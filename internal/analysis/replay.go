package analysis

import (
	"github.com/shiwa/timecard-mini/gpsdo/internal/estimator"
)

// Estimate — результат одного шага повторного прогона.
type Estimate struct {
	Delta    uint32
	X        estimator.Vec3
	P11      float32
	Rejected bool
}

// Replay прогоняет фильтр по последовательным значениям счётчика на фронтах.
// Первое значение только задаёт начало отсчёта.
func Replay(cfg estimator.Config, raw []uint32, prefilter *estimator.Prefilter) ([]Estimate, error) {
	e, err := estimator.New(cfg)
	if err != nil {
		return nil, err
	}
	if len(raw) < 2 {
		return nil, ErrTooShort
	}
	out := make([]Estimate, 0, len(raw)-1)
	for i := 1; i < len(raw); i++ {
		d := raw[i] - raw[i-1]
		m, smoothed := float32(d), false
		if prefilter != nil {
			m, smoothed = prefilter.Apply(m)
		}
		rej := e.Step(m)
		if rej && smoothed {
			prefilter.Revert()
		}
		s := e.Snapshot()
		out = append(out, Estimate{Delta: d, X: s.X, P11: s.P[1][1], Rejected: rej})
	}
	return out, nil
}

// FractionalFrequency переводит дельты счётчика в относительную частоту генератора:
// (delta − expected)/expected.
func FractionalFrequency(deltas []uint32, expected float64) []float64 {
	y := make([]float64, len(deltas))
	for i, d := range deltas {
		y[i] = (float64(d) - expected) / expected
	}
	return y
}
