package analysis

import (
	"gonum.org/v1/gonum/stat"
)

// AgingWindow — размер окна скользящей регрессии по умолчанию.
const AgingWindow = 64

// LinReg — регрессия по скользящему окну (время, частота): наклон — старение, Гц/с.
type LinReg struct {
	xs     []float64
	ys     []float64
	idx    int
	filled bool
}

// NewLinReg создаёт регрессию с окном window (минимум 4).
func NewLinReg(window int) *LinReg {
	if window < 4 {
		window = 4
	}
	return &LinReg{xs: make([]float64, window), ys: make([]float64, window)}
}

// Update добавляет точку и возвращает наклон и признак готовности (окно заполнено).
func (l *LinReg) Update(t, v float64) (slope float64, ok bool) {
	l.xs[l.idx] = t
	l.ys[l.idx] = v
	l.idx++
	if l.idx == len(l.xs) {
		l.idx = 0
		l.filled = true
	}
	if !l.filled {
		return 0, false
	}
	_, slope = stat.LinearRegression(l.xs, l.ys, nil, false)
	return slope, true
}

// Reset очищает окно.
func (l *LinReg) Reset() {
	l.idx = 0
	l.filled = false
}

// Fit — линейная модель v = Offset + Slope·t.
type Fit struct {
	Offset float64
	Slope  float64
	R2     float64
}

// FitAging строит регрессию по всему ряду.
func FitAging(t, v []float64) (Fit, error) {
	if len(t) < 2 || len(t) != len(v) {
		return Fit{}, ErrTooShort
	}
	a, b := stat.LinearRegression(t, v, nil, false)
	return Fit{Offset: a, Slope: b, R2: stat.RSquared(t, v, nil, a, b)}, nil
}
