// Package analysis — офлайн-обработка записей: девиация Аллана, оценка старения,
// повторный прогон фильтра по сохранённым значениям счётчика.
package analysis

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrTooShort — данных меньше, чем нужно для хотя бы одной точки.
var ErrTooShort = errors.New("analysis: series too short")

// Point — одна точка кривой девиации Аллана.
type Point struct {
	Tau  float64 // с
	ADev float64
	Err  float64 // ADev/√N
	N    int     // число слагаемых
}

// OctaveFactors — m = 1, 2, 4, ... пока 2m < n (n — длина ряда фаз).
func OctaveFactors(n int) []int {
	var ms []int
	for m := 1; 2*m < n; m *= 2 {
		ms = append(ms, m)
	}
	return ms
}

// OverlappingADev считает перекрывающуюся девиацию Аллана по ряду относительной частоты y
// с интервалом tau0. Фаза x_k = tau0·Σ y_i, σ²(mτ0) = Σ(x_{i+2m} − 2x_{i+m} + x_i)² / (2(mτ0)²(N−2m)).
func OverlappingADev(y []float64, tau0 float64, ms []int) ([]Point, error) {
	x := make([]float64, len(y)+1)
	if len(y) > 0 {
		floats.CumSum(x[1:], y)
		floats.Scale(tau0, x)
	}
	n := len(x)
	if ms == nil {
		ms = OctaveFactors(n)
	}
	var out []Point
	for _, m := range ms {
		terms := n - 2*m
		if m < 1 || terms < 1 {
			continue
		}
		var sum float64
		for i := 0; i < terms; i++ {
			d := x[i+2*m] - 2*x[i+m] + x[i]
			sum += d * d
		}
		tau := float64(m) * tau0
		adev := math.Sqrt(sum / (2 * tau * tau * float64(terms)))
		out = append(out, Point{Tau: tau, ADev: adev, Err: adev / math.Sqrt(float64(terms)), N: terms})
	}
	if len(out) == 0 {
		return nil, ErrTooShort
	}
	return out, nil
}
