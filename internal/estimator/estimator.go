// Package estimator — рекурсивный фильтр Калмана с тремя состояниями
// (фаза, смещение частоты, дрейф частоты) и отбраковкой выбросов по расстоянию Махаланобиса.
//
// Модель постоянного ускорения: фаза интегрирует смещение частоты и половину дрейфа·T²,
// частота интегрирует дрейф, дрейф постоянен между обновлениями. Наблюдается только фаза:
// z = дельта − expected_count, H = [1, 0, 0]. Все вычисления в float32.
package estimator

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrConfig — недопустимые параметры фильтра.
var ErrConfig = errors.New("estimator: invalid config")

// Config — параметры модели. Задаются при создании и не меняются.
type Config struct {
	ExpectedCount    float32 // номинальное число отсчётов счётчика за период
	NominalHz        float32 // номинальная частота генератора
	Period           float32 // T, секунды
	ProcessNoise     float32 // q — спектральная плотность шума процесса
	MeasurementNoise float32 // R — дисперсия измерения, отсчёты²
	InitialSigma     Vec3    // начальные σ фазы (отсчёты), частоты (Гц), дрейфа (Гц/с)
	GateThreshold    float32 // порог d²; d² > порога — выброс
}

// QuantizationNoise возвращает дисперсию дельты двух квантованных отсчётов с шагом step:
// каждый отсчёт вносит step²/12.
func QuantizationNoise(step float32) float32 {
	return 2 * step * step / 12
}

// DefaultConfig — OCXO 10 МГц, счётчик 625 кГц, T = 1 с.
func DefaultConfig() Config {
	return Config{
		ExpectedCount:    625000,
		NominalHz:        10e6,
		Period:           1,
		ProcessNoise:     1e-5,
		MeasurementNoise: QuantizationNoise(1),
		InitialSigma:     Vec3{0.2, 2.0, 0.02},
		GateThreshold:    9.0,
	}
}

func (c Config) validate() error {
	switch {
	case !(c.ExpectedCount > 0):
		return fmt.Errorf("%w: expected count %v", ErrConfig, c.ExpectedCount)
	case !(c.NominalHz > 0):
		return fmt.Errorf("%w: nominal frequency %v", ErrConfig, c.NominalHz)
	case !(c.Period > 0):
		return fmt.Errorf("%w: period %v", ErrConfig, c.Period)
	case !(c.ProcessNoise >= 0):
		return fmt.Errorf("%w: process noise %v", ErrConfig, c.ProcessNoise)
	case !(c.MeasurementNoise > 0):
		return fmt.Errorf("%w: measurement noise %v", ErrConfig, c.MeasurementNoise)
	case !(c.GateThreshold > 0):
		return fmt.Errorf("%w: gate threshold %v", ErrConfig, c.GateThreshold)
	}
	for i, s := range c.InitialSigma {
		if !(s > 0) || math.IsInf(float64(s), 0) {
			return fmt.Errorf("%w: initial sigma[%d] %v", ErrConfig, i, s)
		}
	}
	return nil
}

// Snapshot — диагностика последнего цикла коррекции.
type Snapshot struct {
	Time       time.Time
	X          Vec3
	P          Mat3
	Z          float32 // измерение: дельта − expected_count
	HX         float32 // предсказанное наблюдение H·x_pred
	Y          float32 // инновация
	S          float32 // ковариация инновации
	D2         float32 // квадрат расстояния Махаланобиса y²/S
	K          Vec3    // усиление Калмана (нулевое при отбраковке)
	Rejected   bool
	Outliers   uint64
	Iterations uint64
}

// Estimator владеет состоянием фильтра. Step вызывается из одной горутины (цикл подстройки);
// Snapshot безопасен из любой горутины.
type Estimator struct {
	cfg Config

	f  Mat3
	ft Mat3
	q  Mat3
	h  Vec3
	r  float32
	id Mat3

	x     Vec3
	xPred Vec3
	p     Mat3

	outliers   uint64
	iterations uint64

	now func() time.Time

	mu   sync.Mutex
	snap Snapshot
}

// Option — необязательная настройка Estimator.
type Option func(*Estimator)

// WithClock подменяет источник времени для меток снимков.
func WithClock(now func() time.Time) Option {
	return func(e *Estimator) { e.now = now }
}

// New строит матрицы модели и проверяет конфиг. Ошибка конфигурации фатальна:
// в цикле деление на S не проверяется.
func New(cfg Config, opts ...Option) (*Estimator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e := &Estimator{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(e)
	}

	t := cfg.Period
	// Перевод Гц генератора в отсчёты счётчика за период.
	r := cfg.ExpectedCount / (cfg.NominalHz * t)
	e.f = Mat3{
		{1, r * t, 0.5 * r * t * t},
		{0, 1, t},
		{0, 0, 1},
	}
	e.ft = transpose(e.f)

	// Дискретизация Ван Лоана для модели постоянного ускорения.
	t2 := t * t
	t3 := t2 * t
	t4 := t3 * t
	t5 := t4 * t
	e.q = matScale(Mat3{
		{t5 / 20, t4 / 8, t3 / 6},
		{t4 / 8, t3 / 3, t2 / 2},
		{t3 / 6, t2 / 2, t},
	}, cfg.ProcessNoise)

	e.h = Vec3{1, 0, 0}
	e.r = cfg.MeasurementNoise
	e.id = identity()
	e.Reset()

	if s0 := dot(e.h, mulVec(e.p, e.h)) + e.r; !(s0 > 0) {
		return nil, fmt.Errorf("%w: degenerate innovation covariance %v", ErrConfig, s0)
	}
	return e, nil
}

// Reset обнуляет состояние и счётчики, P — диагональ начальных неопределённостей.
func (e *Estimator) Reset() {
	s := e.cfg.InitialSigma
	e.x = Vec3{}
	e.xPred = Vec3{}
	e.p = diag(Vec3{s[0] * s[0], s[1] * s[1], s[2] * s[2]})
	e.outliers = 0
	e.iterations = 0
	e.mu.Lock()
	e.snap = Snapshot{X: e.x, P: e.p}
	e.mu.Unlock()
}

// predict: x ← F·x, P ← F·P·Fᵀ + Q.
func (e *Estimator) predict() {
	e.xPred = mulVec(e.f, e.x)
	e.x = e.xPred
	e.p = matAdd(matMul(matMul(e.f, e.p), e.ft), e.q)
}

// correct применяет измерение после predict.
func (e *Estimator) correct(measured float32) {
	z := measured - e.cfg.ExpectedCount
	hx := dot(e.h, e.xPred)
	y := z - hx
	pht := mulVec(e.p, e.h) // P·Hᵀ
	s := dot(e.h, pht) + e.r
	d2 := y * y / s

	var k Vec3
	rejected := d2 > e.cfg.GateThreshold
	if rejected {
		e.x = e.xPred
		e.outliers++
	} else {
		for i := range k {
			k[i] = pht[i] / s
		}
		for i := range e.x {
			e.x[i] = e.xPred[i] + k[i]*y
		}
		e.p = symmetrize(matMul(matSub(e.id, outer(k, e.h)), e.p))
	}

	e.mu.Lock()
	e.snap = Snapshot{
		Time:       e.now(),
		X:          e.x,
		P:          e.p,
		Z:          z,
		HX:         hx,
		Y:          y,
		S:          s,
		D2:         d2,
		K:          k,
		Rejected:   rejected,
		Outliers:   e.outliers,
		Iterations: e.iterations,
	}
	e.mu.Unlock()
}

// Step — единственная точка входа цикла: predict, correct, счётчик итераций.
// measured — дельта счётчика (возможно после предфильтра). Возвращает true при отбраковке.
func (e *Estimator) Step(measured float32) (rejected bool) {
	e.predict()
	e.correct(measured)
	e.iterations++
	e.mu.Lock()
	e.snap.Iterations = e.iterations
	rejected = e.snap.Rejected
	e.mu.Unlock()
	return rejected
}

// Phase возвращает оценку фазы, отсчёты.
func (e *Estimator) Phase() float32 { return e.x[0] }

// FrequencyOffset возвращает оценку смещения частоты, Гц.
func (e *Estimator) FrequencyOffset() float32 { return e.x[1] }

// Drift возвращает оценку дрейфа частоты, Гц/с.
func (e *Estimator) Drift() float32 { return e.x[2] }

// Outliers — число отбракованных измерений.
func (e *Estimator) Outliers() uint64 { return e.outliers }

// Iterations — число вызовов Step.
func (e *Estimator) Iterations() uint64 { return e.iterations }

// Snapshot возвращает копию диагностики последнего цикла.
func (e *Estimator) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

// Config возвращает параметры модели.
func (e *Estimator) Config() Config { return e.cfg }
