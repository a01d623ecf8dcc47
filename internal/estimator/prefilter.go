package estimator

// EMA — экспоненциальное скользящее среднее дельты перед коррекцией:
// y = α·x + (1−α)·y_prev. Первое значение принимается как есть.
// Используется только если включено в конфиге; ядро фильтра от него не зависит.
type EMA struct {
	alpha  float32
	y      float32
	primed bool
}

// NewEMA создаёт предфильтр; alpha вне (0, 1] заменяется на 1 (без сглаживания).
func NewEMA(alpha float32) *EMA {
	if !(alpha > 0 && alpha <= 1) {
		alpha = 1
	}
	return &EMA{alpha: alpha}
}

// Apply сглаживает очередное значение.
func (f *EMA) Apply(x float32) float32 {
	if !f.primed {
		f.y = x
		f.primed = true
		return x
	}
	f.y = f.alpha*x + (1-f.alpha)*f.y
	return f.y
}

// Reset забывает историю.
func (f *EMA) Reset() {
	f.y = 0
	f.primed = false
}

// Prefilter — окно допуска вокруг expected_count и EMA за ним.
// Дельта вне окна проходит к фильтру без сглаживания и историю EMA не трогает.
type Prefilter struct {
	ema      EMA
	prev     EMA
	expected float32
	window   float32
}

// NewPrefilter создаёт предфильтр; window — допустимое отклонение дельты, отсчёты.
func NewPrefilter(expected, window, alpha float32) *Prefilter {
	return &Prefilter{ema: *NewEMA(alpha), expected: expected, window: window}
}

// Apply возвращает значение для Step и признак попадания в окно.
func (p *Prefilter) Apply(delta float32) (float32, bool) {
	p.prev = p.ema
	if d := delta - p.expected; !(d <= p.window && d >= -p.window) {
		return delta, false
	}
	return p.ema.Apply(delta), true
}

// Revert отменяет последний Apply; вызывается, когда Step отбраковал сглаженное значение.
func (p *Prefilter) Revert() { p.ema = p.prev }

// Reset забывает историю.
func (p *Prefilter) Reset() {
	p.ema.Reset()
	p.prev = p.ema
}
