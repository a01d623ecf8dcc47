// Package watchdog обнаруживает потерю опорного PPS: цикл подстройки вызывает Kick
// после каждого шага фильтра, пропуск дольше таймаута переводит в состояние "потерян".
package watchdog

import (
	"context"
	"sync"
	"time"
)

// Watchdog — детектор потери опоры. Колбэки вызываются без удержания блокировки.
type Watchdog struct {
	timeout time.Duration
	poll    time.Duration
	now     func() time.Time

	mu         sync.Mutex
	last       time.Time
	lost       bool
	losses     uint64
	onLost     func(since time.Duration)
	onRestored func(after time.Duration)
	lostAt     time.Time
}

// Option — настройка Watchdog.
type Option func(*Watchdog)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option { return func(w *Watchdog) { w.now = now } }

// OnLost задаёт колбэк потери опоры; аргумент — время с последнего Kick.
func OnLost(f func(since time.Duration)) Option { return func(w *Watchdog) { w.onLost = f } }

// OnRestored задаёт колбэк восстановления; аргумент — длительность потери.
func OnRestored(f func(after time.Duration)) Option { return func(w *Watchdog) { w.onRestored = f } }

// New создаёт сторож. Отсчёт начинается с момента создания.
func New(timeout time.Duration, opts ...Option) *Watchdog {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	w := &Watchdog{timeout: timeout, now: time.Now}
	for _, o := range opts {
		o(w)
	}
	w.poll = timeout / 4
	w.last = w.now()
	return w
}

// Kick отмечает успешный шаг фильтра.
func (w *Watchdog) Kick() {
	w.mu.Lock()
	now := w.now()
	w.last = now
	restored := w.lost
	w.lost = false
	lostFor := now.Sub(w.lostAt)
	cb := w.onRestored
	w.mu.Unlock()
	if restored && cb != nil {
		cb(lostFor)
	}
}

// Check проверяет таймаут; возвращает true, если опора считается потерянной.
func (w *Watchdog) Check() bool {
	w.mu.Lock()
	now := w.now()
	since := now.Sub(w.last)
	fire := !w.lost && since > w.timeout
	if fire {
		w.lost = true
		w.lostAt = now
		w.losses++
	}
	lost := w.lost
	cb := w.onLost
	w.mu.Unlock()
	if fire && cb != nil {
		cb(since)
	}
	return lost
}

// Run периодически вызывает Check до отмены ctx.
func (w *Watchdog) Run(ctx context.Context) {
	t := time.NewTicker(w.poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.Check()
		}
	}
}

// Lost — текущее состояние.
func (w *Watchdog) Lost() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lost
}

// Losses — сколько раз опора терялась.
func (w *Watchdog) Losses() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.losses
}
