// Package pps — захват фронтов PPS: чтение счётчика на каждом фронте и вычисление
// числа тактов между соседними фронтами.
package pps

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/shiwa/timecard-mini/gpsdo/internal/counter"
	"github.com/shiwa/timecard-mini/gpsdo/internal/mailbox"
)

// CounterReader — когерентный 32-битный счётчик (counter.Pair).
type CounterReader interface {
	Read() (uint32, error)
}

// EdgeSource вызывает onEdge на каждом фронте PPS до отмены ctx.
// onEdge выполняется в контексте источника и не должен блокироваться.
type EdgeSource interface {
	Run(ctx context.Context, onEdge func()) error
}

// Edge — дельта между двумя фронтами и порядковый номер фронта.
type Edge struct {
	Delta uint32
	Raw   uint32 // значение счётчика на фронте
	Seq   uint64
}

// Stats — счётчики захвата.
type Stats struct {
	Edges      uint64 // все фронты, включая первый
	Deltas     uint64 // опубликованные дельты
	Overruns   uint64 // дельты, вытесненные до чтения потребителем
	Incoherent uint64 // фронты, пропущенные из-за рваного чтения счётчика
}

// Capture — обработчик фронта PPS. Состояния: Idle (нет предыдущего фронта) → Armed.
// OnEdge вызывается только из одного контекста (источника фронтов).
type Capture struct {
	counter CounterReader
	box     *mailbox.Mailbox[Edge]

	armed bool
	last  uint32
	rearm atomic.Bool

	edges      atomic.Uint64
	deltas     atomic.Uint64
	overruns   atomic.Uint64
	incoherent atomic.Uint64
}

// NewCapture проверяет, что за один период счётчик переполняется не более одного раза:
// иначе беззнаковая разность неоднозначна.
func NewCapture(c CounterReader, expectedCount uint32) (*Capture, error) {
	if expectedCount == 0 || expectedCount >= 1<<31 {
		return nil, fmt.Errorf("pps: expected count %d: counter would wrap more than once per period", expectedCount)
	}
	return &Capture{
		counter: c,
		box:     mailbox.New[Edge](),
	}, nil
}

// OnEdge — обработчик прерывания захвата. Без аллокаций, блокировок и плавающей точки.
func (c *Capture) OnEdge() {
	seq := c.edges.Add(1)
	if c.rearm.Swap(false) {
		c.armed = false
		c.box.TryReceive()
	}
	now, err := c.counter.Read()
	if err != nil {
		if errors.Is(err, counter.ErrIncoherent) {
			c.incoherent.Add(1)
		}
		// Фронт считается пропущенным: last не меняется.
		return
	}
	if !c.armed {
		c.last = now
		c.armed = true
		return
	}
	delta := now - c.last // по модулю 2^32, верно через одно переполнение
	c.last = now
	c.deltas.Add(1)
	if c.box.Post(Edge{Delta: delta, Raw: now, Seq: seq}) {
		c.overruns.Add(1)
	}
}

// Reset возвращает захват в Idle: следующий фронт только запоминает значение счётчика.
// Непрочитанная дельта отбрасывается. Безопасно из любой горутины.
func (c *Capture) Reset() {
	c.rearm.Store(true)
	c.box.TryReceive()
}

// Wait блокируется до следующей дельты (или отмены ctx).
func (c *Capture) Wait(ctx context.Context) (Edge, error) {
	return c.box.Receive(ctx)
}

// Stats возвращает снимок счётчиков; безопасно из любой горутины.
func (c *Capture) Stats() Stats {
	return Stats{
		Edges:      c.edges.Load(),
		Deltas:     c.deltas.Load(),
		Overruns:   c.overruns.Load(),
		Incoherent: c.incoherent.Load(),
	}
}
