// Package counter — когерентное чтение 32-битного счётчика из двух каскадных таймеров.
//
// Младший таймер (16 бит) считает опорную частоту после предделителя, старший
// инкрементируется на каждом переполнении младшего. Значение = high<<16 | low.
package counter

import "errors"

// ErrIncoherent — старшее слово менялось при каждой попытке чтения.
var ErrIncoherent = errors.New("counter: incoherent read")

// DefaultMaxRetries — число попыток чтения по умолчанию.
const DefaultMaxRetries = 3

// Registers — доступ к регистрам CNT двух таймеров.
// High может быть шире 16 бит; используются только младшие 16 бит.
type Registers interface {
	High() uint32
	Low() uint16
}

// Pair — счётчик из двух таймеров.
type Pair struct {
	regs       Registers
	maxRetries int
}

// NewPair создаёт Pair; maxRetries < 1 заменяется на DefaultMaxRetries.
func NewPair(regs Registers, maxRetries int) *Pair {
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}
	return &Pair{regs: regs, maxRetries: maxRetries}
}

// Read возвращает когерентное значение счётчика.
// high, low, high: если старшее слово изменилось, младшее читалось через переполнение и
// попытка повторяется. Два переполнения за время двух чтений регистра невозможны, поэтому
// повтор почти всегда успешен; после maxRetries неудач возвращается ErrIncoherent.
func (p *Pair) Read() (uint32, error) {
	for i := 0; i < p.maxRetries; i++ {
		h1 := p.regs.High()
		low := p.regs.Low()
		h2 := p.regs.High()
		if h1 == h2 {
			return compose(h1, low), nil
		}
	}
	return 0, ErrIncoherent
}

func compose(high uint32, low uint16) uint32 {
	return (high&0xFFFF)<<16 | uint32(low)
}
