// Package mailbox — одноместный почтовый ящик для передачи значения из контекста
// прерывания (горутины-источника фронтов) в единственную задачу-потребителя.
//
// Политика: последний записавший побеждает. Непрочитанное значение перезаписывается,
// очереди нет. Значение передаётся внутри канала ёмкостью 1, поэтому запись
// до Post и чтение после Receive упорядочены моделью памяти Go без отдельного мьютекса.
package mailbox

import "context"

// Mailbox хранит не более одного непрочитанного значения.
type Mailbox[T any] struct {
	slot chan T
}

// New создаёт пустой ящик.
func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{slot: make(chan T, 1)}
}

// Post кладёт v, вытесняя непрочитанное значение. Никогда не блокируется.
// Возвращает true, если предыдущее значение было потеряно.
func (m *Mailbox[T]) Post(v T) (overwrote bool) {
	for {
		select {
		case m.slot <- v:
			return overwrote
		default:
		}
		select {
		case <-m.slot:
			overwrote = true
		default:
		}
	}
}

// Receive блокируется до появления значения или отмены ctx.
func (m *Mailbox[T]) Receive(ctx context.Context) (T, error) {
	select {
	case v := <-m.slot:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TryReceive забирает значение без ожидания.
func (m *Mailbox[T]) TryReceive() (T, bool) {
	select {
	case v := <-m.slot:
		return v, true
	default:
		var zero T
		return zero, false
	}
}
