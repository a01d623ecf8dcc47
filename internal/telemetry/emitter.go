package telemetry

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/tarm/serial"

	"github.com/shiwa/timecard-mini/gpsdo/internal/estimator"
	"github.com/shiwa/timecard-mini/gpsdo/internal/logger"
)

// Emitter принимает запись цикла. Вызывается из цикла подстройки и не должен блокироваться надолго.
type Emitter interface {
	Emit(st Status, snap estimator.Snapshot) error
}

// EmitterFunc — адаптер функции к Emitter.
type EmitterFunc func(Status, estimator.Snapshot) error

// Emit вызывает f.
func (f EmitterFunc) Emit(st Status, snap estimator.Snapshot) error { return f(st, snap) }

// Multi рассылает запись всем получателям; ошибки объединяются.
type Multi []Emitter

// Emit вызывает каждого получателя.
func (m Multi) Emit(st Status, snap estimator.Snapshot) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(st, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type record struct {
	st   Status
	snap estimator.Snapshot
}

// Queue отвязывает медленного получателя от цикла: Emit не блокируется,
// при заполненной очереди запись отбрасывается.
type Queue struct {
	sink    Emitter
	ch      chan record
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewQueue создаёт очередь ёмкостью size (минимум 1).
func NewQueue(sink Emitter, size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{sink: sink, ch: make(chan record, size)}
}

// Emit ставит запись в очередь или отбрасывает её.
func (q *Queue) Emit(st Status, snap estimator.Snapshot) error {
	select {
	case q.ch <- record{st, snap}:
	default:
		q.dropped.Add(1)
	}
	return nil
}

// Run передаёт записи получателю до отмены ctx.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-q.ch:
			if err := q.sink.Emit(r.st, r.snap); err != nil {
				q.failed.Add(1)
				logger.Warn("telemetry: %v", err)
			}
		}
	}
}

// Dropped — число отброшенных записей.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Failed — число ошибок получателя.
func (q *Queue) Failed() uint64 { return q.failed.Load() }

// FrameWriter пишет кадры MsgStatus и MsgKFDebug в поток.
type FrameWriter struct {
	mu  sync.Mutex
	w   io.Writer
	buf []byte
}

// NewFrameWriter оборачивает поток.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// Emit пишет оба кадра одной записью.
func (f *FrameWriter) Emit(st Status, snap estimator.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	f.buf, err = AppendFrame(f.buf[:0], MsgStatus, MarshalStatus(st))
	if err != nil {
		return err
	}
	f.buf, err = AppendFrame(f.buf, MsgKFDebug, MarshalSnapshot(snap))
	if err != nil {
		return err
	}
	_, err = f.w.Write(f.buf)
	return err
}

// SerialEmitter — кадры в последовательный порт устройства (USB CDC gadget, UART).
type SerialEmitter struct {
	*FrameWriter
	port *serial.Port
}

// OpenSerialEmitter открывает порт.
func OpenSerialEmitter(device string, baud int) (*SerialEmitter, error) {
	p, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud})
	if err != nil {
		return nil, err
	}
	return &SerialEmitter{FrameWriter: NewFrameWriter(p), port: p}, nil
}

// Close закрывает порт.
func (s *SerialEmitter) Close() error { return s.port.Close() }
