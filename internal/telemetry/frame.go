package telemetry

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/shiwa/timecard-mini/gpsdo/internal/estimator"
)

// Кадр: magic u16, msg_id u16, len u16 (little-endian), затем len байт полезной нагрузки.
const (
	Magic      = 0xB00B
	HeaderSize = 6
	MaxPayload = 1024

	MsgStatus  = 1
	MsgKFDebug = 2
)

// ErrShortPayload — полезная нагрузка короче ожидаемой структуры.
var ErrShortPayload = errors.New("telemetry: short payload")

// Frame — один кадр потока.
type Frame struct {
	ID      uint16
	Payload []byte
}

// AppendFrame дописывает кадр в buf.
func AppendFrame(buf []byte, id uint16, payload []byte) ([]byte, error) {
	if len(payload) == 0 || len(payload) > MaxPayload {
		return buf, fmt.Errorf("telemetry: payload length %d", len(payload))
	}
	buf = binary.LittleEndian.AppendUint16(buf, Magic)
	buf = binary.LittleEndian.AppendUint16(buf, id)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(payload)))
	return append(buf, payload...), nil
}

// statusWire — раскладка MsgStatus, 64 байта.
type statusWire struct {
	Seq             uint64
	UnixNano        int64
	RawCounter      uint32
	Delta           uint32
	Phase           float32
	FreqOffset      float32
	FreqDrift       float32
	VoltageSet      float32
	VoltageMeasured float32
	TemperatureC    float32
	Outliers        uint32
	Overruns        uint32
	Incoherent      uint32
	Flags           uint32
}

const (
	flagRejected = 1 << iota
	flagReferenceLost
)

// MarshalStatus кодирует Status. Счётчики усекаются до 32 бит.
func MarshalStatus(s Status) []byte {
	w := statusWire{
		Seq:             s.Seq,
		UnixNano:        s.Time.UnixNano(),
		RawCounter:      s.RawCounter,
		Delta:           s.Delta,
		Phase:           s.Phase,
		FreqOffset:      s.FreqOffset,
		FreqDrift:       s.FreqDrift,
		VoltageSet:      s.VoltageSet,
		VoltageMeasured: s.VoltageMeasured,
		TemperatureC:    s.TemperatureC,
		Outliers:        uint32(s.Outliers),
		Overruns:        uint32(s.Overruns),
		Incoherent:      uint32(s.Incoherent),
	}
	if s.Rejected {
		w.Flags |= flagRejected
	}
	if s.ReferenceLost {
		w.Flags |= flagReferenceLost
	}
	buf, _ := binary.Append(nil, binary.LittleEndian, w)
	return buf
}

// UnmarshalStatus декодирует MsgStatus.
func UnmarshalStatus(p []byte) (Status, error) {
	var w statusWire
	if _, err := binary.Decode(p, binary.LittleEndian, &w); err != nil {
		return Status{}, fmt.Errorf("%w: status: %v", ErrShortPayload, err)
	}
	return Status{
		Time:            time.Unix(0, w.UnixNano),
		Seq:             w.Seq,
		RawCounter:      w.RawCounter,
		Delta:           w.Delta,
		Phase:           w.Phase,
		FreqOffset:      w.FreqOffset,
		FreqDrift:       w.FreqDrift,
		VoltageSet:      w.VoltageSet,
		VoltageMeasured: w.VoltageMeasured,
		TemperatureC:    w.TemperatureC,
		Rejected:        w.Flags&flagRejected != 0,
		ReferenceLost:   w.Flags&flagReferenceLost != 0,
		Outliers:        uint64(w.Outliers),
		Overruns:        uint64(w.Overruns),
		Incoherent:      uint64(w.Incoherent),
	}, nil
}

// kfWire — раскладка MsgKFDebug.
type kfWire struct {
	Iterations uint64
	UnixNano   int64
	X          [3]float32
	P          [9]float32
	Z, HX, Y   float32
	S, D2      float32
	K          [3]float32
	Outliers   uint32
	Rejected   uint32
}

// MarshalSnapshot кодирует снимок фильтра.
func MarshalSnapshot(s estimator.Snapshot) []byte {
	w := kfWire{
		Iterations: s.Iterations,
		UnixNano:   s.Time.UnixNano(),
		X:          s.X,
		Z:          s.Z,
		HX:         s.HX,
		Y:          s.Y,
		S:          s.S,
		D2:         s.D2,
		K:          s.K,
		Outliers:   uint32(s.Outliers),
	}
	for i := 0; i < 3; i++ {
		copy(w.P[i*3:i*3+3], s.P[i][:])
	}
	if s.Rejected {
		w.Rejected = 1
	}
	buf, _ := binary.Append(nil, binary.LittleEndian, w)
	return buf
}

// UnmarshalSnapshot декодирует MsgKFDebug.
func UnmarshalSnapshot(p []byte) (estimator.Snapshot, error) {
	var w kfWire
	if _, err := binary.Decode(p, binary.LittleEndian, &w); err != nil {
		return estimator.Snapshot{}, fmt.Errorf("%w: kf debug: %v", ErrShortPayload, err)
	}
	s := estimator.Snapshot{
		Time:       time.Unix(0, w.UnixNano),
		Iterations: w.Iterations,
		X:          w.X,
		Z:          w.Z,
		HX:         w.HX,
		Y:          w.Y,
		S:          w.S,
		D2:         w.D2,
		K:          w.K,
		Rejected:   w.Rejected != 0,
		Outliers:   uint64(w.Outliers),
	}
	for i := 0; i < 3; i++ {
		copy(s.P[i][:], w.P[i*3:i*3+3])
	}
	return s, nil
}

// Reader разбирает поток кадров. После мусора или недопустимой длины
// ищет следующее слово magic, сдвигаясь на байт.
type Reader struct {
	br      *bufio.Reader
	skipped uint64
}

// NewReader оборачивает поток.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, HeaderSize+MaxPayload)}
}

// Next возвращает следующий кадр. io.EOF — конец потока на границе кадра.
func (r *Reader) Next() (Frame, error) {
	for {
		hdr, err := r.br.Peek(HeaderSize)
		if err != nil {
			if errors.Is(err, io.EOF) && len(hdr) > 0 {
				return Frame{}, io.ErrUnexpectedEOF
			}
			return Frame{}, err
		}
		n := binary.LittleEndian.Uint16(hdr[4:])
		if binary.LittleEndian.Uint16(hdr) != Magic || n == 0 || n > MaxPayload {
			r.br.Discard(1)
			r.skipped++
			continue
		}
		id := binary.LittleEndian.Uint16(hdr[2:])
		r.br.Discard(HeaderSize)
		payload := make([]byte, n)
		if _, err := io.ReadFull(r.br, payload); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return Frame{}, err
		}
		return Frame{ID: id, Payload: payload}, nil
	}
}

// Skipped — число байт, пропущенных при поиске синхронизации.
func (r *Reader) Skipped() uint64 { return r.skipped }

// finite заменяет NaN и бесконечности нулём (для JSON).
func finite(v float32) float32 {
	if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
		return 0
	}
	return v
}
