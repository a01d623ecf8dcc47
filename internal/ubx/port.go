package ubx

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

var (
	ErrNak     = errors.New("ubx: message rejected (ACK-NAK)")
	ErrTimeout = errors.New("ubx: timeout")
)

// MaxPayload ограничивает длину при ресинхронизации на мусоре.
const MaxPayload = 1024

// Port — UBX поверх последовательного порта приёмника.
type Port struct {
	rw io.ReadWriteCloser
	br *bufio.Reader
}

// NewPort оборачивает уже открытый поток.
func NewPort(rw io.ReadWriteCloser) *Port {
	return &Port{rw: rw, br: bufio.NewReader(rw)}
}

// Open открывает последовательный порт. ReadTimeout ограничивает одиночное чтение,
// чтобы ожидание ответа могло проверять контекст.
func Open(device string, baud int) (*Port, error) {
	p, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("serial open %s: %w", device, err)
	}
	return NewPort(p), nil
}

func (p *Port) Close() error { return p.rw.Close() }

// WritePacket отправляет готовый UBX пакет
func (p *Port) WritePacket(packet []byte) error {
	_, err := p.rw.Write(packet)
	return err
}

// ReadPacket читает следующий корректный пакет, пропуская мусор и NMEA.
// Пакеты с неверной контрольной суммой отбрасываются.
func (p *Port) ReadPacket(ctx context.Context) (Packet, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Packet{}, err
		}
		b, err := p.readByte(ctx)
		if err != nil {
			return Packet{}, err
		}
		if b != Sync1 {
			continue
		}
		if b, err = p.readByte(ctx); err != nil {
			return Packet{}, err
		}
		if b != Sync2 {
			_ = p.br.UnreadByte()
			continue
		}
		hdr := []byte{Sync1, Sync2, 0, 0, 0, 0}
		if err := p.readFull(ctx, hdr[2:]); err != nil {
			return Packet{}, err
		}
		n := int(binary.LittleEndian.Uint16(hdr[4:6]))
		if n > MaxPayload {
			continue
		}
		packet := make([]byte, HeaderSize+n+2)
		copy(packet, hdr)
		if err := p.readFull(ctx, packet[HeaderSize:]); err != nil {
			return Packet{}, err
		}
		pkt, err := Decode(packet)
		if err != nil {
			continue
		}
		return pkt, nil
	}
}

// readByte повторяет чтение, пока порт отвечает io.EOF по таймауту.
func (p *Port) readByte(ctx context.Context) (byte, error) {
	for {
		b, err := p.br.ReadByte()
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, io.EOF) {
			return 0, err
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
	}
}

func (p *Port) readFull(ctx context.Context, buf []byte) error {
	for i := range buf {
		b, err := p.readByte(ctx)
		if err != nil {
			return err
		}
		buf[i] = b
	}
	return nil
}

// WaitAck ждёт ACK-ACK или ACK-NAK на сообщение class/id, прочие пакеты пропускаются.
func (p *Port) WaitAck(ctx context.Context, class, id uint8) error {
	for {
		pkt, err := p.ReadPacket(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%w waiting ack for 0x%02x/0x%02x", ErrTimeout, class, id)
			}
			return err
		}
		if matched, ack := pkt.IsAckFor(class, id); matched {
			if !ack {
				return ErrNak
			}
			return nil
		}
	}
}

// ConfigureTimePulse отправляет CFG-TP5 и ждёт подтверждения.
func (p *Port) ConfigureTimePulse(ctx context.Context, c TP5Config, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.WritePacket(BuildCFGTP5(c)); err != nil {
		return fmt.Errorf("write CFG-TP5: %w", err)
	}
	return p.WaitAck(ctx, ClassCFG, IDTP5)
}

// PollPVT запрашивает NAV-PVT (пустой payload) и ждёт ответ.
func (p *Port) PollPVT(ctx context.Context, timeout time.Duration) (PVT, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.WritePacket(EncodePacket(ClassNAV, IDNAVPVT, nil)); err != nil {
		return PVT{}, fmt.Errorf("poll NAV-PVT: %w", err)
	}
	for {
		pkt, err := p.ReadPacket(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return PVT{}, fmt.Errorf("%w waiting NAV-PVT", ErrTimeout)
			}
			return PVT{}, err
		}
		if pkt.Class == ClassNAV && pkt.ID == IDNAVPVT {
			return ParsePVT(pkt.Payload)
		}
	}
}
