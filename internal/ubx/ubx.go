// Package ubx — протокол u-blox UBX: настройка импульса PPS приёмника (CFG-TP5)
// с ожиданием ACK/NAK и чтение состояния решения (NAV-PVT).
package ubx

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Sync bytes для UBX протокола
const (
	Sync1 = 0xB5
	Sync2 = 0x62
)

// Классы и ID сообщений
const (
	ClassNAV = 0x01
	ClassACK = 0x05
	ClassCFG = 0x06

	IDNAVPVT = 0x07 // NAV-PVT
	IDACK    = 0x01 // ACK-ACK
	IDNAK    = 0x00 // ACK-NAK
	IDTP5    = 0x31 // CFG-TP5
)

// HeaderSize — sync(2) + class + id + length(2).
const HeaderSize = 6

var (
	ErrChecksum = errors.New("ubx: checksum mismatch")
	ErrShort    = errors.New("ubx: short packet")
)

// Packet — разобранное сообщение.
type Packet struct {
	Class   uint8
	ID      uint8
	Payload []byte
}

// Checksum — 8-битный Флетчер по class, id, length и payload.
func Checksum(data []byte) (ckA, ckB uint8) {
	for _, b := range data {
		ckA += b
		ckB += ckA
	}
	return ckA, ckB
}

// EncodePacket собирает полный UBX пакет: header + payload + checksum
func EncodePacket(class, id uint8, payload []byte) []byte {
	buf := make([]byte, 0, HeaderSize+len(payload)+2)
	buf = append(buf, Sync1, Sync2, class, id)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, payload...)
	ckA, ckB := Checksum(buf[2:])
	return append(buf, ckA, ckB)
}

// Decode проверяет sync, длину и контрольную сумму полного пакета.
func Decode(packet []byte) (Packet, error) {
	if len(packet) < HeaderSize+2 || packet[0] != Sync1 || packet[1] != Sync2 {
		return Packet{}, ErrShort
	}
	n := int(binary.LittleEndian.Uint16(packet[4:6]))
	if len(packet) != HeaderSize+n+2 {
		return Packet{}, fmt.Errorf("%w: length %d, have %d", ErrShort, n, len(packet)-HeaderSize-2)
	}
	ckA, ckB := Checksum(packet[2 : HeaderSize+n])
	if packet[HeaderSize+n] != ckA || packet[HeaderSize+n+1] != ckB {
		return Packet{}, ErrChecksum
	}
	return Packet{Class: packet[2], ID: packet[3], Payload: packet[HeaderSize : HeaderSize+n]}, nil
}

// IsAckFor сообщает, подтверждает (ack=true) или отклоняет пакет сообщение class/id.
func (p Packet) IsAckFor(class, id uint8) (matched, ack bool) {
	if p.Class != ClassACK || len(p.Payload) < 2 || p.Payload[0] != class || p.Payload[1] != id {
		return false, false
	}
	return true, p.ID == IDACK
}
