package ubx

import (
	"encoding/binary"
	"fmt"
	"time"
)

// NAVPVTSize — минимальный размер payload NAV-PVT.
const NAVPVTSize = 92

// Смещения полей в payload NAV-PVT.
const (
	pvtYear    = 4  // uint16
	pvtMonth   = 6  // uint8
	pvtDay     = 7  // uint8
	pvtHour    = 8  // uint8
	pvtMin     = 9  // uint8
	pvtSec     = 10 // uint8
	pvtValid   = 11 // uint8
	pvtTAcc    = 12 // uint32, нс
	pvtNano    = 16 // int32, нс
	pvtFixType = 20 // uint8
	pvtFlags   = 21 // uint8: bit0 gnssFixOK
	pvtNumSV   = 23 // uint8
)

// Valid flags NAV-PVT
const (
	ValidDate          = 1 << 0
	ValidTime          = 1 << 1
	ValidFullyResolved = 1 << 2
)

// FixType NAV-PVT.
type FixType uint8

const (
	FixNone FixType = iota
	FixDeadReckoning
	Fix2D
	Fix3D
	FixGNSSDeadReckoning
	FixTimeOnly
)

func (f FixType) String() string {
	switch f {
	case FixNone:
		return "no-fix"
	case FixDeadReckoning:
		return "dead-reckoning"
	case Fix2D:
		return "2d"
	case Fix3D:
		return "3d"
	case FixGNSSDeadReckoning:
		return "gnss+dr"
	case FixTimeOnly:
		return "time-only"
	}
	return fmt.Sprintf("fix(%d)", uint8(f))
}

// PVT — состояние решения приёмника, достаточное для решения «PPS пригоден».
type PVT struct {
	Time      time.Time // UTC; нулевое, если validTime не выставлен
	Valid     uint8
	TAccNs    uint32
	Fix       FixType
	GNSSFixOK bool
	NumSV     uint8
}

// Usable — время решено и фикс подтверждён; при этом импульс PPS привязан к GNSS.
func (p PVT) Usable() bool {
	return p.GNSSFixOK && p.Valid&ValidTime != 0 && (p.Fix == Fix3D || p.Fix == FixTimeOnly || p.Fix == Fix2D)
}

// ParsePVT разбирает payload NAV-PVT.
func ParsePVT(payload []byte) (PVT, error) {
	if len(payload) < NAVPVTSize {
		return PVT{}, fmt.Errorf("%w: NAV-PVT payload %d bytes", ErrShort, len(payload))
	}
	p := PVT{
		Valid:     payload[pvtValid],
		TAccNs:    binary.LittleEndian.Uint32(payload[pvtTAcc:]),
		Fix:       FixType(payload[pvtFixType]),
		GNSSFixOK: payload[pvtFlags]&0x01 != 0,
		NumSV:     payload[pvtNumSV],
	}
	if p.Valid&ValidTime != 0 {
		nano := int(int32(binary.LittleEndian.Uint32(payload[pvtNano:])))
		nano = max(0, min(nano, 999_999_999))
		p.Time = time.Date(
			int(binary.LittleEndian.Uint16(payload[pvtYear:])),
			time.Month(payload[pvtMonth]),
			int(payload[pvtDay]),
			int(payload[pvtHour]),
			int(payload[pvtMin]),
			int(payload[pvtSec]),
			nano, time.UTC)
	}
	return p, nil
}
