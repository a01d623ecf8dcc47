package ubx

import "encoding/binary"

// CFG-TP5 payload layout (32 bytes)
// Offset 0:   tpIdx (1)
// Offset 1:   version (1)
// Offset 2-4: reserved (2)
// Offset 4-6: antCableDelay (2, int16)
// Offset 6-8: rfGroupDelay (2, int16)
// Offset 8:   freqPeriod (4), freqPeriodLock (4), мкс
// Offset 16:  pulseLenRatio (4), pulseLenRatioLock (4) — длина импульса в нс
// Offset 24:  userConfigDelay (4, int32)
// Offset 28:  flags (4)

const TP5PayloadSize = 32

// TP5Flags — биты флагов CFG-TP5
const (
	TP5Active         = 0x01
	TP5LockGnssFreq   = 0x02
	TP5LockedOtherSet = 0x04
	TP5IsLength       = 0x10 // использовать длительность импульса (length), а не ratio
	TP5AlignToTow     = 0x20
	TP5Polarity       = 0x40
)

// TP5Config — параметры Time Pulse 5
type TP5Config struct {
	TPIdx             uint8
	AntCableDelayNs   int16
	RfGroupDelayNs    int16
	FreqPeriod        uint32 // период, мкс (IsFreq = 0)
	FreqPeriodLock    uint32 // период при захвате GNSS, мкс
	PulseLenRatioNs   uint32 // длительность импульса в наносекундах
	PulseLenRatioLock uint32
	UserConfigDelayNs int32
	Active            bool
	LockGnssFreq      bool
	LockedOtherSet    bool
	IsLength          bool
	AlignToTow        bool
	Polarity          bool
}

// PPSTimePulse — 1 Гц, импульс заданной длительности, синхронно с GNSS.
func PPSTimePulse(tpIdx uint8, widthMs float64, cableDelayNs int16, alignToTow bool) TP5Config {
	width := uint32(widthMs * 1e6)
	return TP5Config{
		TPIdx:             tpIdx,
		AntCableDelayNs:   cableDelayNs,
		FreqPeriod:        1_000_000,
		FreqPeriodLock:    1_000_000,
		PulseLenRatioNs:   width,
		PulseLenRatioLock: width,
		Active:            true,
		LockGnssFreq:      true,
		LockedOtherSet:    true,
		IsLength:          true,
		AlignToTow:        alignToTow,
	}
}

// Marshal сериализует TP5Config в 32-байтный payload
func (c TP5Config) Marshal() []byte {
	payload := make([]byte, TP5PayloadSize)
	payload[0] = c.TPIdx
	payload[1] = 0 // version
	// 2-4 reserved
	binary.LittleEndian.PutUint16(payload[4:6], uint16(c.AntCableDelayNs))
	binary.LittleEndian.PutUint16(payload[6:8], uint16(c.RfGroupDelayNs))
	binary.LittleEndian.PutUint32(payload[8:12], c.FreqPeriod)
	binary.LittleEndian.PutUint32(payload[12:16], c.FreqPeriodLock)
	binary.LittleEndian.PutUint32(payload[16:20], c.PulseLenRatioNs)
	binary.LittleEndian.PutUint32(payload[20:24], c.PulseLenRatioLock)
	binary.LittleEndian.PutUint32(payload[24:28], uint32(c.UserConfigDelayNs))
	var flags uint32
	if c.Active {
		flags |= TP5Active
	}
	if c.LockGnssFreq {
		flags |= TP5LockGnssFreq
	}
	if c.LockedOtherSet {
		flags |= TP5LockedOtherSet
	}
	if c.IsLength {
		flags |= TP5IsLength
	}
	if c.AlignToTow {
		flags |= TP5AlignToTow
	}
	if c.Polarity {
		flags |= TP5Polarity
	}
	binary.LittleEndian.PutUint32(payload[28:32], flags)
	return payload
}

// BuildCFGTP5 собирает полный UBX CFG-TP5 пакет
func BuildCFGTP5(c TP5Config) []byte {
	return EncodePacket(ClassCFG, IDTP5, c.Marshal())
}
