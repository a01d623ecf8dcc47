package ubx

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSerial — скрипт ответов приёмника; записанное копится в written.
type fakeSerial struct {
	in      *bytes.Reader
	written bytes.Buffer
}

func newFakeSerial(chunks ...[]byte) *fakeSerial {
	return &fakeSerial{in: bytes.NewReader(bytes.Join(chunks, nil))}
}

func (f *fakeSerial) Read(p []byte) (int, error)  { return f.in.Read(p) }
func (f *fakeSerial) Write(p []byte) (int, error) { return f.written.Write(p) }
func (f *fakeSerial) Close() error                { return nil }

func ack(id uint8, class, msg uint8) []byte {
	return EncodePacket(ClassACK, id, []byte{class, msg})
}

func TestEncodeDecode(t *testing.T) {
	pkt := EncodePacket(ClassCFG, IDTP5, []byte{1, 2, 3})
	require.Len(t, pkt, HeaderSize+3+2)
	assert.Equal(t, []byte{Sync1, Sync2, ClassCFG, IDTP5, 3, 0}, pkt[:HeaderSize])

	got, err := Decode(pkt)
	require.NoError(t, err)
	assert.Equal(t, Packet{Class: ClassCFG, ID: IDTP5, Payload: []byte{1, 2, 3}}, got)

	pkt[len(pkt)-1] ^= 0xFF
	_, err = Decode(pkt)
	assert.ErrorIs(t, err, ErrChecksum)

	_, err = Decode(pkt[:5])
	assert.ErrorIs(t, err, ErrShort)
}

func TestChecksum_KnownPoll(t *testing.T) {
	// Опрос CFG-PRT (06 00, длина 0): B5 62 06 00 00 00 06 18
	assert.Equal(t, []byte{0xB5, 0x62, 0x06, 0x00, 0x00, 0x00, 0x06, 0x18}, EncodePacket(ClassCFG, 0x00, nil))
}

func TestPPSTimePulse_Marshal(t *testing.T) {
	p := PPSTimePulse(0, 100, 50, true).Marshal()
	require.Len(t, p, TP5PayloadSize)
	assert.Equal(t, uint16(50), binary.LittleEndian.Uint16(p[4:6]))
	assert.Equal(t, uint32(1_000_000), binary.LittleEndian.Uint32(p[8:12]))
	assert.Equal(t, uint32(1_000_000), binary.LittleEndian.Uint32(p[12:16]))
	assert.Equal(t, uint32(100_000_000), binary.LittleEndian.Uint32(p[16:20]))
	flags := binary.LittleEndian.Uint32(p[28:32])
	assert.Equal(t, uint32(TP5Active|TP5LockGnssFreq|TP5LockedOtherSet|TP5IsLength|TP5AlignToTow), flags)
}

func TestConfigureTimePulse_Ack(t *testing.T) {
	fs := newFakeSerial(
		[]byte("$GPGGA,garbage*00\r\n"),
		ack(IDACK, ClassCFG, 0x01), // подтверждение другого сообщения
		ack(IDACK, ClassCFG, IDTP5),
	)
	p := NewPort(fs)
	tp := PPSTimePulse(0, 100, 0, true)
	require.NoError(t, p.ConfigureTimePulse(context.Background(), tp, time.Second))
	assert.Equal(t, BuildCFGTP5(tp), fs.written.Bytes())
}

func TestConfigureTimePulse_Nak(t *testing.T) {
	p := NewPort(newFakeSerial(ack(IDNAK, ClassCFG, IDTP5)))
	err := p.ConfigureTimePulse(context.Background(), PPSTimePulse(0, 100, 0, false), time.Second)
	assert.ErrorIs(t, err, ErrNak)
}

func TestReadPacket_SkipsCorrupt(t *testing.T) {
	bad := EncodePacket(ClassNAV, IDNAVPVT, []byte{9, 9})
	bad[len(bad)-2] ^= 0x55
	good := EncodePacket(ClassNAV, 0x20, []byte{7})
	p := NewPort(newFakeSerial([]byte{Sync1, 0x00, Sync1}, bad, good))

	pkt, err := p.ReadPacket(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint8(0x20), pkt.ID)
	assert.Equal(t, []byte{7}, pkt.Payload)
}

// eofReader имитирует таймаут чтения tarm/serial: 0, io.EOF.
type eofReader struct{}

func (eofReader) Read([]byte) (int, error)    { return 0, io.EOF }
func (eofReader) Write(p []byte) (int, error) { return len(p), nil }
func (eofReader) Close() error                { return nil }

func TestWaitAck_Timeout(t *testing.T) {
	p := NewPort(eofReader{})
	err := p.ConfigureTimePulse(context.Background(), PPSTimePulse(0, 100, 0, false), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func pvtPayload(fix FixType, flags, numSV, valid uint8) []byte {
	p := make([]byte, NAVPVTSize)
	binary.LittleEndian.PutUint16(p[pvtYear:], 2026)
	p[pvtMonth], p[pvtDay] = 3, 14
	p[pvtHour], p[pvtMin], p[pvtSec] = 15, 9, 26
	p[pvtValid] = valid
	binary.LittleEndian.PutUint32(p[pvtTAcc:], 25)
	binary.LittleEndian.PutUint32(p[pvtNano:], 500)
	p[pvtFixType] = uint8(fix)
	p[pvtFlags] = flags
	p[pvtNumSV] = numSV
	return p
}

func TestParsePVT(t *testing.T) {
	pvt, err := ParsePVT(pvtPayload(Fix3D, 0x01, 11, ValidDate|ValidTime))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 14, 15, 9, 26, 500, time.UTC), pvt.Time)
	assert.Equal(t, Fix3D, pvt.Fix)
	assert.True(t, pvt.GNSSFixOK)
	assert.Equal(t, uint8(11), pvt.NumSV)
	assert.Equal(t, uint32(25), pvt.TAccNs)
	assert.True(t, pvt.Usable())

	pvt, err = ParsePVT(pvtPayload(FixNone, 0, 0, 0))
	require.NoError(t, err)
	assert.True(t, pvt.Time.IsZero())
	assert.False(t, pvt.Usable())
	assert.Equal(t, "no-fix", pvt.Fix.String())

	_, err = ParsePVT(make([]byte, 10))
	assert.ErrorIs(t, err, ErrShort)
}

func TestPollPVT(t *testing.T) {
	fs := newFakeSerial(
		ack(IDACK, ClassCFG, IDTP5),
		EncodePacket(ClassNAV, IDNAVPVT, pvtPayload(FixTimeOnly, 0x01, 6, ValidTime)),
	)
	pvt, err := NewPort(fs).PollPVT(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, FixTimeOnly, pvt.Fix)
	assert.Equal(t, EncodePacket(ClassNAV, IDNAVPVT, nil), fs.written.Bytes())
}
