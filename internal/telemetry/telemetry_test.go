package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"

	"github.com/shiwa/timecard-mini/gpsdo/internal/estimator"
)

func sampleStatus() Status {
	return Status{
		Time:            time.Unix(1700000000, 123456789),
		Seq:             42,
		RawCounter:      0xDEADBEEF,
		Delta:           625001,
		Phase:           0.25,
		FreqOffset:      -0.5,
		FreqDrift:       1e-4,
		VoltageSet:      2.01,
		VoltageMeasured: 2.0,
		TemperatureC:    41.5,
		Rejected:        true,
		Outliers:        3,
		Overruns:        1,
	}
}

func sampleSnapshot() estimator.Snapshot {
	return estimator.Snapshot{
		Time:       time.Unix(1700000000, 0),
		Iterations: 7,
		X:          estimator.Vec3{0.1, 0.2, 0.3},
		P:          estimator.Mat3{{1, 2, 3}, {2, 4, 5}, {3, 5, 6}},
		Z:          1,
		HX:         0.5,
		Y:          0.5,
		S:          0.3,
		D2:         0.83,
		K:          estimator.Vec3{0.7, 0.1, 0.01},
		Outliers:   2,
	}
}

func TestStatus_WireLayout(t *testing.T) {
	p := MarshalStatus(sampleStatus())
	assert.Len(t, p, 64)
	got, err := UnmarshalStatus(p)
	require.NoError(t, err)
	assert.Equal(t, sampleStatus().Time.UnixNano(), got.Time.UnixNano())
	got.Time = sampleStatus().Time
	assert.Equal(t, sampleStatus(), got)

	_, err = UnmarshalStatus(p[:10])
	assert.ErrorIs(t, err, ErrShortPayload)
}

func TestSnapshot_Wire(t *testing.T) {
	got, err := UnmarshalSnapshot(MarshalSnapshot(sampleSnapshot()))
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot().P, got.P)
	assert.Equal(t, sampleSnapshot().K, got.K)
	assert.Equal(t, uint64(7), got.Iterations)
	assert.False(t, got.Rejected)
}

func TestReader_ResyncsAfterGarbage(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	buf.Write([]byte{0x00, 0x0B, 0x13, 0x37}) // мусор
	require.NoError(t, fw.Emit(sampleStatus(), sampleSnapshot()))
	// magic с недопустимой длиной
	buf.Write([]byte{0x0B, 0xB0, 0x01, 0x00, 0xFF, 0xFF})
	require.NoError(t, fw.Emit(sampleStatus(), sampleSnapshot()))

	r := NewReader(&buf)
	var ids []uint16
	for {
		f, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		ids = append(ids, f.ID)
		if f.ID == MsgStatus {
			st, err := UnmarshalStatus(f.Payload)
			require.NoError(t, err)
			assert.Equal(t, uint64(42), st.Seq)
		}
	}
	assert.Equal(t, []uint16{MsgStatus, MsgKFDebug, MsgStatus, MsgKFDebug}, ids)
	assert.Equal(t, uint64(4+6), r.Skipped())
}

func TestReader_Truncated(t *testing.T) {
	frame, err := AppendFrame(nil, MsgStatus, MarshalStatus(sampleStatus()))
	require.NoError(t, err)
	r := NewReader(bytes.NewReader(frame[:20]))
	_, err = r.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestAppendFrame_Limits(t *testing.T) {
	_, err := AppendFrame(nil, MsgStatus, nil)
	assert.Error(t, err)
	_, err = AppendFrame(nil, MsgStatus, make([]byte, MaxPayload+1))
	assert.Error(t, err)
	f, err := AppendFrame(nil, 9, []byte{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0B, 0xB0, 9, 0, 2, 0, 1, 2}, f)
}

func TestQueue_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var seen []uint64
	sink := EmitterFunc(func(st Status, _ estimator.Snapshot) error {
		<-release
		mu.Lock()
		seen = append(seen, st.Seq)
		mu.Unlock()
		return nil
	})
	q := NewQueue(sink, 2)
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, q.Emit(Status{Seq: i}, estimator.Snapshot{}))
	}
	assert.Equal(t, uint64(3), q.Dropped())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { q.Run(ctx); close(done) }()
	close(release)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, []uint64{1, 2}, seen)
}

func TestMulti_JoinsErrors(t *testing.T) {
	var calls int
	ok := EmitterFunc(func(Status, estimator.Snapshot) error { calls++; return nil })
	bad := EmitterFunc(func(Status, estimator.Snapshot) error { calls++; return errors.New("down") })
	err := Multi{bad, ok}.Emit(Status{}, estimator.Snapshot{})
	assert.EqualError(t, err, "down")
	assert.Equal(t, 2, calls)
}

func TestStatus_JSONReplacesNaN(t *testing.T) {
	st := sampleStatus()
	st.TemperatureC = float32(math.NaN())
	_, err := json.Marshal(st)
	assert.Error(t, err)
	b, err := json.Marshal(st.JSON())
	require.NoError(t, err)
	assert.Contains(t, string(b), `"temperature_c":0`)
}

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { c := make(chan struct{}); close(c); return c }
func (t *fakeToken) Error() error                   { return t.err }

type fakePublisher struct {
	topics   []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload.([]byte))
	return &fakeToken{err: p.err}
}

func TestMQTTEmitter(t *testing.T) {
	pub := &fakePublisher{}
	m := NewMQTTEmitter(pub, "lab/gpsdo")
	require.NoError(t, m.Emit(sampleStatus(), sampleSnapshot()))
	assert.Equal(t, []string{"lab/gpsdo/status", "lab/gpsdo/kf"}, pub.topics)

	var kf KFDebug
	require.NoError(t, json.Unmarshal(pub.payloads[1], &kf))
	assert.Equal(t, uint64(7), kf.Iterations)
	assert.InDelta(t, 0.83, kf.D2, 1e-6)

	pub.err = errors.New("not connected")
	assert.Error(t, m.Emit(sampleStatus(), sampleSnapshot()))
}

func TestMatchPort(t *testing.T) {
	ports := []*enumerator.PortDetails{
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001"},
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "0483", PID: "5740"},
	}
	name, err := matchPort(ports, DefaultVID, DefaultPID)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", name)

	_, err = matchPort(ports, "1234", "5678")
	assert.ErrorIs(t, err, ErrPortNotFound)
}
