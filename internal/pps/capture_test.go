package pps

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiwa/timecard-mini/gpsdo/internal/counter"
)

// seqCounter отдаёт заданные значения по очереди; nil в errs — успешное чтение.
type seqCounter struct {
	values []uint32
	errs   []error
	i      int
}

func (s *seqCounter) Read() (uint32, error) {
	i := s.i
	s.i++
	if i < len(s.errs) && s.errs[i] != nil {
		return 0, s.errs[i]
	}
	return s.values[i], nil
}

func TestCapture_FirstEdgeOnlySeeds(t *testing.T) {
	c, err := NewCapture(&seqCounter{values: []uint32{100}}, 625000)
	require.NoError(t, err)

	c.OnEdge()
	_, ok := c.box.TryReceive()
	assert.False(t, ok, "первый фронт не даёт дельты")
	assert.Equal(t, Stats{Edges: 1}, c.Stats())
}

func TestCapture_DeltaAcrossWrap(t *testing.T) {
	c, err := NewCapture(&seqCounter{values: []uint32{0xFFFFFFF0, 0x00000005}}, 625000)
	require.NoError(t, err)

	c.OnEdge()
	c.OnEdge()
	e, ok := c.box.TryReceive()
	require.True(t, ok)
	assert.Equal(t, uint32(0x15), e.Delta)
	assert.Equal(t, uint32(5), e.Raw)
	assert.Equal(t, uint64(2), e.Seq)
}

func TestCapture_ResetReseeds(t *testing.T) {
	c, err := NewCapture(&seqCounter{values: []uint32{0, 625000, 5000000, 5625001}}, 625000)
	require.NoError(t, err)

	c.OnEdge()
	c.OnEdge()
	_, ok := c.box.TryReceive()
	require.True(t, ok)

	c.Reset()
	c.OnEdge() // только запоминает 5000000
	_, ok = c.box.TryReceive()
	assert.False(t, ok)

	c.OnEdge()
	e, ok := c.box.TryReceive()
	require.True(t, ok)
	assert.Equal(t, uint32(625001), e.Delta)
}

func TestCapture_ResetDropsPendingDelta(t *testing.T) {
	c, err := NewCapture(&seqCounter{values: []uint32{0, 625000, 9000000, 9625000}}, 625000)
	require.NoError(t, err)

	c.OnEdge()
	c.OnEdge() // дельта 625000 ждёт в ящике
	c.Reset()
	_, ok := c.box.TryReceive()
	assert.False(t, ok, "дельта до сброса не доходит до цикла")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = c.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	c.OnEdge()
	c.OnEdge()
	e, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(625000), e.Delta)
	assert.Equal(t, uint64(4), e.Seq)
}

func TestCapture_LastWriterWins(t *testing.T) {
	c, err := NewCapture(&seqCounter{values: []uint32{0, 625000, 1250003}}, 625000)
	require.NoError(t, err)

	c.OnEdge()
	c.OnEdge() // дельта 625000, не прочитана
	c.OnEdge() // дельта 625003 вытесняет её

	e, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(625003), e.Delta)
	_, ok := c.box.TryReceive()
	assert.False(t, ok)

	st := c.Stats()
	assert.Equal(t, uint64(3), st.Edges)
	assert.Equal(t, uint64(2), st.Deltas)
	assert.Equal(t, uint64(1), st.Overruns)
}

func TestCapture_IncoherentReadSkipsEdge(t *testing.T) {
	src := &seqCounter{
		values: []uint32{1000, 0, 1000 + 2*625000},
		errs:   []error{nil, counter.ErrIncoherent, nil},
	}
	c, err := NewCapture(src, 625000)
	require.NoError(t, err)

	c.OnEdge()
	c.OnEdge() // пропущен
	_, ok := c.box.TryReceive()
	assert.False(t, ok)

	c.OnEdge()
	e, ok := c.box.TryReceive()
	require.True(t, ok)
	assert.Equal(t, uint32(2*625000), e.Delta, "дельта охватывает пропущенный фронт")
	assert.Equal(t, uint64(1), c.Stats().Incoherent)
}

func TestNewCapture_RejectsAmbiguousPeriod(t *testing.T) {
	_, err := NewCapture(&seqCounter{}, 0)
	assert.Error(t, err)
	_, err = NewCapture(&seqCounter{}, 1<<31)
	assert.Error(t, err)
}

func TestCapture_WaitCancelled(t *testing.T) {
	c, err := NewCapture(&seqCounter{}, 625000)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = c.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
