package analysis

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiwa/timecard-mini/gpsdo/internal/estimator"
)

func TestOctaveFactors(t *testing.T) {
	assert.Equal(t, []int{1, 2, 4}, OctaveFactors(10))
	assert.Empty(t, OctaveFactors(2))
}

func TestOverlappingADev_ConstantFrequencyIsZero(t *testing.T) {
	y := make([]float64, 100)
	for i := range y {
		y[i] = 3e-8
	}
	pts, err := OverlappingADev(y, 1, nil)
	require.NoError(t, err)
	for _, p := range pts {
		assert.InDelta(t, 0, p.ADev, 1e-20)
	}
}

func TestOverlappingADev_WhiteFM(t *testing.T) {
	// Белый шум частоты: σ_y(τ) ≈ σ/√τ.
	rng := rand.New(rand.NewPCG(7, 7))
	const sigma = 1e-9
	y := make([]float64, 20000)
	for i := range y {
		y[i] = rng.NormFloat64() * sigma
	}
	pts, err := OverlappingADev(y, 1, []int{1, 16})
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.InEpsilon(t, sigma, pts[0].ADev, 0.05)
	assert.InEpsilon(t, sigma/4, pts[1].ADev, 0.15)
	assert.Equal(t, 16.0, pts[1].Tau)
}

func TestOverlappingADev_TooShort(t *testing.T) {
	_, err := OverlappingADev([]float64{1}, 1, nil)
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestFitAging(t *testing.T) {
	ts := make([]float64, 50)
	vs := make([]float64, 50)
	for i := range ts {
		ts[i] = float64(i)
		vs[i] = 0.5 + 2e-3*float64(i)
	}
	f, err := FitAging(ts, vs)
	require.NoError(t, err)
	assert.InDelta(t, 2e-3, f.Slope, 1e-12)
	assert.InDelta(t, 0.5, f.Offset, 1e-12)
	assert.InDelta(t, 1, f.R2, 1e-9)

	_, err = FitAging(ts[:1], vs[:1])
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestLinReg_Window(t *testing.T) {
	l := NewLinReg(8)
	var slope float64
	var ok bool
	for i := 0; i < 7; i++ {
		_, ok = l.Update(float64(i), 3*float64(i))
		assert.False(t, ok)
	}
	slope, ok = l.Update(7, 21)
	require.True(t, ok)
	assert.InDelta(t, 3, slope, 1e-12)

	// Окно сдвигается: новые точки с другим наклоном вытесняют старые.
	for i := 8; i < 16; i++ {
		slope, ok = l.Update(float64(i), -float64(i))
	}
	assert.True(t, ok)
	assert.InDelta(t, -1, slope, 1e-12)

	l.Reset()
	_, ok = l.Update(0, 0)
	assert.False(t, ok)
}

func TestReplay(t *testing.T) {
	raw := []uint32{math.MaxUint32 - 10}
	for i := 0; i < 40; i++ {
		raw = append(raw, raw[len(raw)-1]+625000)
	}
	raw = append(raw, raw[len(raw)-1]+626000)

	est, err := Replay(estimator.DefaultConfig(), raw, nil)
	require.NoError(t, err)
	require.Len(t, est, 41)
	assert.Equal(t, uint32(625000), est[0].Delta, "дельта через переполнение")
	assert.False(t, est[39].Rejected)
	assert.True(t, est[40].Rejected)

	_, err = Replay(estimator.DefaultConfig(), raw[:1], nil)
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestFractionalFrequency(t *testing.T) {
	y := FractionalFrequency([]uint32{625000, 625001}, 625000)
	assert.Equal(t, 0.0, y[0])
	assert.InDelta(t, 1.6e-6, y[1], 1e-15)
}
