package apply

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/calibration-engine/internal/detector"
)

func full(v float64) []float64 {
	out := make([]float64, detector.Pixels)
	for i := range out {
		out[i] = v
	}
	return out
}

// readout returns a channel-ch readout of the first len(rows[0]) pixels.
func readout(ch int, coadd int, rows ...[]float64) *Readout {
	start := detector.PixelRange(ch).Start
	r := &Readout{Channel: ch, Coadd: coadd, NumObs: len(rows), PET: 1, StateID: 1}
	for col := range rows[0] {
		r.PixelIDs = append(r.PixelIDs, start+col)
	}
	for _, row := range rows {
		r.Signal = append(r.Signal, row...)
		r.IntegrationTime = append(r.IntegrationTime, 1)
	}
	return r
}

func linearTable(n int, step float64) []float64 {
	t := make([]float64, n)
	for i := range t {
		t[i] = float64(i) * step
	}
	return t
}

func TestDarkWithZeroVectorsIsIdentity(t *testing.T) {
	t.Parallel()
	r := readout(3, 4, []float64{10, 20, 30}, []float64{-1, 0, 1e6})
	want := append([]float64(nil), r.Signal...)

	Dark(r, make([]float64, detector.Pixels), make([]float64, detector.Pixels))
	assert.Equal(t, want, r.Signal)
}

func TestDarkSubtractsOffsetAndCurrent(t *testing.T) {
	t.Parallel()
	r := readout(7, 2, []float64{100, 100}, []float64{100, 100})
	r.IntegrationTime = []float64{1, 4}

	Dark(r, full(2), full(0.5))
	assert.Equal(t, []float64{95.5, 95.5, 94, 94}, r.Signal)
}

func TestSetupTimes(t *testing.T) {
	t.Parallel()
	cases := map[int]float64{
		1:  421.875,
		16: 1269.53125,
		48: 1269.53125,
		59: 519.53125,
		61: 1269.53125,
		65: 335.9375,
		69: 519.53125,
		70: 1269.53125,
	}
	for id, want := range cases {
		got, ok := SetupTime(id)
		require.True(t, ok, "state %d", id)
		assert.Equal(t, want, got, "state %d", id)
	}
	_, ok := SetupTime(0)
	assert.False(t, ok)
	_, ok = SetupTime(71)
	assert.False(t, ok)
}

func TestMemoryResetUsesSetupTime(t *testing.T) {
	t.Parallel()
	table := linearTable(1000, 0.01)

	// State 16 has a setup time of 1269.53125 ms; with that PET the scale
	// is exactly one, so the reset carry is table[first signal].
	r := readout(1, 1, []float64{200, 300}, []float64{250, 100})
	r.StateID = 16
	r.PET = 1.26953125

	carry := MemoryEffect(r, table, nil)
	assert.InDeltaSlice(t, []float64{198, 297, 248, 97}, r.Signal, 1e-9)
	assert.InDeltaSlice(t, []float64{2.5, 1}, carry, 1e-9)

	// The same readout under state 1 (421.875 ms) resets from a third of
	// the signal instead.
	r = readout(1, 1, []float64{200, 300}, []float64{250, 100})
	r.StateID = 1
	r.PET = 1.26953125
	MemoryEffect(r, table, nil)
	// scale = 421.875/1269.53125; round(200*scale) = 66, round(300*scale) = 100
	assert.InDelta(t, 200-0.66, r.Signal[0], 1e-9)
	assert.InDelta(t, 300-1.0, r.Signal[1], 1e-9)
}

func TestMemoryEffectContinuesGivenCarry(t *testing.T) {
	t.Parallel()
	table := linearTable(1000, 0.01)
	r := readout(2, 1, []float64{200})
	r.StateID = 99 // no setup time needed when a carry is passed in

	carry := MemoryEffect(r, table, Carry{5})
	assert.Equal(t, []float64{195}, r.Signal)
	assert.InDeltaSlice(t, []float64{2}, carry, 1e-9)
}

func TestMemoryEffectCoadd(t *testing.T) {
	t.Parallel()
	table := linearTable(1000, 0.01)
	r := readout(4, 3, []float64{300})

	MemoryEffect(r, table, Carry{1})
	// n = round(300/3) = 100; 300 - 1 - 2*table[100]
	assert.InDelta(t, 297.0, r.Signal[0], 1e-9)
}

func TestMemoryEffectScanReset(t *testing.T) {
	t.Parallel()
	table := linearTable(1000, 0.01)
	r := readout(5, 1, []float64{500}, []float64{420}, []float64{100})
	r.ScanStart = []bool{false, true, false}

	MemoryEffect(r, table, Carry{0})
	// Observation 1 restarts from the last (dark) readout:
	// 100 + 3/16*(420-100) = 160.
	assert.InDelta(t, 500.0, r.Signal[0], 1e-9)
	assert.InDelta(t, 420-1.6, r.Signal[1], 1e-9)
	assert.InDelta(t, 100-4.2, r.Signal[2], 1e-9)
}

func TestMemoryEffectRejectsInfrared(t *testing.T) {
	t.Parallel()
	r := readout(6, 1, []float64{1})
	assert.Panics(t, func() { MemoryEffect(r, linearTable(10, 1), Carry{0}) })
}

func TestNonLinearity(t *testing.T) {
	t.Parallel()
	curves := make([]int, detector.Pixels)
	start := detector.PixelRange(8).Start
	curves[start+1] = 1
	matrix := [][]float64{linearTable(100, 0), linearTable(100, 0.5)}

	r := readout(8, 2, []float64{40, 40})
	NonLinearity(r, curves, matrix)
	// Second pixel uses curve 1 at round(40/2)=20: 40 - 2*10.
	assert.Equal(t, []float64{40, 20}, r.Signal)
}

func TestShotNoiseAndDarkError(t *testing.T) {
	t.Parallel()
	r := readout(6, 2, []float64{1010})
	r.IntegrationTime = []float64{2}

	ShotNoise(r, full(5), full(3), 10)
	// |1010 - 2*5|/10 + 2*3² = 118
	require.Len(t, r.Error, 1)
	assert.InDelta(t, 118.0, r.Error[0], 1e-9)

	DarkError(r, full(0.5), full(1))
	// 118 + (2*0.5)² + (2*1)² = 123
	assert.InDelta(t, math.Sqrt(123), r.Error[0], 1e-9)
}

func TestDarkErrorNeedsShotNoise(t *testing.T) {
	t.Parallel()
	r := readout(1, 1, []float64{1})
	assert.Panics(t, func() { DarkError(r, full(0), full(0)) })
}

func TestPixelGain(t *testing.T) {
	t.Parallel()
	gain := full(2)
	start := detector.PixelRange(3).Start
	gain[start+1] = 1e-4

	r := readout(3, 1, []float64{10, 10})
	r.Error = []float64{3, 3}
	PixelGain(r, gain, 0.4)

	assert.Equal(t, []float64{5, 0}, r.Signal)
	assert.InDeltaSlice(t, []float64{5, 5}, r.Error, 1e-9)
}

func TestTransmissionDividesByMedian(t *testing.T) {
	t.Parallel()
	trans := full(math.NaN())
	rng := detector.Range{Start: 10, End: 14}
	copy(trans[10:], []float64{4, 1, math.NaN(), 2, 3})

	r := readout(1, 1, []float64{8, 6})
	median, ok := Transmission(r, trans, rng)
	require.True(t, ok)
	// Lower median of {1, 2, 3, 4}.
	assert.Equal(t, 2.0, median)
	assert.Equal(t, []float64{4, 3}, r.Signal)

	_, ok = Transmission(r, full(math.NaN()), rng)
	assert.False(t, ok)
	assert.Equal(t, []float64{4, 3}, r.Signal)
}

func TestMaskBadPixels(t *testing.T) {
	t.Parallel()
	mask := make([]float64, detector.Pixels)
	start := detector.PixelRange(2).Start
	mask[start] = 1

	r := readout(2, 1, []float64{1, 2}, []float64{3, 4})
	MaskBadPixels(r, mask)
	assert.True(t, math.IsNaN(r.Signal[0]))
	assert.True(t, math.IsNaN(r.Signal[2]))
	assert.Equal(t, 2.0, r.Signal[1])
	assert.Equal(t, 4.0, r.Signal[3])
}

func TestContractViolationsPanic(t *testing.T) {
	t.Parallel()
	zero := make([]float64, detector.Pixels)

	short := readout(1, 1, []float64{1, 2})
	short.Signal = short.Signal[:1]
	assert.Panics(t, func() { Dark(short, zero, zero) })

	assert.Panics(t, func() { Dark(readout(1, 1, []float64{1}), zero[:10], zero) })

	wrongChannel := readout(1, 1, []float64{1})
	wrongChannel.Channel = 2
	assert.Panics(t, func() { MaskBadPixels(wrongChannel, zero) })

	badChannel := readout(1, 1, []float64{1})
	badChannel.Channel = 9
	assert.Panics(t, func() { MaskBadPixels(badChannel, zero) })
}
