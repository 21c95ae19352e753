package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPixelRange(t *testing.T) {
	t.Parallel()

	cases := []struct {
		channel int
		want    Range
	}{
		{0, Range{0, 8191}},
		{1, Range{0, 1023}},
		{2, Range{1024, 2047}},
		{8, Range{7168, 8191}},
	}
	for _, tc := range cases {
		got := PixelRange(tc.channel)
		assert.Equal(t, tc.want, got, "channel %d", tc.channel)
	}
	assert.Equal(t, 1024, PixelRange(5).Len())
}

func TestPixelRangeRejectsBadChannel(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { PixelRange(9) })
	assert.Panics(t, func() { PixelRange(-1) })
}

func TestChannelOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, ChannelOf(0))
	assert.Equal(t, 2, ChannelOf(1024))
	assert.Equal(t, 8, ChannelOf(Pixels-1))
	assert.Panics(t, func() { ChannelOf(Pixels) })
}

func TestReverseChannelTwoRoundTrip(t *testing.T) {
	t.Parallel()

	buf := make([]float64, Pixels)
	for i := range buf {
		buf[i] = float64(i)
	}

	ReverseChannelTwo(buf)
	assert.Equal(t, 2047.0, buf[1024])
	assert.Equal(t, 1024.0, buf[2047])
	assert.Equal(t, 1023.0, buf[1023], "channel 1 untouched")
	assert.Equal(t, 2048.0, buf[2048], "channel 3 untouched")

	ReverseChannelTwo(buf)
	for i := range buf {
		require.Equal(t, float64(i), buf[i], "pixel %d", i)
	}
}

func TestReverseChannelRejectsShortBuffer(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { ReverseChannelTwo(make([]float64, 100)) })
}

func TestMask(t *testing.T) {
	t.Parallel()

	buf := []float64{1, 2, 3, 4, 5}
	Mask(buf, Range{1, 3})
	assert.Equal(t, []float64{0, 2, 3, 4, 0}, buf)
}

func TestIsInfrared(t *testing.T) {
	t.Parallel()

	assert.False(t, IsInfrared(5))
	assert.True(t, IsInfrared(6))
	assert.True(t, IsInfrared(8))
}
