package export

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/calibration-engine/internal/calib"
	"github.com/large-farva/calibration-engine/internal/detector"
)

func channelSet(t *testing.T) *calib.VectorSet {
	t.Helper()
	set := calib.NewVectorSet(calib.FittedDark, calib.V2,
		calib.Entry{Orbit: 4242, Quality: 77}, detector.PixelRange(3))
	ao := make([]float64, detector.Pixels)
	lc := make([]float64, detector.Pixels)
	for i := range ao {
		ao[i] = float64(i)
		lc[i] = 0.5
	}
	set.Set(calib.AnalogOffset, ao)
	set.Set(calib.DarkCurrent, lc)
	return set
}

func TestRowsCoverRange(t *testing.T) {
	rows := Rows(channelSet(t))
	require.Len(t, rows, detector.ChannelSize)

	first := rows[0]
	assert.Equal(t, int32(2*detector.ChannelSize), first.Pixel)
	assert.Equal(t, int32(3), first.Channel)
	assert.Equal(t, "fitted-dark", first.Kind)
	assert.Equal(t, "v2", first.Version)
	require.NotNil(t, first.AnalogOffset)
	assert.Equal(t, float64(2*detector.ChannelSize), *first.AnalogOffset)
	assert.Nil(t, first.MeanNoise, "quantities the record lacks stay null")
}

func TestParquetRoundTrip(t *testing.T) {
	set := channelSet(t)

	var buf bytes.Buffer
	require.NoError(t, WriteParquet(&buf, set))

	got, err := ReadParquet(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	assert.Equal(t, set.Kind, got.Kind)
	assert.Equal(t, set.Version, got.Version)
	assert.Equal(t, set.Range, got.Range)
	assert.Equal(t, 4242, got.Entry.Orbit)
	assert.Equal(t, 77, got.Entry.Quality)
	if diff := cmp.Diff(set.Vectors, got.Vectors); diff != "" {
		t.Fatalf("vectors differ (-want +got):\n%s", diff)
	}
}

func TestReadParquetRejectsEmptyTable(t *testing.T) {
	set := calib.NewVectorSet(calib.PixelGain, calib.V1, calib.Entry{}, detector.Range{Start: 5, End: 4})
	var buf bytes.Buffer
	require.NoError(t, WriteParquet(&buf, set))

	_, err := ReadParquet(bytes.NewReader(buf.Bytes()))
	assert.Error(t, err)
}

func TestReadParquetKeepsEveryBatch(t *testing.T) {
	set := calib.NewVectorSet(calib.Transmission, calib.V1, calib.Entry{Orbit: 9}, detector.Full)
	trans := make([]float64, detector.Pixels)
	for i := range trans {
		trans[i] = float64(i)
	}
	set.Set(calib.TransmissionFactor, trans)

	var buf bytes.Buffer
	require.NoError(t, WriteParquet(&buf, set))
	got, err := ReadParquet(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	assert.Equal(t, detector.Full, got.Range)
	vec := got.Vector(calib.TransmissionFactor)
	for _, p := range []int{0, 511, 512, 2048, 2500, detector.Pixels - 1} {
		assert.Equal(t, float64(p), vec[p], "pixel %d", p)
	}
}
