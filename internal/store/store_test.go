package store_test

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/calibration-engine/internal/calib"
	"github.com/large-farva/calibration-engine/internal/detector"
	"github.com/large-farva/calibration-engine/internal/fixture"
	"github.com/large-farva/calibration-engine/internal/phase"
	"github.com/large-farva/calibration-engine/internal/store"
)

func orbits(entries []calib.Entry) []int {
	out := make([]int, len(entries))
	for i, e := range entries {
		out[i] = e.Orbit
	}
	return out
}

func masked(vec []float64, r detector.Range) []float64 {
	out := append([]float64(nil), vec...)
	detector.Mask(out, r)
	return out
}

func TestOpenMissingStore(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	roots := store.Roots{V1: dir, V2: dir, V3: dir}

	for _, v := range calib.Versions() {
		_, err := store.Open(context.Background(), roots, v, calib.FittedDark)
		require.Error(t, err, v.String())
		assert.ErrorIs(t, err, calib.ErrStoreMissing, v.String())
		assert.ErrorIs(t, err, fs.ErrNotExist, v.String())
	}
}

func TestOpenUnsupported(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	roots := store.Roots{V1: dir, V2: dir, V3: dir}

	_, err := store.Open(context.Background(), roots, calib.V3, calib.Transmission)
	assert.ErrorIs(t, err, calib.ErrUnsupported)

	_, err = store.Open(context.Background(), roots, calib.V1, calib.SimuDark)
	assert.ErrorIs(t, err, calib.ErrUnsupported)

	assert.True(t, store.Supports(calib.V1, calib.OrbitalDark))
	assert.False(t, store.Supports(calib.V2, calib.OrbitalDark))
}

func v1Tree(t *testing.T, codec store.Codec) string {
	t.Helper()
	root := t.TempDir()
	err := fixture.WriteV1(root, []fixture.V1Orbit{
		{
			Orbit: 100, Quality: 50, MaskQuality: 20,
			Records: map[calib.Kind]fixture.Record{
				calib.FittedDark: {Vectors: map[calib.Quantity][]float64{
					calib.AnalogOffset: fixture.Ramp(0, 1),
					calib.DarkCurrent:  fixture.Fill(2),
				}},
				calib.Transmission: {Vectors: map[calib.Quantity][]float64{
					calib.TransmissionFactor: fixture.Fill(0.5),
				}},
			},
		},
		{Orbit: 102, Quality: 80, Consolidated: true},
	}, codec)
	require.NoError(t, err)
	return root
}

func TestV1ReadsCatalogAndRecords(t *testing.T) {
	t.Parallel()
	for _, codec := range []store.Codec{store.Plain, store.Zstd, store.Gzip} {
		t.Run(codec.Name(), func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			root := v1Tree(t, codec)

			dark, err := store.OpenV1(root, calib.FittedDark)
			require.NoError(t, err)
			defer dark.Close()

			entries, err := dark.ListIndex(ctx)
			require.NoError(t, err)
			assert.Equal(t, []int{100, 102}, orbits(entries))
			assert.Equal(t, 80, entries[1].Quality)
			assert.True(t, entries[1].Consolidated)

			set, err := dark.ReadVectors(ctx, entries[0], detector.Full)
			require.NoError(t, err)
			assert.Equal(t, calib.V1, set.Version)
			if diff := cmp.Diff(fixture.Ramp(0, 1), set.Vector(calib.AnalogOffset)); diff != "" {
				t.Errorf("analog offset mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(fixture.Fill(2), set.Vector(calib.DarkCurrent)); diff != "" {
				t.Errorf("dark current mismatch (-want +got):\n%s", diff)
			}

			trans, err := store.OpenV1(root, calib.Transmission)
			require.NoError(t, err)
			tEntries, err := trans.ListIndex(ctx)
			require.NoError(t, err)
			assert.Equal(t, []int{100}, orbits(tEntries))
		})
	}
}

func TestV1ChannelRangeUndoesReversal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := v1Tree(t, store.Plain)

	s, err := store.OpenV1(root, calib.FittedDark)
	require.NoError(t, err)
	entries, err := s.ListIndex(ctx)
	require.NoError(t, err)

	ch2 := detector.PixelRange(2)
	set, err := s.ReadVectors(ctx, entries[0], ch2)
	require.NoError(t, err)

	ao := set.Vector(calib.AnalogOffset)
	assert.Equal(t, float64(ch2.Start), ao[ch2.Start])
	assert.Equal(t, float64(ch2.End), ao[ch2.End])
	assert.Zero(t, ao[ch2.Start-1])
	assert.Zero(t, ao[ch2.End+1])
}

func TestV1TruncatedRecordIsIOError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := v1Tree(t, store.Plain)

	s, err := store.OpenV1(root, calib.FittedDark)
	require.NoError(t, err)
	entries, err := s.ListIndex(ctx)
	require.NoError(t, err)

	path, _ := store.V1RecordPath(root, calib.FittedDark, fixture.V1Orbit{Orbit: 100}.FileName())
	require.NoError(t, os.Truncate(path, 1000))

	_, err = s.ReadVectors(ctx, entries[0], detector.Full)
	assert.ErrorIs(t, err, calib.ErrIO)
	assert.NotErrorIs(t, err, calib.ErrSchema)
}

func TestV1CatalogSizeIsSchemaError(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, store.CatalogFile), make([]byte, 100), 0o644))

	s, err := store.OpenV1(root, calib.FittedDark)
	require.NoError(t, err)
	_, err = s.ListIndex(context.Background())
	assert.ErrorIs(t, err, calib.ErrSchema)
}

func TestV1OrbitalBins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := t.TempDir()

	bins := make([][]float64, store.V1OrbitalBins)
	for i := range bins {
		bins[i] = make([]float64, detector.ChannelSize)
		for p := range bins[i] {
			bins[i][p] = float64(i)
		}
	}
	require.NoError(t, fixture.WriteV1(root, []fixture.V1Orbit{{
		Orbit: 7, Quality: 60,
		Records: map[calib.Kind]fixture.Record{calib.OrbitalDark: {PhaseBins: bins}},
	}}, store.Zstd))

	s, err := store.OpenV1(root, calib.OrbitalDark)
	require.NoError(t, err)
	entries, err := s.ListIndex(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	set, err := s.ReadVectors(ctx, entries[0], detector.Full)
	require.NoError(t, err)
	require.Len(t, set.PhaseBins, store.V1OrbitalBins)

	ch8 := detector.PixelRange(8)
	assert.Equal(t, 5.0, set.PhaseBins[5][ch8.Start])
	assert.Equal(t, 71.0, set.PhaseBins[71][ch8.End])
	assert.Zero(t, set.PhaseBins[5][ch8.Start-1])
}

func TestV2DarkSlicesAndSkipsSAA(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := t.TempDir()

	vecs := map[calib.Quantity][]float64{
		calib.AnalogOffset: fixture.Ramp(1, 0.5),
		calib.MeanNoise:    fixture.Fill(3),
	}
	require.NoError(t, fixture.WriteV2(ctx, root, calib.FittedDark, []fixture.Record{
		{Orbit: 300, Quality: 75, Vectors: vecs},
		{Orbit: 301, Quality: 90, SAA: true, Vectors: vecs},
		{Orbit: 302, Quality: 45, EntryTime: time.Unix(1_100_000_000, 0), Vectors: vecs},
	}))

	s, err := store.OpenV2(ctx, root, calib.FittedDark)
	require.NoError(t, err)
	defer s.Close()

	entries, err := s.ListIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{300, 302}, orbits(entries))
	assert.Equal(t, time.Unix(1_100_000_000, 0).UTC(), entries[1].EntryTime)

	for _, ch := range []int{0, 2, 7} {
		r := detector.PixelRange(ch)
		set, err := s.ReadVectors(ctx, entries[0], r)
		require.NoError(t, err)
		if diff := cmp.Diff(masked(fixture.Ramp(1, 0.5), r), set.Vector(calib.AnalogOffset)); diff != "" {
			t.Errorf("channel %d analog offset mismatch (-want +got):\n%s", ch, diff)
		}
		if diff := cmp.Diff(masked(fixture.Fill(3), r), set.Vector(calib.MeanNoise)); diff != "" {
			t.Errorf("channel %d mean noise mismatch (-want +got):\n%s", ch, diff)
		}
		assert.True(t, set.Has(calib.ChiSquare))
	}
}

func TestV2SimuDarkHarmonic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := t.TempDir()

	h := phase.Harmonic{PhaseOffset: 0.25, Phase2Offset: 0.5, Amplitude2: 0.125, Amplitude2Error: 0.0625}
	require.NoError(t, fixture.WriteV2(ctx, root, calib.SimuDark, []fixture.Record{{
		Orbit: 500, Quality: 70,
		Vectors: map[calib.Quantity][]float64{
			calib.DarkCurrent: fixture.Fill(4),
			calib.Amplitude:   fixture.Fill(0.5),
		},
		Harmonic: h,
	}}))

	s, err := store.OpenV2(ctx, root, calib.SimuDark)
	require.NoError(t, err)
	defer s.Close()

	entries, err := s.ListIndex(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	set, err := s.ReadVectors(ctx, entries[0], detector.Full)
	require.NoError(t, err)
	require.NotNil(t, set.Harmonic)
	assert.Equal(t, h, *set.Harmonic)

	ch8 := detector.PixelRange(8)
	lc := set.Vector(calib.DarkCurrent)
	assert.Equal(t, 4.0, lc[ch8.Start])
	assert.Zero(t, lc[ch8.Start-1], "only channel 8 is stored")
	assert.Equal(t, 0.5, set.Vector(calib.Amplitude)[ch8.End])

	// A channel-1 request touches none of the stored pixels.
	set, err = s.ReadVectors(ctx, entries[0], detector.PixelRange(1))
	require.NoError(t, err)
	assert.Equal(t, make([]float64, detector.Pixels), set.Vector(calib.DarkCurrent))
}

func TestV2SharedContainer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := t.TempDir()

	require.NoError(t, fixture.WriteV2(ctx, root, calib.Transmission, []fixture.Record{
		{Orbit: 10, Quality: 50}, {Orbit: 11, Quality: 50},
	}))
	require.NoError(t, fixture.WriteV2(ctx, root, calib.WlsTransmission, []fixture.Record{
		{Orbit: 40, Quality: 50},
	}))

	trans, err := store.OpenV2(ctx, root, calib.Transmission)
	require.NoError(t, err)
	defer trans.Close()
	wls, err := store.OpenV2(ctx, root, calib.WlsTransmission)
	require.NoError(t, err)
	defer wls.Close()

	e, err := trans.ListIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 11}, orbits(e))

	e, err = wls.ListIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{40}, orbits(e))
}

func TestV2MissingTablesIsSchemaError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := t.TempDir()
	g, _ := store.V2GroupFor(calib.PixelGain)
	require.NoError(t, os.WriteFile(filepath.Join(root, g.File), nil, 0o644))

	_, err := store.OpenV2(ctx, root, calib.PixelGain)
	assert.ErrorIs(t, err, calib.ErrSchema)
}

func TestV3DuplicateOrbitsResolveByQualityThenTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := t.TempDir()

	base := time.Date(2010, 3, 1, 0, 0, 0, 0, time.UTC)
	rec := func(orbit, q int, at time.Time, ao float64) fixture.Record {
		return fixture.Record{
			Orbit: orbit, Quality: q, EntryTime: at,
			Vectors: map[calib.Quantity][]float64{calib.AnalogOffset: fixture.Fill(ao)},
		}
	}
	require.NoError(t, fixture.WriteV3(root, calib.FittedDark, []fixture.Record{
		rec(200, 50, base, 1),
		rec(200, 60, base, 2),
		rec(201, 40, base, 9),
	}))
	require.NoError(t, fixture.WriteV3(root, calib.FittedDark, []fixture.Record{
		rec(200, 60, base.Add(time.Hour), 3),
		rec(200, 55, base.Add(2*time.Hour), 4),
		{Orbit: 202, Quality: 99, SAA: true},
	}))

	s, err := store.OpenV3(root, calib.FittedDark)
	require.NoError(t, err)
	defer s.Close()

	entries, err := s.ListIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{200, 201}, orbits(entries))
	assert.Equal(t, 60, entries[0].Quality)
	assert.Equal(t, base.Add(time.Hour), entries[0].EntryTime)

	set, err := s.ReadVectors(ctx, entries[0], detector.Full)
	require.NoError(t, err)
	assert.Equal(t, 3.0, set.Vector(calib.AnalogOffset)[0])
}

func v3Single(t *testing.T) (root, pkt string) {
	t.Helper()
	root = t.TempDir()
	require.NoError(t, fixture.WriteV3(root, calib.FittedDark, []fixture.Record{{
		Orbit: 9, Quality: 80,
		Vectors: map[calib.Quantity][]float64{calib.DarkCurrent: fixture.Ramp(0, 0.25)},
	}}))
	pkt, _, _ = store.V3Files(root, calib.FittedDark)
	return root, pkt
}

func TestV3ChecksumMismatchIsSchemaError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root, pkt := v3Single(t)

	b, err := os.ReadFile(pkt)
	require.NoError(t, err)
	b[store.PacketHeaderSize+100] ^= 0xff
	require.NoError(t, os.WriteFile(pkt, b, 0o644))

	s, err := store.OpenV3(root, calib.FittedDark)
	require.NoError(t, err)
	defer s.Close()
	entries, err := s.ListIndex(ctx)
	require.NoError(t, err)

	_, err = s.ReadVectors(ctx, entries[0], detector.Full)
	assert.ErrorIs(t, err, calib.ErrSchema)
}

func TestV3TruncatedPacketIsIOError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root, pkt := v3Single(t)
	require.NoError(t, os.Truncate(pkt, store.PacketHeaderSize+4096))

	s, err := store.OpenV3(root, calib.FittedDark)
	require.NoError(t, err)
	defer s.Close()
	entries, err := s.ListIndex(ctx)
	require.NoError(t, err)

	_, err = s.ReadVectors(ctx, entries[0], detector.Full)
	assert.ErrorIs(t, err, calib.ErrIO)
}

func TestV3RoundTripsChannelTwo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root, _ := v3Single(t)

	s, err := store.OpenV3(root, calib.FittedDark)
	require.NoError(t, err)
	defer s.Close()
	entries, err := s.ListIndex(ctx)
	require.NoError(t, err)

	set, err := s.ReadVectors(ctx, entries[0], detector.Full)
	require.NoError(t, err)
	if diff := cmp.Diff(fixture.Ramp(0, 0.25), set.Vector(calib.DarkCurrent)); diff != "" {
		t.Errorf("dark current mismatch (-want +got):\n%s", diff)
	}
}
