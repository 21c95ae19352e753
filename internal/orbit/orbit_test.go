package orbit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/calibration-engine/internal/calib"
)

func entry(orbit, quality int) calib.Entry {
	return calib.Entry{Orbit: orbit, Quality: quality, Handle: int64(orbit)}
}

func TestFindBestNearestGoodRecord(t *testing.T) {
	t.Parallel()

	entries := []calib.Entry{entry(100, 50), entry(102, 80)}
	res := FindBest(entries, 101, Params{MaxRadius: 5, MinQuality: 40, EarlyExit: 70})

	require.True(t, res.Found)
	assert.Equal(t, 102, res.Entry.Orbit)
	assert.Equal(t, 1, res.Delta)
	assert.Equal(t, 2, res.Probes, "stops at +1 once quality reaches the early-exit bar")
}

func TestFindBestAbsentOutsideRadius(t *testing.T) {
	t.Parallel()

	res := FindBest([]calib.Entry{entry(50, 90)}, 100, Params{MaxRadius: 10, MinQuality: 40, EarlyExit: 70})

	assert.False(t, res.Found)
	assert.Equal(t, 21, res.Probes)
}

func TestFindBestDeterministic(t *testing.T) {
	t.Parallel()

	x := NewIndex([]calib.Entry{entry(98, 60), entry(99, 55), entry(103, 65), entry(104, 40)})
	p := Params{MaxRadius: 6, MinQuality: 40, EarlyExit: 90}

	first := x.FindBest(100, p)
	for range 10 {
		assert.Equal(t, first, x.FindBest(100, p))
	}
	assert.Equal(t, 103, first.Entry.Orbit)
}

func TestFindBestTieGoesToMinusOne(t *testing.T) {
	t.Parallel()

	res := FindBest([]calib.Entry{entry(101, 60), entry(99, 60)}, 100,
		Params{MaxRadius: 3, MinQuality: 40, EarlyExit: 70})

	require.True(t, res.Found)
	assert.Equal(t, 99, res.Entry.Orbit)
	assert.Equal(t, -1, res.Delta)
}

func TestFindBestNearerWinsOnEqualQuality(t *testing.T) {
	t.Parallel()

	res := FindBest([]calib.Entry{entry(100, 60), entry(102, 60)}, 100,
		Params{MaxRadius: 3, MinQuality: 40, EarlyExit: 70})

	require.True(t, res.Found)
	assert.Equal(t, 100, res.Entry.Orbit)
}

func TestFindBestRadiusBoundary(t *testing.T) {
	t.Parallel()

	p := Params{MaxRadius: 5, MinQuality: 40, EarlyExit: 70}

	res := FindBest([]calib.Entry{entry(105, 80)}, 100, p)
	require.True(t, res.Found, "|delta| == radius is inside the window")
	assert.Equal(t, 5, res.Delta)

	res = FindBest([]calib.Entry{entry(106, 80)}, 100, p)
	assert.False(t, res.Found, "|delta| == radius+1 is outside the window")

	res = FindBest([]calib.Entry{entry(95, 80)}, 100, p)
	require.True(t, res.Found)
	assert.Equal(t, -5, res.Delta)
}

func TestFindBestEarlyExitLimitsProbes(t *testing.T) {
	t.Parallel()

	entries := []calib.Entry{entry(100, 90), entry(101, 99)}
	res := FindBest(entries, 100, Params{MaxRadius: 50, MinQuality: 40, EarlyExit: 70})

	assert.Equal(t, 100, res.Entry.Orbit)
	assert.Equal(t, 1, res.Probes)
}

func TestFindBestKeepsSearchingBelowEarlyExit(t *testing.T) {
	t.Parallel()

	entries := []calib.Entry{entry(100, 50), entry(97, 60)}
	res := FindBest(entries, 100, Params{MaxRadius: 5, MinQuality: 40, EarlyExit: 70})

	assert.Equal(t, 97, res.Entry.Orbit)
	assert.Equal(t, 11, res.Probes)
}

func TestFindBestRejectsLowQuality(t *testing.T) {
	t.Parallel()

	res := FindBest([]calib.Entry{entry(100, 39)}, 100, Params{MaxRadius: 2, MinQuality: 40, EarlyExit: 70})
	assert.False(t, res.Found)
}

func TestFindBestProvenance(t *testing.T) {
	t.Parallel()

	cons := calib.Entry{Orbit: 101, Quality: 60, Consolidated: true}
	nrt := calib.Entry{Orbit: 100, Quality: 60}
	entries := []calib.Entry{cons, nrt}

	res := FindBest(entries, 100, Params{MaxRadius: 3, MinQuality: 40, EarlyExit: 100, Provenance: Consolidated})
	assert.Equal(t, 101, res.Entry.Orbit)

	res = FindBest(entries, 101, Params{MaxRadius: 3, MinQuality: 40, EarlyExit: 100, Provenance: NearRealTime})
	assert.Equal(t, 100, res.Entry.Orbit)

	res = FindBest(entries, 100, Params{MaxRadius: 3, MinQuality: 40, EarlyExit: 100})
	assert.Equal(t, 100, res.Entry.Orbit)
}

func TestParseProvenance(t *testing.T) {
	t.Parallel()

	p, err := ParseProvenance("CONS")
	require.NoError(t, err)
	assert.Equal(t, Consolidated, p)

	p, err = ParseProvenance("")
	require.NoError(t, err)
	assert.Equal(t, Any, p)

	_, err = ParseProvenance("latest")
	assert.Error(t, err)
}

func TestIndexCounts(t *testing.T) {
	t.Parallel()

	x := NewIndex([]calib.Entry{entry(1, 50), entry(1, 60), entry(2, 50)})
	assert.Equal(t, 3, x.Len())
	assert.Equal(t, 2, x.Orbits())
}
