package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/large-farva/calibration-engine/internal/calib"
	"github.com/large-farva/calibration-engine/internal/detector"
	"github.com/large-farva/calibration-engine/internal/phase"
)

// V2Schema creates the tables of a V2 container. Datasets hold
// little-endian float32 vectors, one row per record.
const V2Schema = `
CREATE TABLE IF NOT EXISTS meta_table (
	grp          TEXT    NOT NULL,
	row          INTEGER NOT NULL,
	orbit        INTEGER NOT NULL,
	quality      INTEGER NOT NULL,
	saa          INTEGER NOT NULL DEFAULT 0,
	consolidated INTEGER NOT NULL DEFAULT 1,
	entry_time   INTEGER NOT NULL DEFAULT 0,
	phase_offset REAL    NOT NULL DEFAULT 0,
	phase2       REAL    NOT NULL DEFAULT 0,
	amp2         REAL    NOT NULL DEFAULT 0,
	sig_amp2     REAL    NOT NULL DEFAULT 0,
	PRIMARY KEY (grp, row)
);
CREATE TABLE IF NOT EXISTS meta_index (
	grp   TEXT    NOT NULL,
	orbit INTEGER NOT NULL,
	row   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS meta_index_orbit ON meta_index (grp, orbit);
CREATE TABLE IF NOT EXISTS datasets (
	grp    TEXT    NOT NULL,
	name   TEXT    NOT NULL,
	row    INTEGER NOT NULL,
	length INTEGER NOT NULL,
	data   BLOB    NOT NULL,
	PRIMARY KEY (grp, name, row)
);`

// V2Dataset maps a stored dataset name to the quantity it holds.
type V2Dataset struct {
	Name     string
	Quantity calib.Quantity
}

// V2Group describes where a kind lives inside the V2 tree. Base and Width
// give the physical pixels the datasets cover.
type V2Group struct {
	File     string
	Group    string
	Datasets []V2Dataset
	Base     int
	Width    int
	Harmonic bool
}

var darkDatasets = []V2Dataset{
	{"ao", calib.AnalogOffset},
	{"lc", calib.DarkCurrent},
	{"sig_ao", calib.AnalogOffsetError},
	{"sig_lc", calib.DarkCurrentError},
}

var v2Groups = map[calib.Kind]V2Group{
	calib.FittedDark: {
		File: "sdmf_dark.db", Group: "dark", Width: detector.Pixels,
		Datasets: slices.Concat(darkDatasets, []V2Dataset{
			{"mean_noise", calib.MeanNoise},
			{"chi_sq", calib.ChiSquare},
		}),
	},
	calib.SimuDark: {
		File: "sdmf_simudark.db", Group: "ch8", Harmonic: true,
		Base: detector.PixelRange(detector.Channels).Start, Width: detector.ChannelSize,
		Datasets: slices.Concat(darkDatasets, []V2Dataset{
			{"amp1", calib.Amplitude},
			{"sig_amp1", calib.AmplitudeError},
		}),
	},
	calib.Transmission: {
		File: "sdmf_transmission.db", Group: "transmission", Width: detector.Pixels,
		Datasets: []V2Dataset{{"transmission", calib.TransmissionFactor}},
	},
	calib.WlsTransmission: {
		File: "sdmf_transmission.db", Group: "wls_transmission", Width: detector.Pixels,
		Datasets: []V2Dataset{{"transmission", calib.TransmissionFactor}},
	},
	calib.SunMeanReference: {
		File: "sdmf_smr.db", Group: "smr", Width: detector.Pixels,
		Datasets: []V2Dataset{{"smr", calib.SunReference}},
	},
	calib.PixelGain: {
		File: "sdmf_ppg.db", Group: "ppg", Width: detector.Pixels,
		Datasets: []V2Dataset{{"ppg", calib.GainFactor}},
	},
	calib.BadPixelMask: {
		File: "sdmf_pixelmask.db", Group: "smooth_mask", Width: detector.Pixels,
		Datasets: []V2Dataset{{"mask", calib.PixelMask}},
	},
}

// V2GroupFor returns the container layout of kind k.
func V2GroupFor(k calib.Kind) (V2Group, bool) {
	g, ok := v2Groups[k]
	return g, ok
}

func (g V2Group) span() detector.Range {
	return detector.Range{Start: g.Base, End: g.Base + g.Width - 1}
}

// V2 reads one group of a tabular container backed by SQLite.
type V2 struct {
	path  string
	kind  calib.Kind
	group V2Group
	db    *sql.DB

	once    sync.Once
	entries []calib.Entry
	err     error
}

// OpenV2 opens the container read-only and checks its tables.
func OpenV2(ctx context.Context, root string, k calib.Kind) (*V2, error) {
	g, ok := v2Groups[k]
	if !ok {
		return nil, fmt.Errorf("v2 %s: %w", k, calib.ErrUnsupported)
	}
	path := filepath.Join(root, g.File)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, calib.MissingError(path)
		}
		return nil, calib.IOError(path, "stat", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=query_only(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, calib.IOError(path, "open", err)
	}

	var tables int
	err = db.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master
		WHERE type = 'table' AND name IN ('meta_table', 'meta_index', 'datasets')`).Scan(&tables)
	if err != nil {
		_ = db.Close()
		return nil, calib.IOError(path, "open", err)
	}
	if tables != 3 {
		_ = db.Close()
		return nil, calib.SchemaError(path, "open", "found %d of 3 required tables", tables)
	}
	return &V2{path: path, kind: k, group: g, db: db}, nil
}

func (s *V2) Version() calib.Version { return calib.V2 }
func (s *V2) Kind() calib.Kind       { return s.kind }
func (s *V2) Path() string           { return s.path }
func (s *V2) Close() error           { return s.db.Close() }

// ListIndex joins the orbit index with the meta table. Rows flagged as
// taken inside the South Atlantic Anomaly are never selectable.
func (s *V2) ListIndex(ctx context.Context) ([]calib.Entry, error) {
	s.once.Do(func() {
		s.entries, s.err = s.listIndex(ctx)
	})
	return s.entries, s.err
}

func (s *V2) listIndex(ctx context.Context) ([]calib.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.row, t.orbit, t.quality, t.saa, t.consolidated, t.entry_time
		FROM meta_index i
		JOIN meta_table t ON t.grp = i.grp AND t.row = i.row
		WHERE i.grp = ?
		ORDER BY i.orbit, t.row`, s.group.Group)
	if err != nil {
		return nil, calib.IOError(s.path, "list index", err)
	}
	defer rows.Close()

	var out []calib.Entry
	for rows.Next() {
		var (
			e         calib.Entry
			saa, cons int
			entryTime int64
		)
		if err := rows.Scan(&e.Handle, &e.Orbit, &e.Quality, &saa, &cons, &entryTime); err != nil {
			return nil, calib.SchemaError(s.path, "list index", "%v", err)
		}
		if saa != 0 {
			continue
		}
		e.Consolidated = cons != 0
		if entryTime > 0 {
			e.EntryTime = time.Unix(entryTime, 0).UTC()
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, calib.IOError(s.path, "list index", err)
	}
	return out, nil
}

// ReadVectors slices every dataset of the row behind e to the pixels of r.
func (s *V2) ReadVectors(ctx context.Context, e calib.Entry, r detector.Range) (*calib.VectorSet, error) {
	set := calib.NewVectorSet(s.kind, calib.V2, e, r)

	span := s.group.span()
	want := storageSpan(r)
	lo, hi := max(want.Start, span.Start), min(want.End, span.End)

	for _, ds := range s.group.Datasets {
		vec := make([]float64, detector.Pixels)
		if lo <= hi {
			vals, err := s.readSlice(ctx, ds.Name, e.Handle, lo-span.Start, hi-lo+1)
			if err != nil {
				return nil, err
			}
			copy(vec[lo:], vals)
		}
		set.Set(ds.Quantity, toPhysical(vec))
	}

	if s.group.Harmonic {
		h, err := s.readHarmonic(ctx, e.Handle)
		if err != nil {
			return nil, err
		}
		set.Harmonic = h
	}
	return set, nil
}

func (s *V2) readSlice(ctx context.Context, name string, row int64, offset, n int) ([]float64, error) {
	var (
		length int
		blob   []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT length, substr(data, ?, ?)
		FROM datasets
		WHERE grp = ? AND name = ? AND row = ?`,
		offset*4+1, n*4, s.group.Group, name, row).Scan(&length, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, calib.IOError(s.path, "read "+name, fmt.Errorf("no dataset for row %d", row))
	}
	if err != nil {
		return nil, calib.IOError(s.path, "read "+name, err)
	}
	if length != s.group.Width {
		return nil, calib.SchemaError(s.path, "read "+name, "dataset holds %d pixels, layout expects %d", length, s.group.Width)
	}
	if err := checkLength(s.path, name, len(blob), n*4); err != nil {
		return nil, err
	}
	return decodeFloat32s(blob), nil
}

func (s *V2) readHarmonic(ctx context.Context, row int64) (*phase.Harmonic, error) {
	var h phase.Harmonic
	err := s.db.QueryRowContext(ctx, `
		SELECT phase_offset, phase2, amp2, sig_amp2
		FROM meta_table WHERE grp = ? AND row = ?`, s.group.Group, row).
		Scan(&h.PhaseOffset, &h.Phase2Offset, &h.Amplitude2, &h.Amplitude2Error)
	if err != nil {
		return nil, calib.IOError(s.path, "read harmonic", err)
	}
	return &h, nil
}
