// Package keydata loads the instrument lookup tables used by the
// correction applier: the memory-effect tables of the silicon channels and
// the non-linearity curves of the infrared channels.
package keydata

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"

	_ "modernc.org/sqlite"

	"github.com/large-farva/calibration-engine/internal/calib"
	"github.com/large-farva/calibration-engine/internal/detector"
)

// Schema creates the key-data tables. Blobs hold little-endian float32
// values except nlin_curve, which holds one int16 curve index per pixel.
const Schema = `
CREATE TABLE IF NOT EXISTS mem_table (
	channel INTEGER PRIMARY KEY,
	data    BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS nlin_curve (
	id   INTEGER PRIMARY KEY,
	data BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS nlin_matrix (
	curve INTEGER PRIMARY KEY,
	data  BLOB NOT NULL
);`

// NonLinearity maps each pixel to a correction curve. Matrix[c][n] is the
// correction for curve c at normalised signal n.
type NonLinearity struct {
	Curves []int
	Matrix [][]float64
}

// Tables is the complete key-data set, read once and shared read-only.
type Tables struct {
	Memory       map[int][]float64
	NonLinearity NonLinearity
}

// MemoryTable returns the memory-effect table of a silicon channel.
func (t *Tables) MemoryTable(channel int) ([]float64, error) {
	if detector.IsInfrared(channel) {
		return nil, fmt.Errorf("channel %d has no memory effect", channel)
	}
	tbl, ok := t.Memory[channel]
	if !ok || len(tbl) == 0 {
		return nil, fmt.Errorf("memory table for channel %d: %w", channel, calib.ErrNoData)
	}
	return tbl, nil
}

// NonLinearityTables returns the curve assignment and matrix.
func (t *Tables) NonLinearityTables() (NonLinearity, error) {
	if len(t.NonLinearity.Curves) == 0 || len(t.NonLinearity.Matrix) == 0 {
		return NonLinearity{}, fmt.Errorf("non-linearity tables: %w", calib.ErrNoData)
	}
	return t.NonLinearity, nil
}

// Load reads every table from the SQLite file at path.
func Load(ctx context.Context, path string) (*Tables, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, calib.MissingError(path)
		}
		return nil, calib.IOError(path, "stat", err)
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro&_pragma=query_only(1)", path))
	if err != nil {
		return nil, calib.IOError(path, "open", err)
	}
	defer db.Close()

	t := &Tables{Memory: make(map[int][]float64)}
	if err := loadMemory(ctx, db, path, t); err != nil {
		return nil, err
	}
	if err := loadNonLinearity(ctx, db, path, t); err != nil {
		return nil, err
	}
	return t, nil
}

func loadMemory(ctx context.Context, db *sql.DB, path string, t *Tables) error {
	rows, err := db.QueryContext(ctx, `SELECT channel, data FROM mem_table ORDER BY channel`)
	if err != nil {
		return calib.SchemaError(path, "read mem_table", "%v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ch   int
			blob []byte
		)
		if err := rows.Scan(&ch, &blob); err != nil {
			return calib.IOError(path, "read mem_table", err)
		}
		if ch < 1 || ch >= detector.FirstInfraChannel {
			return calib.SchemaError(path, "read mem_table", "channel %d has no memory effect", ch)
		}
		vals, err := floats(blob)
		if err != nil {
			return calib.IOError(path, "decode mem_table", err)
		}
		t.Memory[ch] = vals
	}
	if err := rows.Err(); err != nil {
		return calib.IOError(path, "read mem_table", err)
	}
	return nil
}

func loadNonLinearity(ctx context.Context, db *sql.DB, path string, t *Tables) error {
	var blob []byte
	err := db.QueryRowContext(ctx, `SELECT data FROM nlin_curve ORDER BY id LIMIT 1`).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return calib.SchemaError(path, "read nlin_curve", "%v", err)
	}
	if len(blob) != 2*detector.Pixels {
		return calib.SchemaError(path, "read nlin_curve", "%d bytes, want %d", len(blob), 2*detector.Pixels)
	}
	idx := make([]int16, detector.Pixels)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, idx); err != nil {
		return calib.IOError(path, "decode nlin_curve", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT curve, data FROM nlin_matrix ORDER BY curve`)
	if err != nil {
		return calib.SchemaError(path, "read nlin_matrix", "%v", err)
	}
	defer rows.Close()

	var matrix [][]float64
	for rows.Next() {
		var curve int
		if err := rows.Scan(&curve, &blob); err != nil {
			return calib.IOError(path, "read nlin_matrix", err)
		}
		if curve != len(matrix) {
			return calib.SchemaError(path, "read nlin_matrix", "curve %d out of sequence", curve)
		}
		vals, err := floats(blob)
		if err != nil {
			return calib.IOError(path, "decode nlin_matrix", err)
		}
		matrix = append(matrix, vals)
	}
	if err := rows.Err(); err != nil {
		return calib.IOError(path, "read nlin_matrix", err)
	}

	curves := make([]int, len(idx))
	for i, c := range idx {
		if int(c) < 0 || int(c) >= len(matrix) {
			return calib.SchemaError(path, "read nlin_curve", "pixel %d uses curve %d of %d", i, c, len(matrix))
		}
		curves[i] = int(c)
	}
	t.NonLinearity = NonLinearity{Curves: curves, Matrix: matrix}
	return nil
}

func floats(b []byte) ([]float64, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("blob of %d bytes is not float32 aligned", len(b))
	}
	raw := make([]float32, len(b)/4)
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, raw); err != nil {
		return nil, err
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = float64(v)
	}
	return out, nil
}
