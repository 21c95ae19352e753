// Package fixture writes calibration stores, key data and event tables in
// every on-disk layout the engine reads. Tests use it to build stores under
// t.TempDir(); the daemon's demo mode uses it to synthesise a data tree.
package fixture

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/zeebo/xxh3"
	_ "modernc.org/sqlite"

	"github.com/large-farva/calibration-engine/internal/calib"
	"github.com/large-farva/calibration-engine/internal/detector"
	"github.com/large-farva/calibration-engine/internal/keydata"
	"github.com/large-farva/calibration-engine/internal/phase"
	"github.com/large-farva/calibration-engine/internal/store"
)

// Record is one calibration record to be written. Vectors are full
// detector length in physical order; missing quantities are written as
// zeros. PhaseBins holds channel-8 bins for orbital records.
type Record struct {
	Orbit        int
	Quality      int
	Consolidated bool
	SAA          bool
	EntryTime    time.Time
	Vectors      map[calib.Quantity][]float64
	PhaseBins    [][]float64
	Harmonic     phase.Harmonic
}

// Fill returns a full-detector vector holding v everywhere.
func Fill(v float64) []float64 {
	out := make([]float64, detector.Pixels)
	for i := range out {
		out[i] = v
	}
	return out
}

// Ramp returns a full-detector vector whose value is base plus the pixel
// number times step.
func Ramp(base, step float64) []float64 {
	out := make([]float64, detector.Pixels)
	for i := range out {
		out[i] = base + float64(i)*step
	}
	return out
}

// storageOrder returns a copy of the vector for q in on-disk order.
func (r Record) storageOrder(q calib.Quantity) []float64 {
	vec := make([]float64, detector.Pixels)
	if v, ok := r.Vectors[q]; ok {
		copy(vec, v)
	}
	detector.ReverseChannelTwo(vec)
	return vec
}

// V1Orbit is one catalog line plus the record files it points at.
// Fitted-dark and bad-pixel-mask records are always listed by the catalog,
// so a zero record is written for them when Records has none.
type V1Orbit struct {
	Orbit        int
	Quality      int
	MaskQuality  int
	Consolidated bool
	Records      map[calib.Kind]Record
}

// FileName is the record file name used for orbit o.
func (o V1Orbit) FileName() string {
	return fmt.Sprintf("SCI_NL__SDMF_%05d", o.Orbit)
}

// WriteV1 writes the catalog and every record file under root. Record files
// are compressed with codec; store.Plain writes them as is.
func WriteV1(root string, orbits []V1Orbit, codec store.Codec) error {
	var catalog bytes.Buffer
	for _, o := range orbits {
		m := store.MonitorRecord{
			Orbit:             int32(o.Orbit),
			QualityNumber:     int32(o.Quality),
			QualitySmoothMask: int32(o.MaskQuality),
			Consolidated:      boolInt(o.Consolidated),
		}
		copy(m.FileName[:], o.FileName())

		for _, k := range calib.Kinds() {
			rec, ok := o.Records[k]
			if !ok {
				if k != calib.FittedDark && k != calib.BadPixelMask {
					continue
				}
				rec = Record{Orbit: o.Orbit, Quality: o.Quality}
			}
			path, ok := store.V1RecordPath(root, k, o.FileName())
			if !ok {
				continue
			}
			body, err := encodeV1(k, o, rec)
			if err != nil {
				return err
			}
			if err := writeCompressed(path, body, codec); err != nil {
				return err
			}
			setV1Flag(&m, k)
		}
		if err := binary.Write(&catalog, binary.LittleEndian, &m); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(root, store.CatalogFile), catalog.Bytes(), 0o644)
}

func setV1Flag(m *store.MonitorRecord, k calib.Kind) {
	switch k {
	case calib.OrbitalDark:
		m.Orbital, m.OrbitalData, m.OrbitalFit = 1, 1, 1
	case calib.Transmission:
		m.Transmission = 1
	case calib.WlsTransmission:
		m.WLSTransmission = 1
	case calib.SunMeanReference:
		m.SMR = 1
	case calib.PixelGain:
		m.PixelGain = 1
	}
}

func encodeV1(k calib.Kind, o V1Orbit, rec Record) ([]byte, error) {
	var buf bytes.Buffer
	switch k {
	case calib.FittedDark:
		h := store.DarkRecordHeader{
			Orbit:      int32(o.Orbit),
			SAA:        boolInt(rec.SAA),
			StateCount: 1,
			Quality:    int32(o.Quality),
		}
		if err := binary.Write(&buf, binary.LittleEndian, &h); err != nil {
			return nil, err
		}
		for _, q := range store.V1DarkQuantities() {
			buf.Write(store.EncodeFloat32s(rec.storageOrder(q)))
		}
	case calib.OrbitalDark:
		if len(rec.PhaseBins) != store.V1OrbitalBins {
			return nil, fmt.Errorf("orbital record for orbit %d has %d bins, want %d", o.Orbit, len(rec.PhaseBins), store.V1OrbitalBins)
		}
		for _, bin := range rec.PhaseBins {
			ch := make([]float64, detector.ChannelSize)
			copy(ch, bin)
			buf.Write(store.EncodeFloat32s(ch))
		}
	default:
		buf.Write(store.EncodeFloat32s(rec.storageOrder(k.Quantities()[0])))
	}
	return buf.Bytes(), nil
}

func writeCompressed(path string, body []byte, codec store.Codec) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path + codec.Extension())
	if err != nil {
		return err
	}
	w, err := codec.Compress(f)
	if err != nil {
		_ = f.Close()
		return err
	}
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		_ = f.Close()
		return err
	}
	if err := w.Close(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// WriteV2 appends recs to the container for kind k under root, creating the
// file and its tables on first use.
func WriteV2(ctx context.Context, root string, k calib.Kind, recs []Record) error {
	g, ok := store.V2GroupFor(k)
	if !ok {
		return fmt.Errorf("v2 %s: %w", k, calib.ErrUnsupported)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", filepath.Join(root, g.File)))
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, store.V2Schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT coalesce(max(row) + 1, 0) FROM meta_table WHERE grp = ?`, g.Group).Scan(&next); err != nil {
		return err
	}

	for i, rec := range recs {
		row := next + int64(i)
		h := rec.Harmonic
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO meta_table (grp, row, orbit, quality, saa, consolidated, entry_time,
				phase_offset, phase2, amp2, sig_amp2)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			g.Group, row, rec.Orbit, rec.Quality, boolInt(rec.SAA), boolInt(rec.Consolidated),
			unixOrZero(rec.EntryTime), h.PhaseOffset, h.Phase2Offset, h.Amplitude2, h.Amplitude2Error); err != nil {
			return fmt.Errorf("insert meta row %d: %w", row, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta_index (grp, orbit, row) VALUES (?, ?, ?)`,
			g.Group, rec.Orbit, row); err != nil {
			return fmt.Errorf("insert index row %d: %w", row, err)
		}
		for _, ds := range g.Datasets {
			vec := rec.storageOrder(ds.Quantity)[g.Base : g.Base+g.Width]
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO datasets (grp, name, row, length, data) VALUES (?, ?, ?, ?, ?)`,
				g.Group, ds.Name, row, g.Width, store.EncodeFloat32s(vec)); err != nil {
				return fmt.Errorf("insert %s row %d: %w", ds.Name, row, err)
			}
		}
	}
	return tx.Commit()
}

// WriteV3 appends one packet per record to the log of kind k and records
// each in the orbit list.
func WriteV3(root string, k calib.Kind, recs []Record) error {
	pktPath, olistPath, ok := store.V3Files(root, k)
	if !ok {
		return fmt.Errorf("v3 %s: %w", k, calib.ErrUnsupported)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	pkt, err := os.OpenFile(pktPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer pkt.Close()
	olist, err := os.OpenFile(olistPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer olist.Close()

	offset, err := pkt.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	listEnd, err := olist.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	seq := uint32(listEnd / store.OrbitListRecordSize)

	for _, rec := range recs {
		var payload bytes.Buffer
		for _, q := range store.V3Quantities(k) {
			payload.Write(store.EncodeFloat32s(rec.storageOrder(q)))
		}
		h := store.PacketHeader{
			Magic:        store.PacketMagic,
			Orbit:        int32(rec.Orbit),
			Quality:      int16(rec.Quality),
			Consolidated: uint8(boolInt(rec.Consolidated)),
			EntryTime:    unixOrZero(rec.EntryTime),
			PayloadLen:   uint32(payload.Len()),
			Checksum:     xxh3.Hash(payload.Bytes()),
		}
		if rec.SAA {
			h.Flags |= store.FlagSAA
		}
		if err := binary.Write(pkt, binary.LittleEndian, &h); err != nil {
			return err
		}
		if _, err := pkt.Write(payload.Bytes()); err != nil {
			return err
		}
		entry := store.OrbitListRecord{Orbit: int32(rec.Orbit), Seq: seq, Offset: offset}
		if err := binary.Write(olist, binary.LittleEndian, &entry); err != nil {
			return err
		}
		offset += store.PacketHeaderSize + int64(payload.Len())
		seq++
	}
	return nil
}

// KeyData is the content of a key-data file.
type KeyData struct {
	Memory map[int][]float64
	Curves []int
	Matrix [][]float64
}

// WriteKeyData creates the key-data file at path.
func WriteKeyData(ctx context.Context, path string, kd KeyData) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, keydata.Schema); err != nil {
		return err
	}
	channels := make([]int, 0, len(kd.Memory))
	for ch := range kd.Memory {
		channels = append(channels, ch)
	}
	slices.Sort(channels)
	for _, ch := range channels {
		if _, err := db.ExecContext(ctx, `INSERT INTO mem_table (channel, data) VALUES (?, ?)`,
			ch, store.EncodeFloat32s(kd.Memory[ch])); err != nil {
			return err
		}
	}
	if len(kd.Curves) == 0 {
		return nil
	}
	idx := make([]int16, len(kd.Curves))
	for i, c := range kd.Curves {
		idx[i] = int16(c)
	}
	var blob bytes.Buffer
	if err := binary.Write(&blob, binary.LittleEndian, idx); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO nlin_curve (id, data) VALUES (0, ?)`, blob.Bytes()); err != nil {
		return err
	}
	for c, row := range kd.Matrix {
		if _, err := db.ExecContext(ctx, `INSERT INTO nlin_matrix (curve, data) VALUES (?, ?)`,
			c, store.EncodeFloat32s(row)); err != nil {
			return err
		}
	}
	return nil
}

// WriteEvents writes a reference orbit event table to path.
func WriteEvents(path string, events []phase.Event) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := phase.WriteEvents(f, events); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
