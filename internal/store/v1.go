package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/large-farva/calibration-engine/internal/calib"
	"github.com/large-farva/calibration-engine/internal/detector"
)

// CatalogFile is the V1 catalog name under the store root.
const CatalogFile = "MonitorList.dat"

// MonitorRecord is one 182-byte little-endian catalog record. FileName is
// NUL padded and names the record file without directory or extension.
type MonitorRecord struct {
	FileName          [70]byte
	Orbit             int32
	MagicNumber       int32
	StateCount        [16]int32
	QualityNumber     int32
	QualitySmoothMask int32
	Consolidated      int32
	Transmission      int32
	WLSTransmission   int32
	PixelGain         int32
	Orbital           int32
	OrbitalData       int32
	OrbitalFit        int32
	SMR               int32
}

// MonitorRecordSize is the on-disk size of a MonitorRecord.
const MonitorRecordSize = 182

// Name returns the record file name without padding.
func (m *MonitorRecord) Name() string {
	return string(bytes.TrimRight(m.FileName[:], "\x00 "))
}

// DarkRecordHeader precedes the five vectors of a V1 fitted-dark file.
type DarkRecordHeader struct {
	Orbit      int32
	SAA        int32
	StateCount int32
	JulianDay  float64
	OBMTemp    float32
	DetTemp    [detector.Channels]float32
	Quality    int32
}

const (
	darkHeaderSize = 60
	orbitalBins    = 72
)

type v1Layout struct {
	dir     string
	ext     string
	include func(*MonitorRecord) bool
	quality func(*MonitorRecord) int
}

func always(*MonitorRecord) bool { return true }

func qualityNumber(m *MonitorRecord) int { return int(m.QualityNumber) }

func qualitySmooth(m *MonitorRecord) int { return int(m.QualitySmoothMask) }

func flagSet(f func(*MonitorRecord) int32) func(*MonitorRecord) bool {
	return func(m *MonitorRecord) bool { return f(m) != 0 }
}

var v1Layouts = map[calib.Kind]v1Layout{
	calib.FittedDark: {
		dir: "DarkCurrent", ext: "darkcurrent",
		include: always, quality: qualityNumber,
	},
	calib.OrbitalDark: {
		dir: "OrbitalVariation/Transmission", ext: "orbital",
		include: flagSet(func(m *MonitorRecord) int32 { return m.Orbital }), quality: qualityNumber,
	},
	calib.Transmission: {
		dir: "Transmission/SunESM", ext: "transmission",
		include: flagSet(func(m *MonitorRecord) int32 { return m.Transmission }), quality: qualityNumber,
	},
	calib.WlsTransmission: {
		dir: "Transmission/WLS", ext: "WLStransmission",
		include: flagSet(func(m *MonitorRecord) int32 { return m.WLSTransmission }), quality: qualityNumber,
	},
	calib.SunMeanReference: {
		dir: "SMR", ext: "smr",
		include: flagSet(func(m *MonitorRecord) int32 { return m.SMR }), quality: qualityNumber,
	},
	calib.BadPixelMask: {
		dir: "SmoothMask", ext: "mask",
		include: always, quality: qualitySmooth,
	},
	calib.PixelGain: {
		dir: "PixelGain", ext: "pixelgain",
		include: flagSet(func(m *MonitorRecord) int32 { return m.PixelGain }), quality: qualityNumber,
	},
}

// V1 reads flat binary records through the MonitorList catalog.
type V1 struct {
	root   string
	kind   calib.Kind
	layout v1Layout

	once    sync.Once
	records []MonitorRecord
	entries []calib.Entry
	err     error
}

// OpenV1 checks that the catalog exists. The catalog itself is read on
// the first ListIndex call.
func OpenV1(root string, k calib.Kind) (*V1, error) {
	layout, ok := v1Layouts[k]
	if !ok {
		return nil, fmt.Errorf("v1 %s: %w", k, calib.ErrUnsupported)
	}
	path := filepath.Join(root, CatalogFile)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, calib.MissingError(path)
		}
		return nil, calib.IOError(path, "stat", err)
	}
	return &V1{root: root, kind: k, layout: layout}, nil
}

func (s *V1) Version() calib.Version { return calib.V1 }
func (s *V1) Kind() calib.Kind       { return s.kind }
func (s *V1) Path() string           { return filepath.Join(s.root, CatalogFile) }
func (s *V1) Close() error           { return nil }

// ListIndex scans the catalog once. Entries carry the catalog record
// number as their handle.
func (s *V1) ListIndex(context.Context) ([]calib.Entry, error) {
	s.once.Do(func() {
		s.records, s.err = readCatalog(s.Path())
		if s.err != nil {
			return
		}
		for i := range s.records {
			m := &s.records[i]
			if !s.layout.include(m) {
				continue
			}
			s.entries = append(s.entries, calib.Entry{
				Orbit:        int(m.Orbit),
				Quality:      s.layout.quality(m),
				Consolidated: m.Consolidated != 0,
				Handle:       int64(i),
			})
		}
	})
	return s.entries, s.err
}

func readCatalog(path string) ([]MonitorRecord, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, calib.IOError(path, "read catalog", err)
	}
	if len(b)%MonitorRecordSize != 0 {
		return nil, calib.SchemaError(path, "read catalog", "size %d is not a multiple of %d", len(b), MonitorRecordSize)
	}
	records := make([]MonitorRecord, len(b)/MonitorRecordSize)
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, records); err != nil {
		return nil, calib.IOError(path, "decode catalog", err)
	}
	return records, nil
}

// RecordPath returns the uncompressed path of a catalog record's file.
func (s *V1) RecordPath(m *MonitorRecord) string {
	return filepath.Join(s.root, s.layout.dir, m.Name()+"."+s.layout.ext)
}

// V1RecordPath returns where the record file called name lives for kind k.
func V1RecordPath(root string, k calib.Kind, name string) (string, bool) {
	l, ok := v1Layouts[k]
	if !ok {
		return "", false
	}
	return filepath.Join(root, l.dir, name+"."+l.ext), true
}

// ReadVectors loads the record file behind e.
func (s *V1) ReadVectors(ctx context.Context, e calib.Entry, r detector.Range) (*calib.VectorSet, error) {
	if _, err := s.ListIndex(ctx); err != nil {
		return nil, err
	}
	if e.Handle < 0 || int(e.Handle) >= len(s.records) {
		return nil, calib.SchemaError(s.Path(), "lookup", "record %d not in catalog of %d", e.Handle, len(s.records))
	}
	path := s.RecordPath(&s.records[e.Handle])

	b, name, err := readRecordFile(path)
	if err != nil {
		return nil, calib.IOError(name, "read record", err)
	}

	set := calib.NewVectorSet(s.kind, calib.V1, e, r)
	switch s.kind {
	case calib.FittedDark:
		err = decodeV1Dark(name, b, set)
	case calib.OrbitalDark:
		err = decodeV1Orbital(name, b, set)
	default:
		if err = checkLength(name, "vector", len(b), 4*detector.Pixels); err == nil {
			set.Set(s.kind.Quantities()[0], toPhysical(decodeFloat32s(b)))
		}
	}
	if err != nil {
		return nil, err
	}
	return set, nil
}

var v1DarkQuantities = []calib.Quantity{
	calib.AnalogOffset, calib.DarkCurrent,
	calib.AnalogOffsetError, calib.DarkCurrentError,
	calib.ChiSquare,
}

// V1DarkQuantities lists the vectors of a fitted-dark record in file order.
func V1DarkQuantities() []calib.Quantity { return slices.Clone(v1DarkQuantities) }

// V1OrbitalBins is the number of phase bins in an orbital record.
const V1OrbitalBins = orbitalBins

func decodeV1Dark(path string, b []byte, set *calib.VectorSet) error {
	const vec = 4 * detector.Pixels
	if err := checkLength(path, "dark record", len(b), darkHeaderSize+len(v1DarkQuantities)*vec); err != nil {
		return err
	}
	var h DarkRecordHeader
	if err := binary.Read(bytes.NewReader(b[:darkHeaderSize]), binary.LittleEndian, &h); err != nil {
		return calib.IOError(path, "decode dark header", err)
	}
	if int(h.Orbit) != set.Entry.Orbit {
		return calib.SchemaError(path, "decode dark header", "record orbit %d, catalog orbit %d", h.Orbit, set.Entry.Orbit)
	}
	set.Entry.SAA = h.SAA != 0

	body := b[darkHeaderSize:]
	for i, q := range v1DarkQuantities {
		set.Set(q, toPhysical(decodeFloat32s(body[i*vec:(i+1)*vec])))
	}
	return nil
}

// decodeV1Orbital expands the channel-8 phase table into full-detector bins.
func decodeV1Orbital(path string, b []byte, set *calib.VectorSet) error {
	const bin = 4 * detector.ChannelSize
	if err := checkLength(path, "orbital record", len(b), orbitalBins*bin); err != nil {
		return err
	}
	ch8 := detector.PixelRange(detector.Channels)
	set.PhaseBins = make([][]float64, orbitalBins)
	for i := range set.PhaseBins {
		full := make([]float64, detector.Pixels)
		copy(full[ch8.Start:], decodeFloat32s(b[i*bin:(i+1)*bin]))
		detector.Mask(full, set.Range)
		set.PhaseBins[i] = full
	}
	return nil
}
