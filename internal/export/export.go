// Package export writes looked-up vector sets as Parquet tables, one row
// per pixel of the set's range, so they can be inspected with ordinary
// columnar tooling.
package export

import (
	"errors"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/large-farva/calibration-engine/internal/calib"
	"github.com/large-farva/calibration-engine/internal/detector"
)

// Row is one pixel of an exported set. Quantity columns the record does
// not carry are null.
type Row struct {
	Kind    string `parquet:"kind,dict"`
	Version string `parquet:"version,dict"`
	Orbit   int32  `parquet:"orbit"`
	Quality int32  `parquet:"quality"`
	Pixel   int32  `parquet:"pixel"`
	Channel int32  `parquet:"channel"`

	AnalogOffset       *float64 `parquet:"analog_offset,optional"`
	DarkCurrent        *float64 `parquet:"dark_current,optional"`
	AnalogOffsetError  *float64 `parquet:"analog_offset_error,optional"`
	DarkCurrentError   *float64 `parquet:"dark_current_error,optional"`
	MeanNoise          *float64 `parquet:"mean_noise,optional"`
	ChiSquare          *float64 `parquet:"chi_square,optional"`
	Amplitude          *float64 `parquet:"amplitude,optional"`
	AmplitudeError     *float64 `parquet:"amplitude_error,optional"`
	TransmissionFactor *float64 `parquet:"transmission,optional"`
	SunReference       *float64 `parquet:"sun_mean_reference,optional"`
	GainFactor         *float64 `parquet:"pixel_gain,optional"`
	PixelMask          *float64 `parquet:"pixel_mask,optional"`
}

func (r *Row) column(q calib.Quantity) **float64 {
	switch q {
	case calib.AnalogOffset:
		return &r.AnalogOffset
	case calib.DarkCurrent:
		return &r.DarkCurrent
	case calib.AnalogOffsetError:
		return &r.AnalogOffsetError
	case calib.DarkCurrentError:
		return &r.DarkCurrentError
	case calib.MeanNoise:
		return &r.MeanNoise
	case calib.ChiSquare:
		return &r.ChiSquare
	case calib.Amplitude:
		return &r.Amplitude
	case calib.AmplitudeError:
		return &r.AmplitudeError
	case calib.TransmissionFactor:
		return &r.TransmissionFactor
	case calib.SunReference:
		return &r.SunReference
	case calib.GainFactor:
		return &r.GainFactor
	case calib.PixelMask:
		return &r.PixelMask
	}
	return nil
}

// Rows flattens set into one row per pixel of its range.
func Rows(set *calib.VectorSet) []Row {
	r := set.Range
	qs := set.Quantities()
	out := make([]Row, 0, r.Len())
	for p := r.Start; p <= r.End; p++ {
		row := Row{
			Kind:    set.Kind.String(),
			Version: set.Version.String(),
			Orbit:   int32(set.Entry.Orbit),
			Quality: int32(set.Entry.Quality),
			Pixel:   int32(p),
			Channel: int32(detector.ChannelOf(p)),
		}
		for _, q := range qs {
			if col := row.column(q); col != nil {
				v := set.Vectors[q][p]
				*col = &v
			}
		}
		out = append(out, row)
	}
	return out
}

// WriteParquet writes set to w as a Snappy-compressed Parquet table.
func WriteParquet(w io.Writer, set *calib.VectorSet) error {
	writer := parquet.NewGenericWriter[Row](w, parquet.Compression(&parquet.Snappy))
	if _, err := writer.Write(Rows(set)); err != nil {
		_ = writer.Close()
		return fmt.Errorf("write %s orbit %d: %w", set.Kind, set.Entry.Orbit, err)
	}
	return writer.Close()
}

// ReadParquet decodes a table written by WriteParquet back into a vector
// set. Provenance other than orbit and quality is not exported and comes
// back zero.
func ReadParquet(r io.ReaderAt) (*calib.VectorSet, error) {
	reader := parquet.NewGenericReader[Row](r)
	defer func() { _ = reader.Close() }()

	var (
		set     *calib.VectorSet
		vectors map[calib.Quantity][]float64
		last    int
	)
	buf := make([]Row, 512)
	for {
		n, err := reader.Read(buf)
		// Values are copied out before the next Read: the reader decodes
		// optional columns into the pointers buf already holds.
		for i := range buf[:n] {
			row := &buf[i]
			if set == nil {
				s, err := newSet(row)
				if err != nil {
					return nil, err
				}
				set = s
				vectors = make(map[calib.Quantity][]float64)
				for _, q := range set.Kind.Quantities() {
					if *row.column(q) != nil {
						vectors[q] = make([]float64, detector.Pixels)
					}
				}
			}
			for q, vec := range vectors {
				if p := *row.column(q); p != nil {
					vec[row.Pixel] = *p
				}
			}
			last = int(row.Pixel)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read rows: %w", err)
		}
	}
	if set == nil {
		return nil, errors.New("export: empty table")
	}

	set.Range.End = last
	for q, vec := range vectors {
		set.Set(q, vec)
	}
	return set, nil
}

// newSet starts a vector set from the provenance columns of the first row.
func newSet(first *Row) (*calib.VectorSet, error) {
	var k calib.Kind
	if err := k.UnmarshalText([]byte(first.Kind)); err != nil {
		return nil, err
	}
	v, err := calib.ParseVersion(first.Version)
	if err != nil {
		return nil, err
	}
	rng := detector.Range{Start: int(first.Pixel), End: int(first.Pixel)}
	return calib.NewVectorSet(k, v, calib.Entry{Orbit: int(first.Orbit), Quality: int(first.Quality)}, rng), nil
}
