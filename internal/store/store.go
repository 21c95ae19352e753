// Package store reads calibration records from the three historical
// on-disk layouts. Every layout is exposed through the same Store
// interface: list the orbit index once, then decode individual records
// into full-detector vectors in physical pixel order.
//
// Stores are read-only. The fixture package writes all three layouts.
package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/large-farva/calibration-engine/internal/calib"
	"github.com/large-farva/calibration-engine/internal/detector"
)

// Store is an open handle on one kind's records in one schema version.
// Implementations cache the index after the first ListIndex call and are
// safe for concurrent use once opened.
type Store interface {
	Version() calib.Version
	Kind() calib.Kind
	Path() string

	// ListIndex returns every selectable record. The slice is shared and
	// must not be modified.
	ListIndex(ctx context.Context) ([]calib.Entry, error)

	// ReadVectors decodes the record behind e, restricted to r.
	ReadVectors(ctx context.Context, e calib.Entry, r detector.Range) (*calib.VectorSet, error)

	Close() error
}

// Roots locates the store tree of each schema version.
type Roots struct {
	V1 string
	V2 string
	V3 string
}

// Open returns the store for kind k in version v. A missing store file
// yields an error matching calib.ErrStoreMissing; a version that never held
// the kind yields calib.ErrUnsupported.
func Open(ctx context.Context, roots Roots, v calib.Version, k calib.Kind) (Store, error) {
	if !Supports(v, k) {
		return nil, fmt.Errorf("%s %s: %w", v, k, calib.ErrUnsupported)
	}
	switch v {
	case calib.V1:
		return OpenV1(roots.V1, k)
	case calib.V2:
		return OpenV2(ctx, roots.V2, k)
	case calib.V3:
		return OpenV3(roots.V3, k)
	}
	return nil, fmt.Errorf("%s: %w", v, calib.ErrUnsupported)
}

// Supports reports whether version v ever carried kind k.
func Supports(v calib.Version, k calib.Kind) bool {
	switch v {
	case calib.V1:
		_, ok := v1Layouts[k]
		return ok
	case calib.V2:
		_, ok := v2Groups[k]
		return ok
	case calib.V3:
		_, ok := v3Kinds[k]
		return ok
	}
	return false
}

// checkLength distinguishes a truncated record (I/O) from one whose size
// does not fit the layout at all (schema).
func checkLength(path, what string, got, want int) error {
	switch {
	case got < want:
		return calib.IOError(path, "read "+what, fmt.Errorf("%w: %d of %d bytes", io.ErrUnexpectedEOF, got, want))
	case got > want:
		return calib.SchemaError(path, "read "+what, "record is %d bytes, layout expects %d", got, want)
	}
	return nil
}

// decodeFloat32s converts little-endian float32 values to float64.
func decodeFloat32s(b []byte) []float64 {
	out := make([]float64, len(b)/4)
	for i := range out {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:])))
	}
	return out
}

// EncodeFloat32s is the inverse of decodeFloat32s.
func EncodeFloat32s(v []float64) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(float32(f)))
	}
	return b
}

// storageSpan widens r so that it also covers the storage positions of
// any channel-2 pixels it contains.
func storageSpan(r detector.Range) detector.Range {
	ch2 := detector.PixelRange(detector.ReversedChannel)
	if r.End < ch2.Start || r.Start > ch2.End {
		return r
	}
	return detector.Range{Start: min(r.Start, ch2.Start), End: max(r.End, ch2.End)}
}

// toPhysical turns a full-length storage-order vector into physical order.
func toPhysical(vec []float64) []float64 {
	detector.ReverseChannelTwo(vec)
	return vec
}
