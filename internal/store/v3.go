package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/large-farva/calibration-engine/internal/calib"
	"github.com/large-farva/calibration-engine/internal/detector"
)

// PacketMagic opens every V3 packet.
var PacketMagic = [4]byte{'C', 'P', 'K', 'T'}

// PacketHeader precedes each V3 payload. Checksum is the xxh3 hash of the
// payload bytes.
type PacketHeader struct {
	Magic        [4]byte
	Orbit        int32
	Quality      int16
	Consolidated uint8
	Flags        uint8
	EntryTime    int64
	PayloadLen   uint32
	Checksum     uint64
}

// PacketHeaderSize is the encoded size of a PacketHeader.
const PacketHeaderSize = 32

// FlagSAA marks a packet measured inside the South Atlantic Anomaly.
const FlagSAA uint8 = 1 << 0

// OrbitListRecord locates one packet in the log.
type OrbitListRecord struct {
	Orbit  int32
	Seq    uint32
	Offset int64
}

// OrbitListRecordSize is the encoded size of an OrbitListRecord.
const OrbitListRecordSize = 16

var v3Kinds = map[calib.Kind]string{
	calib.FittedDark: "fitted_dark",
}

// V3Files returns the packet log and orbit list paths of kind k.
func V3Files(root string, k calib.Kind) (pkt, olist string, ok bool) {
	base, ok := v3Kinds[k]
	if !ok {
		return "", "", false
	}
	return filepath.Join(root, base+".pkt"), filepath.Join(root, base+".olist"), true
}

// V3Quantities lists the payload vectors of kind k in stored order.
func V3Quantities(k calib.Kind) []calib.Quantity {
	return k.Quantities()
}

// V3 reads an append-only packet log through its orbit list.
type V3 struct {
	path  string
	olist string
	kind  calib.Kind
	f     *os.File

	once    sync.Once
	entries []calib.Entry
	err     error
}

// OpenV3 opens the packet log. The orbit list is read on first use.
func OpenV3(root string, k calib.Kind) (*V3, error) {
	pkt, olist, ok := V3Files(root, k)
	if !ok {
		return nil, fmt.Errorf("v3 %s: %w", k, calib.ErrUnsupported)
	}
	f, err := os.Open(pkt)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, calib.MissingError(pkt)
		}
		return nil, calib.IOError(pkt, "open", err)
	}
	return &V3{path: pkt, olist: olist, kind: k, f: f}, nil
}

func (s *V3) Version() calib.Version { return calib.V3 }
func (s *V3) Kind() calib.Kind       { return s.kind }
func (s *V3) Path() string           { return s.path }
func (s *V3) Close() error           { return s.f.Close() }

// ListIndex reads the orbit list and the header of every packet it names.
// When an orbit was appended more than once, the highest quality packet
// wins and ties go to the most recent entry.
func (s *V3) ListIndex(context.Context) ([]calib.Entry, error) {
	s.once.Do(func() {
		s.entries, s.err = s.listIndex()
	})
	return s.entries, s.err
}

func (s *V3) listIndex() ([]calib.Entry, error) {
	b, err := os.ReadFile(s.olist)
	if err != nil {
		return nil, calib.IOError(s.olist, "read orbit list", err)
	}
	if len(b)%OrbitListRecordSize != 0 {
		return nil, calib.SchemaError(s.olist, "read orbit list", "size %d is not a multiple of %d", len(b), OrbitListRecordSize)
	}
	recs := make([]OrbitListRecord, len(b)/OrbitListRecordSize)
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, recs); err != nil {
		return nil, calib.IOError(s.olist, "decode orbit list", err)
	}

	type candidate struct {
		entry calib.Entry
		seq   uint32
	}
	best := make(map[int]candidate, len(recs))
	order := make([]int, 0, len(recs))

	for _, rec := range recs {
		h, err := s.readHeader(rec.Offset)
		if err != nil {
			return nil, err
		}
		if h.Orbit != rec.Orbit {
			return nil, calib.SchemaError(s.path, "read index", "packet at %d holds orbit %d, orbit list says %d", rec.Offset, h.Orbit, rec.Orbit)
		}
		if h.Flags&FlagSAA != 0 {
			continue
		}
		c := candidate{
			entry: calib.Entry{
				Orbit:        int(h.Orbit),
				Quality:      int(h.Quality),
				Consolidated: h.Consolidated != 0,
				Handle:       rec.Offset,
				EntryTime:    time.Unix(h.EntryTime, 0).UTC(),
			},
			seq: rec.Seq,
		}
		cur, seen := best[c.entry.Orbit]
		if !seen {
			order = append(order, c.entry.Orbit)
			best[c.entry.Orbit] = c
			continue
		}
		if supersedes(c.entry, c.seq, cur.entry, cur.seq) {
			best[c.entry.Orbit] = c
		}
	}

	out := make([]calib.Entry, 0, len(order))
	for _, orbit := range order {
		out = append(out, best[orbit].entry)
	}
	return out, nil
}

func supersedes(a calib.Entry, aSeq uint32, b calib.Entry, bSeq uint32) bool {
	if a.Quality != b.Quality {
		return a.Quality > b.Quality
	}
	if !a.EntryTime.Equal(b.EntryTime) {
		return a.EntryTime.After(b.EntryTime)
	}
	return aSeq > bSeq
}

func (s *V3) readHeader(offset int64) (PacketHeader, error) {
	var h PacketHeader
	buf := make([]byte, PacketHeaderSize)
	if _, err := s.f.ReadAt(buf, offset); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return h, calib.IOError(s.path, "read packet header", err)
	}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &h); err != nil {
		return h, calib.IOError(s.path, "decode packet header", err)
	}
	if h.Magic != PacketMagic {
		return h, calib.SchemaError(s.path, "read packet header", "bad magic %q at offset %d", h.Magic[:], offset)
	}
	return h, nil
}

// ReadVectors reads and verifies the packet at e.Handle.
func (s *V3) ReadVectors(_ context.Context, e calib.Entry, r detector.Range) (*calib.VectorSet, error) {
	h, err := s.readHeader(e.Handle)
	if err != nil {
		return nil, err
	}

	quantities := V3Quantities(s.kind)
	const vec = 4 * detector.Pixels
	if int(h.PayloadLen) != len(quantities)*vec {
		return nil, calib.SchemaError(s.path, "read packet", "payload is %d bytes, layout expects %d", h.PayloadLen, len(quantities)*vec)
	}

	payload := make([]byte, h.PayloadLen)
	n, err := s.f.ReadAt(payload, e.Handle+PacketHeaderSize)
	if n < len(payload) {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, calib.IOError(s.path, "read packet", err)
	}
	if sum := xxh3.Hash(payload); sum != h.Checksum {
		return nil, calib.SchemaError(s.path, "read packet", "checksum %016x, header says %016x", sum, h.Checksum)
	}

	set := calib.NewVectorSet(s.kind, calib.V3, e, r)
	for i, q := range quantities {
		set.Set(q, toPhysical(decodeFloat32s(payload[i*vec:(i+1)*vec])))
	}
	return set, nil
}
