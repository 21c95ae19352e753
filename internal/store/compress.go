package store

import (
	"errors"
	"io"
	"io/fs"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Codec is a whole-file compression format recognised by extension.
type Codec interface {
	Name() string
	Extension() string
	Compress(w io.Writer) (io.WriteCloser, error)
	Decompress(r io.Reader) (io.ReadCloser, error)
}

type plainCodec struct{}

func (plainCodec) Name() string      { return "none" }
func (plainCodec) Extension() string { return "" }

func (plainCodec) Compress(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (plainCodec) Decompress(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type zstdCodec struct{}

func (zstdCodec) Name() string      { return "zstd" }
func (zstdCodec) Extension() string { return ".zst" }

func (zstdCodec) Compress(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w)
}

func (zstdCodec) Decompress(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return decoder.IOReadCloser(), nil
}

type gzipCodec struct{}

func (gzipCodec) Name() string      { return "gzip" }
func (gzipCodec) Extension() string { return ".gz" }

func (gzipCodec) Compress(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriter(w), nil
}

func (gzipCodec) Decompress(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

var (
	Plain Codec = plainCodec{}
	Zstd  Codec = zstdCodec{}
	Gzip  Codec = gzipCodec{}
)

// codecs is the probe order when resolving a record file.
var codecs = []Codec{Plain, Zstd, Gzip}

// readRecordFile loads a record, trying the plain name first and then each
// compressed variant. The returned error matches fs.ErrNotExist only when
// no variant exists.
func readRecordFile(path string) ([]byte, string, error) {
	for _, c := range codecs {
		name := path + c.Extension()
		f, err := os.Open(name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, name, err
		}
		b, err := decompressAll(c, f)
		_ = f.Close()
		return b, name, err
	}
	return nil, path, fs.ErrNotExist
}

func decompressAll(c Codec, r io.Reader) ([]byte, error) {
	rc, err := c.Decompress(r)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
