package calib

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	// ErrNoData means no record satisfied the search. Callers treat it as
	// "skip this correction", never as a failure.
	ErrNoData = errors.New("no applicable calibration data")

	// ErrIO covers short reads and missing datasets inside an open store.
	ErrIO = errors.New("calibration store read failed")

	// ErrSchema means the stored layout does not match what the reader
	// expects for this version.
	ErrSchema = errors.New("calibration store layout mismatch")

	// ErrStoreMissing means the store file itself does not exist.
	ErrStoreMissing = fmt.Errorf("calibration store missing: %w", fs.ErrNotExist)

	// ErrUnsupported means the schema version never carried this kind.
	ErrUnsupported = errors.New("kind not available in this store version")
)

// StoreError attaches the store path and operation to a store failure.
type StoreError struct {
	Path string
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IOError wraps err as an ErrIO failure on path.
func IOError(path, op string, err error) error {
	return &StoreError{Path: path, Op: op, Err: fmt.Errorf("%w: %w", ErrIO, err)}
}

// SchemaError reports a layout mismatch on path.
func SchemaError(path, op, format string, args ...any) error {
	return &StoreError{Path: path, Op: op, Err: fmt.Errorf("%w: %s", ErrSchema, fmt.Sprintf(format, args...))}
}

// MissingError reports an absent store file.
func MissingError(path string) error {
	return &StoreError{Path: path, Op: "open", Err: ErrStoreMissing}
}
