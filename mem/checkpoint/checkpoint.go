// Package checkpoint encodes the persisted state of caches and directories.
//
// A checkpoint is a stream of JSON values: one Header followed by exactly
// Sets*Associativity Records in set-major, way-minor order.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrGeometry is returned when a stream was saved from a structure of a
	// different shape.
	ErrGeometry = errors.New("checkpoint geometry mismatch")

	// ErrMalformed is returned when a stream cannot be decoded or holds the
	// wrong number of records.
	ErrMalformed = errors.New("malformed checkpoint")
)

// Header describes the structure a checkpoint was taken from.
type Header struct {
	Kind            string `json:"kind"`
	Sets            int    `json:"sets"`
	Associativity   int    `json:"associativity"`
	BlocksPerRegion int    `json:"blocks_per_region,omitempty"`
}

// NumRecords returns how many records follow the header.
func (h Header) NumRecords() int {
	return h.Sets * h.Associativity
}

// Record holds one way of one set.
type Record struct {
	Tag     uint64  `json:"tag"`
	State   string  `json:"state,omitempty"`
	Sharers []int   `json:"sharers,omitempty"`
	Owner   int     `json:"owner"`
	Blocks  [][]int `json:"blocks,omitempty"`
}

// A Writer emits a checkpoint.
type Writer struct {
	enc      *json.Encoder
	expected int
	written  int
}

// NewWriter writes the header and returns a Writer for the records.
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	enc := json.NewEncoder(w)

	err := enc.Encode(h)
	if err != nil {
		return nil, err
	}

	return &Writer{enc: enc, expected: h.NumRecords()}, nil
}

// Write appends a record.
func (w *Writer) Write(r Record) error {
	if w.written >= w.expected {
		return fmt.Errorf("%w: more than %d records written",
			ErrMalformed, w.expected)
	}

	w.written++

	return w.enc.Encode(r)
}

// Close verifies that every record has been written.
func (w *Writer) Close() error {
	if w.written != w.expected {
		return fmt.Errorf("%w: %d of %d records written",
			ErrMalformed, w.written, w.expected)
	}

	return nil
}

// A Reader consumes a checkpoint.
type Reader struct {
	dec      *json.Decoder
	header   Header
	expected int
	read     int
}

// NewReader reads the header and checks it against expect.
func NewReader(r io.Reader, expect Header) (*Reader, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var h Header

	err := dec.Decode(&h)
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}

	if h != expect {
		return nil, fmt.Errorf("%w: saved %+v, configured %+v",
			ErrGeometry, h, expect)
	}

	return &Reader{dec: dec, header: h, expected: h.NumRecords()}, nil
}

// Header returns the decoded header.
func (r *Reader) Header() Header {
	return r.header
}

// Next decodes the next record.
func (r *Reader) Next() (Record, error) {
	rec := Record{Owner: -1}

	if r.read >= r.expected {
		return rec, fmt.Errorf("%w: reading past %d records",
			ErrMalformed, r.expected)
	}

	err := r.dec.Decode(&rec)
	if err == io.EOF {
		return rec, fmt.Errorf("%w: stream ends after %d of %d records",
			ErrMalformed, r.read, r.expected)
	}

	if err != nil {
		return rec, fmt.Errorf("%w: record %d: %v", ErrMalformed, r.read, err)
	}

	r.read++

	return rec, nil
}

// Close verifies that every record has been consumed and nothing follows.
func (r *Reader) Close() error {
	if r.read != r.expected {
		return fmt.Errorf("%w: %d of %d records read",
			ErrMalformed, r.read, r.expected)
	}

	var extra json.RawMessage

	err := r.dec.Decode(&extra)
	if err != io.EOF {
		return fmt.Errorf("%w: trailing data after %d records",
			ErrMalformed, r.expected)
	}

	return nil
}

// ReadAll reads every record of a checkpoint and passes it to fn together
// with its set and way.
func ReadAll(
	src io.Reader,
	expect Header,
	fn func(set, way int, rec Record) error,
) error {
	r, err := NewReader(src, expect)
	if err != nil {
		return err
	}

	for set := 0; set < expect.Sets; set++ {
		for way := 0; way < expect.Associativity; way++ {
			rec, err := r.Next()
			if err != nil {
				return err
			}

			err = fn(set, way, rec)
			if err != nil {
				return err
			}
		}
	}

	return r.Close()
}

// WriteAll writes a header and asks fn for the record of every set and way.
func WriteAll(
	dst io.Writer,
	h Header,
	fn func(set, way int) Record,
) error {
	w, err := NewWriter(dst, h)
	if err != nil {
		return err
	}

	for set := 0; set < h.Sets; set++ {
		for way := 0; way < h.Associativity; way++ {
			err = w.Write(fn(set, way))
			if err != nil {
				return err
			}
		}
	}

	return w.Close()
}
