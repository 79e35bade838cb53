// Package codec implements the canonical, deterministic, self-describing
// binary encoding used for every protocol record in TerrainGossip.
//
// The wire framing itself (one-byte type tag plus varint length) is handled
// by the wire package; this package only encodes the fields of a single
// record.
//
// Varint primitives are borrowed from protobuf's wire encoding
// (google.golang.org/protobuf/encoding/protowire) rather than hand-rolling a
// second varint reader/writer.
package codec

import (
	"bytes"
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// Writer accumulates a canonical encoding. Every Write* method appends to
// the buffer in the order the caller calls them; callers are responsible
// for calling them in the field order dictated by the record's wire
// contract, since canonical encoding fixes field order implicitly.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated canonical encoding.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// Varint appends v as an unsigned little-endian-group varint.
func (w *Writer) Varint(v uint64) {
	w.buf.Write(protowire.AppendVarint(nil, v))
}

// Fixed appends raw bytes with no length prefix, for fixed-size arrays such
// as hashes and signatures.
func (w *Writer) Fixed(b []byte) {
	w.buf.Write(b)
}

// VarBytes appends a variable-length byte string prefixed by its length as a
// varint.
func (w *Writer) VarBytes(b []byte) {
	w.Varint(uint64(len(b)))
	w.buf.Write(b)
}

// Seq writes the length of n elements as a varint; the caller then encodes
// each element in order via successive Writer calls.
func (w *Writer) Seq(n int) {
	w.Varint(uint64(n))
}

// Tag writes the discriminant of a tagged union.
func (w *Writer) Tag(discriminant uint64) {
	w.Varint(discriminant)
}

// MapEntry is a single (key, value) pair whose already-canonicalized key
// bytes are used to order the map deterministically.
type MapEntry struct {
	Key   []byte
	Value []byte
}

// Map writes a length-prefixed sequence of (key, value) pairs ordered by
// ascending canonical encoding of key.
func (w *Writer) Map(entries []MapEntry) {
	sorted := make([]MapEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Key, sorted[j].Key) < 0
	})
	w.Seq(len(sorted))
	for _, e := range sorted {
		w.buf.Write(e.Key)
		w.buf.Write(e.Value)
	}
}

// Reader consumes a canonical encoding produced by Writer. Every Read*
// method advances the cursor and returns an error if the buffer is
// exhausted or malformed.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps b for sequential canonical decoding.
func NewReader(b []byte) *Reader { return &Reader{buf: b} }

// Remaining reports how many bytes are left to consume.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Varint reads an unsigned varint.
func (r *Reader) Varint() (uint64, error) {
	v, n := protowire.ConsumeVarint(r.buf[r.pos:])
	if n < 0 {
		return 0, fmt.Errorf("codec: malformed varint at offset %d", r.pos)
	}
	r.pos += n
	return v, nil
}

// Fixed reads exactly n raw bytes.
func (r *Reader) Fixed(n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, fmt.Errorf("codec: truncated fixed field, want %d bytes, have %d", n, r.Remaining())
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	return out, nil
}

// VarBytes reads a varint-length-prefixed byte string.
func (r *Reader) VarBytes() ([]byte, error) {
	n, err := r.Varint()
	if err != nil {
		return nil, err
	}
	return r.Fixed(int(n))
}

// Seq reads the element count of a length-prefixed sequence.
func (r *Reader) Seq() (int, error) {
	n, err := r.Varint()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Tag reads the discriminant of a tagged union.
func (r *Reader) Tag() (uint64, error) {
	return r.Varint()
}
