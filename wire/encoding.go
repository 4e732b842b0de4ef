// Package wire implements the byte-exact, length-prefixed, signed message
// envelopes exchanged between session participants.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Writer accumulates a byte-exact payload using the wire format: every
// integer is big-endian fixed width, every byte string is prefixed with
// its 4-byte big-endian length.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes writes a length-prefixed byte string.
func (w *Writer) Bytes(b []byte) *Writer {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	w.buf = append(w.buf, lenBuf[:]...)
	w.buf = append(w.buf, b...)
	return w
}

// Fixed writes b as-is, with no length prefix. Used for fixed-size fields
// (ids, nonces) where the length is implied by the field's type.
func (w *Writer) Fixed(b []byte) *Writer {
	w.buf = append(w.buf, b...)
	return w
}

// Uint64 writes a big-endian uint64.
func (w *Writer) Uint64(v uint64) *Writer {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

// Int64 writes a big-endian int64 (used for millisecond timestamps).
func (w *Writer) Int64(v int64) *Writer {
	return w.Uint64(uint64(v))
}

// Uint32 writes a big-endian uint32 (used for list lengths).
func (w *Writer) Uint32(v uint32) *Writer {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

// Bool writes a single byte: 1 for true, 0 for false.
func (w *Writer) Bool(v bool) *Writer {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
	return w
}

// String writes a length-prefixed UTF-8 string.
func (w *Writer) String(s string) *Writer {
	return w.Bytes([]byte(s))
}

// Out returns the accumulated payload.
func (w *Writer) Out() []byte {
	return w.buf
}

// Reader consumes a byte-exact payload produced by Writer, tracking a
// read cursor and the first error encountered so callers can chain reads
// and check err once at the end.
type Reader struct {
	buf []byte
	pos int
	err error
}

// NewReader wraps b for sequential decoding.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Err returns the first error encountered during decoding, if any.
func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.buf) {
		r.fail(fmt.Errorf("wire: unexpected end of buffer: need %d bytes, have %d", n, len(r.buf)-r.pos))
		return false
	}
	return true
}

// Fixed reads exactly n raw bytes.
func (r *Reader) Fixed(n int) []byte {
	if !r.need(n) {
		return nil
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	return out
}

// Bytes reads a length-prefixed byte string. An empty string decodes
// to nil, the zero value of an unset field.
func (r *Reader) Bytes() []byte {
	n := r.Uint32()
	if r.err != nil || n == 0 {
		return nil
	}
	return r.Fixed(int(n))
}

// String reads a length-prefixed UTF-8 string.
func (r *Reader) String() string {
	return string(r.Bytes())
}

// Uint64 reads a big-endian uint64.
func (r *Reader) Uint64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v
}

// Int64 reads a big-endian int64.
func (r *Reader) Int64() int64 {
	return int64(r.Uint64())
}

// Uint32 reads a big-endian uint32.
func (r *Reader) Uint32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v
}

// Bool reads a single boolean byte.
func (r *Reader) Bool() bool {
	b := r.Fixed(1)
	if len(b) != 1 {
		return false
	}
	return b[0] != 0
}

// Remaining returns every byte not yet consumed.
func (r *Reader) Remaining() []byte {
	if r.err != nil || r.pos > len(r.buf) {
		return nil
	}
	out := make([]byte, len(r.buf)-r.pos)
	copy(out, r.buf[r.pos:])
	return out
}

// AtEnd reports whether the reader has consumed the whole buffer cleanly.
func (r *Reader) AtEnd() bool {
	return r.err == nil && r.pos == len(r.buf)
}
