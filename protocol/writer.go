package protocol

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Writer accumulates a little-endian command record.
type Writer struct {
	buf *bytes.Buffer
}

// NewWriter creates a Writer with room for size bytes.
func NewWriter(size int) *Writer {
	return &Writer{buf: bytes.NewBuffer(make([]byte, 0, size))}
}

// Bytes returns the written bytes.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// WriteBytes writes a byte slice.
func (w *Writer) WriteBytes(data []byte) {
	w.buf.Write(data)
}

// WriteU16 writes a uint16.
func (w *Writer) WriteU16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

// WriteU32 writes a uint32.
func (w *Writer) WriteU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

// WriteI32 writes an int32.
func (w *Writer) WriteI32(v int32) {
	w.WriteU32(uint32(v))
}

// WriteU64 writes a uint64.
func (w *Writer) WriteU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

// WriteI64 writes an int64.
func (w *Writer) WriteI64(v int64) {
	w.WriteU64(uint64(v))
}

// WriteF32 writes an IEEE-754 float32.
func (w *Writer) WriteF32(v float32) {
	w.WriteU32(math.Float32bits(v))
}

// WriteF64 writes an IEEE-754 float64.
func (w *Writer) WriteF64(v float64) {
	w.WriteU64(math.Float64bits(v))
}

// WriteBool writes a bool as a 4-byte word.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteU32(1)
		return
	}
	w.WriteU32(0)
}
