package classfile

import (
	"bytes"
	"encoding/binary"
)

// ByteWriter accumulates big-endian class file bytes.
type ByteWriter struct {
	buf bytes.Buffer
}

// NewByteWriter creates an empty writer.
func NewByteWriter() *ByteWriter {
	return &ByteWriter{}
}

// WriteU8 writes a single byte.
func (w *ByteWriter) WriteU8(v uint8) {
	w.buf.WriteByte(v)
}

// WriteU16 writes an unsigned 16-bit value.
func (w *ByteWriter) WriteU16(v uint16) {
	binary.Write(&w.buf, binary.BigEndian, v)
}

// WriteU32 writes an unsigned 32-bit value.
func (w *ByteWriter) WriteU32(v uint32) {
	binary.Write(&w.buf, binary.BigEndian, v)
}

// WriteU64 writes an unsigned 64-bit value.
func (w *ByteWriter) WriteU64(v uint64) {
	binary.Write(&w.buf, binary.BigEndian, v)
}

// WriteBytes writes a raw byte slice.
func (w *ByteWriter) WriteBytes(b []byte) {
	w.buf.Write(b)
}

// PatchU16 overwrites two already written bytes at pos. Branch offsets are
// written as placeholders and patched once the target is known.
func (w *ByteWriter) PatchU16(pos int, v uint16) {
	binary.BigEndian.PutUint16(w.buf.Bytes()[pos:], v)
}

// Bytes returns the accumulated bytes.
func (w *ByteWriter) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the number of bytes written so far.
func (w *ByteWriter) Len() int {
	return w.buf.Len()
}
