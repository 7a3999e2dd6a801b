package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/text/encoding/charmap"
)

// PacketBuilder assembles byte-aligned payloads: transport frames, spawn
// blobs and entity trees. It is the inverse of ByteReader and is used to
// build fixtures and synthetic packets.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// Reset clears the builder for reuse.
func (b *PacketBuilder) Reset() {
	b.buf.Reset()
}

// WriteByte writes a single byte.
func (b *PacketBuilder) WriteByte(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteBool writes 1 or 0.
func (b *PacketBuilder) WriteBool(v bool) *PacketBuilder {
	if v {
		return b.WriteByte(1)
	}
	return b.WriteByte(0)
}

// WriteUint16 writes a uint16 in little-endian order.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteUint16BE writes a uint16 in network order, as transport headers use.
func (b *PacketBuilder) WriteUint16BE(v uint16) *PacketBuilder {
	binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

// WriteUint32 writes a uint32 in little-endian order.
func (b *PacketBuilder) WriteUint32(v uint32) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteUint64 writes a uint64 in little-endian order.
func (b *PacketBuilder) WriteUint64(v uint64) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteFloat32 writes a float32 in little-endian order.
func (b *PacketBuilder) WriteFloat32(v float32) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteFloat64 writes a float64 in little-endian order.
func (b *PacketBuilder) WriteFloat64(v float64) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteString writes a 7-bit length prefixed ISO-8859-1 string.
// Characters outside Latin-1 are replaced.
func (b *PacketBuilder) WriteString(s string) *PacketBuilder {
	enc, err := charmap.ISO8859_1.NewEncoder().String(s)
	if err != nil {
		enc = s
	}
	n := uint64(len(enc))
	for n >= 0x80 {
		b.buf.WriteByte(byte(n) | 0x80)
		n >>= 7
	}
	b.buf.WriteByte(byte(n))
	b.buf.WriteString(enc)
	return b
}

// WriteSizedBytes writes a u16 length followed by data.
func (b *PacketBuilder) WriteSizedBytes(data []byte) *PacketBuilder {
	b.WriteUint16(uint16(len(data)))
	b.buf.Write(data)
	return b
}

// WriteVector3 writes three f32.
func (b *PacketBuilder) WriteVector3(v Vector3) *PacketBuilder {
	return b.WriteFloat32(float32(v.X)).WriteFloat32(float32(v.Y)).WriteFloat32(float32(v.Z))
}

// WriteQuaternion writes four f32.
func (b *PacketBuilder) WriteQuaternion(q Quaternion) *PacketBuilder {
	return b.WriteFloat32(float32(q.X)).WriteFloat32(float32(q.Y)).
		WriteFloat32(float32(q.Z)).WriteFloat32(float32(q.W))
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// Build returns the constructed packet bytes.
func (b *PacketBuilder) Build() []byte {
	return b.buf.Bytes()
}

// Len returns the current size of the packet being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current packet for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}

type rawSpan struct {
	at   int
	data []byte
}

// BitWriter is the inverse of BitReader. Fields are packed MSB first and
// Bytes applies the word reorder.
//
// A span written with WriteBytesAligned is copied verbatim into the output.
// If such a span ends inside a 32-bit word, fields written after it share
// that word and do not read back; keep raw spans last or word sized.
type BitWriter struct {
	buf  []byte
	off  int
	raws []rawSpan
}

// NewBitWriter creates an empty writer.
func NewBitWriter() *BitWriter {
	return &BitWriter{}
}

// BitOffset is the number of bits written.
func (w *BitWriter) BitOffset() int {
	return w.off
}

// WriteBits appends the low n bits of v.
func (w *BitWriter) WriteBits(v uint64, n int) *BitWriter {
	for i := n - 1; i >= 0; i-- {
		if w.off>>3 >= len(w.buf) {
			w.buf = append(w.buf, 0)
		}
		if v>>uint(i)&1 == 1 {
			w.buf[w.off>>3] |= 0x80 >> uint(w.off&7)
		}
		w.off++
	}
	return w
}

// WriteBit appends a single bit.
func (w *BitWriter) WriteBit(v bool) *BitWriter {
	if v {
		return w.WriteBits(1, 1)
	}
	return w.WriteBits(0, 1)
}

// WriteLimited appends v as a field in [min, max].
func (w *BitWriter) WriteLimited(v, min, max int64) *BitWriter {
	n := BitsRequired(min, max)
	if n == 0 {
		return w
	}
	return w.WriteBits(uint64(v-min), n)
}

// WriteQuantizer appends f at the resolution of q, clamped to the interval.
func (w *BitWriter) WriteQuantizer(q Quantizer, f float64) *BitWriter {
	if f < q.Min {
		f = q.Min
	}
	if f > q.Max {
		f = q.Max
	}
	raw := math.Round((f - q.Min) / (q.Max - q.Min) * float64(q.Steps()))
	return w.WriteBits(uint64(raw), q.Bits())
}

// Align pads with zero bits to the next byte boundary.
func (w *BitWriter) Align() *BitWriter {
	if pad := (8 - w.off&7) & 7; pad > 0 {
		w.WriteBits(0, pad)
	}
	return w
}

// WriteBytes aligns and appends data through the bit path.
func (w *BitWriter) WriteBytes(data []byte) *BitWriter {
	w.Align()
	for _, c := range data {
		w.WriteBits(uint64(c), 8)
	}
	return w
}

// WriteBytesAligned mirrors BitReader.ReadBytesAligned.
func (w *BitWriter) WriteBytesAligned(data []byte) *BitWriter {
	w.Align()
	i := 0
	for ; i < len(data) && (w.off>>3)%4 != 0; i++ {
		w.WriteBits(uint64(data[i]), 8)
	}
	if i < len(data) {
		rest := data[i:]
		w.raws = append(w.raws, rawSpan{at: w.off >> 3, data: append([]byte(nil), rest...)})
		w.buf = append(w.buf, make([]byte, len(rest))...)
		w.off += len(rest) * 8
	}
	return w
}

func (w *BitWriter) WriteU8(v uint8) *BitWriter   { return w.WriteBits(uint64(v), 8) }
func (w *BitWriter) WriteU16(v uint16) *BitWriter { return w.WriteBits(uint64(v), 16) }
func (w *BitWriter) WriteU32(v uint32) *BitWriter { return w.WriteBits(uint64(v), 32) }
func (w *BitWriter) WriteU64(v uint64) *BitWriter { return w.WriteBits(v, 64) }

func (w *BitWriter) WriteF32(v float32) *BitWriter {
	return w.WriteBits(uint64(math.Float32bits(v)), 32)
}

// WriteString appends a present UTF-16BE string.
func (w *BitWriter) WriteString(s string) *BitWriter {
	enc, err := utf16be.NewEncoder().Bytes([]byte(s))
	if err != nil {
		enc = nil
	}
	w.WriteBit(true).Align()
	w.WriteU32(uint32(len(enc) / 2))
	return w.WriteBytes(enc)
}

// WriteNullString appends an absent string.
func (w *BitWriter) WriteNullString() *BitWriter {
	return w.WriteBit(false)
}

// WriteLimitedString appends s with each rune as a field in [lo, hi].
func (w *BitWriter) WriteLimitedString(s string, lo, hi rune) *BitWriter {
	runes := []rune(s)
	w.WriteBit(true).Align()
	w.WriteU32(uint32(len(runes)))
	for _, c := range runes {
		w.WriteLimited(int64(c), int64(lo), int64(hi))
	}
	return w
}

// Bytes returns the wire form: zero padded to a byte, words reordered and
// raw spans copied in place.
func (w *BitWriter) Bytes() []byte {
	out := ReorderWords(w.buf)
	for _, s := range w.raws {
		copy(out[s.at:], s.data)
	}
	return out
}
