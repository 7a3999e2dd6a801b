package protocol

import (
	"fmt"
	"math"

	"golang.org/x/text/encoding/unicode"
)

// MaxLimitedStringLen bounds the character count of a limited string.
const MaxLimitedStringLen = 8096

var utf16be = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

// ReorderWords byte-reverses every 4-byte group of b. A trailing group
// shorter than four bytes is reversed in place. The operation is its own
// inverse.
func ReorderWords(b []byte) []byte {
	out := make([]byte, len(b))
	for i := 0; i < len(b); i += 4 {
		end := i + 4
		if end > len(b) {
			end = len(b)
		}
		for j := i; j < end; j++ {
			out[j] = b[end-1-(j-i)]
		}
	}
	return out
}

// BitReader reads MSB-first bit fields from a payload whose 32-bit words
// were sent little-endian.
type BitReader struct {
	orig  []byte
	data  []byte
	off   int
	limit int
}

// NewBitReader borrows b; the caller must not modify it while reading.
func NewBitReader(b []byte) *BitReader {
	return &BitReader{
		orig:  b,
		data:  ReorderWords(b),
		limit: len(b) * 8,
	}
}

// BitOffset is the number of bits consumed.
func (r *BitReader) BitOffset() int {
	return r.off
}

// Remaining is the number of unread bits.
func (r *BitReader) Remaining() int {
	return r.limit - r.off
}

// Reset rewinds to the first bit.
func (r *BitReader) Reset() {
	r.off = 0
}

func (r *BitReader) exhausted(what string, need int) error {
	return fmt.Errorf("%s: need %d bits at offset %d, have %d: %w",
		what, need, r.off, r.limit-r.off, ErrStreamExhausted)
}

// ReadBits reads an n-bit unsigned field, 1 <= n <= 64. On failure the
// offset is unchanged.
func (r *BitReader) ReadBits(n int) (uint64, error) {
	if n < 1 || n > 64 {
		return 0, fmt.Errorf("read %d bits: %w: width out of range", n, ErrProtocolAnomaly)
	}
	if r.off+n > r.limit {
		return 0, r.exhausted("read bits", n)
	}

	var v uint64
	pos, rem := r.off, n
	for rem > 0 {
		avail := 8 - pos&7
		take := avail
		if rem < take {
			take = rem
		}
		chunk := (r.data[pos>>3] >> (avail - take)) & byte(0xFF>>(8-take))
		v = v<<take | uint64(chunk)
		pos += take
		rem -= take
	}
	r.off = pos
	return v, nil
}

// ReadBit reads a single bit as a bool.
func (r *BitReader) ReadBit() (bool, error) {
	v, err := r.ReadBits(1)
	return v == 1, err
}

// ReadLimited reads an integer known to lie in [min, max].
func (r *BitReader) ReadLimited(min, max int64) (int64, error) {
	n := BitsRequired(min, max)
	if n == 0 {
		return min, nil
	}
	v, err := r.ReadBits(n)
	if err != nil {
		return 0, fmt.Errorf("limited [%d, %d]: %w", min, max, err)
	}
	return int64(v) + min, nil
}

// ReadQuantized reads a float in [min, max] at resolution res.
func (r *BitReader) ReadQuantized(min, max, res float64) (float64, error) {
	q, err := NewQuantizer(min, max, res)
	if err != nil {
		return 0, err
	}
	return r.ReadQuantizer(q)
}

// ReadQuantizer reads a float with a prebuilt quantizer.
func (r *BitReader) ReadQuantizer(q Quantizer) (float64, error) {
	raw, err := r.ReadBits(q.Bits())
	if err != nil {
		return 0, fmt.Errorf("quantized [%g, %g]: %w", q.Min, q.Max, err)
	}
	return q.Dequantize(raw), nil
}

// Align skips to the next byte boundary. The limit is always a whole
// number of bytes, so Align never fails.
func (r *BitReader) Align() {
	r.off = (r.off + 7) &^ 7
}

// ReadBytes aligns, then reads n bytes through the bit path.
func (r *BitReader) ReadBytes(n int) ([]byte, error) {
	start := r.off
	r.Align()
	if r.off+n*8 > r.limit {
		err := r.exhausted("read bytes", n*8)
		r.off = start
		return nil, err
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = r.data[r.off>>3]
		r.off += 8
	}
	return out, nil
}

// ReadBytesAligned aligns, reads single bytes through the bit path until
// the byte offset is a multiple of four, then copies the rest straight from
// the unreordered input buffer. It returns the same bytes ReadBytes would for a
// payload that was written byte-wise on a word boundary.
func (r *BitReader) ReadBytesAligned(n int) ([]byte, error) {
	start := r.off
	r.Align()
	if r.off+n*8 > r.limit {
		err := r.exhausted("read aligned bytes", n*8)
		r.off = start
		return nil, err
	}
	out := make([]byte, 0, n)
	for len(out) < n && (r.off>>3)%4 != 0 {
		out = append(out, r.data[r.off>>3])
		r.off += 8
	}
	at := r.off >> 3
	rest := n - len(out)
	out = append(out, r.orig[at:at+rest]...)
	r.off += rest * 8
	return out, nil
}

// ReadU8 reads 8 bits.
func (r *BitReader) ReadU8() (uint8, error) {
	v, err := r.ReadBits(8)
	return uint8(v), err
}

// ReadU16 reads 16 bits.
func (r *BitReader) ReadU16() (uint16, error) {
	v, err := r.ReadBits(16)
	return uint16(v), err
}

// ReadU32 reads 32 bits.
func (r *BitReader) ReadU32() (uint32, error) {
	v, err := r.ReadBits(32)
	return uint32(v), err
}

// ReadU64 reads 64 bits.
func (r *BitReader) ReadU64() (uint64, error) {
	return r.ReadBits(64)
}

// ReadF32 reads a 32-bit IEEE 754 float.
func (r *BitReader) ReadF32() (float32, error) {
	v, err := r.ReadBits(32)
	return math.Float32frombits(uint32(v)), err
}

// ReadString reads a presence bit, then when set an aligned u32 count of
// UTF-16BE code units. An absent string is returned as "".
func (r *BitReader) ReadString() (string, error) {
	start := r.off
	s, err := r.readString()
	if err != nil {
		r.off = start
		return "", fmt.Errorf("string: %w", err)
	}
	return s, nil
}

func (r *BitReader) readString() (string, error) {
	present, err := r.ReadBit()
	if err != nil || !present {
		return "", err
	}
	r.Align()
	count, err := r.ReadU32()
	if err != nil {
		return "", err
	}
	if int64(count)*16 > int64(r.Remaining()) {
		return "", r.exhausted("string body", int(count)*16)
	}
	raw, err := r.ReadBytes(int(count) * 2)
	if err != nil {
		return "", err
	}
	decoded, err := utf16be.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("%w: utf-16: %v", ErrProtocolAnomaly, err)
	}
	return string(decoded), nil
}

// ReadLimitedString reads a presence bit, an aligned u32 count and count
// characters each encoded as a limited field in [lo, hi].
func (r *BitReader) ReadLimitedString(lo, hi rune) (string, error) {
	start := r.off
	s, err := r.readLimitedString(lo, hi)
	if err != nil {
		r.off = start
		return "", fmt.Errorf("limited string: %w", err)
	}
	return s, nil
}

func (r *BitReader) readLimitedString(lo, hi rune) (string, error) {
	present, err := r.ReadBit()
	if err != nil || !present {
		return "", err
	}
	r.Align()
	count, err := r.ReadU32()
	if err != nil {
		return "", err
	}
	if count >= MaxLimitedStringLen {
		return "", fmt.Errorf("%w: %d chars", ErrProtocolAnomaly, count)
	}
	out := make([]rune, count)
	for i := range out {
		c, err := r.ReadLimited(int64(lo), int64(hi))
		if err != nil {
			return "", err
		}
		out[i] = rune(c)
	}
	return string(out), nil
}
