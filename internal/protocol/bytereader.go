package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/text/encoding/charmap"
)

// maxVarintGroups is the number of 7-bit groups a string length may use.
const maxVarintGroups = 5

// ByteReader reads little-endian fields from a byte-aligned payload.
type ByteReader struct {
	buf []byte
	off int
}

// NewByteReader borrows b.
func NewByteReader(b []byte) *ByteReader {
	return &ByteReader{buf: b}
}

// Offset is the number of bytes consumed.
func (r *ByteReader) Offset() int {
	return r.off
}

// Remaining is the number of unread bytes.
func (r *ByteReader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *ByteReader) take(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.buf) {
		return nil, fmt.Errorf("need %d bytes at offset %d, have %d: %w",
			n, r.off, len(r.buf)-r.off, ErrStreamExhausted)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// ReadBytes returns the next n bytes. The slice aliases the buffer.
func (r *ByteReader) ReadBytes(n int) ([]byte, error) {
	return r.take(n)
}

func (r *ByteReader) ReadU8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *ByteReader) ReadU16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *ByteReader) ReadU32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *ByteReader) ReadU64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *ByteReader) ReadF32() (float32, error) {
	v, err := r.ReadU32()
	return math.Float32frombits(v), err
}

func (r *ByteReader) ReadF64() (float64, error) {
	v, err := r.ReadU64()
	return math.Float64frombits(v), err
}

// ReadBool reads one byte; any non-zero value is true.
func (r *ByteReader) ReadBool() (bool, error) {
	v, err := r.ReadU8()
	return v != 0, err
}

// ReadSizedBytes reads a u16 length followed by that many bytes.
func (r *ByteReader) ReadSizedBytes() ([]byte, error) {
	start := r.off
	n, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	b, err := r.take(int(n))
	if err != nil {
		r.off = start
		return nil, fmt.Errorf("sized blob of %d: %w", n, err)
	}
	return b, nil
}

// ReadVarLen reads a length of up to five 7-bit groups, low group first.
// A length whose fifth group still has the continuation bit set reads as 0.
func (r *ByteReader) ReadVarLen() (int, error) {
	var num uint64
	for shift := 0; shift < 7*maxVarintGroups; shift += 7 {
		b, err := r.ReadU8()
		if err != nil {
			return 0, err
		}
		num |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return int(num), nil
		}
	}
	return 0, nil
}

// ReadString reads a 7-bit length prefixed string whose bytes are
// ISO-8859-1 characters.
func (r *ByteReader) ReadString() (string, error) {
	start := r.off
	n, err := r.ReadVarLen()
	if err != nil {
		return "", fmt.Errorf("string length: %w", err)
	}
	raw, err := r.take(n)
	if err != nil {
		r.off = start
		return "", fmt.Errorf("string of %d: %w", n, err)
	}
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		r.off = start
		return "", fmt.Errorf("%w: latin-1: %v", ErrProtocolAnomaly, err)
	}
	return string(s), nil
}

// ReadVector3 reads three f32.
func (r *ByteReader) ReadVector3() (Vector3, error) {
	start := r.off
	var f [3]float32
	for i := range f {
		v, err := r.ReadF32()
		if err != nil {
			r.off = start
			return Vector3{}, fmt.Errorf("vector3: %w", err)
		}
		f[i] = v
	}
	return Vector3{X: float64(f[0]), Y: float64(f[1]), Z: float64(f[2])}, nil
}

// ReadQuaternion reads four f32 in x, y, z, w order.
func (r *ByteReader) ReadQuaternion() (Quaternion, error) {
	start := r.off
	var f [4]float32
	for i := range f {
		v, err := r.ReadF32()
		if err != nil {
			r.off = start
			return Quaternion{}, fmt.Errorf("quaternion: %w", err)
		}
		f[i] = v
	}
	return Quaternion{X: float64(f[0]), Y: float64(f[1]), Z: float64(f[2]), W: float64(f[3])}, nil
}
