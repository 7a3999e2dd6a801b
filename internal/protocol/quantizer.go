package protocol

import (
	"fmt"
	"math"
	"math/bits"
)

// BitsRequired returns the field width that covers max-min:
// floor(log2(max-min)) + 1. It returns 0 when max <= min.
func BitsRequired(min, max int64) int {
	if max <= min {
		return 0
	}
	return bits.Len64(uint64(max - min))
}

// Quantizer decodes a real value in [Min, Max] sent as a fixed-width
// integer at the given resolution.
type Quantizer struct {
	Min        float64
	Max        float64
	Resolution float64

	steps uint64
	width int
}

// NewQuantizer derives the step count and bit width for an interval.
func NewQuantizer(min, max, resolution float64) (Quantizer, error) {
	if !(max > min) {
		return Quantizer{}, fmt.Errorf("quantizer [%g, %g]: %w: empty interval", min, max, ErrProtocolAnomaly)
	}
	if !(resolution > 0) || math.IsInf(resolution, 0) {
		return Quantizer{}, fmt.Errorf("quantizer resolution %g: %w: must be positive", resolution, ErrProtocolAnomaly)
	}
	steps := math.Ceil((max - min) / resolution)
	if steps >= 1<<63 {
		return Quantizer{}, fmt.Errorf("quantizer [%g, %g] at %g: %w: too many steps", min, max, resolution, ErrProtocolAnomaly)
	}
	q := Quantizer{Min: min, Max: max, Resolution: resolution, steps: uint64(steps)}
	q.width = BitsRequired(0, int64(q.steps))
	return q, nil
}

// MustQuantizer is NewQuantizer for constant intervals.
func MustQuantizer(min, max, resolution float64) Quantizer {
	q, err := NewQuantizer(min, max, resolution)
	if err != nil {
		panic(err)
	}
	return q
}

// Bits is the width of the encoded integer.
func (q Quantizer) Bits() int {
	return q.width
}

// Steps is ceil((Max-Min)/Resolution).
func (q Quantizer) Steps() uint64 {
	return q.steps
}

// Dequantize maps a raw integer back into the interval.
func (q Quantizer) Dequantize(raw uint64) float64 {
	return float64(raw)/float64(q.steps)*(q.Max-q.Min) + q.Min
}
