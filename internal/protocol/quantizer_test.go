package protocol

import (
	"errors"
	"math"
	"testing"
)

func TestBitsRequired(t *testing.T) {
	tests := []struct {
		min, max int64
		want     int
	}{
		{0, 1, 1},
		{0, 2, 2},
		{1, 5, 3},
		{0, 15, 4},
		{0, 127, 7},
		{0, 1024, 11},
		{0, 2097151, 21},
		{5, 5, 0},
	}
	for _, tt := range tests {
		if got := BitsRequired(tt.min, tt.max); got != tt.want {
			t.Errorf("BitsRequired(%d, %d): expected %d, got %d", tt.min, tt.max, tt.want, got)
		}
	}
}

func TestQuantizerWidths(t *testing.T) {
	tests := []struct {
		name          string
		min, max, res float64
		steps         uint64
		bits          int
	}{
		// 2/2^-9 = 1024 steps, floor(log2(1024))+1 = 11
		{"q low", -1, 1, QLow, 1024, 11},
		{"q high", -1, 1, QHigh, 2048, 12},
		{"yaw", 0, 360, QRotation, 23040, 15},
		{"pitch", -90, 90, QRotation, 11520, 14},
		{"dt", 0, 1, QHigh, 1024, 11},
		{"coarse", 0, 10, 3, 4, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := NewQuantizer(tt.min, tt.max, tt.res)
			if err != nil {
				t.Fatal(err)
			}
			if q.Steps() != tt.steps || q.Bits() != tt.bits {
				t.Errorf("expected %d steps / %d bits, got %d / %d", tt.steps, tt.bits, q.Steps(), q.Bits())
			}
			again := MustQuantizer(tt.min, tt.max, tt.res)
			if again.Bits() != q.Bits() {
				t.Errorf("width not stable: %d vs %d", again.Bits(), q.Bits())
			}
		})
	}
}

func TestQuantizerDequantize(t *testing.T) {
	q := MustQuantizer(-1, 1, QLow)
	if v := q.Dequantize(0); v != -1 {
		t.Errorf("expected -1, got %v", v)
	}
	if v := q.Dequantize(512); v != 0 {
		t.Errorf("expected 0, got %v", v)
	}
	if v := q.Dequantize(1024); v != 1 {
		t.Errorf("expected 1, got %v", v)
	}
	for raw := uint64(0); raw <= q.Steps(); raw += 37 {
		v := q.Dequantize(raw)
		back := math.Round((v - q.Min) / (q.Max - q.Min) * float64(q.Steps()))
		if uint64(back) != raw {
			t.Fatalf("raw %d decoded to %v, encoded back to %v", raw, v, back)
		}
	}
}

func TestQuantizerInvalid(t *testing.T) {
	cases := [][3]float64{
		{1, 1, 0.1},
		{2, 1, 0.1},
		{0, 1, 0},
		{0, 1, -1},
		{0, 1, math.NaN()},
	}
	for _, c := range cases {
		if _, err := NewQuantizer(c[0], c[1], c[2]); !errors.Is(err, ErrProtocolAnomaly) {
			t.Errorf("NewQuantizer(%v): expected ErrProtocolAnomaly, got %v", c, err)
		}
	}
}
