package world

import (
	"fmt"

	"github.com/raidscope/raidscope/internal/protocol"
)

// MapBounds is the axis aligned box of the current map, announced by the
// server init message.
type MapBounds struct {
	Min        protocol.Vector3 `json:"min"`
	Max        protocol.Vector3 `json:"max"`
	MemberType uint32           `json:"member_type"`
	TimeFactor float32          `json:"time_factor"`
}

// Contains reports whether p lies inside the box, borders included.
func (b *MapBounds) Contains(p protocol.Vector3) bool {
	return b.Min.X <= p.X && p.X <= b.Max.X &&
		b.Min.Y <= p.Y && p.Y <= b.Max.Y &&
		b.Min.Z <= p.Z && p.Z <= b.Max.Z
}

// Check returns ErrOutOfBounds when p is outside the box.
func (b *MapBounds) Check(p protocol.Vector3) error {
	if !b.Contains(p) {
		return fmt.Errorf("(%.2f, %.2f, %.2f) not in [%v, %v]: %w", p.X, p.Y, p.Z, b.Min, b.Max, ErrOutOfBounds)
	}
	return nil
}

// Quantizers returns the absolute position quantizers for x, y and z.
func (b *MapBounds) Quantizers() ([3]protocol.Quantizer, error) {
	var qs [3]protocol.Quantizer
	axes := [3][2]float64{{b.Min.X, b.Max.X}, {b.Min.Y, b.Max.Y}, {b.Min.Z, b.Max.Z}}
	res := [3]float64{protocol.QLow, protocol.QHigh, protocol.QLow}
	for i, ax := range axes {
		q, err := protocol.NewQuantizer(ax[0], ax[1], res[i])
		if err != nil {
			return qs, fmt.Errorf("axis %d: %w", i, err)
		}
		qs[i] = q
	}
	return qs, nil
}
