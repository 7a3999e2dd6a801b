package world

import (
	"math"

	"github.com/raidscope/raidscope/internal/protocol"
)

// Distance is the euclidean distance between a and b.
func Distance(a, b protocol.Vector3) float64 {
	d := a.Sub(b)
	return math.Sqrt(d.X*d.X + d.Y*d.Y + d.Z*d.Z)
}

// VerticalDistance is how far target is above me.
func VerticalDistance(me, target protocol.Vector3) float64 {
	return target.Y - me.Y
}

// Angle is the signed horizontal angle, rounded to whole degrees, from my view
// direction to target. yaw is my rotation around the vertical axis.
func Angle(me, target protocol.Vector3, yaw float64) int {
	// Project onto the horizontal plane and measure against -Z.
	vx, vz := me.X-target.X, me.Z-target.Z
	n := math.Hypot(vx, vz)
	if n == 0 {
		return 0
	}
	cos := -vz / n
	a := math.Acos(math.Max(-1, math.Min(1, cos))) * 180 / math.Pi
	if vx < 0 {
		a = -a
	}
	a = normAngle(a + yaw)
	if math.IsNaN(a) {
		return 0
	}
	return -int(math.Round(a))
}

func normAngle(a float64) float64 {
	if a > 180 {
		a -= 360
	}
	if a < -180 {
		a += 360
	}
	return a
}

// QuaternionToEuler converts q to degrees with X as yaw, Y as pitch and Z
// as roll, the layout rotation updates write into.
func QuaternionToEuler(q protocol.Quaternion) protocol.Vector3 {
	t0 := 2 * (q.W*q.X + q.Y*q.Z)
	t1 := 1 - 2*(q.X*q.X+q.Y*q.Y)
	roll := math.Atan2(t0, t1)

	t2 := 2 * (q.W*q.Y - q.Z*q.X)
	t2 = math.Max(-1, math.Min(1, t2))
	pitch := math.Asin(t2)

	t3 := 2 * (q.W*q.Z + q.X*q.Y)
	t4 := 1 - 2*(q.Y*q.Y+q.Z*q.Z)
	yaw := math.Atan2(t3, t4)

	const deg = 180 / math.Pi
	return protocol.Vector3{X: yaw * deg, Y: pitch * deg, Z: roll * deg}
}
