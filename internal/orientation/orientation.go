package orientation

import (
	"math"
)

// Vec3 is a position in world units or a set of Euler angles in degrees.
type Vec3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// At returns component i (0=X, 1=Y, 2=Z).
func (v Vec3) At(i int) float64 {
	switch i {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// With returns a copy of v with component i replaced.
func (v Vec3) With(i int, f float64) Vec3 {
	switch i {
	case 0:
		v.X = f
	case 1:
		v.Y = f
	default:
		v.Z = f
	}
	return v
}

// IsZero reports whether every component is exactly zero.
func (v Vec3) IsZero() bool { return v.X == 0 && v.Y == 0 && v.Z == 0 }

// HasNaN reports whether any component is NaN.
func (v Vec3) HasNaN() bool {
	return math.IsNaN(v.X) || math.IsNaN(v.Y) || math.IsNaN(v.Z)
}

// Quat is a unit rotation quaternion.
type Quat struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
	W float64 `json:"w" yaml:"w"`
}

// Identity is the zero rotation.
var Identity = Quat{W: 1}

// IsZero reports whether q is the all-zero value, which is what a missing
// source yields. The identity rotation is not zero.
func (q Quat) IsZero() bool { return q.X == 0 && q.Y == 0 && q.Z == 0 && q.W == 0 }

// Euler returns the rotation as Euler angles in degrees, each in [0,360).
// Rotation order is Z, then X, then Y, matching the engines the device
// streams were recorded against.
func (q Quat) Euler() Vec3 {
	sinX := 2 * (q.W*q.X - q.Y*q.Z)
	sinX = math.Max(-1, math.Min(1, sinX))
	x := math.Asin(sinX)
	y := math.Atan2(2*(q.W*q.Y+q.X*q.Z), 1-2*(q.X*q.X+q.Y*q.Y))
	z := math.Atan2(2*(q.W*q.Z+q.X*q.Y), 1-2*(q.X*q.X+q.Z*q.Z))
	return Vec3{
		X: NormalizeDegrees(x * 180 / math.Pi),
		Y: NormalizeDegrees(y * 180 / math.Pi),
		Z: NormalizeDegrees(z * 180 / math.Pi),
	}
}

// FromEuler is the inverse of Quat.Euler.
func FromEuler(e Vec3) Quat {
	hx := e.X * math.Pi / 360
	hy := e.Y * math.Pi / 360
	hz := e.Z * math.Pi / 360
	sx, cx := math.Sincos(hx)
	sy, cy := math.Sincos(hy)
	sz, cz := math.Sincos(hz)
	return Quat{
		X: cy*sx*cz + sy*cx*sz,
		Y: sy*cx*cz - cy*sx*sz,
		Z: cy*cx*sz - sy*sx*cz,
		W: cy*cx*cz + sy*sx*sz,
	}
}

// NormalizeDegrees maps any angle onto [0,360).
func NormalizeDegrees(d float64) float64 {
	m := math.Mod(d, 360)
	if m < 0 {
		m += 360
	}
	return m
}

// Pose is a tilt estimate in aviation terms, in degrees.
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Euler maps the pose onto engine axes: pitch turns around X, yaw around
// Y and roll around Z.
func (p Pose) Euler() Vec3 {
	return Vec3{
		X: NormalizeDegrees(p.Pitch),
		Y: NormalizeDegrees(p.Yaw),
		Z: NormalizeDegrees(p.Roll),
	}
}

// ComputePoseFromAccel computes roll and pitch from accelerometer data only.
// Yaw is set to 0 since no magnetometer heading is fused.
//
// Uses simple tilt formulas:
//
//	roll  = atan2(ay, az)
//	pitch = atan2(-ax, sqrt(ay² + az²))
func ComputePoseFromAccel(ax, ay, az float64) Pose {
	rollRad := math.Atan2(ay, az)
	pitchRad := math.Atan2(-ax, math.Sqrt(ay*ay+az*az))

	return Pose{
		Roll:  rollRad * 180.0 / math.Pi,
		Pitch: pitchRad * 180.0 / math.Pi,
	}
}
