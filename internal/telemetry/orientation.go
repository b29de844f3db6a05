package telemetry

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// IdentityTolerance bounds each component when testing for the identity rotation.
const IdentityTolerance = 1e-6

// Identity is the rotation the driver reports while it has no active tracking.
var Identity = quat.Number{Real: 1}

// NWUToEUS converts a rotation from the driver's North-West-Up axes to the
// compositor's East-Up-South axes: (x, y, z) becomes (-y, z, -x) and w is
// unchanged.
func NWUToEUS(q quat.Number) quat.Number {
	return quat.Number{Real: q.Real, Imag: -q.Jmag, Jmag: q.Kmag, Kmag: -q.Imag}
}

// EUSToNWU is the inverse of NWUToEUS.
func EUSToNWU(q quat.Number) quat.Number {
	return quat.Number{Real: q.Real, Imag: -q.Kmag, Jmag: -q.Imag, Kmag: q.Jmag}
}

// NWUToEUSVec applies the NWUToEUS axis mapping to a position.
func NWUToEUSVec(v Vec3) Vec3 {
	return Vec3{X: -v.Y, Y: v.Z, Z: -v.X}
}

// EUSToNWUVec is the inverse of NWUToEUSVec.
func EUSToNWUVec(v Vec3) Vec3 {
	return Vec3{X: -v.Z, Y: -v.X, Z: v.Y}
}

// IsIdentity reports whether q is the identity rotation within
// IdentityTolerance. The axis mapping leaves the identity unchanged, so the
// test holds in either convention.
func IsIdentity(q quat.Number) bool {
	return math.Abs(q.Imag) <= IdentityTolerance &&
		math.Abs(q.Jmag) <= IdentityTolerance &&
		math.Abs(q.Kmag) <= IdentityTolerance &&
		math.Abs(q.Real-1) <= IdentityTolerance
}

// AngleBetween returns the rotation angle in radians that takes a to b.
func AngleBetween(a, b quat.Number) float64 {
	na, nb := quat.Abs(a), quat.Abs(b)
	if na == 0 || nb == 0 {
		return 0
	}
	d := quat.Mul(quat.Conj(quat.Scale(1/na, a)), quat.Scale(1/nb, b))
	w := math.Min(1, math.Abs(d.Real))
	return 2 * math.Acos(w)
}

// Euler holds yaw, pitch and roll in degrees, for display only.
type Euler struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// ToEuler converts an EUS rotation to yaw about Up, pitch about East and
// roll about South.
func ToEuler(q quat.Number) Euler {
	n := quat.Abs(q)
	if n == 0 {
		return Euler{}
	}
	q = quat.Scale(1/n, q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag

	// Y-X-Z order with Y as the up axis.
	sinPitch := 2 * (w*x - y*z)
	var pitch float64
	if math.Abs(sinPitch) >= 1 {
		pitch = math.Copysign(math.Pi/2, sinPitch)
	} else {
		pitch = math.Asin(sinPitch)
	}
	yaw := math.Atan2(2*(w*y+x*z), 1-2*(x*x+y*y))
	roll := math.Atan2(2*(w*z+x*y), 1-2*(x*x+z*z))

	return Euler{
		Yaw:   yaw * 180 / math.Pi,
		Pitch: pitch * 180 / math.Pi,
		Roll:  roll * 180 / math.Pi,
	}
}
