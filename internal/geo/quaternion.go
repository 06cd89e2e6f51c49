// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package geo

import "math"

// Quaternion is a unit quaternion rotating body-frame vectors into the
// NED frame.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Identity is the level, north-facing attitude.
var Identity = Quaternion{W: 1}

// FromEuler builds a quaternion from Z-Y-X Euler angles in radians.
func FromEuler(roll, pitch, yaw float64) Quaternion {
	cr, sr := math.Cos(roll/2), math.Sin(roll/2)
	cp, sp := math.Cos(pitch/2), math.Sin(pitch/2)
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)
	return Quaternion{
		W: cr*cp*cy + sr*sp*sy,
		X: sr*cp*cy - cr*sp*sy,
		Y: cr*sp*cy + sr*cp*sy,
		Z: cr*cp*sy - sr*sp*cy,
	}
}

// Euler returns roll, pitch and yaw in radians.
func (q Quaternion) Euler() (roll, pitch, yaw float64) {
	roll = math.Atan2(2*(q.W*q.X+q.Y*q.Z), 1-2*(q.X*q.X+q.Y*q.Y))
	pitch = math.Asin(Clamp(2*(q.W*q.Y-q.Z*q.X), -1, 1))
	yaw = math.Atan2(2*(q.W*q.Z+q.X*q.Y), 1-2*(q.Y*q.Y+q.Z*q.Z))
	return roll, pitch, yaw
}

func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

func (q Quaternion) IsNaN() bool {
	return math.IsNaN(q.W) || math.IsNaN(q.X) || math.IsNaN(q.Y) || math.IsNaN(q.Z)
}

// Normalized returns q scaled to unit length. A degenerate quaternion
// becomes Identity.
func (q Quaternion) Normalized() Quaternion {
	n := q.Norm()
	if n == 0 || math.IsNaN(n) {
		return Identity
	}
	return Quaternion{q.W / n, q.X / n, q.Y / n, q.Z / n}
}

func (q Quaternion) Conjugate() Quaternion { return Quaternion{q.W, -q.X, -q.Y, -q.Z} }

// Mul returns the Hamilton product q⊗p.
func (q Quaternion) Mul(p Quaternion) Quaternion {
	return Quaternion{
		W: q.W*p.W - q.X*p.X - q.Y*p.Y - q.Z*p.Z,
		X: q.W*p.X + q.X*p.W + q.Y*p.Z - q.Z*p.Y,
		Y: q.W*p.Y - q.X*p.Z + q.Y*p.W + q.Z*p.X,
		Z: q.W*p.Z + q.X*p.Y - q.Y*p.X + q.Z*p.W,
	}
}

// Integrate advances q by the body rate omega (rad/s) over dt and
// renormalizes.
func (q Quaternion) Integrate(omega Vector3, dt float64) Quaternion {
	h := 0.5 * dt
	return Quaternion{
		W: q.W + h*(-q.X*omega.X-q.Y*omega.Y-q.Z*omega.Z),
		X: q.X + h*(q.W*omega.X+q.Y*omega.Z-q.Z*omega.Y),
		Y: q.Y + h*(q.W*omega.Y-q.X*omega.Z+q.Z*omega.X),
		Z: q.Z + h*(q.W*omega.Z+q.X*omega.Y-q.Y*omega.X),
	}.Normalized()
}

// Matrix3 is a row-major 3x3 matrix.
type Matrix3 [3][3]float64

// RotationMatrix returns the body→NED rotation matrix.
func (q Quaternion) RotationMatrix() Matrix3 {
	w, x, y, z := q.W, q.X, q.Y, q.Z
	return Matrix3{
		{1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y)},
		{2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x)},
		{2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y)},
	}
}

// Apply returns m·v.
func (m Matrix3) Apply(v Vector3) Vector3 {
	return Vector3{
		m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// ApplyTransposed returns mᵀ·v.
func (m Matrix3) ApplyTransposed(v Vector3) Vector3 {
	return Vector3{
		m[0][0]*v.X + m[1][0]*v.Y + m[2][0]*v.Z,
		m[0][1]*v.X + m[1][1]*v.Y + m[2][1]*v.Z,
		m[0][2]*v.X + m[1][2]*v.Y + m[2][2]*v.Z,
	}
}

func (q Quaternion) BodyToNED(v Vector3) Vector3 { return q.RotationMatrix().Apply(v) }
func (q Quaternion) NEDToBody(v Vector3) Vector3 { return q.RotationMatrix().ApplyTransposed(v) }

// Down is the NED down axis expressed in the body frame, i.e. the
// direction gravity pulls as seen by the vehicle.
func (q Quaternion) Down() Vector3 {
	return Vector3{
		2 * (q.X*q.Z - q.W*q.Y),
		2 * (q.Y*q.Z + q.W*q.X),
		q.W*q.W - q.X*q.X - q.Y*q.Y + q.Z*q.Z,
	}
}

// RotationJacobian returns ∂(R(q)·v)/∂q as a 3x4 matrix with columns
// ordered w, x, y, z.
func RotationJacobian(q Quaternion, v Vector3) [3][4]float64 {
	w, x, y, z := q.W, q.X, q.Y, q.Z
	a, b, c := v.X, v.Y, v.Z
	return [3][4]float64{
		{2 * (-z*b + y*c), 2 * (y*b + z*c), 2 * (-2*y*a + x*b + w*c), 2 * (-2*z*a - w*b + x*c)},
		{2 * (z*a - x*c), 2 * (y*a - 2*x*b - w*c), 2 * (x*a + z*c), 2 * (w*a - 2*z*b + y*c)},
		{2 * (-y*a + x*b), 2 * (z*a + w*b - 2*x*c), 2 * (-w*a + z*b - 2*y*c), 2 * (x*a + y*b)},
	}
}
