// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package geo holds the small fixed-size math used by the estimators and
// controllers: 3-vectors, quaternions, rotation matrices and a local
// north-east-down frame.
package geo

import "math"

// G is standard gravity in m/s².
const G = 9.80665

const (
	DegToRad = math.Pi / 180.0
	RadToDeg = 180.0 / math.Pi
)

// Vector3 is a 3-component vector. Body-frame vectors use the
// forward-right-down axes, world vectors use north-east-down.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vector3) Add(o Vector3) Vector3 { return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vector3) Sub(o Vector3) Vector3 { return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vector3) Scale(k float64) Vector3 {
	return Vector3{v.X * k, v.Y * k, v.Z * k}
}
func (v Vector3) Dot(o Vector3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

func (v Vector3) Cross(o Vector3) Vector3 {
	return Vector3{
		v.Y*o.Z - v.Z*o.Y,
		v.Z*o.X - v.X*o.Z,
		v.X*o.Y - v.Y*o.X,
	}
}

func (v Vector3) Norm() float64 { return math.Sqrt(v.Dot(v)) }

// Normalized returns the unit vector, or the zero vector when v has no length.
func (v Vector3) Normalized() Vector3 {
	n := v.Norm()
	if n == 0 {
		return Vector3{}
	}
	return v.Scale(1 / n)
}

// Array returns the components as an array, indexable by axis.
func (v Vector3) Array() [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

// IsNaN reports whether any component is NaN.
func (v Vector3) IsNaN() bool {
	return math.IsNaN(v.X) || math.IsNaN(v.Y) || math.IsNaN(v.Z)
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// WrapPi wraps an angle into (-π, π].
func WrapPi(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// RadianAdd adds two angles and wraps the result into (-π, π].
func RadianAdd(a, b float64) float64 { return WrapPi(a + b) }
