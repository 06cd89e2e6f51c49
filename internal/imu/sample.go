// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package imu defines inertial and magnetic samples and the per-axis
// corrections applied to them before fusion.
package imu

import (
	"math"

	"github.com/relabs-tech/flight_computer/internal/geo"
)

// Sample is one accelerometer + gyroscope reading in the body frame.
type Sample struct {
	Accel       geo.Vector3 `json:"accel"` // specific force, m/s²
	Gyro        geo.Vector3 `json:"gyro"`  // rad/s
	Temperature float64     `json:"temp_c"`
}

// Correction is a per-axis bias + scale pair: out = (raw + bias) * scale.
type Correction struct {
	Bias  geo.Vector3 `json:"bias"`
	Scale geo.Vector3 `json:"scale"`
}

// NoCorrection leaves samples untouched.
var NoCorrection = Correction{Scale: geo.Vector3{X: 1, Y: 1, Z: 1}}

func (c Correction) Apply(v geo.Vector3) geo.Vector3 {
	return geo.Vector3{
		X: (v.X + c.Bias.X) * c.Scale.X,
		Y: (v.Y + c.Bias.Y) * c.Scale.Y,
		Z: (v.Z + c.Bias.Z) * c.Scale.Z,
	}
}

// TempPoint is a gyro bias measured at one die temperature.
type TempPoint struct {
	Temperature float64 // NaN when the point was never measured
	Bias        geo.Vector3
}

// TempCompensation linearly interpolates gyro bias over die temperature.
type TempCompensation struct {
	t0 float64
	a  geo.Vector3
	k  geo.Vector3
}

// NewTempCompensation builds the compensation from up to two measured
// points. Two points further than 1°C apart give a slope; otherwise the
// single valid point is used as a constant; none gives zero bias.
func NewTempCompensation(p1, p2 TempPoint) TempCompensation {
	v1 := !math.IsNaN(p1.Temperature)
	v2 := !math.IsNaN(p2.Temperature)
	if v1 && v2 && p2.Temperature-p1.Temperature > 1.0 {
		dt := p2.Temperature - p1.Temperature
		return TempCompensation{
			t0: p1.Temperature,
			a:  p1.Bias,
			k:  p2.Bias.Sub(p1.Bias).Scale(1 / dt),
		}
	}
	switch {
	case v1:
		return TempCompensation{t0: p1.Temperature, a: p1.Bias}
	case v2:
		return TempCompensation{t0: p2.Temperature, a: p2.Bias}
	}
	return TempCompensation{}
}

// Offset returns the value to add to a gyro reading taken at temperature.
// An unknown (NaN) temperature uses the reference point.
func (c TempCompensation) Offset(temperature float64) geo.Vector3 {
	d := temperature - c.t0
	if math.IsNaN(d) {
		d = 0
	}
	return c.k.Scale(d).Add(c.a).Scale(-1)
}
