// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package orientation estimates the vehicle attitude from inertial and
// magnetic measurements. Two interchangeable estimators are provided: a
// Mahony complementary filter and a 13-state extended Kalman filter.
package orientation

import (
	"math"

	"github.com/relabs-tech/flight_computer/internal/geo"
)

// Pose is the attitude in degrees as published to telemetry.
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Aiding carries the external position/velocity measurements consumed by the
// Kalman filter. PosR and VelR are the measurement variances of the position
// and velocity channels.
type Aiding struct {
	PosN, PosE float64
	VelN, VelE float64
	PosR, VelR float64
}

// Input is one estimator step. Accel is specific force and Gyro body rate,
// both in FRD. ExtAccel is the non gravitational acceleration (body frame)
// removed from Accel before it is used as a gravity reference. Aiding may be
// nil, which disables the position and velocity channels.
type Input struct {
	Accel    geo.Vector3
	Gyro     geo.Vector3
	Mag      geo.Vector3
	MagValid bool
	ExtAccel geo.Vector3
	BaroAlt  float64
	Aiding   *Aiding
	Dt       float64
}

// Estimate is the attitude produced once per tick. Angles are in radians,
// Rate is the bias corrected body rate.
type Estimate struct {
	Q        geo.Quaternion
	Roll     float64
	Pitch    float64
	Yaw      float64
	Rate     geo.Vector3
	GyroBias geo.Vector3
	// Variance of roll, pitch and yaw; NaN when the estimator does not track it.
	Variance geo.Vector3
}

func newEstimate(q geo.Quaternion, rate, bias, variance geo.Vector3) Estimate {
	r, p, y := q.Euler()
	return Estimate{Q: q, Roll: r, Pitch: p, Yaw: y, Rate: rate, GyroBias: bias, Variance: variance}
}

// Pose converts the estimate to degrees.
func (e Estimate) Pose() Pose {
	return Pose{Roll: e.Roll * geo.RadToDeg, Pitch: e.Pitch * geo.RadToDeg, Yaw: e.Yaw * geo.RadToDeg}
}

// Estimator is the contract shared by both attitude filters.
type Estimator interface {
	Name() string
	// Init seeds the filter from a stationary window.
	Init(seed Seed)
	Update(in Input)
	Estimate() Estimate
	// Ready reports whether the estimate may be trusted for flight.
	Ready() bool
}

// TiltFromAccel computes roll and pitch (rad) from a specific force reading
// taken at rest:
//
//	roll  = atan2(-ay, -az)
//	pitch = atan2(ax, sqrt(ay² + az²))
func TiltFromAccel(a geo.Vector3) (roll, pitch float64) {
	roll = math.Atan2(-a.Y, -a.Z)
	pitch = math.Atan2(a.X, math.Sqrt(a.Y*a.Y+a.Z*a.Z))
	return roll, pitch
}

// InitialAttitude builds the starting quaternion from the averaged accel and
// mag, together with the magnetic reference field in NED (unit length). Yaw
// is zero when no magnetometer sample is available.
func InitialAttitude(seed Seed) (geo.Quaternion, geo.Vector3) {
	roll, pitch := TiltFromAccel(seed.Accel)
	tilt := geo.FromEuler(roll, pitch, 0)
	if !seed.MagValid || seed.Mag.Norm() == 0 {
		return tilt, geo.Vector3{X: 1}
	}
	level := tilt.BodyToNED(seed.Mag)
	yaw := math.Atan2(-level.Y, level.X)
	q := geo.FromEuler(roll, pitch, yaw)
	return q, q.BodyToNED(seed.Mag).Normalized()
}
