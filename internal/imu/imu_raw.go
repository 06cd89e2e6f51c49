// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import "github.com/relabs-tech/flight_computer/internal/geo"

// IMURaw is one raw register read of an accelerometer + gyroscope pair.
type IMURaw struct {
	Ax int16 `json:"ax"` // accel
	Ay int16 `json:"ay"`
	Az int16 `json:"az"`

	Gx int16 `json:"gx"` // gyro
	Gy int16 `json:"gy"`
	Gz int16 `json:"gz"`
}

// Scale converts raw counts into physical units.
type Scale struct {
	AccelPerCount float64 // m/s² per LSB
	GyroPerCount  float64 // rad/s per LSB
}

// DefaultScale matches an MPU-9250 left at ±4g and ±1000°/s.
var DefaultScale = Scale{
	AccelPerCount: 4 * geo.G / 32768.0,
	GyroPerCount:  1000 * geo.DegToRad / 32768.0,
}

// ToSample converts a raw read to a Sample. Chip axes are
// right-forward-up; the sample is forward-right-down specific force,
// so a level vehicle at rest reads Accel.Z ≈ -G.
func (r IMURaw) ToSample(s Scale, temperature float64) Sample {
	return Sample{
		Accel: geo.Vector3{
			X: float64(r.Ay) * s.AccelPerCount,
			Y: float64(r.Ax) * s.AccelPerCount,
			Z: -float64(r.Az) * s.AccelPerCount,
		},
		Gyro: geo.Vector3{
			X: float64(r.Gy) * s.GyroPerCount,
			Y: float64(r.Gx) * s.GyroPerCount,
			Z: -float64(r.Gz) * s.GyroPerCount,
		},
		Temperature: temperature,
	}
}
