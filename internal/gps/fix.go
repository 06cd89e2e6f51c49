// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package gps holds GPS fixes and the NMEA receiver that produces them.
package gps

// Fix is the most recent navigation solution of one receiver.
type Fix struct {
	Latitude   float64 `json:"lat"`        // decimal degrees
	Longitude  float64 `json:"lon"`        // decimal degrees
	Altitude   float64 `json:"alt"`        // meters above mean sea level
	Speed      float64 `json:"speed"`      // ground speed, m/s
	Course     float64 `json:"course"`     // degrees from true north
	HDOP       float64 `json:"hdop"`       // horizontal dilution of precision
	FixType    int     `json:"fix"`        // 0/1 none, 2 = 2D, 3 = 3D
	Satellites int     `json:"satellites"` // satellites used
	HAcc       float64 `json:"hacc"`       // horizontal position accuracy, m
	VelAcc     float64 `json:"vacc"`       // horizontal velocity accuracy, m/s
	Time       string  `json:"time"`       // receiver UTC time of fix
}

const knotsToMS = 0.514444

// userRangeError converts HDOP into a position accuracy when the
// receiver does not report one.
const userRangeError = 2.5

// Has3D reports whether the fix is usable for horizontal positioning.
func (f Fix) Has3D() bool { return f.FixType > 2 }
