// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package geo

import "math"

const earthRadius = 6378137.0

// LocalFrame converts between latitude/longitude and a flat north/east
// plane tangent at the origin. Good for the few kilometers a multirotor
// covers.
type LocalFrame struct {
	originLat float64
	originLon float64
	cosLat    float64
	set       bool
}

// SetOrigin latches the tangent point in decimal degrees.
func (f *LocalFrame) SetOrigin(lat, lon float64) {
	f.originLat = lat
	f.originLon = lon
	f.cosLat = math.Cos(lat * DegToRad)
	f.set = true
}

func (f *LocalFrame) IsSet() bool { return f.set }

// ToNED returns north/east meters from the origin.
func (f *LocalFrame) ToNED(lat, lon float64) (north, east float64) {
	north = (lat - f.originLat) * DegToRad * earthRadius
	east = (lon - f.originLon) * DegToRad * earthRadius * f.cosLat
	return north, east
}

// ToLLH is the inverse of ToNED.
func (f *LocalFrame) ToLLH(north, east float64) (lat, lon float64) {
	lat = f.originLat + north/earthRadius*RadToDeg
	if f.cosLat == 0 {
		return lat, f.originLon
	}
	lon = f.originLon + east/(earthRadius*f.cosLat)*RadToDeg
	return lat, lon
}
