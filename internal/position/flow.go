// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package position

import (
	"math"

	"github.com/relabs-tech/flight_computer/internal/geo"
	"github.com/relabs-tech/flight_computer/internal/sensors"
)

// Optical flow sensor constants: pixel counts per unit of body rotation and
// the lens field of view per pixel.
const (
	flowRateToPixel = 18000 / math.Pi * 0.0028
	flowPixelPerDeg = 28.0 / 100
	flowScale       = 1.15
	MinFlowQuality  = 100
)

// FlowVelocity converts one flow frame into a body frame velocity (m/s, FRD
// X/Y) given the body rate (rad/s) and ground distance (m). Low quality
// frames or an unknown distance yield zero and false.
func FlowVelocity(f sensors.FlowFrame, rate geo.Vector3, dist float64) (vx, vy float64, ok bool) {
	if f.Quality < MinFlowQuality || math.IsNaN(dist) || dist <= 0 {
		return 0, 0, false
	}
	cx := f.PixelX - rate.X*flowRateToPixel
	cy := f.PixelY - rate.Y*flowRateToPixel
	wx := cx / flowPixelPerDeg * geo.DegToRad
	wy := cy / flowPixelPerDeg * geo.DegToRad
	return wy * dist * flowScale, -wx * dist * flowScale, true
}

// BodyToNED rotates a body horizontal velocity by yaw.
func BodyToNED(vx, vy, yaw float64) (vn, ve float64) {
	s, c := math.Sincos(yaw)
	return vx*c - vy*s, vx*s + vy*c
}
