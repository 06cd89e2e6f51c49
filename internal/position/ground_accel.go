// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package position

import (
	"github.com/relabs-tech/flight_computer/internal/geo"
	"github.com/relabs-tech/flight_computer/internal/gps"
)

const (
	// maxGroundAccelHDOP is the worst HDOP still used to difference velocity.
	maxGroundAccelHDOP = 3.0
	// CompensationTimeout is how long (s) consecutive good fixes must have
	// been differenced before the attitude filter trusts the result.
	CompensationTimeout = 5.0
)

// GroundAccel differences consecutive GPS velocities into a horizontal NED
// acceleration, used to remove turn acceleration from the accelerometer's
// gravity reference.
type GroundAccel struct {
	Accel   geo.Vector3 // NED, Z always zero
	Climb   float64     // m/s from altitude differences
	Yaw     float64     // course over ground, rad
	Timeout float64     // seconds of continuous valid differencing

	velN, velE, alt float64
	last            int64
	have            bool
}

// Update consumes a fresh fix received at now (µs).
func (g *GroundAccel) Update(fix gps.Fix, now int64) {
	if !fix.Has3D() || fix.HDOP >= maxGroundAccelHDOP {
		g.Reset()
		return
	}
	g.Yaw = geo.WrapPi(fix.Course * geo.DegToRad)
	vn, ve := GroundVelocity(fix)
	if g.have {
		dt := float64(now-g.last) / 1e6
		if dt > 0 && dt <= 1 {
			g.Accel = geo.Vector3{X: (vn - g.velN) / dt, Y: (ve - g.velE) / dt}
			g.Climb = (fix.Altitude - g.alt) / dt
			g.Timeout += dt
		} else {
			g.Accel, g.Climb, g.Timeout = geo.Vector3{}, 0, 0
		}
	}
	g.velN, g.velE, g.alt = vn, ve, fix.Altitude
	g.last, g.have = now, true
}

func (g *GroundAccel) Reset() {
	*g = GroundAccel{}
}

// Compensation returns the acceleration to remove from the accelerometer
// (NED), zero until enough consecutive fixes were differenced.
func (g *GroundAccel) Compensation() geo.Vector3 {
	if g.Timeout > CompensationTimeout {
		return g.Accel
	}
	return geo.Vector3{}
}
