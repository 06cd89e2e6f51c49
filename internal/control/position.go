// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package control

import (
	"math"

	"github.com/relabs-tech/flight_computer/internal/geo"
	"github.com/relabs-tech/flight_computer/internal/position"
)

const (
	// DefaultMaxVelocity is the horizontal speed limit (m/s).
	DefaultMaxVelocity = 5.0
	// DefaultMaxTilt is the largest lean angle the controller commands.
	DefaultMaxTilt = 35 * geo.DegToRad

	brakeSpeed = 0.5 // m/s below which a braking vehicle re-latches its target
)

// PositionController converts a position or velocity target into lean
// angles for the attitude controller.
type PositionController struct {
	PosGain     float64 // (m/s)/m
	MaxVelocity float64
	MaxTilt     float64
	VelN, VelE  *PID // velocity error → acceleration (m/s²)

	targetN, targetE float64
	hasTarget        bool
	velSP            [2]float64
}

func NewPositionController() *PositionController {
	return &PositionController{
		PosGain:     1.0,
		MaxVelocity: DefaultMaxVelocity,
		MaxTilt:     DefaultMaxTilt,
		VelN:        NewPID(1.5, 0.2, 0, 2, 0),
		VelE:        NewPID(1.5, 0.2, 0, 2, 0),
	}
}

// Reset clears the loops and latches the current position as target.
func (c *PositionController) Reset(est position.Estimate) {
	c.VelN.Reset()
	c.VelE.Reset()
	c.targetN, c.targetE = est.North, est.East
	c.hasTarget = true
	c.velSP = [2]float64{}
}

func (c *PositionController) SetTarget(north, east float64) {
	c.targetN, c.targetE = north, east
	c.hasTarget = true
}

// Target returns the held position and whether one is latched.
func (c *PositionController) Target() (north, east float64, ok bool) {
	return c.targetN, c.targetE, c.hasTarget
}

// VelocitySetpoint is the last NED velocity demand.
func (c *PositionController) VelocitySetpoint() (vn, ve float64) {
	return c.velSP[0], c.velSP[1]
}

// limit scales a horizontal vector to at most maxLen.
func limit(n, e, maxLen float64) (float64, float64) {
	m := math.Hypot(n, e)
	if m > maxLen && m > 0 {
		return n * maxLen / m, e * maxLen / m
	}
	return n, e
}

// positionVelocity turns the position error into a velocity demand.
func (c *PositionController) positionVelocity(est position.Estimate) (float64, float64) {
	return limit(c.PosGain*(c.targetN-est.North), c.PosGain*(c.targetE-est.East), c.MaxVelocity)
}

// UpdateHybrid flies the stick velocity (body forward/right in [-1,1]) and
// holds position when the sticks are centered. A released stick first
// brakes, then re-latches the target where the vehicle stopped.
func (c *PositionController) UpdateHybrid(est position.Estimate, yaw, stickFwd, stickRight, dt float64) (roll, pitch float64) {
	var vn, ve float64
	if math.Hypot(stickFwd, stickRight) > 0 {
		vn, ve = position.BodyToNED(stickFwd*c.MaxVelocity, stickRight*c.MaxVelocity, yaw)
		vn, ve = limit(vn, ve, c.MaxVelocity)
		c.hasTarget = false
	} else if !c.hasTarget {
		if math.Hypot(est.VelN, est.VelE) < brakeSpeed {
			c.SetTarget(est.North, est.East)
			vn, ve = c.positionVelocity(est)
		}
	} else {
		vn, ve = c.positionVelocity(est)
	}
	return c.velocityLoop(est, yaw, vn, ve, dt)
}

// UpdateVelocity tracks a NED velocity without position feedback.
func (c *PositionController) UpdateVelocity(est position.Estimate, yaw, vn, ve, dt float64) (roll, pitch float64) {
	vn, ve = limit(vn, ve, c.MaxVelocity)
	return c.velocityLoop(est, yaw, vn, ve, dt)
}

// UpdatePosition flies to the latched target.
func (c *PositionController) UpdatePosition(est position.Estimate, yaw, dt float64) (roll, pitch float64) {
	vn, ve := c.positionVelocity(est)
	return c.velocityLoop(est, yaw, vn, ve, dt)
}

func (c *PositionController) velocityLoop(est position.Estimate, yaw, vn, ve, dt float64) (roll, pitch float64) {
	c.velSP = [2]float64{vn, ve}
	an := c.VelN.Update(vn-est.VelN, dt, false)
	ae := c.VelE.Update(ve-est.VelE, dt, false)
	return LeanAngles(an, ae, yaw, c.MaxTilt)
}

// LeanAngles converts a horizontal NED acceleration demand into roll and
// pitch with a small angle approximation, bounded by maxTilt.
func LeanAngles(an, ae, yaw, maxTilt float64) (roll, pitch float64) {
	s, co := math.Sincos(yaw)
	fwd := an*co + ae*s
	right := -an*s + ae*co
	pitch = geo.Clamp(-fwd/geo.G, -maxTilt, maxTilt)
	roll = geo.Clamp(right/geo.G, -maxTilt, maxTilt)
	return roll, pitch
}
