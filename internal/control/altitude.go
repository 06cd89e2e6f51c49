// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package control

import (
	"math"

	"github.com/relabs-tech/flight_computer/internal/geo"
)

const (
	// DefaultHover is the hover throttle assumed before adaptation.
	DefaultHover = 0.45
	// MaxSonarHold is the largest range reading (m) used for altitude hold.
	MaxSonarHold = 4.0

	hoverAdaptRate = 0.2 // 1/s
)

// AltitudeController holds altitude through a climb rate loop and an
// acceleration loop that produces a normalized throttle.
type AltitudeController struct {
	MaxClimb   float64 // m/s
	MaxDescend float64 // m/s, positive
	AltGain    float64 // (m/s)/m
	Climb      *PID    // climb rate error → acceleration (m/s²)

	alt, climb, accel float64
	sonar             float64
	roll, pitch       float64
	throttleRealized  float64
	airborne          bool

	target      float64
	sonarTarget float64
	sonarActive bool
	targetClimb float64
	hover       float64
	result      float64
	used        bool
}

func NewAltitudeController(maxClimb, maxDescend float64) *AltitudeController {
	return &AltitudeController{
		MaxClimb:   maxClimb,
		MaxDescend: maxDescend,
		AltGain:    1.0,
		Climb:      NewPID(3.0, 0.5, 0, geo.G/2, geo.G/2),
		hover:      DefaultHover,
		sonar:      math.NaN(),
	}
}

// ProvideStates feeds the current estimates. sonar is the range finder
// distance or NaN.
func (c *AltitudeController) ProvideStates(alt, climb, accel, sonar, roll, pitch, throttleRealized float64, airborne bool) {
	c.alt, c.climb, c.accel = alt, climb, accel
	c.sonar = sonar
	c.roll, c.pitch = roll, pitch
	c.throttleRealized = throttleRealized
	c.airborne = airborne
}

func (c *AltitudeController) SetAltitudeTarget(alt float64) {
	c.target = alt
	c.sonarActive = false
}

// AltitudeState returns the altitude target and the current altitude.
func (c *AltitudeController) AltitudeState() (target, current float64) {
	return c.target, c.alt
}

// Reset seeds the target to the current altitude and clears the loops. On
// the ground the integrator is preloaded so the output starts low.
func (c *AltitudeController) Reset() {
	c.target = c.alt
	c.sonarActive = false
	c.targetClimb = 0
	c.Climb.Reset()
	if !c.airborne {
		c.Climb.SetIntegral(-c.Climb.IntegralLimit)
	}
	c.result = 0
}

// updateSonar latches the range target while the range finder covers the
// current height, and hands the error back to the baro target when it does
// not.
func (c *AltitudeController) updateSonar() {
	valid := !math.IsNaN(c.sonar) && c.sonar < MaxSonarHold
	switch {
	case valid && !c.sonarActive:
		c.sonarTarget = c.sonar + (c.target - c.alt)
		c.sonarActive = true
	case !valid && c.sonarActive:
		c.sonarActive = false
	}
}

// Update runs the controller. userRate is the pilot's climb rate request;
// zero holds the current target, non-zero flies that rate and drags the
// target along. It returns the throttle in [0,1].
func (c *AltitudeController) Update(dt, userRate float64) float64 {
	c.used = true
	c.updateSonar()

	var climbSP float64
	if userRate != 0 && !math.IsNaN(userRate) {
		climbSP = userRate
		c.target = c.alt
		if c.sonarActive {
			c.sonarTarget = c.sonar
		}
	} else {
		err := c.target - c.alt
		if c.sonarActive {
			err = c.sonarTarget - c.sonar
			c.target = c.alt + err
		}
		climbSP = c.AltGain * err
	}
	climbSP = geo.Clamp(climbSP, -c.MaxDescend, c.MaxClimb)
	c.targetClimb = climbSP

	accelSP := c.Climb.Update(climbSP-c.climb, dt, false)
	tilt := math.Max(math.Cos(c.roll)*math.Cos(c.pitch), 0.5)
	c.result = geo.Clamp(c.hover*(1+accelSP/geo.G)/tilt, 0, 1)

	// steady flight reveals the hover throttle
	if c.airborne && math.Abs(c.climb) < 0.3 && math.Abs(c.accel) < 0.5 && dt > 0 {
		realized := c.throttleRealized * tilt
		c.hover += geo.Clamp(hoverAdaptRate*dt, 0, 1) * (realized - c.hover)
		c.hover = geo.Clamp(c.hover, 0.1, 0.9)
	}
	return c.result
}

func (c *AltitudeController) Result() float64 { return c.result }

func (c *AltitudeController) ThrottleHover() float64 { return c.hover }

// SonarActive reports whether the range finder currently defines the target.
func (c *AltitudeController) SonarActive() bool { return c.sonarActive }

// TargetClimbRate is the last climb rate setpoint.
func (c *AltitudeController) TargetClimbRate() float64 { return c.targetClimb }

// Used reports whether the controller drove the throttle on this tick.
func (c *AltitudeController) Used() bool { return c.used }

// Release marks the controller unused until the next Update.
func (c *AltitudeController) Release() { c.used = false }

// StickClimbRate maps a throttle stick in [0,1] to a climb rate request with
// a dead band around center and a quadratic response.
func StickClimbRate(throttle, maxClimb, maxDescend float64) float64 {
	v := throttle - 0.5
	switch {
	case math.Abs(v) < 0.05:
		return 0
	case v > 0:
		k := (v - 0.05) / 0.45
		return k * k * maxClimb
	default:
		k := (v + 0.05) / 0.45
		return -k * k * maxDescend
	}
}
