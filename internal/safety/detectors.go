// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package safety

import (
	"math"

	"github.com/relabs-tech/flight_computer/internal/geo"
)

const (
	// ImpactG marks a collision that confirms a landing.
	ImpactG = 3.75
	// CrashG forces an immediate disarm.
	CrashG = 5.5
	// MaxTilt is the attitude beyond which the vehicle counts as flipped.
	MaxTilt = 70 * geo.DegToRad

	impactWindow = 10_000    // µs a collision stays valid for a landing
	tiltLimit    = 2_000_000 // µs
)

// Verdict is the outcome of a detector run.
type Verdict int

const (
	VerdictNone Verdict = iota
	VerdictCrash
	VerdictImpact
	VerdictTilt
	VerdictLanded
)

func (v Verdict) String() string {
	switch v {
	case VerdictNone:
		return "none"
	case VerdictCrash:
		return "crash"
	case VerdictImpact:
		return "impact"
	case VerdictTilt:
		return "tilt"
	case VerdictLanded:
		return "landed"
	default:
		return "unknown"
	}
}

// GForce is the deviation of the measured specific force from the gravity
// expected at the estimated attitude, in g. down is the NED down axis
// expressed in the body frame.
func GForce(accel, down geo.Vector3) float64 {
	return accel.Scale(1 / geo.G).Add(down).Norm()
}

// Tilt is the angle between the body z axis and the world vertical.
func Tilt(roll, pitch float64) float64 {
	return math.Acos(geo.Clamp(math.Cos(roll)*math.Cos(pitch), -1, 1))
}

// CrashDetector watches for high G and for sustained flips while armed.
type CrashDetector struct {
	collision int64
	tiltSince int64
	last      float64
}

// Reset clears the collision and tilt timers, used on arm.
func (d *CrashDetector) Reset() {
	d.collision = 0
	d.tiltSince = 0
}

// Update returns the first disarm reason found at time now (µs).
// landingRequested is set when the pilot or the autopilot is bringing the
// vehicle down.
func (d *CrashDetector) Update(accel, down geo.Vector3, roll, pitch float64, landingRequested bool, now int64) Verdict {
	g := GForce(accel, down)
	d.last = g
	if g > ImpactG {
		d.collision = now
	}
	if g >= CrashG {
		return VerdictCrash
	}

	if Tilt(roll, pitch) > MaxTilt {
		if d.tiltSince == 0 {
			d.tiltSince = now
		}
	} else {
		d.tiltSince = 0
	}

	if d.collision > 0 && now-d.collision < impactWindow && landingRequested {
		return VerdictImpact
	}
	if d.tiltSince > 0 && now-d.tiltSince > tiltLimit {
		return VerdictTilt
	}
	return VerdictNone
}

// LastG is the most recent G deviation.
func (d *CrashDetector) LastG() float64 { return d.last }

const (
	landDwellGround   = 15_000_000 // µs before the first takeoff
	landDwellAirborne = 1_000_000
)

// LandInput is what the landing detector looks at.
type LandInput struct {
	ThrottleStick float64
	Throttle      float64 // controller output
	Landing       bool
	Climb         float64
	MaxDescend    float64
	AltUsed       bool // altitude controller drove the throttle
	TargetClimb   float64
	Airborne      bool
}

// LandDetector disarms a vehicle that sits still with low throttle.
type LandDetector struct {
	since int64
}

func (d *LandDetector) Reset() { d.since = 0 }

// Update reports VerdictLanded once the dwell time has expired.
func (d *LandDetector) Update(in LandInput, now int64) Verdict {
	lowThrottle := in.ThrottleStick < 0.1 || (in.Landing && in.Throttle < 0.2)
	still := math.Abs(in.Climb) < in.MaxDescend/4
	notDescending := !in.AltUsed || (in.TargetClimb < 0 && in.Climb > in.TargetClimb)
	if !(lowThrottle && still && notDescending) {
		d.since = 0
		return VerdictNone
	}
	if d.since == 0 {
		d.since = now
	}
	dwell := int64(landDwellGround)
	if in.Airborne {
		dwell = landDwellAirborne
	}
	if now-d.since > dwell {
		return VerdictLanded
	}
	return VerdictNone
}

// LandingRequested is the crash detector's view of a landing in progress.
func LandingRequested(throttleStick, throttle float64, landing bool) bool {
	return throttleStick < 0.1 || (landing && throttle < 0.2)
}
