// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package mixer allocates the attitude torque and throttle demand to the
// motors of a quadcopter.
package mixer

import (
	"fmt"
	"math"

	"github.com/relabs-tech/flight_computer/internal/geo"
)

// Layout selects the motor mixing matrix.
type Layout int

const (
	Plus Layout = iota
	X
)

func (l Layout) String() string {
	switch l {
	case Plus:
		return "+"
	case X:
		return "X"
	default:
		return fmt.Sprintf("Layout(%d)", int(l))
	}
}

// Motors is the number of outputs driven by every layout.
const Motors = 4

const (
	// DefaultReserve scales roll, pitch and yaw demand so some authority is
	// always left for the other axes.
	DefaultReserve = 0.15
	// SaturationMargin is the pulse distance (µs) from either bound that
	// counts as saturated.
	SaturationMargin = 20.0
)

// matrices holds [roll, pitch, yaw] coefficients per motor.
var matrices = map[Layout][Motors][3]float64{
	Plus: {
		{0, -1, +1}, // rear, CCW
		{-1, 0, -1}, // right, CW
		{0, +1, +1}, // front, CCW
		{+1, 0, -1}, // left, CW
	},
	X: {
		{-0.707, -0.707, +0.707}, // rear right, CCW
		{-0.707, +0.707, -0.707}, // front right, CW
		{+0.707, +0.707, +0.707}, // front left, CCW
		{+0.707, -0.707, -0.707}, // rear left, CW
	},
}

// Matrix returns the [roll, pitch, yaw] coefficients of every motor.
func (l Layout) Matrix() ([Motors][3]float64, bool) {
	m, ok := matrices[l]
	return m, ok
}

// Output is the result of one mixing pass. The slices are owned by the
// Mixer and overwritten by the next call.
type Output struct {
	Pulses     []float64 // µs, within [Idle, Max] when armed
	Normalized []float64 // per motor power before pulse mapping

	// Saturated is set when any motor ends within SaturationMargin of a
	// bound. It feeds the attitude controller anti-windup.
	Saturated bool
	// ThrottleRealized is the mean normalized motor power.
	ThrottleRealized float64
	// RollPitchFactor is the uniform scale applied to roll/pitch demand.
	RollPitchFactor float64
	// YawFactor is the yaw de-saturation factor that would keep every motor
	// inside [0,1]. It is reported but not applied.
	YawFactor float64
	// MinThrottle and MaxThrottle bound the throttle left over by roll and
	// pitch.
	MinThrottle, MaxThrottle float64
}

// Mixer maps a normalized torque (each axis in [-1,1]) and throttle
// ([0,1]) to motor pulses.
type Mixer struct {
	Layout  Layout
	Reserve float64
	Idle    float64 // µs, lowest pulse while armed
	Max     float64 // µs
	Stop    float64 // µs, pulse while disarmed

	out    Output
	pulses [Motors]float64
	power  [Motors]float64
}

// New builds a mixer for the given pulse range.
func New(layout Layout, idle, maxPulse, stop float64) (*Mixer, error) {
	if _, ok := matrices[layout]; !ok {
		return nil, fmt.Errorf("mixer: unknown layout %d", int(layout))
	}
	if !(idle < maxPulse) {
		return nil, fmt.Errorf("mixer: idle pulse %.0f must be below max %.0f", idle, maxPulse)
	}
	m := &Mixer{Layout: layout, Reserve: DefaultReserve, Idle: idle, Max: maxPulse, Stop: stop}
	m.out.Pulses = m.pulses[:]
	m.out.Normalized = m.power[:]
	return m, nil
}

// Mix runs the allocation. Disarmed, every motor gets the stop pulse.
func (m *Mixer) Mix(torque geo.Vector3, throttle float64, armed, airborne bool) Output {
	out := &m.out
	out.Saturated = false
	if !armed {
		for i := range m.pulses {
			m.pulses[i] = m.Stop
			m.power[i] = 0
		}
		out.ThrottleRealized = 0
		out.RollPitchFactor, out.YawFactor = 1, 1
		out.MinThrottle, out.MaxThrottle = 0, 1
		return *out
	}

	matrix := matrices[m.Layout]
	rp := func(factor float64) (lo, hi float64) {
		lo, hi = math.Inf(1), math.Inf(-1)
		for i, row := range matrix {
			p := (row[0]*torque.X + row[1]*torque.Y) * factor * m.Reserve
			m.power[i] = p
			lo, hi = math.Min(lo, p), math.Max(hi, p)
		}
		return lo, hi
	}

	// roll and pitch alone may not fit: scale both uniformly
	factor := 1.0
	if lo, hi := rp(1); hi-lo > 1 {
		factor = geo.Clamp(1/(hi-lo), 0.5, 1)
	}
	lo, hi := rp(factor)
	out.RollPitchFactor = factor

	out.MinThrottle = geo.Clamp(-lo, 0, 1)
	out.MaxThrottle = geo.Clamp(1-hi, 0, 1)
	if airborne {
		throttle = geo.Clamp(throttle, out.MinThrottle, out.MaxThrottle)
	}
	for i := range m.power {
		m.power[i] += throttle
	}

	yawFactor := 1.0
	for i, row := range matrix {
		yp := row[2] * torque.Z * m.Reserve
		switch {
		case yp < 0:
			yawFactor = math.Min(yawFactor, math.Max(0, m.power[i])/-yp)
		case yp > 0:
			yawFactor = math.Min(yawFactor, math.Max(0, 1-m.power[i])/yp)
		}
	}
	out.YawFactor = yawFactor

	// TODO: apply YawFactor once yaw saturation has been flight tested; yaw
	// can currently push a single motor into its bound.
	sum := 0.0
	for i, row := range matrix {
		m.power[i] += row[2] * torque.Z * m.Reserve
		sum += m.power[i]
		m.pulses[i] = m.Pulse(m.power[i])
		if m.pulses[i] <= m.Idle+SaturationMargin || m.pulses[i] >= m.Max-SaturationMargin {
			out.Saturated = true
		}
	}
	out.ThrottleRealized = sum / Motors
	return *out
}

// Pulse maps a normalized motor power to the [Idle, Max] pulse range.
func (m *Mixer) Pulse(power float64) float64 {
	if math.IsNaN(power) {
		return m.Idle
	}
	return geo.Clamp(m.Idle+power*(m.Max-m.Idle), m.Idle, m.Max)
}

// StopAll returns the disarmed output.
func (m *Mixer) StopAll() Output {
	return m.Mix(geo.Vector3{}, 0, false, false)
}
