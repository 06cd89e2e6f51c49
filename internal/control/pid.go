// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package control holds the cascaded attitude, altitude and position
// controllers.
package control

import (
	"math"

	"github.com/relabs-tech/flight_computer/internal/geo"
)

// PID holds the state for a PID controller. The integral is bounded by
// IntegralLimit and the output by OutputLimit (zero disables a bound).
type PID struct {
	Kp, Ki, Kd    float64
	IntegralLimit float64
	OutputLimit   float64

	prevError float64
	integral  float64
	primed    bool
}

// NewPID creates and initializes a new PID controller.
func NewPID(kp, ki, kd, integralLimit, outputLimit float64) *PID {
	return &PID{Kp: kp, Ki: ki, Kd: kd, IntegralLimit: integralLimit, OutputLimit: outputLimit}
}

// Update calculates the new control output. With hold set the integral is
// not accumulated, used as anti-windup while the actuators saturate.
func (p *PID) Update(err, dt float64, hold bool) float64 {
	if dt <= 0 || math.IsNaN(err) {
		return p.output(0)
	}
	if !hold {
		p.integral += err * dt * p.Ki
		if p.IntegralLimit > 0 {
			p.integral = geo.Clamp(p.integral, -p.IntegralLimit, p.IntegralLimit)
		}
	}
	derivative := 0.0
	if p.primed {
		derivative = p.Kd * (err - p.prevError) / dt
	}
	p.prevError = err
	p.primed = true
	return p.output(p.Kp*err + derivative)
}

func (p *PID) output(pd float64) float64 {
	out := pd + p.integral
	if p.OutputLimit > 0 {
		out = geo.Clamp(out, -p.OutputLimit, p.OutputLimit)
	}
	return out
}

// Reset clears the integral and derivative history.
func (p *PID) Reset() {
	p.integral = 0
	p.prevError = 0
	p.primed = false
}

// SetIntegral presets the integral contribution to the output.
func (p *PID) SetIntegral(v float64) {
	p.integral = v
	if p.IntegralLimit > 0 {
		p.integral = geo.Clamp(p.integral, -p.IntegralLimit, p.IntegralLimit)
	}
}

func (p *PID) Integral() float64 { return p.integral }
