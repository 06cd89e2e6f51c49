// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package safety holds the monitors that can override the pilot: RC input
// and failover, the arming gate, stick gestures and the crash, tilt, landing
// and low power detectors.
package safety

import (
	"math"

	"github.com/relabs-tech/flight_computer/internal/geo"
	"github.com/relabs-tech/flight_computer/internal/sensors"
)

// Channel indexes of the pilot sticks and switches.
const (
	ChRoll = iota
	ChPitch
	ChThrottle
	ChYaw
	ChEmergency
	ChMode
	ChAux
	ChTakeoff
)

const (
	// RFTimeout is how long a stick channel may go without update (µs).
	RFTimeout = 500_000
	// MobileTimeout is how long mobile sticks stay valid (µs).
	MobileTimeout = 1_000_000
	// TotalFailureLimit is the cumulative seconds of total RC loss that
	// trigger return to launch.
	TotalFailureLimit = 3.0
)

// RCState is the active control source.
type RCState int

const (
	RCFailed       RCState = -1 // no source, sticks centered
	RCOK           RCState = 0
	RCMobile       RCState = 1 // receiver lost, mobile sticks in use
	RCMobileForced RCState = 2 // mobile sticks selected by parameter
)

func (s RCState) String() string {
	switch s {
	case RCFailed:
		return "failed"
	case RCOK:
		return "ok"
	case RCMobile:
		return "mobile"
	case RCMobileForced:
		return "mobile_forced"
	default:
		return "unknown"
	}
}

// ChannelConfig calibrates one receiver channel (µs).
type ChannelConfig struct {
	Min, Center, Max float64
	Reverse          bool
}

// DefaultChannel is the calibration of an untrimmed channel.
var DefaultChannel = ChannelConfig{Min: 1000, Center: 1520, Max: 2000}

// PPMToStick maps a pulse to [-1,1] around the channel center.
func PPMToStick(ppm float64, c ChannelConfig) float64 {
	span := c.Center - c.Min
	if ppm > c.Center {
		span = c.Max - c.Center
	}
	v := 0.0
	if span > 0 {
		v = geo.Clamp((ppm-c.Center)/span, -1, 1)
	}
	if c.Reverse {
		v = -v
	}
	return v
}

// MobileSticks is the secondary stick source (roll, pitch, throttle, yaw)
// fed through the command interface.
type MobileSticks struct {
	Sticks  [4]float64
	Updated int64 // µs, zero when never received
}

// RCInput selects the control source each tick and tracks total failure.
type RCInput struct {
	Channels [sensors.RCChannels]ChannelConfig

	sticks   [sensors.RCChannels]float64
	state    RCState
	failTime float64
}

func NewRCInput() *RCInput {
	r := &RCInput{}
	for i := range r.Channels {
		r.Channels[i] = DefaultChannel
	}
	return r
}

// RCUpdate is the outcome of one RC read.
type RCUpdate struct {
	State   RCState
	Changed bool
	// Escalate is set on the tick the total failure time crosses
	// TotalFailureLimit.
	Escalate bool
}

// Update reads the receiver frame, falls back to mobile sticks on RF loss
// and accumulates total failure time over dt seconds.
func (r *RCInput) Update(frame sensors.RCFrame, mobile MobileSticks, forceMobile bool, now int64, dt float64) RCUpdate {
	for i := range r.sticks {
		r.sticks[i] = PPMToStick(frame.Pulses[i], r.Channels[i])
	}
	r.sticks[ChThrottle] = (r.sticks[ChThrottle] + 1) / 2

	rfFail := frame.Failed
	for i := ChRoll; i <= ChYaw; i++ {
		if frame.Updated[i] < now-RFTimeout {
			rfFail = true
		}
	}
	thr := r.Channels[ChThrottle]
	if frame.Pulses[ChThrottle] < thr.Min-(thr.Max-thr.Min)/10 {
		rfFail = true
	}

	state := RCOK
	if rfFail || forceMobile {
		if mobile.Updated > 0 && now-mobile.Updated < MobileTimeout {
			copy(r.sticks[:4], mobile.Sticks[:])
			state = RCMobile
			if forceMobile {
				state = RCMobileForced
			}
			r.sticks[ChEmergency] = -1
			r.sticks[ChMode] = 1
		} else {
			r.sticks[ChRoll], r.sticks[ChPitch], r.sticks[ChYaw] = 0, 0, 0
			r.sticks[ChThrottle] = 0.5
			r.sticks[ChMode] = 1
			state = RCFailed
		}
	}

	up := RCUpdate{State: state, Changed: state != r.state}
	r.state = state
	if state == RCFailed {
		next := r.failTime + dt
		up.Escalate = next > TotalFailureLimit && r.failTime <= TotalFailureLimit
		r.failTime = next
	} else {
		r.failTime = 0
	}
	return up
}

// Stick returns a channel value: throttle in [0,1], others in [-1,1].
func (r *RCInput) Stick(ch int) float64 {
	if ch < 0 || ch >= len(r.sticks) {
		return math.NaN()
	}
	return r.sticks[ch]
}

func (r *RCInput) Sticks() [sensors.RCChannels]float64 { return r.sticks }

func (r *RCInput) State() RCState { return r.state }

// FailTime is the accumulated total failure time in seconds.
func (r *RCInput) FailTime() float64 { return r.failTime }
