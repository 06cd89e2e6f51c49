// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package pilot

import (
	"github.com/google/uuid"

	"github.com/relabs-tech/flight_computer/internal/flightmode"
	"github.com/relabs-tech/flight_computer/internal/orientation"
	"github.com/relabs-tech/flight_computer/internal/safety"
)

// Status is the snapshot published for the display, telemetry and web
// handlers. It is copied at the end of every tick.
type Status struct {
	Time        int64            `json:"time_us"`
	Session     uuid.UUID        `json:"session"`
	Initialized bool             `json:"initialized"`
	InitSamples int              `json:"init_samples"`
	Mode        flightmode.Kind  `json:"mode"`
	Switch      flightmode.Kind  `json:"switch"`
	Armed       bool             `json:"armed"`
	Airborne    bool             `json:"airborne"`
	Landing     bool             `json:"landing"`
	Pose        orientation.Pose `json:"pose"`
	Altitude    float64          `json:"altitude"`
	Climb       float64          `json:"climb"`
	AltTarget   float64          `json:"alt_target"`
	North       float64          `json:"north"`
	East        float64          `json:"east"`
	PosReady    bool             `json:"pos_ready"`
	HomeSet     bool             `json:"home_set"`
	Errors      string           `json:"errors"`
	RC          safety.RCState   `json:"rc"`
	RCFailTime  float64          `json:"rc_fail_time"`
	LowPower    int              `json:"low_power"`
	Voltage     float64          `json:"voltage"`
	Current     float64          `json:"current"`
	MAh         float64          `json:"mah"`
	Throttle    float64          `json:"throttle"`
	Motors      []float64        `json:"motors"`
	Saturated   bool             `json:"saturated"`
	Color       Color            `json:"color"`
	Dropped     uint64           `json:"dropped"`
}

// Status returns the snapshot of the last tick. It is safe to call from any
// goroutine.
func (p *Pilot) Status() Status {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	s := p.status
	s.Motors = append([]float64(nil), p.status.Motors...)
	return s
}

func (p *Pilot) publishStatus() {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	s := &p.status
	s.Time = p.now
	s.Session = p.session
	s.Initialized = p.initialized
	s.InitSamples = p.static.Progress()
	s.Mode = p.modes.Current()
	s.Switch = p.modeSwitch.Mode()
	s.Armed, s.Airborne, s.Landing = p.armed, p.airborne, p.landing
	s.Pose = p.att.Pose()
	s.Altitude = p.altEst.Altitude - p.takeoffAlt
	s.Climb = p.altEst.Climb
	s.AltTarget = p.AltitudeTarget() - p.takeoffAlt
	s.North, s.East = p.posEst.North, p.posEst.East
	s.PosReady = p.posReady
	s.HomeSet = p.home.set
	s.Errors = p.effectiveErrors().String()
	s.RC = p.rc.State()
	s.RCFailTime = p.rc.FailTime()
	s.LowPower = p.lowPower.Level()
	s.Voltage, s.Current, s.MAh = p.voltage.Value(), p.current.Value(), p.mAh
	s.Throttle = p.throttle
	s.Motors = append(s.Motors[:0], p.out.Pulses...)
	s.Saturated = p.out.Saturated
	s.Color = p.color
	s.Dropped = p.outbox.Dropped() + p.events.Dropped()
}
