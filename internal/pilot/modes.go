// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package pilot

import (
	"math"

	"github.com/relabs-tech/flight_computer/internal/control"
	"github.com/relabs-tech/flight_computer/internal/flightmode"
	"github.com/relabs-tech/flight_computer/internal/geo"
	"github.com/relabs-tech/flight_computer/internal/monitoring"
	"github.com/relabs-tech/flight_computer/internal/position"
	"github.com/relabs-tech/flight_computer/internal/safety"
)

const (
	maxStickAngle = 35 * geo.DegToRad
	maxStickYaw   = math.Pi // rad/s
	homeRadius    = 2.0     // m at which RTL starts landing
	rtlMinHeight  = 5.0     // m above takeoff kept by RTL once reached
)

// stickAttitude maps the roll and pitch sticks to angle targets and
// integrates the yaw stick into the heading target. On the ground the
// heading follows the vehicle.
func (p *Pilot) stickAttitude(dt float64) control.AttitudeSetpoint {
	yaw := p.att.Yaw
	if p.airborne {
		yaw = p.attCtl.Target().Yaw + p.rc.Stick(safety.ChYaw)*maxStickYaw*dt
	}
	return control.AttitudeSetpoint{
		Roll:  p.rc.Stick(safety.ChRoll)*maxStickAngle + p.prm.Trim[0],
		Pitch: -p.rc.Stick(safety.ChPitch)*maxStickAngle + p.prm.Trim[1],
		Yaw:   yaw,
	}
}

// leanAttitude combines position controller lean angles with the stick
// heading.
func (p *Pilot) leanAttitude(roll, pitch, dt float64) control.AttitudeSetpoint {
	sp := p.stickAttitude(dt)
	sp.Roll = roll + p.prm.Trim[0]
	sp.Pitch = pitch + p.prm.Trim[1]
	return sp
}

// landingRate applies the landing descent and the height ceiling to a
// climb rate request.
func (p *Pilot) landingRate(rate float64) float64 {
	alt := p.altEst.Altitude
	if p.landing {
		if alt > p.takeoffAlt+fastLandHeight && !p.altCtl.SonarActive() {
			rate = -p.prm.LandingRateFast
		} else {
			rate -= p.prm.LandingRateFinal
		}
	}
	if alt > p.takeoffAlt+p.prm.LimitV && rate > 0 {
		rate = 0
	}
	return rate
}

func (p *Pilot) stickClimb() float64 {
	rate := control.StickClimbRate(p.rc.Stick(safety.ChThrottle), p.prm.MaxClimb, p.prm.MaxDescend)
	return p.landingRate(rate)
}

// enterAltitudeHold resets the altitude controller unless it already drove
// the throttle on the last tick.
func (p *Pilot) enterAltitudeHold() {
	if !p.altCtl.Used() {
		p.altCtl.Reset()
	}
}

type basicMode struct{ p *Pilot }

func (m *basicMode) Kind() flightmode.Kind { return flightmode.Basic }

func (m *basicMode) Setup() error {
	m.p.attCtl.Reset(m.p.att)
	return nil
}

func (m *basicMode) Loop(dt float64) {
	p := m.p
	p.attCtl.SetTarget(p.stickAttitude(dt))
	p.throttle = p.rc.Stick(safety.ChThrottle)
}

type altHoldMode struct{ p *Pilot }

func (m *altHoldMode) Kind() flightmode.Kind { return flightmode.AltHold }

func (m *altHoldMode) Setup() error {
	m.p.enterAltitudeHold()
	return nil
}

func (m *altHoldMode) Loop(dt float64) {
	p := m.p
	p.attCtl.SetTarget(p.stickAttitude(dt))
	p.throttle = p.altCtl.Update(dt, p.stickClimb())
}

// posHoldMode holds position with the sticks centered and flies the stick
// velocity otherwise.
type posHoldMode struct {
	p   *Pilot
	ctl *control.PositionController
}

func newPosHoldMode(p *Pilot) *posHoldMode {
	return &posHoldMode{p: p, ctl: control.NewPositionController()}
}

func (m *posHoldMode) Kind() flightmode.Kind { return flightmode.PosHold }

func (m *posHoldMode) Setup() error {
	if !m.p.posReady {
		return flightmode.ErrPositionNotReady
	}
	m.ctl.Reset(m.p.posEst)
	m.p.enterAltitudeHold()
	return nil
}

func (m *posHoldMode) Loop(dt float64) {
	p := m.p
	fwd, right := p.rc.Stick(safety.ChPitch), p.rc.Stick(safety.ChRoll)
	roll, pitch := m.ctl.UpdateHybrid(p.posEst, p.att.Yaw, fwd, right, dt)
	p.attCtl.SetTarget(p.leanAttitude(roll, pitch, dt))
	p.throttle = p.altCtl.Update(dt, p.stickClimb())
}

// flowMode loiters on the optical flow velocity.
type flowMode struct {
	p   *Pilot
	ctl *control.PositionController
}

func newFlowMode(p *Pilot) *flowMode {
	return &flowMode{p: p, ctl: control.NewPositionController()}
}

func (m *flowMode) Kind() flightmode.Kind { return flightmode.OpticalFlow }

func (m *flowMode) Setup() error {
	if math.IsNaN(m.p.rangeDist) {
		return flightmode.ErrNoRange
	}
	m.ctl.Reset(m.p.posEst)
	m.p.enterAltitudeHold()
	return nil
}

func (m *flowMode) Loop(dt float64) {
	p := m.p
	vmax := m.ctl.MaxVelocity
	vn, ve := position.BodyToNED(p.rc.Stick(safety.ChPitch)*vmax, p.rc.Stick(safety.ChRoll)*vmax, p.att.Yaw)
	roll, pitch := m.ctl.UpdateVelocity(p.posEst, p.att.Yaw, vn, ve, dt)
	p.attCtl.SetTarget(p.leanAttitude(roll, pitch, dt))
	p.throttle = p.altCtl.Update(dt, p.stickClimb())
}

// rtlMode flies back to home at constant altitude and lands there.
type rtlMode struct {
	p   *Pilot
	ctl *control.PositionController
}

func newRTLMode(p *Pilot) *rtlMode {
	return &rtlMode{p: p, ctl: control.NewPositionController()}
}

func (m *rtlMode) Kind() flightmode.Kind { return flightmode.RTL }

func (m *rtlMode) Setup() error {
	p := m.p
	switch {
	case !p.posReady:
		return flightmode.ErrPositionNotReady
	case !p.home.set:
		return flightmode.ErrNoHome
	}
	m.ctl.Reset(p.posEst)
	m.ctl.SetTarget(p.home.north, p.home.east)
	p.enterAltitudeHold()
	p.altCtl.SetAltitudeTarget(p.rtlAltitude())
	return nil
}

// rtlAltitude is the current altitude, raised to takeoff + rtlMinHeight
// when the vehicle has been that high during this flight.
func (p *Pilot) rtlAltitude() float64 {
	alt := p.altEst.Altitude
	if p.reachedRTLHeight {
		alt = math.Max(alt, p.takeoffAlt+rtlMinHeight)
	}
	return alt
}

func (m *rtlMode) Loop(dt float64) {
	p := m.p
	if !p.landing && math.Hypot(p.home.north-p.posEst.North, p.home.east-p.posEst.East) < homeRadius {
		monitoring.Logf("pilot: home reached, landing")
		p.landing = true
	}
	roll, pitch := m.ctl.UpdatePosition(p.posEst, p.att.Yaw, dt)
	sp := control.AttitudeSetpoint{Roll: roll + p.prm.Trim[0], Pitch: pitch + p.prm.Trim[1], Yaw: p.attCtl.Target().Yaw}
	p.attCtl.SetTarget(sp)
	p.throttle = p.altCtl.Update(dt, p.landingRate(0))
}
