// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package pilot

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/relabs-tech/flight_computer/internal/command"
	"github.com/relabs-tech/flight_computer/internal/events"
	"github.com/relabs-tech/flight_computer/internal/flightmode"
	"github.com/relabs-tech/flight_computer/internal/geo"
	"github.com/relabs-tech/flight_computer/internal/monitoring"
	"github.com/relabs-tech/flight_computer/internal/params"
	"github.com/relabs-tech/flight_computer/internal/safety"
)

var (
	ErrArmed    = errors.New("vehicle is armed")
	ErrAirborne = errors.New("vehicle is airborne")
)

// battery voltage span of a 3 cell pack
const (
	batteryEmpty = 10.5
	batteryFull  = 12.6
)

var _ command.Vehicle = (*Pilot)(nil)

func (p *Pilot) armStatus() safety.ArmStatus {
	return safety.ArmStatus{
		Initialized:     p.initialized,
		MagCalibrating:  p.magCal.Active(),
		AccelCalPending: p.accCal.Pending(),
		LowPower:        p.lowPower.Level(),
		UseEKF:          params.Flag(p.prm.UseEKF),
		EKFReady:        p.ekf.Ready(),
		EmergencySwitch: p.rc.Stick(safety.ChEmergency),
	}
}

// arm runs the arming gate, resets the controllers, enters the selected
// mode and pulls the altitude target below the vehicle so the motors idle
// until the pilot climbs.
func (p *Pilot) arm() error {
	if p.armed {
		return nil
	}
	if err := safety.CheckArm(p.armStatus()); err != nil {
		monitoring.Logf("pilot: arm rejected: %v", err)
		return err
	}
	p.armed = true
	p.airborne, p.landing = false, false
	p.takeoffAlt = p.altEst.Altitude
	p.reachedRTLHeight = false
	p.session = uuid.New()
	p.attCtl.Reset(p.att)
	p.altCtl.Reset()
	p.crash.Reset()
	p.land.Reset()
	if p.posReady {
		p.setHome()
	}
	p.applyMode(flightmode.Next(p.modes.Current(), p.modeInputs()))
	p.altCtl.SetAltitudeTarget(p.altEst.Altitude - takeoffDrop)
	monitoring.Logf("pilot: armed, session %s, mode %s", p.session, p.modes.Current())
	p.emit(events.Armed, 0)
	return nil
}

// disarm stops the motors immediately.
func (p *Pilot) disarm(reason string) {
	if !p.armed {
		return
	}
	p.armed, p.airborne, p.landing = false, false, false
	p.takeoffAt = 0
	p.throttle, p.torque = 0, geo.Vector3{}
	if err := p.modes.Set(flightmode.Invalid); err != nil {
		monitoring.Logf("pilot: %v", err)
	}
	p.out = p.mix.StopAll()
	if p.hw.Motors != nil {
		p.hw.Motors.WritePulses(p.out.Pulses)
	}
	monitoring.Logf("pilot: disarmed (%s)", reason)
	p.emit(events.Disarmed, 0)
}

func (p *Pilot) Arm() error { return p.arm() }

func (p *Pilot) Disarm() error {
	p.disarm("command")
	return nil
}

// Takeoff arms the vehicle and schedules the climb to one meter above the
// current altitude.
func (p *Pilot) Takeoff() error {
	if p.airborne {
		return ErrAirborne
	}
	if err := p.arm(); err != nil {
		return err
	}
	p.takeoffAt = p.now
	return nil
}

// Land starts the automatic descent. The landing detector disarms once on
// the ground.
func (p *Pilot) Land() {
	if !p.armed || p.landing {
		return
	}
	monitoring.Logf("pilot: landing")
	p.landing = true
}

func (p *Pilot) RTL() error {
	return p.modes.Set(flightmode.RTL)
}

// StopRTL returns to the mode selected by the switch.
func (p *Pilot) StopRTL() error {
	if p.modes.Current() != flightmode.RTL {
		return nil
	}
	p.landing = false
	return p.modes.Set(flightmode.Next(flightmode.AltHold, p.modeInputs()))
}

func (p *Pilot) IsRTL() bool { return p.modes.Current() == flightmode.RTL }

func batteryLevel(v float64) float64 {
	return geo.Clamp((v-batteryEmpty)/(batteryFull-batteryEmpty), 0, 1)
}

func (p *Pilot) State() command.StateReport {
	r := command.StateReport{
		PositionReady: p.posReady,
		Altitude:      p.altEst.Altitude - p.takeoffAlt,
		Climb:         p.altEst.Climb,
		Speed:         math.Hypot(p.posEst.VelN, p.posEst.VelE),
		Roll:          p.att.Roll * geo.RadToDeg,
		Pitch:         p.att.Pitch * geo.RadToDeg,
		Yaw:           p.att.Yaw * geo.RadToDeg,
		Airborne:      p.airborne,
		Sonar:         p.altCtl.SonarActive(),
		Battery:       batteryLevel(p.voltage.Value()),
		Voltage:       p.voltage.Value(),
		RTL:           p.IsRTL(),
		Flashlight:    p.flashlight,
	}
	if f := p.pos.Frame(); f.IsSet() {
		r.Latitude, r.Longitude = f.ToLLH(p.posEst.North, p.posEst.East)
	}
	if p.home.set {
		r.Distance = math.Hypot(p.posEst.North-p.home.north, p.posEst.East-p.home.east)
	}
	return r
}

func (p *Pilot) Param(key string) (float64, error) { return p.prm.Get(key) }

// hardwareKey reports parameters that reshape the motor output and may not
// change while armed.
func hardwareKey(key string) bool {
	switch key {
	case "mat", "idle", "tmin", "tmax":
		return true
	}
	return strings.HasPrefix(key, "rc2")
}

// SetParam changes a parameter, stores it and rebuilds what depends on it.
func (p *Pilot) SetParam(key string, v float64) error {
	if p.armed && hardwareKey(key) {
		return fmt.Errorf("pilot: set %s: %w", key, ErrArmed)
	}
	old, err := p.prm.Get(key)
	if err != nil {
		return err
	}
	if err := p.prm.Set(key, v); err != nil {
		return err
	}
	if err := p.configure(); err != nil {
		p.prm.Set(key, old)
		p.configure()
		return err
	}
	p.storeKeys(key)
	return nil
}

func (p *Pilot) StartMagCal() {
	if p.armed {
		monitoring.Logf("pilot: mag calibration refused while armed")
		return
	}
	monitoring.Logf("pilot: mag calibration started")
	p.magCal.Start()
}

func (p *Pilot) CancelMagCal() {
	if p.magCal.Active() {
		monitoring.Logf("pilot: mag calibration cancelled")
	}
	p.magCal.Cancel()
}

func (p *Pilot) MagCalState() (stage, result int) { return p.magCal.State() }

func (p *Pilot) StartAccelCal() {
	if p.armed {
		monitoring.Logf("pilot: accel calibration refused while armed")
		return
	}
	monitoring.Logf("pilot: accel calibration started")
	p.accCal.Start()
}

func (p *Pilot) AccelCalState() int { return p.accCal.State() }

func (p *Pilot) SetFlashlight(on bool) {
	p.flashlight = on
	if p.hw.Light != nil {
		p.hw.Light.SetFlashlight(on)
	}
}

func (p *Pilot) Flashlight() bool { return p.flashlight }

func (p *Pilot) MobileSticks(s [4]float64) {
	p.mobile = safety.MobileSticks{Sticks: s, Updated: p.now}
}
