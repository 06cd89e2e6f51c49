// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package pilot

import (
	"math"

	"github.com/relabs-tech/flight_computer/internal/env"
	"github.com/relabs-tech/flight_computer/internal/events"
	"github.com/relabs-tech/flight_computer/internal/flightmode"
	"github.com/relabs-tech/flight_computer/internal/geo"
	"github.com/relabs-tech/flight_computer/internal/imu"
	"github.com/relabs-tech/flight_computer/internal/mixer"
	"github.com/relabs-tech/flight_computer/internal/monitoring"
	"github.com/relabs-tech/flight_computer/internal/orientation"
	"github.com/relabs-tech/flight_computer/internal/params"
	"github.com/relabs-tech/flight_computer/internal/position"
	"github.com/relabs-tech/flight_computer/internal/safety"
	"github.com/relabs-tech/flight_computer/internal/sensors"
)

// Tick runs one control period at now (µs). The steps run in a fixed order
// and never block.
func (p *Pilot) Tick(now int64) {
	p.dt = 0
	if p.last > 0 {
		p.dt = float64(now-p.last) / 1e6
	}
	p.last, p.now = now, now
	dt := p.dt

	p.readRC(dt)
	p.handleModeSwitching()
	p.checkStickActions()
	p.handleTakeoff()
	if p.commands != nil {
		p.commands.Drain(p.dispatcher)
	}
	p.handleEvents()
	p.readSensors(dt)
	p.serviceMagCal(dt)
	p.checkLowPower(dt)
	p.updateIndicator()

	if p.initialized && dt > 0 && dt <= MaxTickInterval {
		p.calculateState(dt)
		p.runControllers(dt)
	}
	p.output()
	p.saveLogs()
	if p.armed {
		p.detectLanding()
		p.detectCrash()
	}
	p.sampler.Unlock()
	p.latchHome()
	p.publishStatus()
}

func (p *Pilot) readRC(dt float64) {
	if p.hw.RC != nil {
		p.rcFrame = p.hw.RC.ReadRC()
	} else {
		p.rcFrame = sensors.RCFrame{Failed: true}
	}
	up := p.rc.Update(p.rcFrame, p.mobile, params.Flag(p.prm.ForceMobile), p.now, dt)
	if up.Changed {
		monitoring.Logf("pilot: RC %s", up.State)
		switch up.State {
		case safety.RCOK:
			p.emit(events.RCRestored, 0)
		case safety.RCFailed:
			p.emit(events.RCFailed, 0)
		default:
			p.emit(events.RCMobile, int(up.State))
		}
	}
	if up.Escalate && p.armed {
		monitoring.Logf("pilot: RC lost for %.1fs, returning to launch", p.rc.FailTime())
		if err := p.modes.Set(flightmode.RTL); err != nil {
			monitoring.Logf("pilot: RTL unavailable, landing: %v", err)
			p.landing = true
		}
	}
}

func (p *Pilot) modeInputs() flightmode.Inputs {
	return flightmode.Inputs{
		Armed:         p.armed,
		Airborne:      p.airborne,
		Switch:        p.modeSwitch.Mode(),
		PositionReady: p.posReady,
	}
}

func (p *Pilot) handleModeSwitching() {
	prev := p.modeSwitch.Mode()
	if p.modeSwitch.Update(p.rc.Stick(safety.ChMode)) != prev {
		p.emit(events.ModeSwitchChanged, int(p.modeSwitch.Mode()))
	}
	p.applyMode(flightmode.Next(p.modes.Current(), p.modeInputs()))
}

// applyMode enters next, falling back to altitude hold when its setup
// fails. A failed mode is retried once the inputs change or after
// modeRetry.
func (p *Pilot) applyMode(next flightmode.Kind) {
	cur := p.modes.Current()
	if next == cur {
		return
	}
	in := p.modeInputs()
	if next == p.failedMode && in == p.failedInput && p.now-p.failedAt < modeRetry {
		return
	}
	if err := p.modes.Set(next); err != nil {
		p.failedMode, p.failedInput, p.failedAt = next, in, p.now
		if cur != flightmode.AltHold {
			if err := p.modes.Set(flightmode.AltHold); err != nil {
				monitoring.Logf("pilot: no fallback mode: %v", err)
			}
		}
		return
	}
	p.failedMode = flightmode.Invalid
}

func (p *Pilot) checkStickActions() {
	if errs := p.effectiveErrors(); errs != 0 && p.armed && p.initialized {
		monitoring.Logf("pilot: critical sensor error %s", errs)
		p.disarm("critical error")
	}
	live := p.rc.State() == safety.RCOK && p.rcFrame.Updated[safety.ChEmergency] > p.now-safety.RFTimeout
	act := p.sticks.Update(safety.StickState{
		Sticks:        p.rc.Sticks(),
		RC:            p.rc.State(),
		EmergencyLive: live,
		Armed:         p.armed,
		Airborne:      p.airborne,
		TakingOff:     p.takeoffAt > 0,
	}, p.now)

	if act.Has(safety.ActDisarm) && p.armed {
		p.disarm("emergency switch")
	}
	if act.Has(safety.ActMagCalToggle) {
		if p.magCal.Active() {
			p.CancelMagCal()
		} else {
			p.StartMagCal()
		}
	}
	if act.Has(safety.ActArmToggle) {
		switch {
		case !p.armed:
			p.arm()
		case !p.airborne:
			p.disarm("stick")
		default:
			monitoring.Logf("pilot: stick disarm denied while airborne")
		}
	}
	if act.Has(safety.ActFlashlight) {
		p.SetFlashlight(!p.flashlight)
	}
	if act.Has(safety.ActLand) {
		p.Land()
	}
	if act.Has(safety.ActTakeoff) {
		if err := p.Takeoff(); err != nil {
			monitoring.Logf("pilot: takeoff: %v", err)
		}
	}
}

// handleTakeoff raises the altitude target once the motors had time to
// spin up.
func (p *Pilot) handleTakeoff() {
	if p.takeoffAt == 0 {
		return
	}
	if !p.armed {
		p.takeoffAt = 0
		return
	}
	if p.now-p.takeoffAt > takeoffDelay {
		p.altCtl.SetAltitudeTarget(p.altEst.Altitude + takeoffClimb)
		p.takeoffAt = 0
	}
}

func (p *Pilot) handleEvents() {
	p.events.Drain(func(e events.Event) {
		monitoring.Logf("pilot: event %s %d", e.Kind, e.Arg)
		p.outbox.pushEvent(e)
	})
}

func (p *Pilot) readSensors(dt float64) {
	set := p.hw.Sensors
	p.frame = p.sampler.Lock()
	errs := p.frame.Errors

	raw := p.frame.Accel
	p.accel = p.accelCorr.Apply(raw)
	p.gyro = p.frame.Gyro.Add(p.gyroComp.Offset(p.frame.Temperature))

	if p.accCal.Pending() && errs&sensors.ErrAccel == 0 {
		p.accCal.Add(raw)
		c, done, err := p.accCal.Finish()
		if err != nil {
			monitoring.Logf("pilot: accel calibration failed: %v", err)
		}
		if done {
			p.applyAccelCalibration(c.Bias, c.Scale)
		}
	}

	p.magFresh = false
	if p.now-p.lastMag >= magInterval {
		p.lastMag = p.now
		m, fresh, e := set.ReadMag(p.now)
		p.magErr = e
		if e == 0 {
			p.magRaw = m
			p.mag = p.magCorr.Apply(m)
			p.magFresh = fresh
		}
	}

	p.baroFresh = false
	if p.now-p.lastBaro >= baroInterval {
		p.lastBaro = p.now
		b, fresh, e := set.ReadBaro(p.now)
		p.baroErr = e
		if e == 0 && fresh {
			p.baro, p.baroFresh = b, true
			if p.initialized {
				p.baroAlt = env.Altitude(b.Pressure, p.groundPressure, p.groundTemp)
				if !p.armed && math.Abs(p.baroAlt) < refLatchAlt {
					p.groundTemp = b.Temperature
				}
			}
		}
	}

	p.rangeDist = set.ReadRange()

	p.flowFresh = false
	if p.now-p.lastFlow >= flowInterval {
		p.lastFlow = p.now
		p.flowFrame, p.flowFresh = set.ReadFlow()
	}

	fix, fresh, e := set.BestGPS()
	p.fix, p.fixFresh = fix, fresh

	if b, ok := set.ReadBattery(); ok && dt > 0 {
		p.batteryOK = true
		p.voltage.Apply(b.Voltage, dt)
		p.mAh += p.current.Apply(b.Current, dt) * dt / 3.6
	}

	p.errs = errs | p.magErr | p.baroErr | e
	if !p.initialized {
		p.collectStatic()
	}
}

func (p *Pilot) collectStatic() {
	smp := imu.Sample{Accel: p.accel, Gyro: p.gyro, Temperature: p.frame.Temperature}
	done, err := p.static.Add(p.now, smp, p.mag, p.magFresh, p.baro, p.baroFresh, p.effectiveErrors())
	if err != nil {
		if p.initErr == nil {
			monitoring.Logf("pilot: %v", err)
		}
		p.initErr = err
		return
	}
	p.initErr = nil
	if done {
		p.initialize(p.static.Seed())
	}
}

func (p *Pilot) initialize(seed orientation.Seed) {
	p.mahony.Init(seed)
	p.ekf.Init(seed)
	p.att = p.estimator().Estimate()
	p.groundPressure, p.groundTemp = seed.GroundPressure, seed.GroundTemp
	p.alt.Reset(0)
	p.altEst = p.alt.Estimate()
	p.initialized = true
	monitoring.Logf("pilot: sensors initialized, roll %.1f pitch %.1f yaw %.1f",
		p.att.Roll*geo.RadToDeg, p.att.Pitch*geo.RadToDeg, p.att.Yaw*geo.RadToDeg)
}

func (p *Pilot) serviceMagCal(dt float64) {
	if r, ok := p.magWorker.Poll(); ok {
		p.magCal.Complete(r)
		if r.Code == 0 {
			p.applyMagCalibration(r.Correction.Bias, r.Correction.Scale)
		}
		p.emit(events.MagCalDone, r.Code)
	}
	if !p.magCal.Active() || p.armed || !p.initialized {
		return
	}
	if p.magCal.Add(p.magRaw, p.att.Roll, p.att.Pitch, p.att.Rate, dt) {
		if !p.magWorker.Submit(p.magCal.Snapshot()) {
			monitoring.Logf("pilot: mag fit already pending")
		}
	}
}

func (p *Pilot) applyAccelCalibration(bias, scale geo.Vector3) {
	p.prm.AccelBias = bias.Array()
	p.prm.AccelScale = scale.Array()
	p.accelCorr = imu.Correction{Bias: bias, Scale: scale}
	p.storeKeys("abix", "abiy", "abiz", "ascx", "ascy", "ascz")
	monitoring.Logf("pilot: accel calibrated, bias %+v scale %+v", bias, scale)
	p.emit(events.AccCalDone, 0)
}

func (p *Pilot) applyMagCalibration(bias, scale geo.Vector3) {
	p.prm.MagBias = bias.Array()
	p.prm.MagScale = scale.Array()
	p.magCorr = imu.Correction{Bias: bias, Scale: scale}
	p.storeKeys("mbx", "mby", "mbz", "mgx", "mgy", "mgz")
}

// storeKeys copies the named parameters to the store.
func (p *Pilot) storeKeys(keys ...string) {
	if p.store == nil {
		return
	}
	for _, k := range keys {
		v, err := p.prm.Get(k)
		if err == nil {
			err = p.store.Set(k, v)
		}
		if err != nil {
			monitoring.Logf("pilot: store %s: %v", k, err)
		}
	}
}

func (p *Pilot) relativeAltitude() float64 {
	if !p.armed {
		return 0
	}
	return p.altEst.Altitude - p.takeoffAlt
}

func (p *Pilot) checkLowPower(dt float64) {
	v, i := p.voltage.Value(), p.current.Value()
	if !p.batteryOK || v <= minLowPowerVolt || dt <= 0 || dt > maxLowPowerDt {
		return
	}
	prev := p.lowPower.Level()
	level := p.lowPower.Update(v, i, p.relativeAltitude(), dt)
	if level > prev {
		monitoring.Logf("pilot: low power level %d at %.2fV", level, v)
		p.emit(events.LowPower, level)
		if level > 1 && p.armed && !p.landing {
			p.landing = true
		}
	}
}

func (p *Pilot) updateIndicator() {
	c := indicatorColor(indicatorState{
		errors:   p.effectiveErrors(),
		lowPower: p.lowPower.Level(),
		magStage: p.magCalStage(),
		rtl:      p.modes.Current() == flightmode.RTL,
		rcFailed: p.rc.State() == safety.RCFailed,
		posHold:  p.modeSwitch.Mode() == flightmode.PosHold,
		posReady: p.posReady,
	}, p.now)
	if c != p.color {
		p.color = c
		if p.hw.Indicator != nil {
			p.hw.Indicator.SetColor(c)
		}
	}
}

func (p *Pilot) magCalStage() int {
	if !p.magCal.Active() {
		return -1
	}
	return int(p.magCal.Stage())
}

func (p *Pilot) calculateState(dt float64) {
	est := p.estimator()

	in := orientation.Input{
		Accel:    p.accel,
		Gyro:     p.gyro,
		Mag:      p.mag,
		MagValid: p.magFresh,
		ExtAccel: p.att.Q.NEDToBody(p.ground.Compensation()),
		BaroAlt:  math.NaN(),
		Dt:       dt,
	}
	if p.baroFresh {
		in.BaroAlt = p.baroAlt
	}
	in.Aiding = p.aiding()
	est.Update(in)
	p.att = est.Estimate()

	// vertical
	accNED := p.att.Q.BodyToNED(p.accel).Add(geo.Vector3{Z: geo.G})
	p.alt.SetStatic(!p.armed)
	p.alt.SetLandEffect((p.armed && !p.airborne) || (!math.IsNaN(p.rangeDist) && p.rangeDist < groundEffectAlt))
	p.alt.Predict(-accNED.Z, dt)
	if p.baroFresh && !math.IsNaN(p.baroAlt) {
		p.alt.CorrectBaro(p.baroAlt)
	}
	p.alt.CorrectSonar(p.rangeDist, p.att.Roll, p.att.Pitch)
	p.altEst = p.alt.Estimate()

	// horizontal
	p.pos.Predict(accNED.X, accNED.Y, dt)
	switch {
	case p.fixFresh && p.fix.Has3D():
		p.pos.CorrectGPS(p.fix, p.now)
		p.ground.Update(p.fix, p.now)
	case p.fixFresh:
		p.ground.Reset()
	}
	if p.flowFresh && !p.pos.Ready(p.now) {
		if vx, vy, ok := position.FlowVelocity(p.flowFrame, p.att.Rate, p.rangeDist); ok {
			vn, ve := position.BodyToNED(vx, vy, p.att.Yaw)
			p.pos.CorrectVelocity(vn, ve)
		}
	}
	p.posEst = p.pos.Estimate(p.now)
	if ready := p.posEst.Ready; ready != p.posReady {
		p.posReady = ready
		if ready {
			p.emit(events.PosReady, 0)
		} else {
			p.emit(events.PosBad, 0)
			// demote before the controllers fly on the lost estimate
			p.applyMode(flightmode.Next(p.modes.Current(), p.modeInputs()))
		}
	}
}

// aiding builds the Kalman filter position/velocity measurement. Without a
// fix the position channel is disabled by its variance; flow keeps the
// velocity channel.
func (p *Pilot) aiding() *orientation.Aiding {
	if p.fixFresh && p.fix.Has3D() && p.pos.Frame().IsSet() {
		n, e := p.pos.Frame().ToNED(p.fix.Latitude, p.fix.Longitude)
		vn, ve := position.GroundVelocity(p.fix)
		return &orientation.Aiding{
			PosN: n, PosE: e, VelN: vn, VelE: ve,
			PosR: math.Max(p.fix.HAcc*p.fix.HAcc, 1e-3),
			VelR: math.Max(p.fix.VelAcc*p.fix.VelAcc, 0.08),
		}
	}
	if p.flowFresh {
		if vx, vy, ok := position.FlowVelocity(p.flowFrame, p.att.Rate, p.rangeDist); ok {
			vn, ve := position.BodyToNED(vx, vy, p.att.Yaw)
			return &orientation.Aiding{
				VelN: vn, VelE: ve,
				PosR: orientation.DisabledR, VelR: p.pos.FlowR,
			}
		}
	}
	return nil
}

func (p *Pilot) runControllers(dt float64) {
	p.altCtl.ProvideStates(p.altEst.Altitude, p.altEst.Climb, p.altEst.Accel, p.rangeDist,
		p.att.Roll, p.att.Pitch, p.out.ThrottleRealized, p.airborne)
	p.altCtl.Release()
	p.attCtl.QuaternionMode = params.Flag(p.prm.UseEKF)

	if !p.armed {
		p.torque, p.throttle = geo.Vector3{}, 0
		return
	}
	if p.altEst.Altitude > p.takeoffAlt+rtlMinHeight {
		p.reachedRTLHeight = true
	}
	p.modes.Loop(dt)
	p.torque = p.attCtl.Update(p.att, dt, p.out.Saturated)
	p.checkAirborne()
}

func (p *Pilot) checkAirborne() {
	if p.airborne {
		return
	}
	hover := p.altCtl.ThrottleHover()
	alt := p.altEst.Altitude
	if alt > p.takeoffAlt+airborneHeight ||
		(alt > p.takeoffAlt && p.throttle > hover) ||
		p.throttle > hover+mixer.DefaultReserve {
		p.airborne = true
		monitoring.Logf("pilot: airborne at %.2fm", alt-p.takeoffAlt)
		p.emit(events.Airborne, 0)
	}
}

func (p *Pilot) output() {
	p.out = p.mix.Mix(p.torque, p.throttle, p.armed, p.airborne)
	if p.hw.Motors != nil {
		p.hw.Motors.WritePulses(p.out.Pulses)
	}
}

func (p *Pilot) saveLogs() {
	p.outbox.pushRecord(p.record())
}

func (p *Pilot) landingRequested() bool {
	return safety.LandingRequested(p.rc.Stick(safety.ChThrottle), p.throttle, p.landing)
}

func (p *Pilot) detectLanding() {
	v := p.land.Update(safety.LandInput{
		ThrottleStick: p.rc.Stick(safety.ChThrottle),
		Throttle:      p.throttle,
		Landing:       p.landing,
		Climb:         p.altEst.Climb,
		MaxDescend:    p.prm.MaxDescend,
		AltUsed:       p.altCtl.Used(),
		TargetClimb:   p.altCtl.TargetClimbRate(),
		Airborne:      p.airborne,
	}, p.now)
	if v == safety.VerdictLanded {
		p.emit(events.Landed, 0)
		p.disarm("landed")
	}
}

func (p *Pilot) detectCrash() {
	raw := p.accelCorr.Apply(p.frame.Raw.Accel)
	v := p.crash.Update(raw, p.att.Q.Down(), p.att.Roll, p.att.Pitch, p.landingRequested(), p.now)
	switch v {
	case safety.VerdictCrash:
		monitoring.Logf("pilot: crash detected, %.2fg", p.crash.LastG())
		p.emit(events.Crash, 0)
		p.disarm("crash")
	case safety.VerdictTilt:
		p.emit(events.Tilt, 0)
		p.disarm("tilt")
	case safety.VerdictImpact:
		if params.Flag(p.prm.CrashProtect) {
			p.emit(events.Landed, 1)
			p.disarm("ground impact")
		}
	}
}

// latchHome stores the first ready position as home.
func (p *Pilot) latchHome() {
	if p.home.set || !p.posReady {
		return
	}
	p.setHome()
}

func (p *Pilot) setHome() {
	p.home = home{north: p.posEst.North, east: p.posEst.East, set: true}
	monitoring.Logf("pilot: home set at %.1f, %.1f", p.home.north, p.home.east)
	p.emit(events.HomeSet, 0)
}
