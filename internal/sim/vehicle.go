// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sim provides a simulated quadcopter that implements the sensor
// and actuator contracts of the flight core. It is used for bench runs
// without hardware and by the end-to-end tests.
package sim

import (
	"math"
	"sync"

	"github.com/relabs-tech/flight_computer/internal/env"
	"github.com/relabs-tech/flight_computer/internal/geo"
	"github.com/relabs-tech/flight_computer/internal/gps"
	"github.com/relabs-tech/flight_computer/internal/imu"
	"github.com/relabs-tech/flight_computer/internal/mixer"
	"github.com/relabs-tech/flight_computer/internal/sensors"
)

const (
	// GPSPeriod is the interval between simulated fixes (µs).
	GPSPeriod = 200_000

	defaultLat = 48.1173
	defaultLon = 11.5167
	homeMSL    = 520.0
)

// EarthField is the simulated magnetic field in NED (µT).
var EarthField = geo.Vector3{X: 21, Y: 0, Z: 43}

// Vehicle is a rigid body driven by four motors. With Pinned set the body
// is held by a test stand: motors are ignored and the state only changes
// through the setters.
type Vehicle struct {
	Layout     mixer.Layout
	Idle, Max  float64 // µs
	HoverPower float64 // normalized motor power that balances gravity
	// TorqueGain converts normalized torque into angular acceleration
	// (rad/s²).
	TorqueGain geo.Vector3
	RateDrag   float64 // 1/s
	Drag       float64 // 1/s, linear drag on velocity

	GroundPressure float64 // Pa
	GroundTemp     float64 // °C

	mu       sync.Mutex
	pinned   bool
	pos, vel geo.Vector3 // NED, ground at Z = 0
	q        geo.Quaternion
	rate     geo.Vector3
	force    geo.Vector3 // specific force, body frame
	extra    geo.Vector3 // injected specific force, body frame
	gyroBias geo.Vector3

	pulses [mixer.Motors]float64
	frame  geo.LocalFrame
	last   int64

	gpsOn    bool
	gpsEpoch int64
	gpsRead  int64

	rc       [sensors.RCChannels]float64
	rcLive   bool
	rcUpdate int64

	battery sensors.Battery
	flow    bool
}

func NewVehicle() *Vehicle {
	v := &Vehicle{
		Layout:         mixer.Plus,
		Idle:           1176,
		Max:            1980,
		HoverPower:     0.45,
		TorqueGain:     geo.Vector3{X: 60, Y: 60, Z: 15},
		RateDrag:       4,
		Drag:           0.3,
		GroundPressure: 101325,
		GroundTemp:     15,
		q:              geo.Identity,
		gpsOn:          true,
		rcLive:         true,
		battery:        sensors.Battery{Voltage: 12.4, Current: 0.5},
	}
	v.frame.SetOrigin(defaultLat, defaultLon)
	v.force = geo.Vector3{Z: -geo.G}
	for i := range v.rc {
		v.rc[i] = 1520
	}
	v.rc[2] = 1000
	v.rc[4] = 1000 // emergency switch armed position
	return v
}

// SetPinned holds the vehicle on a test stand.
func (v *Vehicle) SetPinned(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pinned = on
	if on {
		v.vel, v.rate = geo.Vector3{}, geo.Vector3{}
		v.force = v.q.NEDToBody(geo.Vector3{Z: -geo.G})
	}
}

// SetAltitude places the vehicle at alt metres above ground.
func (v *Vehicle) SetAltitude(alt float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pos.Z = -alt
}

func (v *Vehicle) SetPosition(north, east float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pos.X, v.pos.Y = north, east
}

// SetAttitude sets the attitude and, for a pinned vehicle, the matching
// gravity reading.
func (v *Vehicle) SetAttitude(roll, pitch, yaw float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.q = geo.FromEuler(roll, pitch, yaw)
	if v.pinned {
		v.force = v.q.NEDToBody(geo.Vector3{Z: -geo.G})
	}
}

// InjectAccel adds a specific force (body frame, m/s²) to the accel reading,
// e.g. to simulate an impact. A zero vector removes it.
func (v *Vehicle) InjectAccel(a geo.Vector3) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.extra = a
}

func (v *Vehicle) SetGyroBias(b geo.Vector3) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.gyroBias = b
}

// SetRC sets one channel pulse (µs).
func (v *Vehicle) SetRC(ch int, pulse float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rc[ch] = pulse
}

// SetRCLive stops or resumes receiver updates.
func (v *Vehicle) SetRCLive(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rcLive = on
}

func (v *Vehicle) SetGPS(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.gpsOn = on
}

// SetFlow enables the optical flow sensor.
func (v *Vehicle) SetFlow(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.flow = on
}

func (v *Vehicle) SetBattery(voltage, current float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.battery = sensors.Battery{Voltage: voltage, Current: current}
}

// Altitude is the true height above ground.
func (v *Vehicle) Altitude() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return -v.pos.Z
}

// Attitude returns the true roll, pitch and yaw.
func (v *Vehicle) Attitude() (roll, pitch, yaw float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.q.Euler()
}

// Pulses returns the last motor command.
func (v *Vehicle) Pulses() [mixer.Motors]float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pulses
}

// WritePulses implements sensors.Actuator.
func (v *Vehicle) WritePulses(pulses []float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	copy(v.pulses[:], pulses)
}

func (v *Vehicle) power(i int) float64 {
	if v.pulses[i] < v.Idle {
		return 0
	}
	return geo.Clamp((v.pulses[i]-v.Idle)/(v.Max-v.Idle), 0, 1)
}

// Step advances the simulation to now (µs).
func (v *Vehicle) Step(now int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.rcLive {
		v.rcUpdate = now
	}
	if v.gpsOn && now-v.gpsEpoch >= GPSPeriod {
		v.gpsEpoch = now
	}
	if v.last == 0 || now <= v.last {
		v.last = now
		return
	}
	dt := float64(now-v.last) / 1e6
	v.last = now
	if v.pinned {
		return
	}

	matrix, _ := v.Layout.Matrix()
	var torque geo.Vector3
	thrust := 0.0
	for i, row := range matrix {
		p := v.power(i)
		thrust += p
		torque = torque.Add(geo.Vector3{X: row[0] * p, Y: row[1] * p, Z: row[2] * p})
	}
	thrustAcc := geo.G * thrust / (mixer.Motors * v.HoverPower)

	alpha := geo.Vector3{
		X: torque.X*v.TorqueGain.X - v.rate.X*v.RateDrag,
		Y: torque.Y*v.TorqueGain.Y - v.rate.Y*v.RateDrag,
		Z: torque.Z*v.TorqueGain.Z - v.rate.Z*v.RateDrag,
	}
	v.rate = v.rate.Add(alpha.Scale(dt))

	thrustBody := geo.Vector3{Z: -thrustAcc}
	dragNED := v.vel.Scale(-v.Drag)
	acc := v.q.BodyToNED(thrustBody).Add(dragNED).Add(geo.Vector3{Z: geo.G})

	onGround := v.pos.Z >= 0 && acc.Z >= 0
	if onGround {
		v.pos.Z = 0
		v.vel = geo.Vector3{}
		v.rate = geo.Vector3{}
		v.force = v.q.NEDToBody(geo.Vector3{Z: -geo.G})
		return
	}
	v.q = v.q.Integrate(v.rate, dt)
	v.vel = v.vel.Add(acc.Scale(dt))
	v.pos = v.pos.Add(v.vel.Scale(dt))
	if v.pos.Z > 0 {
		v.pos.Z = 0
		v.vel = geo.Vector3{}
	}
	v.force = v.q.NEDToBody(acc.Sub(geo.Vector3{Z: geo.G}))
}

// ReadIMU implements sensors.IMUReader.
func (v *Vehicle) ReadIMU() (imu.Sample, sensors.Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return imu.Sample{
		Accel:       v.force.Add(v.extra),
		Gyro:        v.rate.Add(v.gyroBias),
		Temperature: 30,
	}, sensors.Fresh
}

// ReadMag implements sensors.MagReader.
func (v *Vehicle) ReadMag() (geo.Vector3, sensors.Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.q.NEDToBody(EarthField), sensors.Fresh
}

// Pressure returns the standard atmosphere pressure at alt metres above a
// ground at p0 (Pa) and t0 (°C).
func Pressure(alt, p0, t0 float64) float64 {
	return p0 * math.Pow(1-alt/(153.8462*(t0+273.15)), 1/0.190259)
}

// ReadBaro implements sensors.BaroReader.
func (v *Vehicle) ReadBaro() (env.Sample, sensors.Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return env.Sample{
		Pressure:    Pressure(-v.pos.Z, v.GroundPressure, v.GroundTemp),
		Temperature: v.GroundTemp,
	}, sensors.Fresh
}

// ReadGPS implements sensors.GPSReader. A fix is fresh once per GPSPeriod.
func (v *Vehicle) ReadGPS() (gps.Fix, sensors.Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.gpsOn {
		return gps.Fix{}, sensors.Stale
	}
	lat, lon := v.frame.ToLLH(v.pos.X, v.pos.Y)
	course := math.Atan2(v.vel.Y, v.vel.X) * geo.RadToDeg
	if course < 0 {
		course += 360
	}
	fix := gps.Fix{
		Latitude:   lat,
		Longitude:  lon,
		Altitude:   homeMSL - v.pos.Z,
		Speed:      math.Hypot(v.vel.X, v.vel.Y),
		Course:     course,
		HDOP:       0.9,
		FixType:    3,
		Satellites: 9,
		HAcc:       1.2,
		VelAcc:     0.2,
	}
	st := sensors.Stale
	if v.gpsEpoch > v.gpsRead {
		v.gpsRead = v.gpsEpoch
		st = sensors.Fresh
	}
	return fix, st
}

// ReadRange implements sensors.RangeReader.
func (v *Vehicle) ReadRange() (float64, sensors.Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	r, p, _ := v.q.Euler()
	c := math.Cos(r) * math.Cos(p)
	if c <= 0 {
		return 0, sensors.Stale
	}
	return -v.pos.Z / c, sensors.Fresh
}

// ReadFlow implements sensors.FlowReader. The simulated sensor sees a
// perfectly textured ground and reports no motion.
func (v *Vehicle) ReadFlow() (sensors.FlowFrame, sensors.Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.flow {
		return sensors.FlowFrame{}, sensors.Unhealthy
	}
	return sensors.FlowFrame{GroundDistance: -v.pos.Z, Quality: 255}, sensors.Fresh
}

// ReadBattery implements sensors.BatteryReader.
func (v *Vehicle) ReadBattery() (sensors.Battery, sensors.Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.battery, sensors.Fresh
}

// ReadRC implements sensors.RCReader.
func (v *Vehicle) ReadRC() sensors.RCFrame {
	v.mu.Lock()
	defer v.mu.Unlock()
	var f sensors.RCFrame
	f.Pulses = v.rc
	for i := range f.Updated {
		f.Updated[i] = v.rcUpdate
	}
	return f
}

// Sensors returns a sensor set reading from the simulated vehicle.
func (v *Vehicle) Sensors() *sensors.Set {
	return &sensors.Set{
		IMUs:    []sensors.IMUReader{v},
		Mags:    []sensors.MagReader{v},
		Baros:   []sensors.BaroReader{v},
		GPS:     []sensors.GPSReader{v},
		Flow:    v,
		Range:   v,
		Battery: v,
	}
}
