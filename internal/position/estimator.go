// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package position estimates the horizontal NED position and velocity from
// accelerometer dead reckoning corrected by GPS or optical flow.
package position

import (
	"math"

	"github.com/relabs-tech/flight_computer/internal/geo"
	"github.com/relabs-tech/flight_computer/internal/gps"
)

const (
	// MaxHAcc is the horizontal accuracy (m) required for readiness.
	MaxHAcc = 5.0
	// MaxFixAge is how long (µs) a fix stays current.
	MaxFixAge = 1_000_000
)

// Source tells which measurement corrected the estimate last.
type Source int

const (
	SourceNone Source = iota
	SourceGPS
	SourceFlow
)

func (s Source) String() string {
	switch s {
	case SourceGPS:
		return "gps"
	case SourceFlow:
		return "flow"
	default:
		return "none"
	}
}

// Estimate is the horizontal state relative to the local origin.
type Estimate struct {
	North  float64 `json:"north"`
	East   float64 `json:"east"`
	VelN   float64 `json:"vel_n"`
	VelE   float64 `json:"vel_e"`
	HAcc   float64 `json:"hacc"` // zero without a fix
	Ready  bool    `json:"ready"`
	Source Source  `json:"source"`
}

// axis is a 2-state [position, velocity] filter.
type axis struct {
	x [2]float64
	p [2][2]float64
}

func (a *axis) reset(pos float64) {
	a.x = [2]float64{pos, 0}
	a.p = [2][2]float64{{100, 0}, {0, 10}}
}

func (a *axis) predict(acc, dt, qa float64) {
	a.x[0] += a.x[1]*dt + 0.5*acc*dt*dt
	a.x[1] += acc * dt
	p00 := a.p[0][0] + dt*(a.p[1][0]+a.p[0][1]) + dt*dt*a.p[1][1]
	p01 := a.p[0][1] + dt*a.p[1][1]
	p11 := a.p[1][1]
	// accel noise through [dt²/2, dt]
	g0, g1 := 0.5*dt*dt, dt
	a.p[0][0] = p00 + g0*g0*qa
	a.p[0][1] = p01 + g0*g1*qa
	a.p[1][0] = a.p[0][1]
	a.p[1][1] = p11 + g1*g1*qa
}

// correct applies a scalar measurement of state i with variance r.
func (a *axis) correct(i int, z, r float64) {
	s := a.p[i][i] + r
	if s <= 0 {
		return
	}
	k0, k1 := a.p[0][i]/s, a.p[1][i]/s
	y := z - a.x[i]
	a.x[0] += k0 * y
	a.x[1] += k1 * y
	pi0, pi1 := a.p[i][0], a.p[i][1]
	a.p[0][0] -= k0 * pi0
	a.p[0][1] -= k0 * pi1
	a.p[1][0] -= k1 * pi0
	a.p[1][1] -= k1 * pi1
}

// Estimator fuses NED acceleration with GPS position/velocity or flow
// velocity. The local origin is latched on the first 3D fix.
type Estimator struct {
	AccelNoise float64 // m/s²
	FlowR      float64 // (m/s)²

	frame   geo.LocalFrame
	n, e    axis
	fix     gps.Fix
	fixTime int64
	hasFix  bool
	source  Source
}

func NewEstimator() *Estimator {
	est := &Estimator{AccelNoise: 1.0, FlowR: 0.04}
	est.n.reset(0)
	est.e.reset(0)
	return est
}

// Predict integrates the horizontal NED acceleration over dt seconds.
func (s *Estimator) Predict(accN, accE, dt float64) {
	if dt <= 0 {
		return
	}
	qa := s.AccelNoise * s.AccelNoise
	s.n.predict(accN, dt, qa)
	s.e.predict(accE, dt, qa)
}

// CorrectGPS fuses a fresh fix received at now (µs). Fixes without 3D are
// recorded for readiness but not fused.
func (s *Estimator) CorrectGPS(fix gps.Fix, now int64) {
	s.fix, s.fixTime, s.hasFix = fix, now, true
	if !fix.Has3D() {
		return
	}
	if !s.frame.IsSet() {
		s.frame.SetOrigin(fix.Latitude, fix.Longitude)
		s.n.reset(0)
		s.e.reset(0)
	}
	north, east := s.frame.ToNED(fix.Latitude, fix.Longitude)
	vn, ve := GroundVelocity(fix)
	posR := math.Max(fix.HAcc*fix.HAcc, 0.01)
	velR := math.Max(fix.VelAcc*fix.VelAcc, 0.01)
	s.n.correct(0, north, posR)
	s.e.correct(0, east, posR)
	s.n.correct(1, vn, velR)
	s.e.correct(1, ve, velR)
	s.source = SourceGPS
}

// CorrectVelocity fuses a flow derived NED velocity.
func (s *Estimator) CorrectVelocity(vn, ve float64) {
	if math.IsNaN(vn) || math.IsNaN(ve) {
		return
	}
	s.n.correct(1, vn, s.FlowR)
	s.e.correct(1, ve, s.FlowR)
	s.source = SourceFlow
}

// Ready reports whether GPS supports position control at now (µs).
func (s *Estimator) Ready(now int64) bool {
	return s.hasFix && s.fix.Has3D() && now-s.fixTime <= MaxFixAge && s.fix.HAcc < MaxHAcc
}

// Fix returns the last fix and whether one was received.
func (s *Estimator) Fix() (gps.Fix, bool) { return s.fix, s.hasFix }

// Frame exposes the local tangent plane.
func (s *Estimator) Frame() *geo.LocalFrame { return &s.frame }

func (s *Estimator) Estimate(now int64) Estimate {
	var hacc float64
	if s.hasFix {
		hacc = s.fix.HAcc
	}
	return Estimate{
		North:  s.n.x[0],
		East:   s.e.x[0],
		VelN:   s.n.x[1],
		VelE:   s.e.x[1],
		HAcc:   hacc,
		Ready:  s.Ready(now),
		Source: s.source,
	}
}

// GroundVelocity splits ground speed and course into north/east components.
func GroundVelocity(fix gps.Fix) (vn, ve float64) {
	course := geo.WrapPi(fix.Course * geo.DegToRad)
	return math.Cos(course) * fix.Speed, math.Sin(course) * fix.Speed
}
