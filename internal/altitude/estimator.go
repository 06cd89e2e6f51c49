// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package altitude fuses vertical acceleration with barometric and range
// finder altitude.
package altitude

import (
	"math"

	"github.com/relabs-tech/flight_computer/internal/geo"
)

const (
	// LandEffectFactor inflates the baro variance near the ground where the
	// prop wash disturbs the static pressure.
	LandEffectFactor = 25.0
	// MaxSonarTilt is the largest roll or pitch at which range readings are
	// fused.
	MaxSonarTilt = 30 * geo.DegToRad
)

// Estimate is the altitude state in metres, up positive.
type Estimate struct {
	Altitude  float64 `json:"altitude"`
	Climb     float64 `json:"climb"`
	Accel     float64 `json:"accel"`
	AccelBias float64 `json:"accel_bias"`
}

// Estimator is a 3-state Kalman filter over altitude, climb rate and
// vertical accel bias. With Sonar set, range finder readings are fused
// through an offset latched against the current altitude so the filter keeps
// a single baro-referenced altitude.
type Estimator struct {
	AccelNoise float64 // m/s²
	BiasWalk   float64 // m/s³
	BaroR      float64 // m²
	SonarR     float64 // m²
	Sonar      bool

	x [3]float64
	p [3][3]float64

	accel        float64
	landEffect   bool
	static       bool
	sonarOffset  float64
	sonarLatched bool
}

func New(sonar bool) *Estimator {
	e := &Estimator{
		AccelNoise: 0.5,
		BiasWalk:   0.02,
		BaroR:      0.5,
		SonarR:     0.01,
		Sonar:      sonar,
	}
	e.Reset(0)
	return e
}

// Reset places the filter at alt with zero climb and bias.
func (e *Estimator) Reset(alt float64) {
	e.x = [3]float64{alt, 0, 0}
	e.p = [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 0.1}}
	e.sonarLatched = false
	e.accel = 0
}

// SetLandEffect de-weights the barometer.
func (e *Estimator) SetLandEffect(on bool) { e.landEffect = on }

// SetStatic freezes the accel bias.
func (e *Estimator) SetStatic(on bool) { e.static = on }

func (e *Estimator) LandEffect() bool { return e.landEffect }

// Predict integrates the world-up acceleration accUp (m/s², gravity removed)
// over dt seconds.
func (e *Estimator) Predict(accUp, dt float64) {
	if dt <= 0 {
		return
	}
	a := accUp + e.x[2]
	e.accel = a
	e.x[0] += e.x[1]*dt + 0.5*a*dt*dt
	e.x[1] += a * dt

	f := [3][3]float64{
		{1, dt, 0.5 * dt * dt},
		{0, 1, dt},
		{0, 0, 1},
	}
	var fp, p [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				fp[i][j] += f[i][k] * e.p[k][j]
			}
		}
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				p[i][j] += fp[i][k] * f[j][k]
			}
		}
	}
	g := [3]float64{0.5 * dt * dt, dt, 0}
	qa := e.AccelNoise * e.AccelNoise
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			p[i][j] += g[i] * g[j] * qa
		}
	}
	if !e.static {
		p[2][2] += e.BiasWalk * e.BiasWalk * dt
	}
	e.p = p
}

// correct applies a scalar altitude measurement with variance r.
func (e *Estimator) correct(z, r float64) {
	s := e.p[0][0] + r
	if s <= 0 || math.IsNaN(z) {
		return
	}
	var k [3]float64
	for i := range k {
		k[i] = e.p[i][0] / s
	}
	if e.static {
		k[2] = 0
	}
	y := z - e.x[0]
	for i := range e.x {
		e.x[i] += k[i] * y
	}

	// Joseph form keeps P valid with the clamped bias gain.
	var a [3][3]float64
	for i := 0; i < 3; i++ {
		a[i][i] = 1
		a[i][0] -= k[i]
	}
	var ap, p [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for m := 0; m < 3; m++ {
				ap[i][j] += a[i][m] * e.p[m][j]
			}
		}
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for m := 0; m < 3; m++ {
				p[i][j] += ap[i][m] * a[j][m]
			}
			p[i][j] += k[i] * k[j] * r
		}
	}
	e.p = p
}

// CorrectBaro fuses a barometric altitude.
func (e *Estimator) CorrectBaro(alt float64) {
	r := e.BaroR
	if e.landEffect {
		r *= LandEffectFactor
	}
	e.correct(alt, r)
}

// CorrectSonar fuses a range finder distance taken at the given attitude.
// A NaN distance or a tilt beyond MaxSonarTilt releases the offset.
func (e *Estimator) CorrectSonar(dist, roll, pitch float64) {
	if !e.Sonar || math.IsNaN(dist) || math.Abs(roll) > MaxSonarTilt || math.Abs(pitch) > MaxSonarTilt {
		e.sonarLatched = false
		return
	}
	h := dist * math.Cos(roll) * math.Cos(pitch)
	if !e.sonarLatched {
		e.sonarOffset = e.x[0] - h
		e.sonarLatched = true
	}
	e.correct(h+e.sonarOffset, e.SonarR)
}

// SonarActive reports whether range readings currently feed the filter.
func (e *Estimator) SonarActive() bool { return e.sonarLatched }

func (e *Estimator) Estimate() Estimate {
	return Estimate{Altitude: e.x[0], Climb: e.x[1], Accel: e.accel, AccelBias: e.x[2]}
}
