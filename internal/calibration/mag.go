// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"math"

	"github.com/relabs-tech/flight_computer/internal/geo"
)

// Stage is the progress of a magnetometer calibration.
type Stage int

const (
	StageHorizontal Stage = iota
	StageVerticalPitch
	StageVerticalRoll
	StageReady
	StageCalibrating
)

func (s Stage) String() string {
	switch s {
	case StageHorizontal:
		return "horizontal"
	case StageVerticalPitch:
		return "vertical_pitch"
	case StageVerticalRoll:
		return "vertical_roll"
	case StageReady:
		return "ready_to_calibrate"
	case StageCalibrating:
		return "calibrating"
	default:
		return "unknown"
	}
}

// Result codes reported by mag_cal_state.
const (
	ResultOK        = 0
	ResultTooFew    = 1
	ResultFitFailed = 2
	ResultResidual  = 3
	ResultNever     = 0xff
)

const (
	// MaxMagPoints bounds the snapshot handed to the fit.
	MaxMagPoints = 2000
	// MinMagPoints is the smallest snapshot worth fitting.
	MinMagPoints = 50
	// MaxResidualAverage and MaxResidualMax reject poor fits.
	MaxResidualAverage = 0.05
	MaxResidualMax     = 0.25

	levelTilt    = 30 * geo.DegToRad
	verticalTilt = 60 * geo.DegToRad
	fullTurn     = 2 * math.Pi
	minSpacing   = 0.02 // rad of rotation between kept points
)

// MagResult is the outcome of a magnetometer fit.
type MagResult struct {
	Code       int        `json:"code"`
	Correction Correction `json:"correction"`
	Residual   Residual   `json:"residual"`
	Points     int        `json:"points"`
}

// MagSession walks the user through three rotations and collects the
// uncalibrated field.
type MagSession struct {
	active    bool
	stage     Stage
	turned    float64
	sinceKept float64
	points    []geo.Vector3
	last      int
}

func NewMagSession() *MagSession {
	return &MagSession{points: make([]geo.Vector3, 0, MaxMagPoints), last: ResultNever}
}

// Start clears the collected data.
func (m *MagSession) Start() {
	m.active = true
	m.stage = StageHorizontal
	m.turned = 0
	m.sinceKept = 0
	m.points = m.points[:0]
}

// Cancel stops collecting. A fit already submitted still reports its
// result.
func (m *MagSession) Cancel() { m.active = false }

func (m *MagSession) Active() bool { return m.active }

func (m *MagSession) Stage() Stage { return m.stage }

// State is the mag_cal_state report: stage+1 while running, 0 otherwise,
// and the last result code.
func (m *MagSession) State() (stage, result int) {
	if m.active {
		stage = int(m.stage) + 1
	}
	return stage, m.last
}

// Add feeds one uncalibrated magnetometer reading with the attitude and the
// body rate over dt seconds. It reports true once data for the fit is
// complete.
func (m *MagSession) Add(mag geo.Vector3, roll, pitch float64, rate geo.Vector3, dt float64) bool {
	if !m.active || m.stage >= StageReady || mag.IsNaN() || dt <= 0 {
		return m.active && m.stage == StageReady
	}
	var axisRate float64
	switch m.stage {
	case StageHorizontal:
		if math.Abs(roll) > levelTilt || math.Abs(pitch) > levelTilt {
			return false
		}
		axisRate = rate.Z
	case StageVerticalPitch:
		if math.Abs(pitch) < verticalTilt {
			return false
		}
		axisRate = rate.X
	case StageVerticalRoll:
		if math.Abs(roll) < verticalTilt {
			return false
		}
		axisRate = rate.Y
	}
	step := math.Abs(axisRate) * dt
	m.turned += step
	m.sinceKept += step
	if m.sinceKept >= minSpacing && len(m.points) < MaxMagPoints {
		m.points = append(m.points, mag)
		m.sinceKept = 0
	}
	if m.turned >= fullTurn {
		m.stage++
		m.turned = 0
	}
	return m.stage == StageReady
}

// Snapshot copies the collected points and marks the session calibrating.
func (m *MagSession) Snapshot() []geo.Vector3 {
	m.stage = StageCalibrating
	out := make([]geo.Vector3, len(m.points))
	copy(out, m.points)
	return out
}

// Complete records a fit result and ends the session.
func (m *MagSession) Complete(r MagResult) {
	m.last = r.Code
	m.active = false
}

// LastResult is the code of the last finished fit.
func (m *MagSession) LastResult() int { return m.last }

// FitMag runs the ellipsoid fit and grades it.
func FitMag(points []geo.Vector3) MagResult {
	r := MagResult{Points: len(points)}
	if len(points) < MinMagPoints {
		r.Code = ResultTooFew
		return r
	}
	c, res, err := EllipsoidFit(points)
	if err != nil {
		r.Code = ResultFitFailed
		return r
	}
	r.Correction, r.Residual = c, res
	if res.Average > MaxResidualAverage || res.Max > MaxResidualMax {
		r.Code = ResultResidual
		return r
	}
	r.Code = ResultOK
	return r
}
