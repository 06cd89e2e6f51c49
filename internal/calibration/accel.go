// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration runs the accelerometer and magnetometer calibration
// sessions.
package calibration

import (
	"fmt"

	"github.com/relabs-tech/flight_computer/internal/filter"
	"github.com/relabs-tech/flight_computer/internal/geo"
)

const (
	// Faces is the number of orientations an accelerometer calibration
	// needs.
	Faces = 6
	// MinFaceSamples is the stationary window length that completes a face.
	MinFaceSamples = 100
	// ReportFaceSamples is the window length reported as done to the user.
	ReportFaceSamples = 400

	accelMotionThreshold = 1.0 // m/s²
	faceXY               = 8.5 // m/s², 3x the typical zero-g offset
	faceZ                = 7.2
)

// ClassifyFace returns the face a stationary average lies on, or -1.
func ClassifyFace(avg geo.Vector3) int {
	switch {
	case avg.X < -faceXY:
		return 0
	case avg.X > faceXY:
		return 1
	case avg.Y < -faceXY:
		return 2
	case avg.Y > faceXY:
		return 3
	case avg.Z < -faceZ:
		return 4
	case avg.Z > faceZ:
		return 5
	}
	return -1
}

// AccelSession collects the stationary average of each face and fits the
// accelerometer correction once all faces are covered.
type AccelSession struct {
	requested bool
	done      bool
	counts    [Faces]int
	averages  [Faces]geo.Vector3
	result    Correction
	motion    *filter.MotionDetector
}

func NewAccelSession() *AccelSession {
	return &AccelSession{motion: filter.NewMotionDetector(accelMotionThreshold)}
}

// Start clears the collected faces and requests a calibration.
func (s *AccelSession) Start() {
	s.counts = [Faces]int{}
	s.requested = true
	s.done = false
}

// Requested reports whether a calibration was requested.
func (s *AccelSession) Requested() bool { return s.requested }

// Done reports whether the requested calibration finished.
func (s *AccelSession) Done() bool { return s.done }

// Pending is true between Start and a successful fit.
func (s *AccelSession) Pending() bool { return s.requested && !s.done }

// Add feeds one uncalibrated accelerometer sample. The motion detector runs
// whether or not a calibration is requested.
func (s *AccelSession) Add(raw geo.Vector3) {
	s.motion.Add(raw)
	avg, n := s.motion.Average()
	if n <= MinFaceSamples {
		return
	}
	if i := ClassifyFace(avg); i >= 0 && n > s.counts[i] {
		s.counts[i] = n
		s.averages[i] = avg
	}
}

// Counts returns the window length collected per face.
func (s *AccelSession) Counts() [Faces]int { return s.counts }

// State is the acc_cal_state report: -1 when no calibration was requested,
// else a bitmask of faces with enough samples.
func (s *AccelSession) State() int {
	if !s.requested {
		return -1
	}
	state := 0
	for i, n := range s.counts {
		if n > ReportFaceSamples {
			state |= 1 << i
		}
	}
	return state
}

// Finish fits the correction once every face has MinFaceSamples. It
// returns ok=false while faces are missing.
func (s *AccelSession) Finish() (Correction, bool, error) {
	if !s.Pending() {
		return s.result, false, nil
	}
	for _, n := range s.counts {
		if n < MinFaceSamples {
			return Correction{}, false, nil
		}
	}
	c, err := SphereFit(s.averages[:], geo.G)
	if err != nil {
		s.counts = [Faces]int{}
		return Correction{}, false, fmt.Errorf("calibration: accel: %w", err)
	}
	s.result = c
	s.done = true
	return c, true, nil
}
