// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"errors"
	"fmt"

	"github.com/relabs-tech/flight_computer/internal/env"
	"github.com/relabs-tech/flight_computer/internal/filter"
	"github.com/relabs-tech/flight_computer/internal/geo"
	"github.com/relabs-tech/flight_computer/internal/imu"
	"github.com/relabs-tech/flight_computer/internal/sensors"
)

const (
	// StaticSamples is the length of the still window used for seeding.
	StaticSamples = 900
	// StaticSpacing is the minimum spacing (µs) between window samples.
	StaticSpacing = 1000

	accelMotionThreshold = 1.0                // m/s²
	gyroMotionThreshold  = 5.0 * geo.DegToRad // rad/s
)

// ErrSensorUnhealthy aborts the static initialization.
var ErrSensorUnhealthy = errors.New("sensor unhealthy")

// Seed is the result of a static window: average readings while still, and
// the ground reference for the barometer.
type Seed struct {
	Accel          geo.Vector3
	Gyro           geo.Vector3
	Mag            geo.Vector3
	MagValid       bool
	GroundPressure float64
	GroundTemp     float64
}

// StaticInit collects the still window. Any movement restarts the window.
type StaticInit struct {
	accel, gyro *filter.MotionDetector

	magSum   geo.Vector3
	magCount int

	pressureSum, tempSum float64
	baroCount            int

	last int64
}

func NewStaticInit() *StaticInit {
	return &StaticInit{
		accel: filter.NewMotionDetector(accelMotionThreshold),
		gyro:  filter.NewMotionDetector(gyroMotionThreshold),
	}
}

// Add feeds one tick of sensor data taken at now (µs). errs are the current
// critical error bits minus the ignored ones. It returns true once the window
// is complete.
func (s *StaticInit) Add(now int64, smp imu.Sample, mag geo.Vector3, magFresh bool, baro env.Sample, baroFresh bool, errs sensors.ErrorBits) (bool, error) {
	if bad := errs & (sensors.ErrGyro | sensors.ErrAccel | sensors.ErrMagnet | sensors.ErrBaro); bad != 0 {
		return false, fmt.Errorf("static init: %w: %s", ErrSensorUnhealthy, bad)
	}
	if s.last != 0 && now-s.last < StaticSpacing {
		return s.Done(), nil
	}
	s.last = now

	movedA := s.accel.Add(smp.Accel)
	movedG := s.gyro.Add(smp.Gyro)
	if movedA || movedG {
		// restart both windows from this sample
		s.accel.Reset()
		s.gyro.Reset()
		s.accel.Add(smp.Accel)
		s.gyro.Add(smp.Gyro)
		s.magSum, s.magCount = geo.Vector3{}, 0
	}
	if magFresh {
		s.magSum = s.magSum.Add(mag)
		s.magCount++
	}
	if baroFresh {
		s.pressureSum += baro.Pressure
		s.tempSum += baro.Temperature
		s.baroCount++
	}
	return s.Done(), nil
}

// Done reports whether enough still samples were collected.
func (s *StaticInit) Done() bool {
	return s.accel.Count() >= StaticSamples && s.gyro.Count() >= StaticSamples
}

// Progress returns the number of still samples collected so far.
func (s *StaticInit) Progress() int {
	return min(s.accel.Count(), s.gyro.Count())
}

func (s *StaticInit) Seed() Seed {
	a, _ := s.accel.Average()
	g, _ := s.gyro.Average()
	seed := Seed{Accel: a, Gyro: g}
	if s.magCount > 0 {
		seed.Mag = s.magSum.Scale(1 / float64(s.magCount))
		seed.MagValid = true
	}
	if s.baroCount > 0 {
		seed.GroundPressure = s.pressureSum / float64(s.baroCount)
		seed.GroundTemp = s.tempSum / float64(s.baroCount)
	}
	return seed
}
