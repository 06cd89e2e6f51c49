// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sensors defines the read contracts between the flight loop and the
// device drivers, and aggregates redundant sensors of the same kind.
package sensors

import (
	"strings"

	"github.com/relabs-tech/flight_computer/internal/env"
	"github.com/relabs-tech/flight_computer/internal/geo"
	"github.com/relabs-tech/flight_computer/internal/gps"
	"github.com/relabs-tech/flight_computer/internal/imu"
)

// Status qualifies a sample returned by a reader. Readers never block.
type Status int

const (
	// Fresh means the sample was acquired since the previous read.
	Fresh Status = iota
	// Stale means no new data arrived; the last known sample is returned.
	Stale
	// Unhealthy means the device failed; the sample must not be used.
	Unhealthy
)

func (s Status) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "unhealthy"
	}
}

// Healthy reports whether the sample may be used.
func (s Status) Healthy() bool { return s != Unhealthy }

// ErrorBits is the set of critical sensor errors.
type ErrorBits uint8

const (
	ErrGyro ErrorBits = 1 << iota
	ErrAccel
	ErrMagnet
	ErrBaro
	ErrGPS
)

// ErrorCount is the number of defined error bits.
const ErrorCount = 5

var errorNames = [ErrorCount]string{"gyro", "accel", "magnet", "baro", "gps"}

func (b ErrorBits) String() string {
	if b == 0 {
		return "none"
	}
	var parts []string
	for i, name := range errorNames {
		if b&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// FlowFrame is one optical flow report: integrated pixel motion since the
// previous frame, the sensor's own ground distance estimate and a quality
// figure in [0,255].
type FlowFrame struct {
	PixelX, PixelY float64
	GroundDistance float64
	Quality        int
}

// Battery is the raw power monitor reading.
type Battery struct {
	Voltage float64
	Current float64
}

// RCChannels is the number of receiver channels the core reads.
const RCChannels = 8

// RCFrame holds the latest pulse width (µs) per receiver channel and the time
// (µs) of its last update. Failed is set when the receiver itself reports
// signal loss.
type RCFrame struct {
	Pulses  [RCChannels]float64
	Updated [RCChannels]int64
	Failed  bool
}

type IMUReader interface {
	ReadIMU() (imu.Sample, Status)
}

// MagReader returns the body frame magnetic field in µT.
type MagReader interface {
	ReadMag() (geo.Vector3, Status)
}

type BaroReader interface {
	ReadBaro() (env.Sample, Status)
}

type GPSReader interface {
	ReadGPS() (gps.Fix, Status)
}

type FlowReader interface {
	ReadFlow() (FlowFrame, Status)
}

// RangeReader returns the distance to ground in metres.
type RangeReader interface {
	ReadRange() (float64, Status)
}

type BatteryReader interface {
	ReadBattery() (Battery, Status)
}

type RCReader interface {
	ReadRC() RCFrame
}

// Actuator accepts one pulse width (µs) per motor. Writes are fire and
// forget.
type Actuator interface {
	WritePulses(pulses []float64)
}
