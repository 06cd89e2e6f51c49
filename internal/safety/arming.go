// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package safety

import "errors"

// Reasons an arm request is rejected.
var (
	ErrMagCalibrating    = errors.New("calibrating magnetometer")
	ErrAccelCalibrating  = errors.New("accelerometer calibration incomplete")
	ErrPowerCritical     = errors.New("power critical")
	ErrEstimatorNotReady = errors.New("EKF not ready")
	ErrEmergencySwitch   = errors.New("emergency switch")
	ErrSensorInit        = errors.New("sensor initialization not finished")
)

// EmergencyArmed is the emergency switch value below which arming is allowed.
const EmergencyArmed = -0.8

// ArmStatus is what the arming gate looks at.
type ArmStatus struct {
	Initialized     bool
	MagCalibrating  bool
	AccelCalPending bool // requested and not finished
	LowPower        int
	UseEKF          bool
	EKFReady        bool
	EmergencySwitch float64
}

// CheckArm returns nil when arming is allowed, else the first reason it is
// not.
func CheckArm(s ArmStatus) error {
	switch {
	case !s.Initialized:
		return ErrSensorInit
	case s.MagCalibrating:
		return ErrMagCalibrating
	case s.AccelCalPending:
		return ErrAccelCalibrating
	case s.LowPower > 1:
		return ErrPowerCritical
	case s.UseEKF && !s.EKFReady:
		return ErrEstimatorNotReady
	case s.EmergencySwitch > EmergencyArmed:
		return ErrEmergencySwitch
	}
	return nil
}
