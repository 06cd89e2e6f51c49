// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package control

import (
	"github.com/relabs-tech/flight_computer/internal/geo"
	"github.com/relabs-tech/flight_computer/internal/orientation"
)

// AttitudeSetpoint is the target attitude in radians.
type AttitudeSetpoint struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// AttitudeController turns an attitude error into a body rate demand and the
// rate error into a normalized torque per axis.
type AttitudeController struct {
	AngleGain geo.Vector3
	MaxRate   geo.Vector3 // rad/s
	Rate      [3]*PID
	// QuaternionMode computes the angle error on the quaternion, used with
	// the Kalman filter. Otherwise Euler angles are differenced.
	QuaternionMode bool

	target  AttitudeSetpoint
	rateCmd geo.Vector3
	out     geo.Vector3
}

func NewAttitudeController() *AttitudeController {
	return &AttitudeController{
		AngleGain: geo.Vector3{X: 4.5, Y: 4.5, Z: 3.0},
		MaxRate:   geo.Vector3{X: 3.5, Y: 3.5, Z: 3.14},
		Rate: [3]*PID{
			NewPID(0.12, 0.1, 0.003, 0.3, 1),
			NewPID(0.12, 0.1, 0.003, 0.3, 1),
			NewPID(0.25, 0.05, 0, 0.3, 1),
		},
	}
}

func (c *AttitudeController) SetTarget(sp AttitudeSetpoint) {
	sp.Yaw = geo.WrapPi(sp.Yaw)
	c.target = sp
}

func (c *AttitudeController) Target() AttitudeSetpoint { return c.target }

// Reset clears the integrators and seeds the target to the current attitude.
func (c *AttitudeController) Reset(est orientation.Estimate) {
	for _, p := range c.Rate {
		p.Reset()
	}
	c.target = AttitudeSetpoint{Roll: est.Roll, Pitch: est.Pitch, Yaw: est.Yaw}
	c.out = geo.Vector3{}
	c.rateCmd = geo.Vector3{}
}

func (c *AttitudeController) angleError(est orientation.Estimate) geo.Vector3 {
	if c.QuaternionMode {
		qt := geo.FromEuler(c.target.Roll, c.target.Pitch, c.target.Yaw)
		qe := est.Q.Conjugate().Mul(qt)
		if qe.W < 0 {
			qe = geo.Quaternion{W: -qe.W, X: -qe.X, Y: -qe.Y, Z: -qe.Z}
		}
		return geo.Vector3{X: 2 * qe.X, Y: 2 * qe.Y, Z: 2 * qe.Z}
	}
	return geo.Vector3{
		X: c.target.Roll - est.Roll,
		Y: c.target.Pitch - est.Pitch,
		Z: geo.WrapPi(c.target.Yaw - est.Yaw),
	}
}

// Update runs both loops. saturated freezes the rate integrators.
func (c *AttitudeController) Update(est orientation.Estimate, dt float64, saturated bool) geo.Vector3 {
	e := c.angleError(est).Array()
	gain := c.AngleGain.Array()
	limit := c.MaxRate.Array()
	rate := est.Rate.Array()
	var cmd, out [3]float64
	for i := 0; i < 3; i++ {
		cmd[i] = geo.Clamp(gain[i]*e[i], -limit[i], limit[i])
		out[i] = geo.Clamp(c.Rate[i].Update(cmd[i]-rate[i], dt, saturated), -1, 1)
	}
	c.rateCmd = geo.Vector3{X: cmd[0], Y: cmd[1], Z: cmd[2]}
	c.out = geo.Vector3{X: out[0], Y: out[1], Z: out[2]}
	return c.out
}

// RateCommand is the body rate demanded by the angle loop.
func (c *AttitudeController) RateCommand() geo.Vector3 { return c.rateCmd }

func (c *AttitudeController) Output() geo.Vector3 { return c.out }
