// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package control

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/flight_computer/internal/geo"
	"github.com/relabs-tech/flight_computer/internal/orientation"
	"github.com/relabs-tech/flight_computer/internal/position"
)

func TestPIDIntegralLimitAndHold(t *testing.T) {
	p := NewPID(1, 10, 0, 0.5, 0)
	for i := 0; i < 100; i++ {
		p.Update(1, 0.01, false)
	}
	assert.InDelta(t, 0.5, p.Integral(), 1e-12)

	p.Reset()
	p.Update(1, 0.01, true)
	assert.Zero(t, p.Integral())
}

func TestPIDOutputLimitAndDerivative(t *testing.T) {
	p := NewPID(10, 0, 1, 0, 2)
	assert.Equal(t, 2.0, p.Update(1, 0.1, false))
	p = NewPID(0, 0, 1, 0, 0)
	assert.Zero(t, p.Update(1, 0.1, false), "no derivative kick on the first sample")
	assert.InDelta(t, 10.0, p.Update(2, 0.1, false), 1e-12)
}

func estimateAt(roll, pitch, yaw float64) orientation.Estimate {
	q := geo.FromEuler(roll, pitch, yaw)
	return orientation.Estimate{Q: q, Roll: roll, Pitch: pitch, Yaw: yaw}
}

func TestAttitudeControllerSigns(t *testing.T) {
	for _, quat := range []bool{false, true} {
		c := NewAttitudeController()
		c.QuaternionMode = quat
		c.Reset(estimateAt(0, 0, 0))
		c.SetTarget(AttitudeSetpoint{Roll: 0.2, Pitch: -0.1, Yaw: 0.3})
		out := c.Update(estimateAt(0, 0, 0), 0.003, false)
		assert.Greater(t, out.X, 0.0)
		assert.Less(t, out.Y, 0.0)
		assert.Greater(t, out.Z, 0.0)
		for _, v := range out.Array() {
			assert.LessOrEqual(t, math.Abs(v), 1.0)
		}
	}
}

func TestAttitudeControllerRateLimit(t *testing.T) {
	c := NewAttitudeController()
	c.SetTarget(AttitudeSetpoint{Roll: 3})
	c.Update(estimateAt(0, 0, 0), 0.003, false)
	assert.Equal(t, c.MaxRate.X, c.RateCommand().X)
}

func TestAttitudeControllerYawWraps(t *testing.T) {
	c := NewAttitudeController()
	c.SetTarget(AttitudeSetpoint{Yaw: math.Pi - 0.05})
	c.Update(estimateAt(0, 0, -math.Pi+0.05), 0.003, false)
	assert.Less(t, c.RateCommand().Z, 0.0, "shortest way is through ±π")
}

func TestAttitudeControllerResetSeedsTarget(t *testing.T) {
	c := NewAttitudeController()
	c.SetTarget(AttitudeSetpoint{Roll: 0.4})
	for i := 0; i < 100; i++ {
		c.Update(estimateAt(0, 0, 0), 0.003, false)
	}
	est := estimateAt(0.1, 0.05, 1.0)
	c.Reset(est)
	assert.Equal(t, AttitudeSetpoint{Roll: 0.1, Pitch: 0.05, Yaw: 1.0}, c.Target())
	for _, p := range c.Rate {
		assert.Zero(t, p.Integral())
	}
	out := c.Update(est, 0.003, false)
	assert.InDelta(t, 0, out.Norm(), 1e-12)
}

func TestAttitudeAntiWindup(t *testing.T) {
	c := NewAttitudeController()
	c.SetTarget(AttitudeSetpoint{Roll: 0.3})
	for i := 0; i < 100; i++ {
		c.Update(estimateAt(0, 0, 0), 0.003, true)
	}
	assert.Zero(t, c.Rate[0].Integral())
}

// flyAltitude closes the loop around a point mass whose acceleration
// follows the throttle around the hover point.
func flyAltitude(c *AltitudeController, start, seconds, hover float64, userRate func(float64) float64, check func(alt, climb float64)) (alt, climb float64) {
	const dt = 0.003
	alt = start
	accel, realized := 0.0, hover
	for i := 0; i < int(seconds/dt); i++ {
		c.ProvideStates(alt, climb, accel, math.NaN(), 0, 0, realized, true)
		thr := c.Update(dt, userRate(alt))
		realized = thr
		accel = geo.G * (thr/hover - 1)
		climb += accel * dt
		alt += climb * dt
		if check != nil {
			check(alt, climb)
		}
	}
	return alt, climb
}

func TestAltitudeStepDownConverges(t *testing.T) {
	c := NewAltitudeController(5, 2)
	c.ProvideStates(10, 0, 0, math.NaN(), 0, 0, DefaultHover, true)
	c.Reset()
	c.SetAltitudeTarget(8)

	lowest := math.Inf(1)
	alt, climb := flyAltitude(c, 10, 20, DefaultHover, func(float64) float64 { return 0 }, func(alt, climb float64) {
		lowest = math.Min(lowest, alt)
		assert.GreaterOrEqual(t, climb, -2.0)
		assert.GreaterOrEqual(t, c.TargetClimbRate(), -2.0)
		assert.LessOrEqual(t, c.TargetClimbRate(), 5.0)
		assert.GreaterOrEqual(t, c.Result(), 0.0)
		assert.LessOrEqual(t, c.Result(), 1.0)
	})
	assert.InDelta(t, 8, alt, 0.01)
	assert.InDelta(t, 0, climb, 0.01)
	assert.Greater(t, lowest, 7.95)
	assert.True(t, c.Used())
}

func TestAltitudeClimbRateIsBounded(t *testing.T) {
	c := NewAltitudeController(3, 1)
	c.ProvideStates(0, 0, 0, math.NaN(), 0, 0, DefaultHover, true)
	c.Reset()
	c.SetAltitudeTarget(100)
	flyAltitude(c, 0, 5, DefaultHover, func(float64) float64 { return 0 }, func(float64, float64) {
		assert.LessOrEqual(t, c.TargetClimbRate(), 3.0)
	})
	c.SetAltitudeTarget(-100)
	flyAltitude(c, 0, 5, DefaultHover, func(float64) float64 { return 0 }, func(float64, float64) {
		assert.GreaterOrEqual(t, c.TargetClimbRate(), -1.0)
	})
}

func TestAltitudeUserRateDragsTarget(t *testing.T) {
	c := NewAltitudeController(5, 2)
	c.ProvideStates(3, 0, 0, math.NaN(), 0, 0, DefaultHover, true)
	c.Reset()
	c.ProvideStates(4, 1, 0, math.NaN(), 0, 0, DefaultHover, true)
	c.Update(0.003, 1)
	target, current := c.AltitudeState()
	assert.Equal(t, 4.0, target)
	assert.Equal(t, 4.0, current)
	assert.Equal(t, 1.0, c.TargetClimbRate())
}

func TestAltitudeResetOnGroundBiasesLow(t *testing.T) {
	c := NewAltitudeController(5, 2)
	c.ProvideStates(0, 0, 0, math.NaN(), 0, 0, 0, false)
	c.Reset()
	thr := c.Update(0.003, 0)
	assert.Less(t, thr, c.ThrottleHover())
}

func TestAltitudeSonarTarget(t *testing.T) {
	c := NewAltitudeController(5, 2)
	c.ProvideStates(10, 0, 0, 1.0, 0, 0, DefaultHover, true)
	c.Reset()
	c.Update(0.003, 0)
	assert.True(t, c.SonarActive())

	// the ground rises by 0.5 m: the range target holds height above ground
	c.ProvideStates(10, 0, 0, 0.5, 0, 0, DefaultHover, true)
	c.Update(0.003, 0)
	target, _ := c.AltitudeState()
	assert.InDelta(t, 10.5, target, 1e-12)

	c.ProvideStates(10, 0, 0, math.NaN(), 0, 0, DefaultHover, true)
	c.Update(0.003, 0)
	assert.False(t, c.SonarActive())
}

func TestAltitudeHoverAdapts(t *testing.T) {
	c := NewAltitudeController(5, 2)
	c.ProvideStates(5, 0, 0, math.NaN(), 0, 0, DefaultHover, true)
	c.Reset()
	flyAltitude(c, 5, 60, 0.55, func(float64) float64 { return 0 }, nil)
	assert.InDelta(t, 0.55, c.ThrottleHover(), 0.01)
}

func TestStickClimbRate(t *testing.T) {
	cases := []struct {
		throttle, want float64
	}{
		{0.5, 0},
		{0.53, 0},
		{1.0, 5},
		{0.0, -2},
		{0.775, 1.25},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, StickClimbRate(tc.throttle, 5, 2), 1e-9, "throttle %v", tc.throttle)
	}
}

func TestLeanAngles(t *testing.T) {
	roll, pitch := LeanAngles(1, 0, 0, DefaultMaxTilt)
	assert.InDelta(t, 0, roll, 1e-12)
	assert.InDelta(t, -1/geo.G, pitch, 1e-12)

	// facing east, a northward demand is a roll to the left
	roll, pitch = LeanAngles(1, 0, math.Pi/2, DefaultMaxTilt)
	assert.InDelta(t, -1/geo.G, roll, 1e-12)
	assert.InDelta(t, 0, pitch, 1e-12)

	roll, _ = LeanAngles(0, 100, 0, DefaultMaxTilt)
	assert.Equal(t, DefaultMaxTilt, roll)
}

func TestPositionHybridHoldsAndBrakes(t *testing.T) {
	c := NewPositionController()
	est := position.Estimate{North: 3, East: 4}
	c.Reset(est)

	// displaced from the held target: fly back, capped speed
	est.North = 23
	c.UpdateHybrid(est, 0, 0, 0, 0.01)
	vn, ve := c.VelocitySetpoint()
	assert.InDelta(t, -DefaultMaxVelocity, vn, 1e-9)
	assert.InDelta(t, 0, ve, 1e-9)

	// stick forward while facing east flies east
	c.UpdateHybrid(est, math.Pi/2, 0.5, 0, 0.01)
	vn, ve = c.VelocitySetpoint()
	assert.InDelta(t, 0, vn, 1e-9)
	assert.InDelta(t, 2.5, ve, 1e-9)
	_, _, ok := c.Target()
	assert.False(t, ok)

	// released while still fast: brake without target
	est.VelE = 2
	c.UpdateHybrid(est, 0, 0, 0, 0.01)
	vn, ve = c.VelocitySetpoint()
	assert.Zero(t, vn)
	assert.Zero(t, ve)
	_, _, ok = c.Target()
	assert.False(t, ok)

	// slow enough: the stop point becomes the target
	est.VelE = 0.1
	est.East = 9
	c.UpdateHybrid(est, 0, 0, 0, 0.01)
	n, e, ok := c.Target()
	assert.True(t, ok)
	assert.Equal(t, 23.0, n)
	assert.Equal(t, 9.0, e)
}

func TestPositionTiltIsBounded(t *testing.T) {
	c := NewPositionController()
	c.Reset(position.Estimate{})
	c.SetTarget(1000, 1000)
	var roll, pitch float64
	for i := 0; i < 1000; i++ {
		roll, pitch = c.UpdatePosition(position.Estimate{}, 0.3, 0.01)
	}
	assert.LessOrEqual(t, math.Abs(roll), DefaultMaxTilt)
	assert.LessOrEqual(t, math.Abs(pitch), DefaultMaxTilt)
}

func TestPositionVelocityMode(t *testing.T) {
	c := NewPositionController()
	c.Reset(position.Estimate{})
	c.UpdateVelocity(position.Estimate{}, 0, 30, 40, 0.01)
	vn, ve := c.VelocitySetpoint()
	assert.InDelta(t, 3, vn, 1e-9)
	assert.InDelta(t, 4, ve, 1e-9)
}
