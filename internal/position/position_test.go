// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package position

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/flight_computer/internal/geo"
	"github.com/relabs-tech/flight_computer/internal/gps"
	"github.com/relabs-tech/flight_computer/internal/sensors"
)

func fixAt(lat, lon float64) gps.Fix {
	return gps.Fix{Latitude: lat, Longitude: lon, FixType: 3, HDOP: 0.8, HAcc: 2, VelAcc: 0.2}
}

func TestEstimatorTracksGPS(t *testing.T) {
	s := NewEstimator()
	now := int64(1_000_000)
	s.CorrectGPS(fixAt(48.1, 11.5), now)
	assert.True(t, s.Frame().IsSet())

	target := fixAt(48.1001, 11.5)
	for i := 0; i < 1000; i++ {
		now += 100_000
		s.Predict(0, 0, 0.1)
		s.CorrectGPS(target, now)
	}
	est := s.Estimate(now)
	assert.InDelta(t, 11.13, est.North, 0.1)
	assert.InDelta(t, 0, est.East, 0.1)
	assert.True(t, est.Ready)
	assert.Equal(t, SourceGPS, est.Source)
	assert.Equal(t, 2.0, est.HAcc)
}

func TestReadiness(t *testing.T) {
	cases := []struct {
		name  string
		fix   gps.Fix
		age   int64
		ready bool
	}{
		{"good", fixAt(1, 1), 0, true},
		{"2d fix", gps.Fix{FixType: 2, HAcc: 1}, 0, false},
		{"inaccurate", gps.Fix{FixType: 3, HAcc: 6}, 0, false},
		{"old", fixAt(1, 1), MaxFixAge + 1, false},
		{"just in time", fixAt(1, 1), MaxFixAge, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewEstimator()
			s.CorrectGPS(tc.fix, 100)
			assert.Equal(t, tc.ready, s.Ready(100+tc.age))
		})
	}
	assert.False(t, NewEstimator().Ready(0))
}

func TestFlowVelocityFeedsEstimator(t *testing.T) {
	s := NewEstimator()
	for i := 0; i < 300; i++ {
		s.Predict(0, 0, 0.01)
		s.CorrectVelocity(1.5, -0.5)
	}
	est := s.Estimate(0)
	assert.InDelta(t, 1.5, est.VelN, 0.01)
	assert.InDelta(t, -0.5, est.VelE, 0.01)
	assert.Equal(t, SourceFlow, est.Source)
	assert.False(t, est.Ready)
}

func TestGroundVelocity(t *testing.T) {
	vn, ve := GroundVelocity(gps.Fix{Speed: 10, Course: 90})
	assert.InDelta(t, 0, vn, 1e-9)
	assert.InDelta(t, 10, ve, 1e-9)
}

func TestGroundAccel(t *testing.T) {
	var g GroundAccel
	fix := gps.Fix{FixType: 3, HDOP: 1, Course: 0, Speed: 0, Altitude: 100}
	now := int64(0)
	g.Update(fix, now)
	assert.Zero(t, g.Accel)

	// 1 m/s² northward, 0.5 m/s climb, 5 Hz fixes
	for i := 1; i <= 30; i++ {
		now += 200_000
		fix.Speed = 0.2 * float64(i)
		fix.Altitude = 100 + 0.1*float64(i)
		g.Update(fix, now)
	}
	assert.InDelta(t, 1.0, g.Accel.X, 1e-9)
	assert.InDelta(t, 0.5, g.Climb, 1e-9)
	assert.InDelta(t, 6.0, g.Timeout, 1e-9)
	assert.InDelta(t, 1.0, g.Compensation().X, 1e-9)

	// a gap longer than one second restarts the timeout
	now += 2_000_000
	g.Update(fix, now)
	assert.Zero(t, g.Timeout)
	assert.Zero(t, g.Compensation())

	// poor HDOP resets everything
	fix.HDOP = 3.5
	g.Update(fix, now+200_000)
	assert.Zero(t, g.Accel)
}

func TestFlowVelocity(t *testing.T) {
	cases := []struct {
		name   string
		frame  sensors.FlowFrame
		rate   geo.Vector3
		dist   float64
		ok     bool
		vx, vy float64
	}{
		{"low quality", sensors.FlowFrame{PixelX: 5, Quality: 50}, geo.Vector3{}, 1, false, 0, 0},
		{"no distance", sensors.FlowFrame{PixelX: 5, Quality: 200}, geo.Vector3{}, math.NaN(), false, 0, 0},
		{
			"pure rotation cancels",
			sensors.FlowFrame{PixelX: 0.1 * flowRateToPixel, PixelY: -0.2 * flowRateToPixel, Quality: 200},
			geo.Vector3{X: 0.1, Y: -0.2}, 2, true, 0, 0,
		},
		{
			"translation",
			sensors.FlowFrame{PixelX: 0, PixelY: flowPixelPerDeg, Quality: 200},
			geo.Vector3{}, 2, true, geo.DegToRad * 2 * flowScale, 0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			vx, vy, ok := FlowVelocity(tc.frame, tc.rate, tc.dist)
			assert.Equal(t, tc.ok, ok)
			assert.InDelta(t, tc.vx, vx, 1e-9)
			assert.InDelta(t, tc.vy, vy, 1e-9)
		})
	}
}

func TestBodyToNED(t *testing.T) {
	vn, ve := BodyToNED(1, 0, math.Pi/2)
	assert.InDelta(t, 0, vn, 1e-12)
	assert.InDelta(t, 1, ve, 1e-12)
}
